package processor

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/soknadflow/internal/runtime/envelope"
	errspkg "github.com/drblury/soknadflow/internal/runtime/errors"
	"github.com/drblury/soknadflow/internal/runtime/faults"
	loggingpkg "github.com/drblury/soknadflow/internal/runtime/logging"
)

// StageOptions configures the Watermill glue of one stage.
type StageOptions struct {
	Name   string
	Filter Filter
	// BestEffort stages acknowledge entries whose processing failed fatally
	// instead of stopping. Recoverable faults still pause the stage.
	BestEffort bool
}

// Handler turns a typed unit of work into a Watermill handler that publishes
// the successor entry.
func Handler[In, Out any](p *Processor, opts StageOptions, in envelope.Codec[In], out envelope.Codec[Out], work func(context.Context, In) (Out, error)) (message.HandlerFunc, error) {
	if err := validate(p, opts, work == nil); err != nil {
		return nil, err
	}
	if in == nil || out == nil {
		return nil, fmt.Errorf("stage %s: codecs are required", opts.Name)
	}

	return func(msg *message.Message) ([]*message.Message, error) {
		entry, ok, err := decode(p, opts, msg, in)
		if !ok || err != nil {
			return nil, settle(p, opts, msg, err)
		}

		next, err := Process(msg.Context(), p, opts.Name, entry, work)
		if err != nil {
			return nil, settle(p, opts, msg, err)
		}

		produced, err := envelope.ToMessage(next, out)
		if err != nil {
			return nil, settle(p, opts, msg, faults.Fatal(fmt.Errorf("encode %s output: %w", opts.Name, err)))
		}
		return []*message.Message{produced}, nil
	}, nil
}

// ConsumerHandler turns a typed terminal unit of work into a Watermill handler
// that publishes nothing.
func ConsumerHandler[In any](p *Processor, opts StageOptions, in envelope.Codec[In], work func(context.Context, In) error) (message.NoPublishHandlerFunc, error) {
	if err := validate(p, opts, work == nil); err != nil {
		return nil, err
	}
	if in == nil {
		return nil, fmt.Errorf("stage %s: codec is required", opts.Name)
	}

	unit := func(ctx context.Context, payload In) (struct{}, error) {
		return struct{}{}, work(ctx, payload)
	}
	return func(msg *message.Message) error {
		entry, ok, err := decode(p, opts, msg, in)
		if !ok || err != nil {
			return settle(p, opts, msg, err)
		}
		_, err = Process(msg.Context(), p, opts.Name, entry, unit)
		return settle(p, opts, msg, err)
	}, nil
}

func validate(p *Processor, opts StageOptions, missingWork bool) error {
	if opts.Name == "" {
		return errspkg.ErrStageNameRequired
	}
	if p == nil {
		return fmt.Errorf("stage %s: processor is required", opts.Name)
	}
	if missingWork {
		return errspkg.ErrUnitOfWorkRequired
	}
	return nil
}

// decode applies the filter and decodes the payload. ok is false when the
// entry was dropped.
func decode[In any](p *Processor, opts StageOptions, msg *message.Message, codec envelope.Codec[In]) (envelope.Entry[In], bool, error) {
	md, key := envelope.ReadHeaders(msg.Metadata)
	if reason := opts.Filter.Check(md, key); reason != "" {
		p.sink.RecordSkipped(opts.Name, reason)
		p.logger.Warn("Entry skipped", loggingpkg.LogFields{
			"stage":          opts.Name,
			"reason":         reason,
			"entry_version":  md.Version,
			"correlation_id": md.CorrelationID,
			"key":            key,
			"message_uuid":   msg.UUID,
		})
		return envelope.Entry[In]{}, false, nil
	}

	payload, err := codec.Decode(msg.Payload)
	if err != nil {
		return envelope.Entry[In]{}, false, faults.Fatal(fmt.Errorf("decode %s entry %s: %w", opts.Name, msg.UUID, err))
	}
	return envelope.Entry[In]{Metadata: md, Key: key, Payload: payload}, true, nil
}

// settle decides whether err leaves the handler.
func settle(p *Processor, opts StageOptions, msg *message.Message, err error) error {
	if err == nil {
		return nil
	}
	if opts.BestEffort && faults.KindOf(err) == faults.KindFatal {
		md, key := envelope.ReadHeaders(msg.Metadata)
		p.logger.Error("Best-effort stage gave up on entry", err, loggingpkg.LogFields{
			"stage":          opts.Name,
			"correlation_id": md.CorrelationID,
			"key":            key,
			"message_uuid":   msg.UUID,
		})
		return nil
	}
	return err
}
