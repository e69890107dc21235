package pipeline

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/soknadflow/internal/runtime/errors"
	"github.com/drblury/soknadflow/internal/runtime/processor"
	"github.com/drblury/soknadflow/internal/runtime/topics"
	"github.com/drblury/soknadflow/internal/soknad"
)

// Stage names in pipeline order.
const (
	StageReceived     = "received"
	StagePreprocessed = "preprocessed"
	StageArchived     = "archived"
	StageCleanup      = "cleanup"
)

// StageNames lists the stages in pipeline order.
func StageNames() []string {
	return []string{StageReceived, StagePreprocessed, StageArchived, StageCleanup}
}

// stageHandler holds exactly one of handle or consume.
type stageHandler struct {
	handle  message.HandlerFunc
	consume message.NoPublishHandlerFunc
}

type stageSpec struct {
	name   string
	input  string
	output string
	build  func(p *processor.Processor, opts processor.StageOptions) (stageHandler, error)
	// bestEffort acknowledges entries whose processing failed fatally.
	bestEffort bool
}

func checkCollaborators(c soknad.Collaborators) error {
	missing := func(name string) error {
		return fmt.Errorf("%w: %s", errspkg.ErrCollaboratorRequired, name)
	}
	switch {
	case c.Preprocessor == nil:
		return missing("preprocessor")
	case c.Archiver == nil:
		return missing("archiver")
	case c.Cleaner == nil:
		return missing("cleaner")
	}
	return nil
}

func stageSpecs(reg *topics.Registry, names topics.Names, c soknad.Collaborators) ([]stageSpec, error) {
	submissions, err := topics.Lookup[soknad.Submission](reg, names.Received)
	if err != nil {
		return nil, err
	}
	preprocessed, err := topics.Lookup[soknad.PreprocessedSubmission](reg, names.Preprocessed)
	if err != nil {
		return nil, err
	}
	archived, err := topics.Lookup[soknad.ArchivedSubmission](reg, names.Archived)
	if err != nil {
		return nil, err
	}
	cleanup, err := topics.Lookup[soknad.CleanupInstruction](reg, names.Cleanup)
	if err != nil {
		return nil, err
	}

	return []stageSpec{
		{
			name:   StageReceived,
			input:  names.Received,
			output: names.Preprocessed,
			build: func(p *processor.Processor, opts processor.StageOptions) (stageHandler, error) {
				h, err := processor.Handler(p, opts, submissions, preprocessed, c.Preprocessor.Preprocess)
				return stageHandler{handle: h}, err
			},
		},
		{
			name:   StagePreprocessed,
			input:  names.Preprocessed,
			output: names.Archived,
			build: func(p *processor.Processor, opts processor.StageOptions) (stageHandler, error) {
				h, err := processor.Handler(p, opts, preprocessed, archived, c.Archiver.Archive)
				return stageHandler{handle: h}, err
			},
		},
		{
			name:   StageArchived,
			input:  names.Archived,
			output: names.Cleanup,
			build: func(p *processor.Processor, opts processor.StageOptions) (stageHandler, error) {
				h, err := processor.Handler(p, opts, archived, cleanup, cleanupInstruction(c.TaskCreator))
				return stageHandler{handle: h}, err
			},
		},
		{
			name:       StageCleanup,
			input:      names.Cleanup,
			bestEffort: true,
			build: func(p *processor.Processor, opts processor.StageOptions) (stageHandler, error) {
				h, err := processor.ConsumerHandler(p, opts, cleanup, c.Cleaner.Cleanup)
				return stageHandler{consume: h}, err
			},
		},
	}, nil
}

// cleanupInstruction creates the follow-up task when a task creator is
// configured and hands the artifacts over to cleanup.
func cleanupInstruction(tasks soknad.TaskCreator) func(context.Context, soknad.ArchivedSubmission) (soknad.CleanupInstruction, error) {
	return func(ctx context.Context, archived soknad.ArchivedSubmission) (soknad.CleanupInstruction, error) {
		instruction := soknad.CleanupInstruction{
			SubmissionID: archived.SubmissionID,
			ArchiveID:    archived.ArchiveID,
			Artifacts:    archived.Artifacts,
		}
		if tasks == nil {
			return instruction, nil
		}
		taskID, err := tasks.CreateTask(ctx, archived)
		if err != nil {
			return soknad.CleanupInstruction{}, err
		}
		instruction.TaskID = taskID
		return instruction, nil
	}
}
