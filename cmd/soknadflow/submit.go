package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	configpkg "github.com/drblury/soknadflow/internal/runtime/config"
	"github.com/drblury/soknadflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/soknadflow/internal/runtime/logging"
	"github.com/drblury/soknadflow/internal/runtime/pipeline"
	"github.com/drblury/soknadflow/internal/soknad"
)

func submitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Publish a submission read from a JSON file to the received topic",
		RunE:  runSubmit,
	}
	cmd.Flags().StringP("file", "f", "", "JSON file holding the submission")
	cmd.Flags().String("request-id", "", "Request id stamped on the entry")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runSubmit(cmd *cobra.Command, _ []string) error {
	base, err := newLogger(cmd)
	if err != nil {
		return err
	}
	logger := loggingpkg.NewSlogServiceLogger(base)

	path, _ := cmd.Flags().GetString("config")
	conf, err := configpkg.Load(path)
	if err != nil {
		return err
	}

	file, _ := cmd.Flags().GetString("file")
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	var submission soknad.Submission
	if err := jsoncodec.DecodeStrict(f, &submission); err != nil {
		return fmt.Errorf("decode %s: %w", file, err)
	}

	// Stages are assembled but never started; only the ingress publisher is
	// used.
	p, err := pipeline.New(conf, logger, soknad.NewLocalCollaborators(soknad.NewLocalStore()), pipeline.Dependencies{})
	if err != nil {
		return err
	}
	defer func() { _ = p.StopAll() }()

	requestID, _ := cmd.Flags().GetString("request-id")
	correlationID, err := p.Submit(cmd.Context(), submission, requestID)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), correlationID)
	return nil
}
