package main

import (
	"github.com/spf13/cobra"

	configpkg "github.com/drblury/soknadflow/internal/runtime/config"
	"github.com/drblury/soknadflow/internal/runtime/jsoncodec"
	"github.com/drblury/soknadflow/internal/runtime/pipeline"
	"github.com/drblury/soknadflow/internal/runtime/topics"
	"github.com/drblury/soknadflow/transport"
)

type stageTopics struct {
	Stage  string `json:"stage"`
	Input  string `json:"input"`
	Output string `json:"output,omitempty"`
}

type topicsOutput struct {
	PubSubSystem string                 `json:"pubsub_system"`
	Capabilities transport.Capabilities `json:"capabilities"`
	Stages       []stageTopics          `json:"stages"`
}

func topicsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topics",
		Short: "Print the stage topics and transport capabilities for the loaded config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			conf, err := configpkg.Load(path)
			if err != nil {
				return err
			}
			return jsoncodec.Encode(cmd.OutOrStdout(), describeTopics(conf))
		},
	}
}

func describeTopics(conf *configpkg.Config) topicsOutput {
	names := topics.NamesFor(conf.TopicPrefix)
	all := names.All()
	stages := pipeline.StageNames()

	out := topicsOutput{
		PubSubSystem: conf.PubSubSystem,
		Capabilities: transport.GetCapabilities(conf.PubSubSystem),
	}
	for i, stage := range stages {
		st := stageTopics{Stage: stage, Input: all[i]}
		if i+1 < len(all) {
			st.Output = all[i+1]
		}
		out.Stages = append(out.Stages, st)
	}
	return out
}
