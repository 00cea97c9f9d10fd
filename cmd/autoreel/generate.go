package autoreel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/temirov/autoreel/internal/pipeline"
)

type generateCommandOptions struct {
	configPath string
	through    string
	subtitles  *subtitlesChoice
}

func newGenerateCommand() *cobra.Command {
	options := &generateCommandOptions{
		configPath: defaultConfigPath,
		through:    string(pipeline.StageSubtitle),
		subtitles:  newSubtitlesChoice(),
	}

	command := &cobra.Command{
		Use:   generateCommandUse,
		Short: generateCommandShort,
		Args: func(cmd *cobra.Command, args []string) error {
			return options.subtitles.validateArgs(args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerateCommand(cmd, *options, options.subtitles.topic(args))
		},
	}

	command.Flags().StringVar(&options.configPath, configFlagName, defaultConfigPath, configFlagUsage)
	command.Flags().StringVar(&options.through, throughFlagName, string(pipeline.StageSubtitle), throughFlagUsage)
	options.subtitles.register(command.Flags())
	return command
}

func runGenerateCommand(command *cobra.Command, options generateCommandOptions, topic string) error {
	through, ok := pipeline.ParseStage(strings.ToLower(strings.TrimSpace(options.through)))
	if !ok {
		return fmt.Errorf(unknownStageErrorFormat, options.through)
	}
	lastStage := options.subtitles.lastStage(through)

	env, loadErr := loadEnvironment(options.configPath)
	if loadErr != nil {
		return loadErr
	}
	defer func() { _ = env.logger.Sync() }()

	app := buildApplication(env)
	app.orchestrator.Observer = progressPrinter(command.ErrOrStderr())

	outputs, runErr := runThrough(command.Context(), app.orchestrator, topic, lastStage)
	if encodeErr := writeOutputs(command.OutOrStdout(), outputs); encodeErr != nil {
		return encodeErr
	}
	return runErr
}

// runThrough drives a session from the script stage up to lastStage, feeding
// each stage the output of the previous one. Outputs of completed stages are
// returned even when a later stage fails.
func runThrough(ctx context.Context, runner pipeline.StageRunner, topic string, lastStage pipeline.Stage) (map[pipeline.Stage]any, error) {
	session := pipeline.NewSession()
	outputs := make(map[pipeline.Stage]any)

	var script pipeline.ScriptPayload
	var images pipeline.ImagePayload
	for _, stage := range pipeline.Stages {
		var input pipeline.StageInput
		switch stage {
		case pipeline.StageScript:
			input = pipeline.ScriptInput{Topic: topic}
		case pipeline.StageImage:
			input = pipeline.ImageInput{Text: script.Script}
		case pipeline.StageVideo:
			input = pipeline.VideoInput{Images: images.Images}
		case pipeline.StageSubtitle:
			input = pipeline.SubtitleInput{Script: script.Script}
		}

		result := session.Execute(ctx, runner, pipeline.NewRequest(input))
		if !result.Success {
			return outputs, fmt.Errorf(stageFailedErrorFormat, stage, result.Error.Kind, result.Error.Message)
		}
		outputs[stage] = result.Payload
		switch payload := result.Payload.(type) {
		case pipeline.ScriptPayload:
			script = payload
		case pipeline.ImagePayload:
			images = payload
		}
		if stage == lastStage {
			break
		}
	}
	return outputs, nil
}

func writeOutputs(writer io.Writer, outputs map[pipeline.Stage]any) error {
	if len(outputs) == 0 {
		return nil
	}
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(outputs); err != nil {
		return fmt.Errorf("write outputs: %w", err)
	}
	return nil
}

func progressPrinter(writer io.Writer) pipeline.ProgressObserver {
	return func(event pipeline.ProgressEvent) {
		_, _ = fmt.Fprintf(writer, progressLineFormat, event.Stage, event.Provider, event.Message)
	}
}
