package autoreel

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

type healthCommandOptions struct {
	configPath string
}

func newHealthCommand() *cobra.Command {
	options := &healthCommandOptions{configPath: defaultConfigPath}

	command := &cobra.Command{
		Use:   healthCommandUse,
		Short: healthCommandShort,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthCommand(cmd, *options)
		},
	}
	command.Flags().StringVar(&options.configPath, configFlagName, defaultConfigPath, configFlagUsage)
	return command
}

func runHealthCommand(command *cobra.Command, options healthCommandOptions) error {
	env, loadErr := loadEnvironment(options.configPath)
	if loadErr != nil {
		return loadErr
	}
	defer func() { _ = env.logger.Sync() }()

	configured := env.credentials.Configured()
	providers := make([]string, 0, len(configured))
	for provider := range configured {
		providers = append(providers, provider)
	}
	sort.Strings(providers)

	outputWriter := command.OutOrStdout()
	for _, provider := range providers {
		label := missingLabel
		if configured[provider] {
			label = configuredLabel
		}
		if _, writeErr := fmt.Fprintf(outputWriter, "%s\t%s\n", provider, label); writeErr != nil {
			return fmt.Errorf("write provider status: %w", writeErr)
		}
	}
	return nil
}
