package autoreel

import (
	"github.com/spf13/cobra"
)

// NewRootCommand assembles the autoreel command tree.
func NewRootCommand() *cobra.Command {
	command := &cobra.Command{
		Use:           rootCommandUse,
		Short:         rootCommandShort,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	command.AddCommand(newServeCommand(), newGenerateCommand(), newHealthCommand())
	return command
}

func Execute() error {
	return NewRootCommand().Execute()
}
