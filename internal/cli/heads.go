package cli

import (
	"github.com/spf13/cobra"
)

func newHeadsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "heads",
		Short: "Compare the head block reported by every provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.getApp().Heads(cmd.Context(), cmd.OutOrStdout())
		},
	}
}
