package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"block-streamer/internal/app"
)

func newShowCommand(opts *rootOptions) *cobra.Command {
	var show app.ShowOptions

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display recently persisted blocks or provider switches",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if show.Limit <= 0 {
				return fmt.Errorf("--limit must be greater than zero")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.getApp().Show(cmd.Context(), cmd.OutOrStdout(), show)
		},
	}

	cmd.Flags().IntVar(&show.Limit, "limit", 20, "Number of rows to display")
	cmd.Flags().BoolVar(&show.Switches, "switches", false, "Show provider switches instead of blocks")
	return cmd
}
