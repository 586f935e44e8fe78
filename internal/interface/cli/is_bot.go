package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/asw/internal/domain/service/botguard"
)

func newIsBotCmd() *cobra.Command {
	var (
		text    string
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "is-bot",
		Short: "Exit 0 when a comment was written by asw",
		Long: `Check a comment for the asw bot markers. Trigger listeners call this to
avoid re-triggering on the orchestrator's own comments. Exits 0 when the text
carries a marker and 1 otherwise. Without --text the comment is read from
standard input.`,
		Annotations: map[string]string{annotationSkipConfig: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("text") {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				text = string(data)
			}
			bot := botguard.IsBotAuthored(text)
			if verbose {
				fmt.Fprintln(cmd.OutOrStdout(), bot)
			}
			if !bot {
				return exitStatus{code: ExitGeneral}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "comment text to check")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print true or false")
	return cmd
}
