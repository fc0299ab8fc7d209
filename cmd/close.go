package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/zjrosen/courier/internal/app"
	"github.com/zjrosen/courier/internal/domain"
)

var closeDiscard bool

var closeCmd = &cobra.Command{
	Use:   "close <tab-id>",
	Short: "Close a saved tab",
	Long: `Close a tab of the workspace session.

A tab with an unsaved draft is kept open unless --discard is given, which
also deletes the draft.

Examples:
  courier close 3f2a...
  courier close 3f2a... --discard`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wb, closeWB, err := openWorkbench(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if err := closeTab(cmd.Context(), cmd.OutOrStdout(), wb, args[0], closeDiscard); err != nil {
			_ = closeWB()
			return err
		}
		return closeWB()
	},
}

func init() {
	closeCmd.Flags().BoolVar(&closeDiscard, "discard", false, "discard unsaved drafts")
	rootCmd.AddCommand(closeCmd)
}

// closeTab answers the unsaved-changes prompt from the discard flag. There is
// no editor to save from on the command line.
func closeTab(ctx context.Context, w io.Writer, wb *app.Workbench, tabID string, discard bool) error {
	prompt := app.PrompterFunc(func(_ context.Context, _ *domain.Tab, name string) (app.Choice, error) {
		if discard {
			return app.ChoiceDiscard, nil
		}
		_, _ = fmt.Fprintf(w, "%s has unsaved changes; pass --discard to close it\n", name)
		return app.ChoiceCancel, nil
	})

	closed, err := wb.RequestClose(ctx, tabID, prompt)
	if err != nil {
		return err
	}
	if closed {
		_, _ = fmt.Fprintf(w, "closed %s\n", tabID)
	}
	return nil
}
