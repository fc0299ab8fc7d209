package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/courier/internal/app"
	"github.com/zjrosen/courier/internal/domain"
	"github.com/zjrosen/courier/internal/tabs"
)

var (
	runInput      string
	runCollection string
	runFolder     string
	runTimeout    time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run [tab-id]",
	Short: "Run a request tab or a collection and print its events",
	Long: `Run the request shown in a saved tab, or a whole collection, and print
every execution event until the run completes or fails.

Examples:
  courier run 3f2a...
  courier run 3f2a... --input '{"id": 42}'
  courier run --collection users
  courier run --collection users --folder admin`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if (len(args) == 1) == (runCollection != "") {
			return errors.New("pass either a tab id or --collection")
		}
		var input json.RawMessage
		if runInput != "" {
			if !json.Valid([]byte(runInput)) {
				return errors.New("--input must be valid JSON")
			}
			input = json.RawMessage(runInput)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
		defer cancel()

		wb, closeWB, err := openWorkbench(ctx, cfg)
		if err != nil {
			return err
		}

		var start func(context.Context) (string, error)
		if runCollection != "" {
			start = func(ctx context.Context) (string, error) {
				tab, err := wb.Router().RunCollection(ctx, tabs.RunnerParams{
					CollectionID: runCollection,
					FolderID:     runFolder,
				})
				if tab == nil {
					return "", err
				}
				return tab.ID, err
			}
		} else {
			tabID := args[0]
			start = func(ctx context.Context) (string, error) {
				_, err := wb.Router().RunRequest(ctx, tabID, input)
				return tabID, err
			}
		}

		tab, err := runAndWait(ctx, wb, start)
		if tab != nil {
			printEvents(cmd.OutOrStdout(), tab.Execution)
		}
		if closeErr := closeWB(); closeErr != nil && err == nil {
			err = closeErr
		}
		if err == nil && tab.Execution.Status == domain.ExecutionError {
			err = fmt.Errorf("run failed: %s", tab.Execution.Error)
		}
		return err
	},
}

func init() {
	runCmd.Flags().StringVar(&runInput, "input", "", "JSON input for the request")
	runCmd.Flags().StringVar(&runCollection, "collection", "", "run every request of a collection")
	runCmd.Flags().StringVar(&runFolder, "folder", "", "limit a collection run to one folder")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", time.Minute, "give up waiting after this long")
	rootCmd.AddCommand(runCmd)
}

// runPollInterval rechecks the tab in case a change notification was dropped.
const runPollInterval = 100 * time.Millisecond

// runAndWait starts a run and blocks until its tab reaches a terminal status.
// It returns the tab as last seen, even on error.
func runAndWait(ctx context.Context, wb *app.Workbench, start func(context.Context) (string, error)) (*domain.Tab, error) {
	changes := wb.Tabs().Subscribe(ctx)

	tabID, err := start(ctx)
	if tabID == "" {
		return nil, err
	}
	if err != nil {
		// The router already marked the tab failed.
		tab, _ := wb.Tabs().Tab(tabID)
		return tab, err
	}

	ticker := time.NewTicker(runPollInterval)
	defer ticker.Stop()

	for {
		tab, ok := wb.Tabs().Tab(tabID)
		if !ok {
			return nil, &domain.TabNotFoundError{TabID: tabID}
		}
		if tab.Execution != nil && tab.Execution.Status.IsTerminal() {
			return tab, nil
		}

		select {
		case <-ctx.Done():
			return tab, fmt.Errorf("waiting for run: %w", ctx.Err())
		case _, ok := <-changes:
			if !ok {
				changes = nil
			}
		case <-ticker.C:
		}
	}
}

func printEvents(w io.Writer, exec *domain.ExecutionData) {
	if exec == nil {
		return
	}
	for _, ev := range exec.Events {
		_, _ = fmt.Fprintf(w, "%s  %-18s %s\n", ev.Timestamp.Format(time.TimeOnly), ev.Type, ev.Payload)
	}
	_, _ = fmt.Fprintf(w, "%s: %s\n", exec.ExecutionID, exec.Status)
}
