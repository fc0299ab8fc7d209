package cmd

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/zjrosen/courier/internal/app"
)

var tabsCmd = &cobra.Command{
	Use:   "tabs",
	Short: "List the tabs saved for the workspace",
	Long: `List the tabs restored for the current workspace.

The active tab is marked with *, tabs with an unsaved draft with ●.

Examples:
  courier tabs
  courier tabs --workspace staging`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wb, closeWB, err := openWorkbench(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		listTabs(cmd.OutOrStdout(), wb)
		return closeWB()
	},
}

func init() {
	rootCmd.AddCommand(tabsCmd)
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)

// listTabs renders the open tabs of wb as a table.
func listTabs(w io.Writer, wb *app.Workbench) {
	open := wb.Tabs().Tabs()
	if len(open) == 0 {
		_, _ = fmt.Fprintf(w, "no tabs in workspace %s\n", wb.WorkspaceID())
		return
	}

	activeID := wb.Tabs().ActiveTabID()
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("", "ID", "TYPE", "COLLECTION", "RESOURCE", "NAME").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})

	for _, tab := range open {
		marker := ""
		if tab.ID == activeID {
			marker = "*"
		}
		if wb.Status().IsDirty(tab.ID) {
			marker += "●"
		}
		name := wb.Status().DisplayName(tab.ID)
		if name == "" {
			name = tab.Name
		}
		t.Row(marker, tab.ID, tab.Type.String(), tab.CollectionID, tab.ResourceID, name)
	}
	_, _ = fmt.Fprintln(w, t.Render())
}
