package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/zjrosen/courier/internal/app"
	"github.com/zjrosen/courier/internal/domain"
	"github.com/zjrosen/courier/internal/tabs"
)

var (
	openName      string
	openProtocol  string
	openTemporary bool
)

var openCmd = &cobra.Command{
	Use:   "open <request|collection|folder> <collection-id> <resource-id>",
	Short: "Open a tab in the saved workspace",
	Long: `Open a tab and save it to the workspace session.

Opening a resource that already has a tab activates that tab instead.

Examples:
  courier open request users list-users --name "List users"
  courier open collection users users
  courier open request users get-user --temporary`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		tabType := domain.TabType(args[0])
		if !tabType.Persistable() {
			return fmt.Errorf("cannot open a %q tab: use request, collection or folder", args[0])
		}

		wb, closeWB, err := openWorkbench(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		openTab(cmd.OutOrStdout(), wb, tabType, tabs.OpenParams{
			CollectionID: args[1],
			ResourceID:   args[2],
			ProtocolID:   openProtocol,
			Name:         openName,
			Temporary:    openTemporary,
		})
		return closeWB()
	},
}

func init() {
	openCmd.Flags().StringVar(&openName, "name", "", "tab name")
	openCmd.Flags().StringVar(&openProtocol, "protocol", "", "protocol id of the resource")
	openCmd.Flags().BoolVar(&openTemporary, "temporary", false, "open as a preview tab")
	rootCmd.AddCommand(openCmd)
}

func openTab(w io.Writer, wb *app.Workbench, tabType domain.TabType, p tabs.OpenParams) *domain.Tab {
	var tab *domain.Tab
	switch tabType {
	case domain.TabTypeCollection:
		tab = wb.Tabs().OpenCollection(p)
	case domain.TabTypeFolder:
		tab = wb.Tabs().OpenFolder(p)
	default:
		tab = wb.Tabs().OpenRequest(p)
	}
	if p.Name != "" {
		wb.Status().SetName(tab.ID, p.Name)
	}
	_, _ = fmt.Fprintln(w, tab.ID)
	return tab
}
