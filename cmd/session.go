package cmd

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zjrosen/courier/internal/app"
	"github.com/zjrosen/courier/internal/config"
	"github.com/zjrosen/courier/internal/domain"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage the saved workspace session",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the saved session as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wb, closeWB, err := openWorkbench(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if err := showSession(cmd.Context(), cmd.OutOrStdout(), wb); err != nil {
			_ = closeWB()
			return err
		}
		return closeWB()
	},
}

var sessionDraftsCmd = &cobra.Command{
	Use:   "drafts",
	Short: "List resources with unsaved drafts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wb, closeWB, err := openWorkbench(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if err := listDrafts(cmd.Context(), cmd.OutOrStdout(), wb); err != nil {
			_ = closeWB()
			return err
		}
		return closeWB()
	},
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Close every tab and delete every draft of the workspace",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wb, closeWB, err := openWorkbench(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if err := wb.ResetSession(cmd.Context()); err != nil {
			_ = closeWB()
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "workspace %s reset\n", wb.WorkspaceID())
		return closeWB()
	},
}

var sessionUseCmd = &cobra.Command{
	Use:   "use <workspace>",
	Short: "Make a workspace the default",
	Long: `Write the workspace into the config file so the next start restores it.

Examples:
  courier session use staging`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath()
		if err := config.SaveWorkspace(path, args[0]); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "workspace set to %s in %s\n", args[0], path)
		return nil
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspaces with a saved session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wb, closeWB, err := openWorkbench(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if err := listWorkspaces(cmd.Context(), cmd.OutOrStdout(), wb); err != nil {
			_ = closeWB()
			return err
		}
		return closeWB()
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <workspace>",
	Short: "Delete the saved session and drafts of another workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wb, closeWB, err := openWorkbench(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if err := wb.DeleteWorkspace(cmd.Context(), args[0]); err != nil {
			_ = closeWB()
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "workspace %s deleted\n", args[0])
		return closeWB()
	},
}

func init() {
	sessionCmd.AddCommand(sessionShowCmd, sessionDraftsCmd, sessionResetCmd, sessionUseCmd,
		sessionListCmd, sessionDeleteCmd)
	rootCmd.AddCommand(sessionCmd)
}

// sessionView is the YAML shape of a saved session.
type sessionView struct {
	Workspace   string                 `yaml:"workspace"`
	ActiveTabID string                 `yaml:"active_tab_id,omitempty"`
	Tabs        []domain.TabDescriptor `yaml:"tabs"`
	Drafts      []string               `yaml:"drafts,omitempty"`
}

func showSession(ctx context.Context, w io.Writer, wb *app.Workbench) error {
	drafts, err := wb.Sessions().Drafts(ctx, wb.WorkspaceID())
	if err != nil {
		return err
	}
	snap := wb.Sessions().Snapshot()

	view := sessionView{
		Workspace:   wb.WorkspaceID(),
		ActiveTabID: snap.ActiveTabID,
		Tabs:        snap.Tabs,
		Drafts:      sortedKeys(drafts),
	}
	if view.Tabs == nil {
		view.Tabs = []domain.TabDescriptor{}
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(view); err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	return enc.Close()
}

func listDrafts(ctx context.Context, w io.Writer, wb *app.Workbench) error {
	drafts, err := wb.Sessions().Drafts(ctx, wb.WorkspaceID())
	if err != nil {
		return err
	}
	if len(drafts) == 0 {
		_, _ = fmt.Fprintln(w, "no drafts")
		return nil
	}
	for _, key := range sortedKeys(drafts) {
		_, _ = fmt.Fprintln(w, key)
	}
	return nil
}

// listWorkspaces prints every workspace with stored state, marking the
// configured one.
func listWorkspaces(ctx context.Context, w io.Writer, wb *app.Workbench) error {
	ids, err := wb.Workspaces(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		_, _ = fmt.Fprintln(w, "no saved workspaces")
		return nil
	}
	for _, id := range ids {
		marker := " "
		if id == wb.WorkspaceID() {
			marker = "*"
		}
		_, _ = fmt.Fprintf(w, "%s %s\n", marker, id)
	}
	return nil
}

func sortedKeys[V any](m map[domain.CompositeKey]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k.String())
	}
	slices.Sort(keys)
	return keys
}
