package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zjrosen/courier/internal/domain"
	"github.com/zjrosen/courier/internal/log"
)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SessionStore implements domain.SessionStore on SQLite.
type SessionStore struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ domain.SessionStore     = (*SessionStore)(nil)
	_ domain.WorkspaceCatalog = (*SessionStore)(nil)
)

// Get returns the workspace document; an unknown workspace yields an empty one.
func (s *SessionStore) Get(ctx context.Context, workspaceID string) (domain.SessionDocument, error) {
	return readDocument(ctx, s.db, workspaceID)
}

// Update merges patch into the workspace document inside one transaction.
func (s *SessionStore) Update(ctx context.Context, workspaceID string, patch domain.SessionPatch) (domain.SessionDocument, error) {
	var doc domain.SessionDocument
	now := s.clock()

	err := WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if patch.Tabs != nil {
			model, err := toTabsModel(workspaceID, patch.Tabs, now)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO session_tabs (workspace_id, tabs, active_tab_id, updated_at)
				 VALUES (?, ?, ?, ?)
				 ON CONFLICT(workspace_id) DO UPDATE SET
				   tabs = excluded.tabs,
				   active_tab_id = excluded.active_tab_id,
				   updated_at = excluded.updated_at`,
				model.WorkspaceID, model.Tabs, model.ActiveTabID, model.UpdatedAt,
			); err != nil {
				return fmt.Errorf("failed to upsert tabs: %w", err)
			}
		}

		for key, state := range patch.SetResources {
			model := toResourceModel(workspaceID, key, state, now)
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO session_resources (workspace_id, resource_key, state, updated_at)
				 VALUES (?, ?, ?, ?)
				 ON CONFLICT(workspace_id, resource_key) DO UPDATE SET
				   state = excluded.state,
				   updated_at = excluded.updated_at`,
				model.WorkspaceID, model.ResourceKey, model.State, model.UpdatedAt,
			); err != nil {
				return fmt.Errorf("failed to upsert resource %s: %w", key, err)
			}
		}

		for _, key := range patch.DeleteResources {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM session_resources WHERE workspace_id = ? AND resource_key = ?`,
				workspaceID, string(key),
			); err != nil {
				return fmt.Errorf("failed to delete resource %s: %w", key, err)
			}
		}

		var err error
		doc, err = readDocument(ctx, tx, workspaceID)
		return err
	})
	if err != nil {
		return domain.SessionDocument{}, err
	}

	log.Debug(log.CatDB, "session updated", "workspace", workspaceID,
		"tabs", patch.Tabs != nil, "set", len(patch.SetResources), "deleted", len(patch.DeleteResources))
	return doc, nil
}

// Workspaces returns the ids of every workspace with stored state.
func (s *SessionStore) Workspaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT workspace_id FROM session_tabs
		 UNION
		 SELECT workspace_id FROM session_resources
		 ORDER BY workspace_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan workspace: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteWorkspace removes everything stored for a workspace.
func (s *SessionStore) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	return WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM session_tabs WHERE workspace_id = ?`, workspaceID); err != nil {
			return fmt.Errorf("failed to delete tabs: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM session_resources WHERE workspace_id = ?`, workspaceID); err != nil {
			return fmt.Errorf("failed to delete resources: %w", err)
		}
		return nil
	})
}

// Close is a no-op; the connection belongs to DB.
func (s *SessionStore) Close() error {
	return nil
}

func (s *SessionStore) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func readDocument(ctx context.Context, q queryer, workspaceID string) (domain.SessionDocument, error) {
	var doc domain.SessionDocument

	var model TabsModel
	err := q.QueryRowContext(ctx,
		`SELECT workspace_id, tabs, active_tab_id, updated_at FROM session_tabs WHERE workspace_id = ?`,
		workspaceID,
	).Scan(&model.WorkspaceID, &model.Tabs, &model.ActiveTabID, &model.UpdatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return doc, fmt.Errorf("failed to read tabs: %w", err)
	default:
		state, err := model.toDomain()
		if err != nil {
			return doc, err
		}
		doc.Tabs = state
	}

	rows, err := q.QueryContext(ctx,
		`SELECT workspace_id, resource_key, state, updated_at FROM session_resources WHERE workspace_id = ?`,
		workspaceID,
	)
	if err != nil {
		return doc, fmt.Errorf("failed to read resources: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var model ResourceModel
		if err := rows.Scan(&model.WorkspaceID, &model.ResourceKey, &model.State, &model.UpdatedAt); err != nil {
			return doc, fmt.Errorf("failed to scan resource: %w", err)
		}
		if doc.Resources == nil {
			doc.Resources = make(map[domain.CompositeKey]json.RawMessage)
		}
		key, state := model.toDomain()
		doc.Resources[key] = state
	}
	return doc, rows.Err()
}
