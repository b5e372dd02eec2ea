package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/sqlinline"
)

// WorkflowRepositoryPG implements domain.WorkflowRepository on PostgreSQL.
// The aggregate is stored as one JSONB document per workflow; indexed columns
// (owner_key, status) are duplicated out of the document for listing.
type WorkflowRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewWorkflowRepository(sql infra.SQLExecutor) *WorkflowRepositoryPG {
	return &WorkflowRepositoryPG{sql: sql}
}

// Save checkpoints the whole aggregate. One statement, last writer wins.
func (r *WorkflowRepositoryPG) Save(ctx context.Context, w *domain.Workflow) error {
	if w == nil || w.ID == "" {
		return fmt.Errorf("workflow id is required")
	}
	w.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode aggregate: %w", err)
	}
	_, err = r.sql.Exec(ctx, sqlinline.QUpsertWorkflow,
		w.ID,
		w.OwnerKey,
		w.Title,
		string(w.Status),
		string(w.Stage),
		raw,
	)
	if err != nil {
		return fmt.Errorf("save workflow %s: %w", w.ID, err)
	}
	return nil
}

// Load fetches one aggregate by id.
func (r *WorkflowRepositoryPG) Load(ctx context.Context, id string) (*domain.Workflow, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectWorkflow, id)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return decodeWorkflow(raw)
}

// ListActive returns every workflow that still carries resumable state,
// regardless of owner. Used once at startup to rebuild orchestrators.
func (r *WorkflowRepositoryPG) ListActive(ctx context.Context) ([]*domain.Workflow, error) {
	return r.list(ctx, sqlinline.QSelectActiveWorkflows)
}

// ListActiveForOwner returns the owner's workflows that still carry resumable
// state, most recently touched first.
func (r *WorkflowRepositoryPG) ListActiveForOwner(ctx context.Context, ownerKey string) ([]*domain.Workflow, error) {
	return r.list(ctx, sqlinline.QSelectActiveWorkflowsForOwner, ownerKey)
}

// ListForOwner returns all of the owner's workflows.
func (r *WorkflowRepositoryPG) ListForOwner(ctx context.Context, ownerKey string) ([]*domain.Workflow, error) {
	return r.list(ctx, sqlinline.QSelectWorkflowsForOwner, ownerKey)
}

// Delete removes a workflow row.
func (r *WorkflowRepositoryPG) Delete(ctx context.Context, id string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QDeleteWorkflow, id)
	return err
}

func (r *WorkflowRepositoryPG) list(ctx context.Context, query string, args ...any) ([]*domain.Workflow, error) {
	rows, err := r.sql.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Workflow
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		w, err := decodeWorkflow(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func decodeWorkflow(raw []byte) (*domain.Workflow, error) {
	var w domain.Workflow
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode aggregate: %w", err)
	}
	return &w, nil
}

var _ domain.WorkflowRepository = (*WorkflowRepositoryPG)(nil)
