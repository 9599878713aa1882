package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/watchplan-api/internal/models"
)

// WatchPlanRepository persists saved, versioned schedules.
type WatchPlanRepository struct {
	db *sqlx.DB
}

// NewWatchPlanRepository constructs repository.
func NewWatchPlanRepository(db *sqlx.DB) *WatchPlanRepository {
	return &WatchPlanRepository{db: db}
}

func (r *WatchPlanRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// CreateVersioned inserts a plan, numbering it one past the latest version saved under the same name.
func (r *WatchPlanRepository) CreateVersioned(ctx context.Context, exec sqlx.ExtContext, plan *models.WatchPlan) error {
	if plan == nil {
		return fmt.Errorf("watch plan payload is nil")
	}
	if plan.Name == "" {
		return fmt.Errorf("watch plan name is required")
	}
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if len(plan.Meta) == 0 {
		plan.Meta = types.JSONText(`{}`)
	}
	now := time.Now().UTC()
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = now
	}
	plan.UpdatedAt = now

	target := r.exec(exec)

	const nextVersionQuery = `SELECT COALESCE(MAX(version), 0) + 1 FROM watch_plans WHERE name = $1`
	if err := sqlx.GetContext(ctx, target, &plan.Version, nextVersionQuery, plan.Name); err != nil {
		return fmt.Errorf("compute next watch plan version: %w", err)
	}

	const insertQuery = `
INSERT INTO watch_plans (id, name, version, meta, created_at, updated_at)
VALUES (:id, :name, :version, :meta, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, target, insertQuery, plan); err != nil {
		return fmt.Errorf("insert watch plan: %w", err)
	}
	return nil
}

// List returns every saved plan, newest first.
func (r *WatchPlanRepository) List(ctx context.Context) ([]models.WatchPlan, error) {
	const query = `SELECT id, name, version, meta, created_at, updated_at
FROM watch_plans ORDER BY created_at DESC, version DESC`
	plans := []models.WatchPlan{}
	if err := r.db.SelectContext(ctx, &plans, query); err != nil {
		return nil, fmt.Errorf("list watch plans: %w", err)
	}
	return plans, nil
}

// FindByID loads a plan by its identifier.
func (r *WatchPlanRepository) FindByID(ctx context.Context, id string) (*models.WatchPlan, error) {
	const query = `SELECT id, name, version, meta, created_at, updated_at FROM watch_plans WHERE id = $1`
	var plan models.WatchPlan
	if err := r.db.GetContext(ctx, &plan, query, id); err != nil {
		return nil, err
	}
	return &plan, nil
}

// Delete removes a plan; its entries go with it through the foreign key cascade.
func (r *WatchPlanRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM watch_plans WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete watch plan: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("watch plan rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
