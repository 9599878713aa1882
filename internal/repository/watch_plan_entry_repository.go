package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/watchplan-api/internal/models"
)

// WatchPlanEntryRepository manages the episodes of saved plans.
type WatchPlanEntryRepository struct {
	db *sqlx.DB
}

// NewWatchPlanEntryRepository builds repository.
func NewWatchPlanEntryRepository(db *sqlx.DB) *WatchPlanEntryRepository {
	return &WatchPlanEntryRepository{db: db}
}

func (r *WatchPlanEntryRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// InsertBatch stores entries for a plan.
func (r *WatchPlanEntryRepository) InsertBatch(ctx context.Context, exec sqlx.ExtContext, entries []models.WatchPlanEntry) error {
	if len(entries) == 0 {
		return nil
	}
	target := r.exec(exec)
	now := time.Now().UTC()

	const query = `
INSERT INTO watch_plan_entries (id, watch_plan_id, watch_date, position, show_id, show_title, season, episode, duration, created_at)
VALUES (:id, :watch_plan_id, :watch_date, :position, :show_id, :show_title, :season, :episode, :duration, :created_at)`

	for i := range entries {
		entry := &entries[i]
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = now
		}
		if _, err := sqlx.NamedExecContext(ctx, target, query, entry); err != nil {
			return fmt.Errorf("insert watch plan entry: %w", err)
		}
	}
	return nil
}

// ListByPlan returns a plan's entries in viewing order.
func (r *WatchPlanEntryRepository) ListByPlan(ctx context.Context, planID string) ([]models.WatchPlanEntry, error) {
	const query = `SELECT id, watch_plan_id, watch_date, position, show_id, show_title, season, episode, duration, created_at
FROM watch_plan_entries WHERE watch_plan_id = $1 ORDER BY watch_date ASC, position ASC`
	entries := []models.WatchPlanEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, planID); err != nil {
		return nil, fmt.Errorf("list watch plan entries: %w", err)
	}
	return entries, nil
}
