package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/watchplan-api/internal/models"
)

const showColumns = "id, title, seasons, episodes_per_season, episode_duration, priority, image, created_at, updated_at"

// ShowRepository handles persistence for the show catalogue.
type ShowRepository struct {
	db *sqlx.DB
}

// NewShowRepository creates a new repository instance.
func NewShowRepository(db *sqlx.DB) *ShowRepository {
	return &ShowRepository{db: db}
}

// List returns shows matching filters in insertion order, with the total match count.
func (r *ShowRepository) List(ctx context.Context, filter models.ShowFilter) ([]models.Show, int, error) {
	base := "FROM shows WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.Priority != nil {
		conditions = append(conditions, fmt.Sprintf("priority = $%d", len(args)+1))
		args = append(args, string(*filter.Priority))
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(title) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 50
	}
	if size > 200 {
		size = 200
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at ASC, id ASC LIMIT %d OFFSET %d", showColumns, base, size, offset)
	shows := []models.Show{}
	if err := r.db.SelectContext(ctx, &shows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list shows: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count shows: %w", err)
	}
	return shows, total, nil
}

// ListAll returns the whole catalogue in insertion order.
func (r *ShowRepository) ListAll(ctx context.Context) ([]models.Show, error) {
	query := fmt.Sprintf("SELECT %s FROM shows ORDER BY created_at ASC, id ASC", showColumns)
	shows := []models.Show{}
	if err := r.db.SelectContext(ctx, &shows, query); err != nil {
		return nil, fmt.Errorf("list all shows: %w", err)
	}
	return shows, nil
}

// ListByIDs loads the given shows. The result is unordered and silently omits unknown ids.
func (r *ShowRepository) ListByIDs(ctx context.Context, ids []string) ([]models.Show, error) {
	if len(ids) == 0 {
		return []models.Show{}, nil
	}
	query, args, err := sqlx.In(fmt.Sprintf("SELECT %s FROM shows WHERE id IN (?)", showColumns), ids)
	if err != nil {
		return nil, fmt.Errorf("build show id query: %w", err)
	}
	shows := []models.Show{}
	if err := r.db.SelectContext(ctx, &shows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list shows by id: %w", err)
	}
	return shows, nil
}

// FindByID returns a show by id.
func (r *ShowRepository) FindByID(ctx context.Context, id string) (*models.Show, error) {
	query := fmt.Sprintf("SELECT %s FROM shows WHERE id = $1", showColumns)
	var show models.Show
	if err := r.db.GetContext(ctx, &show, query, id); err != nil {
		return nil, err
	}
	return &show, nil
}

// Count returns the number of shows in the catalogue.
func (r *ShowRepository) Count(ctx context.Context) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM shows"); err != nil {
		return 0, fmt.Errorf("count shows: %w", err)
	}
	return total, nil
}

// Create persists a new show.
func (r *ShowRepository) Create(ctx context.Context, show *models.Show) error {
	if show.ID == "" {
		show.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if show.CreatedAt.IsZero() {
		show.CreatedAt = now
	}
	show.UpdatedAt = now

	const query = `INSERT INTO shows (id, title, seasons, episodes_per_season, episode_duration, priority, image, created_at, updated_at)
VALUES (:id, :title, :seasons, :episodes_per_season, :episode_duration, :priority, :image, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, show); err != nil {
		return fmt.Errorf("create show: %w", err)
	}
	return nil
}

// Update replaces the editable fields of a show.
func (r *ShowRepository) Update(ctx context.Context, show *models.Show) error {
	show.UpdatedAt = time.Now().UTC()
	const query = `UPDATE shows SET title = :title, seasons = :seasons, episodes_per_season = :episodes_per_season,
episode_duration = :episode_duration, priority = :priority, image = :image, updated_at = :updated_at WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, show)
	if err != nil {
		return fmt.Errorf("update show: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("show rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a show.
func (r *ShowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM shows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete show: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("show rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
