package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/watchplan-api/internal/models"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var showRowColumns = []string{"id", "title", "seasons", "episodes_per_season", "episode_duration", "priority", "image", "created_at", "updated_at"}

func TestShowRepositoryListWithFilters(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewShowRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(showRowColumns).
		AddRow("show-1", "Breaking Bad", 5, 10, 45, "high", nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT "+showColumns+" FROM shows WHERE 1=1 AND priority = $1 AND LOWER(title) LIKE $2 ORDER BY created_at ASC, id ASC LIMIT 10 OFFSET 10")).
		WithArgs("high", "%bad%").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM shows WHERE 1=1 AND priority = $1 AND LOWER(title) LIKE $2")).
		WithArgs("high", "%bad%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))

	priority := models.PriorityHigh
	shows, total, err := repo.List(context.Background(), models.ShowFilter{Search: "Bad", Priority: &priority, Page: 2, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, shows, 1)
	assert.Equal(t, models.PriorityHigh, shows[0].Priority)
	assert.Equal(t, 50, shows[0].TotalEpisodes())
	assert.Equal(t, 11, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestShowRepositoryListClampsPageSize(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewShowRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at ASC, id ASC LIMIT 200 OFFSET 0")).
		WillReturnRows(sqlmock.NewRows(showRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM shows WHERE 1=1")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	shows, total, err := repo.List(context.Background(), models.ShowFilter{PageSize: 1000})
	require.NoError(t, err)
	assert.NotNil(t, shows)
	assert.Empty(t, shows)
	assert.Zero(t, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestShowRepositoryListByIDs(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewShowRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM shows WHERE id IN (?, ?)")).
		WithArgs("a", "b").
		WillReturnRows(sqlmock.NewRows(showRowColumns).
			AddRow("b", "B", 1, 1, 20, "low", nil, now, now).
			AddRow("a", "A", 1, 1, 20, "high", "https://img.test/a.jpg", now, now))

	shows, err := repo.ListByIDs(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, shows, 2)
	require.NotNil(t, shows[1].Image)
	assert.Equal(t, "https://img.test/a.jpg", *shows[1].Image)
	assert.NoError(t, mock.ExpectationsWereMet())

	empty, err := repo.ListByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestShowRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewShowRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO shows")).
		WithArgs(sqlmock.AnyArg(), "The Office", 9, 22, 22, "medium", nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	show := &models.Show{Title: "The Office", Seasons: 9, EpisodesPerSeason: 22, EpisodeDuration: 22, Priority: models.PriorityMedium}
	require.NoError(t, repo.Create(context.Background(), show))
	assert.NotEmpty(t, show.ID)
	assert.False(t, show.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestShowRepositoryUpdateNotFound(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewShowRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE shows SET title = ")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &models.Show{ID: "missing", Title: "x", Seasons: 1, EpisodesPerSeason: 1, EpisodeDuration: 1, Priority: models.PriorityLow})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestShowRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewShowRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM shows WHERE id = $1")).
		WithArgs("show-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM shows WHERE id = $1")).
		WithArgs("show-2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Delete(context.Background(), "show-1"))
	assert.ErrorIs(t, repo.Delete(context.Background(), "show-2"), sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestShowRepositoryCount(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewShowRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM shows")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	total, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}
