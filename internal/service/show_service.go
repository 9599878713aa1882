package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/watchplan-api/internal/dto"
	"github.com/noah-isme/watchplan-api/internal/models"
	appErrors "github.com/noah-isme/watchplan-api/pkg/errors"
)

// Catalogue defaults applied when a request omits a field.
const (
	DefaultSeasons           = 1
	DefaultEpisodesPerSeason = 10
	DefaultEpisodeDuration   = 30
	DefaultPriority          = models.PriorityMedium
)

type showRepository interface {
	List(ctx context.Context, filter models.ShowFilter) ([]models.Show, int, error)
	FindByID(ctx context.Context, id string) (*models.Show, error)
	Count(ctx context.Context) (int, error)
	Create(ctx context.Context, show *models.Show) error
	Update(ctx context.Context, show *models.Show) error
	Delete(ctx context.Context, id string) error
}

// ShowService manages the show catalogue.
type ShowService struct {
	repo      showRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewShowService creates a new show service.
func NewShowService(repo showRepository, validate *validator.Validate, logger *zap.Logger) *ShowService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShowService{repo: repo, validator: validate, logger: logger}
}

// List returns a page of shows in catalogue order.
func (s *ShowService) List(ctx context.Context, query dto.ShowQuery) ([]models.Show, *models.Pagination, error) {
	filter := models.ShowFilter{Search: strings.TrimSpace(query.Search), Page: query.Page, PageSize: query.Limit}
	if query.Priority != "" {
		priority := models.Priority(strings.ToLower(query.Priority))
		if !priority.Valid() {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "priority must be one of high, medium, low")
		}
		filter.Priority = &priority
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 50
	}
	if filter.PageSize > 200 {
		filter.PageSize = 200
	}

	shows, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list shows")
	}
	return shows, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns a show by identifier.
func (s *ShowService) Get(ctx context.Context, id string) (*models.Show, error) {
	show, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "show not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load show")
	}
	return show, nil
}

// Create adds a show, filling in defaults for omitted fields.
func (s *ShowService) Create(ctx context.Context, req dto.ShowRequest) (*models.Show, error) {
	show, err := s.buildShow(req)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, show); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create show")
	}
	s.logger.Info("show created", zap.String("show_id", show.ID), zap.String("title", show.Title))
	return show, nil
}

// Update replaces the editable fields of a show.
func (s *ShowService) Update(ctx context.Context, id string, req dto.ShowRequest) (*models.Show, error) {
	updated, err := s.buildShow(req)
	if err != nil {
		return nil, err
	}
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updated.ID = existing.ID
	updated.CreatedAt = existing.CreatedAt
	if err := s.repo.Update(ctx, updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "show not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update show")
	}
	return updated, nil
}

// Delete removes a show from the catalogue.
func (s *ShowService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "show not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete show")
	}
	return nil
}

// SeedSamples loads the demo catalogue into an empty database. It returns the number of shows inserted.
func (s *ShowService) SeedSamples(ctx context.Context) (int, error) {
	total, err := s.repo.Count(ctx)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count shows")
	}
	if total > 0 {
		return 0, nil
	}

	inserted := 0
	base := time.Now().UTC()
	for i, sample := range SampleShows() {
		show := sample
		show.CreatedAt = base.Add(time.Duration(i) * time.Millisecond)
		if err := s.repo.Create(ctx, &show); err != nil {
			return inserted, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to seed sample shows")
		}
		inserted++
	}
	s.logger.Info("seeded sample shows", zap.Int("count", inserted))
	return inserted, nil
}

// SampleShows returns the demo catalogue.
func SampleShows() []models.Show {
	breakingBad := "https://images.unsplash.com/photo-1616530940355-351fabd9524b?q=80&w=1935&auto=format&fit=crop"
	theOffice := "https://images.unsplash.com/photo-1497215728101-856f4ea42174?q=80&w=2070&auto=format&fit=crop"
	return []models.Show{
		{Title: "Breaking Bad", Seasons: 5, EpisodesPerSeason: 10, EpisodeDuration: 45, Priority: models.PriorityHigh, Image: &breakingBad},
		{Title: "The Office", Seasons: 9, EpisodesPerSeason: 22, EpisodeDuration: 22, Priority: models.PriorityMedium, Image: &theOffice},
	}
}

func (s *ShowService) buildShow(req dto.ShowRequest) (*models.Show, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Priority != nil {
		p := models.Priority(strings.ToLower(string(*req.Priority)))
		req.Priority = &p
	}
	if req.Image != nil && strings.TrimSpace(*req.Image) == "" {
		req.Image = nil
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid show payload")
	}

	show := &models.Show{
		Title:             req.Title,
		Seasons:           intOr(req.Seasons, DefaultSeasons),
		EpisodesPerSeason: intOr(req.EpisodesPerSeason, DefaultEpisodesPerSeason),
		EpisodeDuration:   intOr(req.EpisodeDuration, DefaultEpisodeDuration),
		Priority:          DefaultPriority,
		Image:             req.Image,
	}
	if req.Priority != nil {
		show.Priority = *req.Priority
	}
	return show, nil
}

func intOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}
