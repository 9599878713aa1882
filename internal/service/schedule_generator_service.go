package service

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/watchplan-api/internal/dto"
	"github.com/noah-isme/watchplan-api/internal/models"
	"github.com/noah-isme/watchplan-api/internal/planner"
	appErrors "github.com/noah-isme/watchplan-api/pkg/errors"
)

const (
	dateLayout  = "2006-01-02"
	labelLayout = "Monday, Jan 2"

	previewCachePrefix = "schedule:preview:"
)

type scheduleShowReader interface {
	ListAll(ctx context.Context) ([]models.Show, error)
	ListByIDs(ctx context.Context, ids []string) ([]models.Show, error)
}

type watchPlanRepository interface {
	CreateVersioned(ctx context.Context, exec sqlx.ExtContext, plan *models.WatchPlan) error
	List(ctx context.Context) ([]models.WatchPlan, error)
	FindByID(ctx context.Context, id string) (*models.WatchPlan, error)
	Delete(ctx context.Context, id string) error
}

type watchPlanEntryRepository interface {
	InsertBatch(ctx context.Context, exec sqlx.ExtContext, entries []models.WatchPlanEntry) error
	ListByPlan(ctx context.Context, planID string) ([]models.WatchPlanEntry, error)
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type previewCache interface {
	Enabled() bool
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// ScheduleGeneratorConfig governs generator limits and presentation.
type ScheduleGeneratorConfig struct {
	ProposalTTL      time.Duration
	MaxWindowDays    int
	MaxShows         int
	CacheTTL         time.Duration
	PlaceholderImage string
}

// ScheduleGeneratorService validates viewing settings, runs the planner and manages saved watch plans.
type ScheduleGeneratorService struct {
	shows     scheduleShowReader
	plans     watchPlanRepository
	entries   watchPlanEntryRepository
	tx        txProvider
	cache     previewCache
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       ScheduleGeneratorConfig
	store     *proposalStore
}

// NewScheduleGeneratorService wires generator dependencies. cache and metrics may be nil.
func NewScheduleGeneratorService(
	shows scheduleShowReader,
	plans watchPlanRepository,
	entries watchPlanEntryRepository,
	tx txProvider,
	cache previewCache,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg ScheduleGeneratorConfig,
) *ScheduleGeneratorService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProposalTTL <= 0 {
		cfg.ProposalTTL = 30 * time.Minute
	}
	if cfg.MaxWindowDays <= 0 {
		cfg.MaxWindowDays = 366
	}
	if cfg.MaxShows <= 0 {
		cfg.MaxShows = 128
	}
	return &ScheduleGeneratorService{
		shows:     shows,
		plans:     plans,
		entries:   entries,
		tx:        tx,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		store:     newProposalStore(cfg.ProposalTTL),
	}
}

// Generate builds a schedule preview and keeps it as a proposal that Save can persist.
func (s *ScheduleGeneratorService) Generate(ctx context.Context, req dto.GenerateScheduleRequest) (*dto.GenerateScheduleResponse, error) {
	start := time.Now()

	settings, showIDs, err := s.parseRequest(req)
	if err != nil {
		return nil, err
	}
	shows, err := s.loadShows(ctx, showIDs)
	if err != nil {
		return nil, err
	}

	key := previewKey(shows, settings)
	var preview cachedPreview
	cached := false
	if s.cache != nil && s.cache.Enabled() {
		hit, cacheErr := s.cache.Get(ctx, key, &preview)
		if cacheErr != nil {
			s.logger.Warn("schedule preview cache lookup failed", zap.Error(cacheErr))
		}
		cached = hit
	}
	if !cached {
		result := planner.Build(shows, settings)
		preview = cachedPreview{
			Days:  buildDayViews(result.Days, imageIndex(shows, s.cfg.PlaceholderImage)),
			Stats: result.Stats(),
		}
		if s.cache != nil && s.cache.Enabled() {
			if cacheErr := s.cache.Set(ctx, key, preview, s.cfg.CacheTTL); cacheErr != nil {
				s.logger.Warn("schedule preview cache store failed", zap.Error(cacheErr))
			}
		}
	}

	proposal := scheduleProposal{
		ProposalID:  uuid.NewString(),
		Settings:    settingsView(settings),
		ShowIDs:     collectShowIDs(shows),
		Days:        preview.Days,
		Stats:       preview.Stats,
		RequestedAt: time.Now(),
	}
	s.store.Save(proposal)

	s.metrics.ObserveScheduleGeneration(cached, preview.Stats.ScheduledEpisodes, time.Since(start))
	s.logger.Debug("schedule generated",
		zap.String("proposal_id", proposal.ProposalID),
		zap.Int("shows", len(shows)),
		zap.Int("days", len(preview.Days)),
		zap.Int("scheduled", preview.Stats.ScheduledEpisodes),
		zap.Bool("cached", cached))

	return &dto.GenerateScheduleResponse{
		ProposalID: proposal.ProposalID,
		Settings:   proposal.Settings,
		Days:       proposal.Days,
		Stats:      proposal.Stats,
		Cached:     cached,
	}, nil
}

// Save persists a generated proposal as a new watch plan version.
func (s *ScheduleGeneratorService) Save(ctx context.Context, req dto.SaveScheduleRequest) (*dto.WatchPlanSummary, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid save schedule payload")
	}
	proposal, ok := s.store.Get(req.ProposalID)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "proposal not found or expired")
	}
	if s.tx == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = fmt.Sprintf("Watch plan %s to %s", proposal.Settings.StartDate, proposal.Settings.EndDate)
	}

	meta := models.WatchPlanMeta{
		StartDate:   proposal.Settings.StartDate,
		EndDate:     proposal.Settings.EndDate,
		HoursPerDay: proposal.Settings.HoursPerDay,
		DaysPerWeek: proposal.Settings.DaysPerWeek,
		ShowIDs:     proposal.ShowIDs,
		Stats:       proposal.Stats,
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode watch plan metadata")
	}

	entries, err := proposalEntries(proposal)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to prepare watch plan entries")
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	plan := &models.WatchPlan{Name: name, Meta: types.JSONText(metaBytes)}
	if err = s.plans.CreateVersioned(ctx, tx, plan); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create watch plan")
	}
	for i := range entries {
		entries[i].WatchPlanID = plan.ID
	}
	if err = s.entries.InsertBatch(ctx, tx, entries); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist watch plan entries")
	}
	if err = tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit watch plan transaction")
	}

	s.store.Delete(req.ProposalID)
	s.logger.Info("watch plan saved", zap.String("plan_id", plan.ID), zap.String("name", plan.Name), zap.Int("version", plan.Version))
	summary := summarize(*plan, meta)
	return &summary, nil
}

// List returns saved watch plans, newest first.
func (s *ScheduleGeneratorService) List(ctx context.Context) ([]dto.WatchPlanSummary, error) {
	plans, err := s.plans.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list watch plans")
	}
	out := make([]dto.WatchPlanSummary, 0, len(plans))
	for _, plan := range plans {
		meta, err := decodeMeta(plan.Meta)
		if err != nil {
			s.logger.Warn("skipping watch plan with unreadable metadata", zap.String("plan_id", plan.ID), zap.Error(err))
			continue
		}
		out = append(out, summarize(plan, meta))
	}
	return out, nil
}

// Get loads a saved plan and lays its entries back onto every eligible date of its window.
func (s *ScheduleGeneratorService) Get(ctx context.Context, id string) (*dto.WatchPlanResponse, error) {
	plan, err := s.plans.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "watch plan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load watch plan")
	}
	meta, err := decodeMeta(plan.Meta)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decode watch plan metadata")
	}
	settings, err := metaSettings(meta)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decode watch plan settings")
	}

	entries, err := s.entries.ListByPlan(ctx, plan.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list watch plan entries")
	}

	images := map[string]string{}
	if ids := entryShowIDs(entries); len(ids) > 0 {
		shows, err := s.shows.ListByIDs(ctx, ids)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan shows")
		}
		images = imageIndex(shows, s.cfg.PlaceholderImage)
	}

	byDate := make(map[string][]models.ScheduleEpisode, len(entries))
	for _, entry := range entries {
		key := entry.WatchDate.Format(dateLayout)
		byDate[key] = append(byDate[key], models.ScheduleEpisode{
			ShowID:    entry.ShowID,
			ShowTitle: entry.ShowTitle,
			Season:    entry.Season,
			Episode:   entry.Episode,
			Duration:  entry.Duration,
		})
	}

	dates := planner.EligibleDates(settings.StartDate, settings.EndDate, settings.DaysPerWeek)
	days := make([]models.ScheduleDay, 0, len(dates))
	for _, date := range dates {
		episodes := byDate[date.Format(dateLayout)]
		if episodes == nil {
			episodes = []models.ScheduleEpisode{}
		}
		days = append(days, models.ScheduleDay{Date: date, Episodes: episodes})
	}

	return &dto.WatchPlanResponse{
		WatchPlanSummary: summarize(*plan, meta),
		Settings:         settingsView(settings),
		Days:             buildDayViewsWithFallback(days, images, s.cfg.PlaceholderImage),
	}, nil
}

// Delete removes a saved plan.
func (s *ScheduleGeneratorService) Delete(ctx context.Context, id string) error {
	if err := s.plans.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "watch plan not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete watch plan")
	}
	return nil
}

func (s *ScheduleGeneratorService) parseRequest(req dto.GenerateScheduleRequest) (models.ScheduleSettings, []string, error) {
	if err := s.validator.Struct(req); err != nil {
		return models.ScheduleSettings{}, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule generation payload")
	}

	startDate, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		return models.ScheduleSettings{}, nil, appErrors.Clone(appErrors.ErrValidation, "startDate must be formatted as YYYY-MM-DD")
	}
	endDate, err := time.Parse(dateLayout, req.EndDate)
	if err != nil {
		return models.ScheduleSettings{}, nil, appErrors.Clone(appErrors.ErrValidation, "endDate must be formatted as YYYY-MM-DD")
	}
	if endDate.Before(startDate) {
		return models.ScheduleSettings{}, nil, appErrors.Clone(appErrors.ErrValidation, "endDate must not be before startDate")
	}
	if window := int(endDate.Sub(startDate).Hours()/24) + 1; window > s.cfg.MaxWindowDays {
		return models.ScheduleSettings{}, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("schedule window may span at most %d days", s.cfg.MaxWindowDays))
	}

	days, err := parseWeekdays(req.DaysPerWeek)
	if err != nil {
		return models.ScheduleSettings{}, nil, err
	}

	showIDs := dedupe(req.ShowIDs)
	if len(showIDs) > s.cfg.MaxShows {
		return models.ScheduleSettings{}, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("at most %d shows can be scheduled at once", s.cfg.MaxShows))
	}

	return models.ScheduleSettings{
		StartDate:   startDate,
		EndDate:     endDate,
		HoursPerDay: req.HoursPerDay,
		DaysPerWeek: days,
	}, showIDs, nil
}

func (s *ScheduleGeneratorService) loadShows(ctx context.Context, ids []string) ([]models.Show, error) {
	if len(ids) == 0 {
		shows, err := s.shows.ListAll(ctx)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load shows")
		}
		if len(shows) > s.cfg.MaxShows {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("catalogue holds more than %d shows; pass showIds to choose", s.cfg.MaxShows))
		}
		return shows, nil
	}

	found, err := s.shows.ListByIDs(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load shows")
	}
	byID := make(map[string]models.Show, len(found))
	for _, show := range found {
		byID[show.ID] = show
	}
	shows := make([]models.Show, 0, len(ids))
	for _, id := range ids {
		show, ok := byID[id]
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("show %s not found", id))
		}
		shows = append(shows, show)
	}
	return shows, nil
}

// parseWeekdays converts request weekday names into a sorted, duplicate free set.
func parseWeekdays(names []string) ([]time.Weekday, error) {
	if len(names) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "please select at least one day of the week")
	}
	var seen [7]bool
	for _, name := range names {
		day, ok := models.ParseWeekday(name)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown day of the week %q", name))
		}
		seen[day] = true
	}
	days := make([]time.Weekday, 0, 7)
	for d, ok := range seen {
		if ok {
			days = append(days, time.Weekday(d))
		}
	}
	return days, nil
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// --- Views ---

type cachedPreview struct {
	Days  []dto.ScheduleDayView `json:"days"`
	Stats models.PlanStats      `json:"stats"`
}

// previewKey hashes every input the planner reads, so equal keys always yield equal previews.
func previewKey(shows []models.Show, settings models.ScheduleSettings) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, show := range shows {
		image := ""
		if show.Image != nil {
			image = *show.Image
		}
		_ = enc.Encode([]interface{}{show.ID, show.Title, show.Seasons, show.EpisodesPerSeason, show.EpisodeDuration, show.Priority, image})
	}
	_ = enc.Encode([]interface{}{settings.StartDate.Format(dateLayout), settings.EndDate.Format(dateLayout), settings.HoursPerDay, settings.DaysPerWeek})
	return previewCachePrefix + hex.EncodeToString(h.Sum(nil))
}

func imageIndex(shows []models.Show, placeholder string) map[string]string {
	images := make(map[string]string, len(shows))
	for _, show := range shows {
		if show.Image != nil && *show.Image != "" {
			images[show.ID] = *show.Image
		} else {
			images[show.ID] = placeholder
		}
	}
	return images
}

func buildDayViews(days []models.ScheduleDay, images map[string]string) []dto.ScheduleDayView {
	return buildDayViewsWithFallback(days, images, "")
}

func buildDayViewsWithFallback(days []models.ScheduleDay, images map[string]string, fallback string) []dto.ScheduleDayView {
	views := make([]dto.ScheduleDayView, 0, len(days))
	for _, day := range days {
		view := dto.ScheduleDayView{
			Date:         day.Date.Format(dateLayout),
			Weekday:      models.WeekdayName(day.Date.Weekday()),
			Label:        day.Date.Format(labelLayout),
			TotalMinutes: day.Minutes(),
			Episodes:     make([]dto.ScheduledEpisodeView, 0, len(day.Episodes)),
		}
		for _, ep := range day.Episodes {
			image, ok := images[ep.ShowID]
			if !ok {
				image = fallback
			}
			view.Episodes = append(view.Episodes, dto.ScheduledEpisodeView{
				ShowID:    ep.ShowID,
				ShowTitle: ep.ShowTitle,
				Season:    ep.Season,
				Episode:   ep.Episode,
				Duration:  ep.Duration,
				Image:     image,
			})
		}
		views = append(views, view)
	}
	return views
}

func settingsView(settings models.ScheduleSettings) dto.ScheduleSettingsView {
	names := make([]string, 0, len(settings.DaysPerWeek))
	for _, d := range settings.DaysPerWeek {
		names = append(names, models.WeekdayName(d))
	}
	return dto.ScheduleSettingsView{
		StartDate:   settings.StartDate.Format(dateLayout),
		EndDate:     settings.EndDate.Format(dateLayout),
		HoursPerDay: settings.HoursPerDay,
		DaysPerWeek: names,
	}
}

func collectShowIDs(shows []models.Show) []string {
	ids := make([]string, 0, len(shows))
	for _, show := range shows {
		ids = append(ids, show.ID)
	}
	return ids
}

func entryShowIDs(entries []models.WatchPlanEntry) []string {
	seen := map[string]struct{}{}
	ids := []string{}
	for _, entry := range entries {
		if _, ok := seen[entry.ShowID]; ok {
			continue
		}
		seen[entry.ShowID] = struct{}{}
		ids = append(ids, entry.ShowID)
	}
	sort.Strings(ids)
	return ids
}

func proposalEntries(proposal scheduleProposal) ([]models.WatchPlanEntry, error) {
	entries := make([]models.WatchPlanEntry, 0, proposal.Stats.ScheduledEpisodes)
	for _, day := range proposal.Days {
		date, err := time.Parse(dateLayout, day.Date)
		if err != nil {
			return nil, fmt.Errorf("parse day %q: %w", day.Date, err)
		}
		for pos, ep := range day.Episodes {
			entries = append(entries, models.WatchPlanEntry{
				WatchDate: date,
				Position:  pos,
				ShowID:    ep.ShowID,
				ShowTitle: ep.ShowTitle,
				Season:    ep.Season,
				Episode:   ep.Episode,
				Duration:  ep.Duration,
			})
		}
	}
	return entries, nil
}

func decodeMeta(raw types.JSONText) (models.WatchPlanMeta, error) {
	var meta models.WatchPlanMeta
	if len(raw) == 0 {
		return meta, nil
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return models.WatchPlanMeta{}, fmt.Errorf("decode watch plan meta: %w", err)
	}
	return meta, nil
}

func metaSettings(meta models.WatchPlanMeta) (models.ScheduleSettings, error) {
	start, err := time.Parse(dateLayout, meta.StartDate)
	if err != nil {
		return models.ScheduleSettings{}, fmt.Errorf("start date: %w", err)
	}
	end, err := time.Parse(dateLayout, meta.EndDate)
	if err != nil {
		return models.ScheduleSettings{}, fmt.Errorf("end date: %w", err)
	}
	days := make([]time.Weekday, 0, len(meta.DaysPerWeek))
	for _, name := range meta.DaysPerWeek {
		if d, ok := models.ParseWeekday(name); ok {
			days = append(days, d)
		}
	}
	return models.ScheduleSettings{StartDate: start, EndDate: end, HoursPerDay: meta.HoursPerDay, DaysPerWeek: days}, nil
}

func summarize(plan models.WatchPlan, meta models.WatchPlanMeta) dto.WatchPlanSummary {
	return dto.WatchPlanSummary{
		ID:        plan.ID,
		Name:      plan.Name,
		Version:   plan.Version,
		StartDate: meta.StartDate,
		EndDate:   meta.EndDate,
		Stats:     meta.Stats,
		CreatedAt: plan.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// --- Proposal cache ---

type scheduleProposal struct {
	ProposalID  string
	Settings    dto.ScheduleSettingsView
	ShowIDs     []string
	Days        []dto.ScheduleDayView
	Stats       models.PlanStats
	RequestedAt time.Time
}

type proposalStore struct {
	ttl   time.Duration
	now   func() time.Time
	mu    sync.RWMutex
	items map[string]scheduleProposal
}

func newProposalStore(ttl time.Duration) *proposalStore {
	return &proposalStore{
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]scheduleProposal),
	}
}

// Save stores a proposal and drops any that have expired.
func (s *proposalStore) Save(proposal scheduleProposal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, item := range s.items {
		if now.Sub(item.RequestedAt) > s.ttl {
			delete(s.items, id)
		}
	}
	s.items[proposal.ProposalID] = proposal
}

func (s *proposalStore) Get(id string) (scheduleProposal, bool) {
	s.mu.RLock()
	proposal, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return scheduleProposal{}, false
	}
	if s.now().Sub(proposal.RequestedAt) > s.ttl {
		s.Delete(id)
		return scheduleProposal{}, false
	}
	return proposal, true
}

func (s *proposalStore) Delete(id string) {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
}

func (s *proposalStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
