package service

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/watchplan-api/internal/dto"
	"github.com/noah-isme/watchplan-api/internal/models"
	"github.com/noah-isme/watchplan-api/pkg/export"
	"github.com/noah-isme/watchplan-api/pkg/storage"
)

// EmptyDayMarker fills the Show column for eligible days with nothing scheduled.
const EmptyDayMarker = "—"

var exportHeaders = []string{"Date", "Day", "Show", "Season", "Episode", "Minutes"}

type watchPlanReader interface {
	Get(ctx context.Context, id string) (*dto.WatchPlanResponse, error)
}

type fileStorage interface {
	Save(name string, data []byte) (string, error)
	Open(name string) (*os.File, error)
	Delete(name string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ExportFormat
	ExpiresAt    time.Time
}

// ExportService renders saved watch plans and persists the files.
type ExportService struct {
	plans     watchPlanReader
	storage   fileStorage
	renderers map[models.ExportFormat]export.Renderer
	signer    *storage.SignedURLSigner
	logger    *zap.Logger
	cfg       ExportConfig
	now       func() time.Time
}

// NewExportService constructs an ExportService with the CSV and PDF renderers.
func NewExportService(plans watchPlanReader, files fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &ExportService{
		plans:   plans,
		storage: files,
		renderers: map[models.ExportFormat]export.Renderer{
			models.ExportFormatCSV: export.NewCSVRenderer(),
			models.ExportFormatPDF: export.NewPDFRenderer(),
		},
		signer: signer,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Generate renders the job's plan, stores the file and signs a download URL for it.
func (s *ExportService) Generate(ctx context.Context, job *models.ExportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("export job is nil")
	}
	renderer, ok := s.renderers[job.Format]
	if !ok {
		return nil, fmt.Errorf("unsupported format %s", job.Format)
	}
	plan, err := s.plans.Get(ctx, job.WatchPlanID)
	if err != nil {
		return nil, err
	}

	payload, err := renderer.Render(PlanTable(plan))
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", job.Format, err)
	}

	relPath, err := s.storage.Save(s.buildFilename(plan, job, renderer.Extension()), payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Sign(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	s.logger.Debug("export rendered", zap.String("job_id", job.ID), zap.String("path", relPath), zap.Int("bytes", len(payload)))
	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/export/%s", prefix, token),
		Format:       job.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ContentType reports the MIME type of a rendered format.
func (s *ExportService) ContentType(format models.ExportFormat) string {
	if renderer, ok := s.renderers[format]; ok {
		return renderer.ContentType()
	}
	return "application/octet-stream"
}

// Verify checks a download token.
func (s *ExportService) Verify(token string, allowExpired bool) (storage.DownloadClaims, error) {
	return s.signer.Verify(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl, or the configured result TTL when ttl <= 0.
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(plan *dto.WatchPlanResponse, job *models.ExportJob, ext string) string {
	timestamp := s.now().UTC().Format("20060102_150405")
	return fmt.Sprintf("%s_v%d_%s_%s.%s", sanitizeFilename(plan.Name), plan.Version, timestamp, shortID(job.ID), ext)
}

// PlanTable lays a plan out as one row per scheduled episode, keeping empty days visible.
func PlanTable(plan *dto.WatchPlanResponse) export.Table {
	rows := make([][]string, 0, len(plan.Days))
	for _, day := range plan.Days {
		weekday := day.Weekday
		if d, ok := models.ParseWeekday(day.Weekday); ok {
			weekday = d.String()
		}
		if len(day.Episodes) == 0 {
			rows = append(rows, []string{day.Date, weekday, EmptyDayMarker, "", "", "0"})
			continue
		}
		for _, ep := range day.Episodes {
			rows = append(rows, []string{
				day.Date,
				weekday,
				ep.ShowTitle,
				strconv.Itoa(ep.Season),
				strconv.Itoa(ep.Episode),
				strconv.Itoa(ep.Duration),
			})
		}
	}
	return export.Table{
		Title:   fmt.Sprintf("%s (v%d)", plan.Name, plan.Version),
		Caption: fmt.Sprintf("%s to %s, %d of %d episodes scheduled", plan.StartDate, plan.EndDate, plan.Stats.ScheduledEpisodes, plan.Stats.TotalEpisodes),
		Headers: exportHeaders,
		Rows:    rows,
	}
}

func sanitizeFilename(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "watch_plan"
	}
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	result := strings.Trim(b.String(), "_")
	if result == "" {
		return "watch_plan"
	}
	if len(result) > 80 {
		return result[:80]
	}
	return result
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
