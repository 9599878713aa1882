package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/watchplan-api/internal/dto"
	"github.com/noah-isme/watchplan-api/internal/models"
	"github.com/noah-isme/watchplan-api/internal/repository"
	appErrors "github.com/noah-isme/watchplan-api/pkg/errors"
	"github.com/noah-isme/watchplan-api/pkg/jobs"
	"github.com/noah-isme/watchplan-api/pkg/storage"
)

type exportJobStoreStub struct {
	mu     sync.Mutex
	jobs   map[string]*models.ExportJob
	order  []string
	seq    int
	listed int
}

func newExportJobStoreStub() *exportJobStoreStub {
	return &exportJobStoreStub{jobs: map[string]*models.ExportJob{}}
}

func (s *exportJobStoreStub) Create(_ context.Context, job *models.ExportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	job.ID = fmt.Sprintf("job-%d", s.seq)
	job.CreatedAt = time.Now().UTC()
	clone := *job
	s.jobs[job.ID] = &clone
	s.order = append(s.order, job.ID)
	return nil
}

func (s *exportJobStoreStub) GetByID(_ context.Context, id string) (*models.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("get export job: %w", sql.ErrNoRows)
	}
	clone := *job
	return &clone, nil
}

func (s *exportJobStoreStub) Update(_ context.Context, id string, params repository.UpdateExportJobParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Progress != nil {
		job.Progress = *params.Progress
	}
	if params.FilePath != nil {
		v := *params.FilePath
		job.FilePath = &v
	}
	if params.ResultURL != nil {
		v := *params.ResultURL
		job.ResultURL = &v
	}
	if params.ErrorMessage != nil {
		v := *params.ErrorMessage
		job.ErrorMessage = &v
	}
	if params.FinishedAt != nil {
		v := *params.FinishedAt
		job.FinishedAt = &v
	}
	return nil
}

func (s *exportJobStoreStub) ListByStatus(_ context.Context, statuses []models.ExportStatus, _ int) ([]models.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.ExportJob{}
	for _, id := range s.order {
		for _, status := range statuses {
			if s.jobs[id].Status == status {
				out = append(out, *s.jobs[id])
			}
		}
	}
	return out, nil
}

func (s *exportJobStoreStub) ListFinishedBefore(_ context.Context, cutoff time.Time, _ int) ([]models.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listed++
	out := []models.ExportJob{}
	for _, id := range s.order {
		job := s.jobs[id]
		if job.Status == models.ExportStatusFinished && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			out = append(out, *job)
		}
	}
	return out, nil
}

type dispatcherStub struct {
	enqueued []jobs.Job
	err      error
}

func (d *dispatcherStub) Enqueue(job jobs.Job) error {
	if d.err != nil {
		return d.err
	}
	d.enqueued = append(d.enqueued, job)
	return nil
}

type failingGenerator struct {
	calls int
	err   error
}

func (g *failingGenerator) Generate(context.Context, *models.ExportJob) (*ExportResult, error) {
	g.calls++
	return nil, g.err
}

type exportJobFixture struct {
	svc      *ExportJobService
	worker   *ExportWorker
	repo     *exportJobStoreStub
	queue    *dispatcherStub
	exporter *ExportService
	files    *storage.LocalStorage
	metrics  *MetricsService
}

func newExportJobFixture(t *testing.T) *exportJobFixture {
	t.Helper()
	exporter, files := newExportFixture(t)
	plans := &planReaderStub{plans: map[string]*dto.WatchPlanResponse{"plan-1": samplePlan()}}
	repo := newExportJobStoreStub()
	queue := &dispatcherStub{}
	metrics := NewMetricsService()
	return &exportJobFixture{
		svc:      NewExportJobService(repo, plans, queue, exporter, metrics, nil, nil, ExportJobServiceConfig{ResultTTL: time.Hour}),
		worker:   NewExportWorker(repo, exporter, metrics, nil),
		repo:     repo,
		queue:    queue,
		exporter: exporter,
		files:    files,
		metrics:  metrics,
	}
}

func TestExportJobServiceCreateJob(t *testing.T) {
	fx := newExportJobFixture(t)

	resp, err := fx.svc.CreateJob(context.Background(), "plan-1", dto.ExportRequest{Format: models.ExportFormatCSV})
	require.NoError(t, err)
	assert.Equal(t, "job-1", resp.ID)
	assert.Equal(t, "plan-1", resp.PlanID)
	assert.Equal(t, models.ExportStatusQueued, resp.Status)
	require.Len(t, fx.queue.enqueued, 1)
	assert.Equal(t, ExportJobType, fx.queue.enqueued[0].Type)
}

func TestExportJobServiceCreateJobValidation(t *testing.T) {
	fx := newExportJobFixture(t)

	_, err := fx.svc.CreateJob(context.Background(), "plan-1", dto.ExportRequest{Format: "xlsx"})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, appErrors.FromError(err).Status)

	_, err = fx.svc.CreateJob(context.Background(), "missing", dto.ExportRequest{Format: models.ExportFormatPDF})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	assert.Empty(t, fx.repo.order)
}

func TestExportJobServiceCreateJobEnqueueFailure(t *testing.T) {
	fx := newExportJobFixture(t)
	fx.queue.err = jobs.ErrQueueClosed

	_, err := fx.svc.CreateJob(context.Background(), "plan-1", dto.ExportRequest{Format: models.ExportFormatCSV})
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, appErrors.FromError(err).Status)

	job, err := fx.repo.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFailed, job.Status)
	assert.Equal(t, uint64(1), fx.metrics.Snapshot().ExportsFailed)
}

func TestExportJobLifecycle(t *testing.T) {
	fx := newExportJobFixture(t)
	ctx := context.Background()

	created, err := fx.svc.CreateJob(ctx, "plan-1", dto.ExportRequest{Format: models.ExportFormatCSV})
	require.NoError(t, err)

	status, err := fx.svc.GetStatus(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusQueued, status.Status)
	assert.Nil(t, status.ResultURL)

	require.NoError(t, fx.worker.Handle(ctx, fx.queue.enqueued[0]))

	status, err = fx.svc.GetStatus(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFinished, status.Status)
	assert.Equal(t, 100, status.Progress)
	require.NotNil(t, status.ResultURL)
	assert.Nil(t, status.Error)
	assert.Equal(t, uint64(1), fx.metrics.Snapshot().ExportsCompleted)

	token := (*status.ResultURL)[len("/api/v1/export/"):]
	download, err := fx.svc.ResolveDownload(ctx, token)
	require.NoError(t, err)
	defer download.File.Close()
	assert.Equal(t, "text/csv", download.ContentType)
	assert.Equal(t, models.ExportFormatCSV, download.Format)
	assert.Contains(t, download.Filename, ".csv")
}

func TestExportJobServiceResolveDownloadRejects(t *testing.T) {
	fx := newExportJobFixture(t)
	ctx := context.Background()

	_, err := fx.svc.ResolveDownload(ctx, "garbage")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	created, err := fx.svc.CreateJob(ctx, "plan-1", dto.ExportRequest{Format: models.ExportFormatCSV})
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("secret", time.Hour)
	token, _, err := signer.Sign(created.ID, "other.csv")
	require.NoError(t, err)

	_, err = fx.svc.ResolveDownload(ctx, token)
	require.Error(t, err)
	assert.Equal(t, "export not available", appErrors.FromError(err).Message)

	require.NoError(t, fx.worker.Handle(ctx, fx.queue.enqueued[0]))
	_, err = fx.svc.ResolveDownload(ctx, token)
	require.Error(t, err)
	assert.Equal(t, "token mismatch", appErrors.FromError(err).Message)
}

func TestExportWorkerRetryThenFail(t *testing.T) {
	fx := newExportJobFixture(t)
	ctx := context.Background()
	generator := &failingGenerator{err: errors.New("disk full")}
	worker := NewExportWorker(fx.repo, generator, fx.metrics, nil)

	created, err := fx.svc.CreateJob(ctx, "plan-1", dto.ExportRequest{Format: models.ExportFormatPDF})
	require.NoError(t, err)

	err = worker.Handle(ctx, fx.queue.enqueued[0])
	require.Error(t, err)
	job, _ := fx.repo.GetByID(ctx, created.ID)
	assert.Equal(t, models.ExportStatusQueued, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "disk full", *job.ErrorMessage)

	worker.MarkFailed(ctx, jobs.Job{ID: created.ID, Attempt: 3}, err)
	job, _ = fx.repo.GetByID(ctx, created.ID)
	assert.Equal(t, models.ExportStatusFailed, job.Status)
	assert.NotNil(t, job.FinishedAt)
	assert.Equal(t, uint64(1), fx.metrics.Snapshot().ExportsFailed)
}

func TestExportWorkerOnQueue(t *testing.T) {
	fx := newExportJobFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	generator := &failingGenerator{err: errors.New("render failed")}
	worker := NewExportWorker(fx.repo, generator, fx.metrics, nil)
	failed := make(chan string, 1)
	queue := jobs.NewQueue("exports", worker.Handle, jobs.QueueConfig{
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
		OnFailure: func(ctx context.Context, job jobs.Job, cause error) {
			worker.MarkFailed(ctx, job, cause)
			failed <- job.ID
		},
	})
	queue.Start(ctx)
	defer queue.Stop()

	svc := NewExportJobService(fx.repo, &planReaderStub{plans: map[string]*dto.WatchPlanResponse{"plan-1": samplePlan()}}, queue, fx.exporter, fx.metrics, nil, nil, ExportJobServiceConfig{})
	created, err := svc.CreateJob(ctx, "plan-1", dto.ExportRequest{Format: models.ExportFormatCSV})
	require.NoError(t, err)

	select {
	case id := <-failed:
		assert.Equal(t, created.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("job did not fail in time")
	}
	assert.Equal(t, 2, generator.calls)
	status, err := svc.GetStatus(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFailed, status.Status)
	require.NotNil(t, status.Error)
}

func TestExportJobServiceRecoverPendingJobs(t *testing.T) {
	fx := newExportJobFixture(t)
	ctx := context.Background()
	for _, status := range []models.ExportStatus{models.ExportStatusQueued, models.ExportStatusProcessing, models.ExportStatusFinished} {
		job := &models.ExportJob{WatchPlanID: "plan-1", Format: models.ExportFormatCSV, Status: status}
		require.NoError(t, fx.repo.Create(ctx, job))
	}

	assert.Equal(t, 2, fx.svc.RecoverPendingJobs(ctx))
	require.Len(t, fx.queue.enqueued, 2)
	assert.Equal(t, "job-1", fx.queue.enqueued[0].ID)
	assert.Equal(t, "job-2", fx.queue.enqueued[1].ID)
}

func TestExportJobServiceCleanupExpired(t *testing.T) {
	fx := newExportJobFixture(t)
	ctx := context.Background()

	created, err := fx.svc.CreateJob(ctx, "plan-1", dto.ExportRequest{Format: models.ExportFormatCSV})
	require.NoError(t, err)
	require.NoError(t, fx.worker.Handle(ctx, fx.queue.enqueued[0]))

	job, _ := fx.repo.GetByID(ctx, created.ID)
	require.NotNil(t, job.FilePath)
	path := *job.FilePath

	assert.Equal(t, 0, fx.svc.CleanupExpired(ctx))

	fx.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.Equal(t, 1, fx.svc.CleanupExpired(ctx))

	job, _ = fx.repo.GetByID(ctx, created.ID)
	assert.Equal(t, models.ExportStatusExpired, job.Status)
	_, err = fx.files.Open(path)
	assert.Error(t, err)

	require.NoError(t, fx.worker.Handle(ctx, jobs.Job{ID: created.ID}))
	job, _ = fx.repo.GetByID(ctx, created.ID)
	assert.Equal(t, models.ExportStatusExpired, job.Status, "expired jobs are not re-rendered")
}

type undeletableFiles struct {
	exportFiles
	deletes int
}

func (f *undeletableFiles) Delete(string) error {
	f.deletes++
	return errors.New("permission denied")
}

func (f *undeletableFiles) Cleanup(time.Duration) ([]string, error) { return nil, nil }

func TestExportJobServiceCleanupStopsWhenFilesCannotBeDeleted(t *testing.T) {
	repo := newExportJobStoreStub()
	ctx := context.Background()
	finished := time.Now().Add(-48 * time.Hour)
	for i := 0; i < cleanupBatchSize+20; i++ {
		path := fmt.Sprintf("exports/file-%d.csv", i)
		job := &models.ExportJob{Status: models.ExportStatusFinished, FilePath: &path, FinishedAt: &finished}
		require.NoError(t, repo.Create(ctx, job))
	}
	files := &undeletableFiles{}
	svc := NewExportJobService(repo, &planReaderStub{}, &dispatcherStub{}, files, nil, nil, nil, ExportJobServiceConfig{ResultTTL: time.Hour})

	done := make(chan int, 1)
	go func() { done <- svc.CleanupExpired(ctx) }()

	select {
	case expired := <-done:
		assert.Equal(t, 0, expired)
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup did not return")
	}
	assert.Equal(t, cleanupBatchSize+20, files.deletes, "each file is attempted once per pass")
	assert.LessOrEqual(t, repo.listed, 2)

	job, err := repo.GetByID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFinished, job.Status)
}

func TestExportJobServiceCleanupHonoursCancellation(t *testing.T) {
	repo := newExportJobStoreStub()
	finished := time.Now().Add(-48 * time.Hour)
	path := "exports/file.csv"
	require.NoError(t, repo.Create(context.Background(), &models.ExportJob{Status: models.ExportStatusFinished, FilePath: &path, FinishedAt: &finished}))
	svc := NewExportJobService(repo, &planReaderStub{}, &dispatcherStub{}, &undeletableFiles{}, nil, nil, nil, ExportJobServiceConfig{ResultTTL: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, 0, svc.CleanupExpired(ctx))
	assert.Equal(t, 0, repo.listed)
}
