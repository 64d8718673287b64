package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jobgtm/jobs-ingest/internal/apperror"
	"github.com/jobgtm/jobs-ingest/internal/extractor"
	"github.com/jobgtm/jobs-ingest/internal/listing"
	"github.com/jobgtm/jobs-ingest/internal/platform/sqlite"
	runrepo "github.com/jobgtm/jobs-ingest/internal/repository/run"
	"github.com/jobgtm/jobs-ingest/internal/run"
)

type fakeExtractor struct {
	source  string
	extract func(page int) ([]listing.JobRecord, error)
}

func (f *fakeExtractor) Source() string { return f.source }

func (f *fakeExtractor) Extract(_ context.Context, page int) ([]listing.JobRecord, error) {
	return f.extract(page)
}

type mockPublisher struct {
	mu      sync.Mutex
	records []listing.JobRecord
	fail    bool
}

func (p *mockPublisher) Publish(_ context.Context, rec listing.JobRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.records = append(p.records, rec)
	return nil
}

func (p *mockPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

// mockRunRepo keeps the latest state of every run in memory.
type mockRunRepo struct {
	mu   sync.Mutex
	runs map[string]run.Run
}

func newMockRunRepo() *mockRunRepo {
	return &mockRunRepo{runs: make(map[string]run.Run)}
}

func (m *mockRunRepo) Create(_ context.Context, r *run.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[r.RunID] = *r
	return nil
}

func (m *mockRunRepo) Update(_ context.Context, r *run.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[r.RunID] = *r
	return nil
}

func (m *mockRunRepo) Get(_ context.Context, runID string) (*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return nil, errors.New("not found")
	}
	return &r, nil
}

func (m *mockRunRepo) List(context.Context, string) ([]run.Run, error) { return nil, nil }

func records(n int, source string) []listing.JobRecord {
	out := make([]listing.JobRecord, n)
	for i := range out {
		out[i] = listing.JobRecord{CompanyTitle: "c", JobRole: "r", Source: source}
	}
	return out
}

func newTestOrchestrator(t *testing.T, exts ...extractor.Extractor) (*Orchestrator, *mockPublisher, *mockRunRepo) {
	t.Helper()
	registry := extractor.NewRegistry()
	for _, e := range exts {
		registry.Register(e)
	}
	pub := &mockPublisher{}
	repo := newMockRunRepo()
	// Serial page issuance keeps page-order assertions deterministic.
	o := New(context.Background(), registry, pub, repo,
		WithMaxPages(10), WithPageConcurrency(1))
	return o, pub, repo
}

func TestStart_PaginationStopsAtNotFound(t *testing.T) {
	ext := &fakeExtractor{source: "dice", extract: func(page int) ([]listing.JobRecord, error) {
		if page > 3 {
			return nil, extractor.ErrNotFound
		}
		return records(2, "dice"), nil
	}}
	o, pub, repo := newTestOrchestrator(t, ext)

	runID, err := o.Start(context.Background(), StartRequest{Source: "dice"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	o.Wait()

	if pub.count() != 6 {
		t.Errorf("expected 6 published records (3 pages x 2), got %d", pub.count())
	}

	wr, err := repo.Get(context.Background(), runID)
	if err != nil {
		t.Fatal(err)
	}
	if wr.Status != run.StatusCompleted {
		t.Errorf("expected completed, got %s", wr.Status)
	}
	if wr.Result == nil || wr.Result.TotalRecords != 6 {
		t.Fatalf("unexpected summary: %+v", wr.Result)
	}
	src := wr.Result.Sources[0]
	if src.PagesScraped != 3 || src.PagesFailed != 0 {
		t.Errorf("expected 3 scraped / 0 failed, got %+v", src)
	}
}

func TestStart_EmptyPageContinuesPagination(t *testing.T) {
	var mu sync.Mutex
	pages := 0
	ext := &fakeExtractor{source: "dice", extract: func(page int) ([]listing.JobRecord, error) {
		mu.Lock()
		pages++
		mu.Unlock()
		return nil, nil
	}}
	o, pub, repo := newTestOrchestrator(t, ext)

	runID, err := o.Start(context.Background(), StartRequest{Source: "dice", MaxPages: 5})
	if err != nil {
		t.Fatal(err)
	}
	o.Wait()

	// Zero records with no error is not end-of-results; all 5 pages visited.
	mu.Lock()
	visited := pages
	mu.Unlock()
	if visited != 5 {
		t.Errorf("expected 5 pages visited, got %d", visited)
	}
	if pub.count() != 0 {
		t.Errorf("expected no published records, got %d", pub.count())
	}
	wr, _ := repo.Get(context.Background(), runID)
	if wr.Status != run.StatusCompleted {
		t.Errorf("expected completed, got %s", wr.Status)
	}
}

func TestStart_BlockedPageDegradesToPartial(t *testing.T) {
	ext := &fakeExtractor{source: "dice", extract: func(page int) ([]listing.JobRecord, error) {
		if page == 2 {
			return nil, extractor.ErrBlocked
		}
		return records(1, "dice"), nil
	}}
	o, pub, repo := newTestOrchestrator(t, ext)

	runID, err := o.Start(context.Background(), StartRequest{Source: "dice", MaxPages: 3})
	if err != nil {
		t.Fatal(err)
	}
	o.Wait()

	// The blocked page is skipped, the other two still publish.
	if pub.count() != 2 {
		t.Errorf("expected 2 published records, got %d", pub.count())
	}

	wr, _ := repo.Get(context.Background(), runID)
	if wr.Status != run.StatusCompleted {
		t.Errorf("partial source must not fail the run, got %s", wr.Status)
	}
	src := wr.Result.Sources[0]
	if src.Status != "partial" || src.PagesScraped != 2 || src.PagesFailed != 1 {
		t.Errorf("expected partial 2/1, got %+v", src)
	}
	if src.LastError == "" {
		t.Error("expected last error to be recorded")
	}
}

func TestStart_AllSourcesFailedFailsRun(t *testing.T) {
	ext := &fakeExtractor{source: "dice", extract: func(int) ([]listing.JobRecord, error) {
		return nil, errors.New("parser exploded")
	}}
	o, _, repo := newTestOrchestrator(t, ext)

	runID, err := o.Start(context.Background(), StartRequest{Source: "dice", MaxPages: 2})
	if err != nil {
		t.Fatal(err)
	}
	o.Wait()

	wr, _ := repo.Get(context.Background(), runID)
	if wr.Status != run.StatusFailed {
		t.Errorf("expected failed run, got %s", wr.Status)
	}
	if wr.Result.Sources[0].Status != "failed" {
		t.Errorf("expected failed source, got %+v", wr.Result.Sources[0])
	}
}

func TestStart_AllFansOutToEverySource(t *testing.T) {
	dice := &fakeExtractor{source: "dice", extract: func(page int) ([]listing.JobRecord, error) {
		if page > 1 {
			return nil, extractor.ErrNotFound
		}
		return records(2, "dice"), nil
	}}
	simply := &fakeExtractor{source: "simplyhired", extract: func(page int) ([]listing.JobRecord, error) {
		if page > 1 {
			return nil, extractor.ErrNotFound
		}
		return records(3, "simplyhired"), nil
	}}
	o, pub, repo := newTestOrchestrator(t, dice, simply)

	runID, err := o.Start(context.Background(), StartRequest{Source: run.SourceAll})
	if err != nil {
		t.Fatal(err)
	}
	o.Wait()

	if pub.count() != 5 {
		t.Errorf("expected 5 records across both sources, got %d", pub.count())
	}
	wr, _ := repo.Get(context.Background(), runID)
	if wr.Result.TotalSources != 2 || len(wr.Result.Sources) != 2 {
		t.Errorf("expected 2 source summaries, got %+v", wr.Result)
	}
	if wr.Status != run.StatusCompleted {
		t.Errorf("expected completed, got %s", wr.Status)
	}
}

func TestStart_UnknownSource(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	_, err := o.Start(context.Background(), StartRequest{Source: "monster"})
	if err == nil {
		t.Fatal("expected error for unregistered source")
	}
	appErr, ok := apperror.From(err)
	if !ok || appErr.Code() != apperror.BadRequest {
		t.Errorf("expected BadRequest, got %v", err)
	}
}

func TestStart_MissingSource(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	_, err := o.Start(context.Background(), StartRequest{})
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestShutdown_RunsStillReachTerminalStatus(t *testing.T) {
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	repo := runrepo.NewRepository(db.DB)

	extracting := make(chan struct{})
	ext := &fakeExtractor{source: "dice", extract: nil}
	registry := extractor.NewRegistry()
	registry.Register(ext)

	baseCtx, cancel := context.WithCancel(context.Background())
	o := New(baseCtx, registry, &mockPublisher{}, repo,
		WithMaxPages(10), WithPageConcurrency(1))

	// The extractor blocks until shutdown cancels the base context, so the
	// run is mid-page when the cancellation lands.
	var once sync.Once
	ext.extract = func(int) ([]listing.JobRecord, error) {
		once.Do(func() { close(extracting) })
		<-baseCtx.Done()
		return nil, baseCtx.Err()
	}

	runID, err := o.Start(context.Background(), StartRequest{Source: "dice"})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-extracting:
	case <-time.After(2 * time.Second):
		t.Fatal("extraction never started")
	}
	cancel()
	o.Wait()

	// The record must finalize against the real store even though the base
	// context is cancelled.
	wr, err := repo.Get(context.Background(), runID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if wr.Status != run.StatusCompleted && wr.Status != run.StatusFailed {
		t.Errorf("expected a terminal status after shutdown, got %s", wr.Status)
	}
	if wr.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
}

func TestStart_PublishFailuresCountedNotFatal(t *testing.T) {
	ext := &fakeExtractor{source: "dice", extract: func(page int) ([]listing.JobRecord, error) {
		if page > 1 {
			return nil, extractor.ErrNotFound
		}
		return records(4, "dice"), nil
	}}
	o, pub, repo := newTestOrchestrator(t, ext)
	pub.fail = true

	runID, err := o.Start(context.Background(), StartRequest{Source: "dice"})
	if err != nil {
		t.Fatal(err)
	}
	o.Wait()

	wr, _ := repo.Get(context.Background(), runID)
	if wr.Status != run.StatusCompleted {
		t.Errorf("publish failures must not fail the run, got %s", wr.Status)
	}
	if wr.Result.PublishFailures != 4 {
		t.Errorf("expected 4 publish failures recorded, got %d", wr.Result.PublishFailures)
	}
	if wr.Result.TotalRecords != 0 {
		t.Errorf("dropped records must not count as published, got %d", wr.Result.TotalRecords)
	}
}
