// Package orchestrator schedules extractor invocations across registered
// sources, fanning out over pages with bounded concurrency, and forwards
// every extracted record to the producer as soon as it exists. It owns the
// WorkflowRun lifecycle; every other side effect leaves through the queue.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jobgtm/jobs-ingest/internal/apperror"
	"github.com/jobgtm/jobs-ingest/internal/extractor"
	"github.com/jobgtm/jobs-ingest/internal/listing"
	"github.com/jobgtm/jobs-ingest/internal/run"
)

const (
	defaultMaxPages        = 500
	defaultPageConcurrency = 10
)

// Publisher hands one extracted record to the durable queue.
type Publisher interface {
	Publish(ctx context.Context, rec listing.JobRecord) error
}

type Orchestrator struct {
	registry        *extractor.Registry
	publisher       Publisher
	runs            run.Repository
	maxPages        int
	pageConcurrency int

	// baseCtx bounds run execution. Runs outlive the HTTP request that
	// triggered them but not the process: cancelling baseCtx stops new page
	// issuance while messages already published stay in the queue.
	baseCtx context.Context
	wg      sync.WaitGroup
}

func New(baseCtx context.Context, registry *extractor.Registry, publisher Publisher, runs run.Repository, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:        registry,
		publisher:       publisher,
		runs:            runs,
		maxPages:        defaultMaxPages,
		pageConcurrency: defaultPageConcurrency,
		baseCtx:         baseCtx,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type Option func(*Orchestrator)

func WithMaxPages(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxPages = n
		}
	}
}

func WithPageConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.pageConcurrency = n
		}
	}
}

type StartRequest struct {
	Source   string
	MaxPages int
	Params   map[string]any
}

func (r StartRequest) Validate() *apperror.AppError {
	if r.Source == "" {
		return apperror.New(apperror.BadRequest, "source is required (a registered source name or \"all\")")
	}
	if r.MaxPages < 0 {
		return apperror.New(apperror.BadRequest, "maxPages must not be negative")
	}
	return nil
}

// Start creates the run record and launches the fan-out in the background.
// The returned run id is immediately queryable; the caller's ctx covers only
// the run-record insert.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	var sources []string
	if req.Source == run.SourceAll {
		sources = o.registry.Sources()
		if len(sources) == 0 {
			return "", apperror.New(apperror.Unavailable, "no sources registered")
		}
	} else {
		if _, err := o.registry.Get(req.Source); err != nil {
			return "", apperror.New(apperror.BadRequest, fmt.Sprintf("unknown source: %s", req.Source))
		}
		sources = []string{req.Source}
	}

	maxPages := req.MaxPages
	if maxPages == 0 || maxPages > o.maxPages {
		maxPages = o.maxPages
	}

	params := map[string]any{"maxPages": maxPages}
	for k, v := range req.Params {
		params[k] = v
	}

	wr := &run.Run{
		RunID:       "scrape-run-" + uuid.NewString(),
		Source:      req.Source,
		Status:      run.StatusStarted,
		InputParams: params,
		StartedAt:   time.Now().UTC(),
	}
	if err := o.runs.Create(ctx, wr); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.execute(o.baseCtx, wr, sources, maxPages)
	}()

	slog.Info("run started", "runId", wr.RunID, "source", req.Source, "sources", len(sources), "maxPages", maxPages)
	return wr.RunID, nil
}

// Wait blocks until every in-flight run has finalized its record. Used
// during graceful shutdown, after baseCtx is cancelled.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) execute(ctx context.Context, wr *run.Run, sources []string, maxPages int) {
	// Run-record writes must land even when ctx is cancelled mid-run:
	// shutdown cancels page issuance, but the record still has to reach a
	// terminal status.
	dbCtx := context.WithoutCancel(ctx)

	wr.Status = run.StatusRunning
	if err := o.runs.Update(dbCtx, wr); err != nil {
		slog.Error("mark run running", "runId", wr.RunID, "error", err)
	}

	// All selected sources run concurrently; the only concurrency bound is
	// per source, inside scrapeSource.
	summaries := make([]run.SourceSummary, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src string) {
			defer wg.Done()
			summaries[i] = o.scrapeSource(ctx, wr.RunID, src, maxPages)
		}(i, src)
	}
	wg.Wait()

	summary := &run.Summary{
		TotalSources: len(sources),
		MaxPages:     maxPages,
		Sources:      summaries,
	}
	allFailed := true
	for _, s := range summaries {
		summary.TotalRecords += s.Records
		summary.PublishFailures += s.PublishFailures
		if s.Status != sourceFailed {
			allFailed = false
		}
	}

	now := time.Now().UTC()
	wr.CompletedAt = &now
	wr.Result = summary
	if allFailed {
		wr.Status = run.StatusFailed
		wr.Error = "every source branch failed"
	} else {
		// Partial success is still a completed run; per-source trouble is
		// visible in the summary, not the run status.
		wr.Status = run.StatusCompleted
	}
	if err := o.runs.Update(dbCtx, wr); err != nil {
		slog.Error("finalize run", "runId", wr.RunID, "error", err)
	}

	slog.Info("run finished",
		"runId", wr.RunID,
		"status", wr.Status,
		"records", summary.TotalRecords,
		"publishFailures", summary.PublishFailures,
	)
}

const (
	sourceCompleted = "completed"
	sourcePartial   = "partial"
	sourceFailed    = "failed"
)

// scrapeSource pages through one source. ErrNotFound on page N stops issuing
// pages >= N (pages already in flight may finish); any other extraction
// error degrades only its own page. A page with zero records and no error is
// not end-of-results; pagination continues.
func (o *Orchestrator) scrapeSource(ctx context.Context, runID, src string, maxPages int) run.SourceSummary {
	summary := run.SourceSummary{Source: src, Status: sourceCompleted}

	ext, err := o.registry.Get(src)
	if err != nil {
		summary.Status = sourceFailed
		summary.LastError = err.Error()
		return summary
	}

	var mu sync.Mutex
	var stopAt atomic.Int64
	stopAt.Store(int64(maxPages) + 1)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.pageConcurrency)

	for page := 1; page <= maxPages; page++ {
		if int64(page) >= stopAt.Load() || ctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if int64(page) >= stopAt.Load() {
				return nil
			}

			records, err := ext.Extract(ctx, page)
			if err != nil {
				if errors.Is(err, extractor.ErrNotFound) {
					storeMin(&stopAt, int64(page))
					slog.Info("end of pagination", "runId", runID, "source", src, "page", page)
					return nil
				}
				// Transient (blocked, timeout) and permanent page errors
				// alike: skip this page, keep going. Transient pages get
				// re-attempted on the next run, not within this one.
				mu.Lock()
				summary.PagesFailed++
				summary.LastError = err.Error()
				mu.Unlock()
				slog.Warn("page extraction failed", "runId", runID, "source", src, "page", page, "error", err)
				return nil
			}

			published, dropped := o.publishRecords(ctx, src, records)
			mu.Lock()
			summary.PagesScraped++
			summary.Records += published
			summary.PublishFailures += dropped
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()

	switch {
	case summary.PagesFailed == 0:
		summary.Status = sourceCompleted
	case summary.PagesScraped > 0:
		summary.Status = sourcePartial
	default:
		summary.Status = sourceFailed
	}
	return summary
}

// publishRecords hands records to the producer one at a time, as soon as
// they exist, so consumption can start before the run finishes. Publish
// failures are counted and logged, never fail the page.
func (o *Orchestrator) publishRecords(ctx context.Context, src string, records []listing.JobRecord) (published, dropped int) {
	for _, rec := range records {
		rec.Source = src
		if err := o.publisher.Publish(ctx, rec); err != nil {
			dropped++
			slog.Error("record dropped", "source", src, "url", rec.PostingURL, "error", err)
			continue
		}
		published++
	}
	return published, dropped
}

func storeMin(a *atomic.Int64, v int64) {
	for {
		cur := a.Load()
		if v >= cur || a.CompareAndSwap(cur, v) {
			return
		}
	}
}
