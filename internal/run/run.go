package run

import "time"

type Status string

const (
	StatusStarted   Status = "started"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// SourceAll selects every registered source for a run.
const SourceAll = "all"

// Run is one orchestrator invocation. Created when the run is accepted,
// mutated only by the orchestrator, terminal once every fan-out branch has
// resolved.
type Run struct {
	ID          int64          `json:"id"`
	RunID       string         `json:"runId"`
	Source      string         `json:"source"`
	Status      Status         `json:"status"`
	InputParams map[string]any `json:"inputParams,omitempty"`
	Result      *Summary       `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Summary aggregates what a finished run actually did, per source branch.
type Summary struct {
	TotalSources    int             `json:"totalSources"`
	TotalRecords    int             `json:"totalRecords"`
	PublishFailures int             `json:"publishFailures"`
	MaxPages        int             `json:"maxPages"`
	Sources         []SourceSummary `json:"sources"`
}

// SourceSummary is the outcome of one source branch. Status is "completed"
// when every attempted page extracted cleanly, "partial" when some pages
// errored, "failed" when no page succeeded.
type SourceSummary struct {
	Source          string `json:"source"`
	Status          string `json:"status"`
	PagesScraped    int    `json:"pagesScraped"`
	PagesFailed     int    `json:"pagesFailed"`
	Records         int    `json:"records"`
	PublishFailures int    `json:"publishFailures"`
	LastError       string `json:"lastError,omitempty"`
}
