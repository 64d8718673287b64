package extractor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jobgtm/jobs-ingest/internal/listing"
)

// Error kinds an extractor may report. ErrNotFound means the source has no
// page at that cursor, i.e. end of pagination. ErrBlocked and ErrTimeout are
// transient: the page is skipped and re-attempted on a later run, never
// within the same run.
var (
	ErrNotFound = errors.New("page not found")
	ErrBlocked  = errors.New("blocked by source")
	ErrTimeout  = errors.New("extraction timed out")
)

// Extractor turns a page cursor into raw job records for a single source.
// Implementations are site-specific and entirely opaque to the ingestion
// core: the core only ever sees records or one of the error kinds above.
type Extractor interface {
	Source() string
	Extract(ctx context.Context, page int) ([]listing.JobRecord, error)
}

type Registry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
}

func NewRegistry() *Registry {
	return &Registry{
		extractors: make(map[string]Extractor),
	}
}

func (r *Registry) Register(e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[e.Source()] = e
}

func (r *Registry) Get(source string) (Extractor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.extractors[source]
	if !ok {
		return nil, fmt.Errorf("extractor not found for source: %s", source)
	}
	return e, nil
}

func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sources := make([]string, 0, len(r.extractors))
	for src := range r.extractors {
		sources = append(sources, src)
	}
	return sources
}
