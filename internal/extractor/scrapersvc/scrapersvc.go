// Package scrapersvc implements the extractor boundary against the external
// scraper service, which owns all site-specific DOM logic. One Client is
// registered per source name; the service decides what "page" means for each
// site.
package scrapersvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jobgtm/jobs-ingest/internal/extractor"
	"github.com/jobgtm/jobs-ingest/internal/listing"
)

const defaultTimeout = 5 * time.Minute

type Client struct {
	source  string
	baseURL string
	client  *http.Client
}

func New(source, baseURL string, opts ...Option) *Client {
	c := &Client{
		source:  source,
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type Option func(*Client)

func WithClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

func (c *Client) Source() string { return c.source }

type scrapeRequest struct {
	Scraper string         `json:"scraper"`
	Params  map[string]any `json:"params"`
}

type scrapeResponse struct {
	Result []listing.JobRecord `json:"result"`
}

func (c *Client) Extract(ctx context.Context, page int) ([]listing.JobRecord, error) {
	payload, err := json.Marshal(scrapeRequest{
		Scraper: c.source,
		Params:  map[string]any{"page": page},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal scrape request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/scrape", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build scrape request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return nil, fmt.Errorf("scrape %s page %d: %w", c.source, page, extractor.ErrTimeout)
		}
		return nil, fmt.Errorf("scrape %s page %d: %w", c.source, page, err)
	}
	defer func() { _ = res.Body.Close() }()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("scrape %s page %d: %w", c.source, page, extractor.ErrNotFound)
	case http.StatusForbidden, http.StatusTooManyRequests:
		return nil, fmt.Errorf("scrape %s page %d: %w", c.source, page, extractor.ErrBlocked)
	case http.StatusGatewayTimeout:
		return nil, fmt.Errorf("scrape %s page %d: %w", c.source, page, extractor.ErrTimeout)
	default:
		return nil, fmt.Errorf("scrape %s page %d: unexpected status %d", c.source, page, res.StatusCode)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read scrape response: %w", err)
	}

	var resp scrapeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode scrape response: %w", err)
	}

	for i := range resp.Result {
		resp.Result[i].Source = c.source
	}

	slog.Info("extracted page", "source", c.source, "page", page, "records", len(resp.Result))
	return resp.Result, nil
}
