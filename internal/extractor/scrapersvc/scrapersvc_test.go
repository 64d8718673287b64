package scrapersvc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jobgtm/jobs-ingest/internal/extractor"
)

func TestExtract_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/scrape" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req struct {
			Scraper string         `json:"scraper"`
			Params  map[string]any `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Scraper != "dice" {
			t.Errorf("expected scraper dice, got %q", req.Scraper)
		}
		if req.Params["page"] != float64(3) {
			t.Errorf("expected page 3, got %v", req.Params["page"])
		}
		_, _ = w.Write([]byte(`{"result":[
			{"companyTitle":"Acme","jobRole":"Backend Engineer","postingUrl":"u1"},
			{"companyTitle":"Globex","jobRole":"SRE","postingUrl":"u2"}
		]}`))
	}))
	t.Cleanup(srv.Close)

	c := New("dice", srv.URL)
	records, err := c.Extract(context.Background(), 3)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].CompanyTitle != "Acme" {
		t.Errorf("unexpected record: %+v", records[0])
	}
	// The client stamps the source regardless of what the service returned.
	for _, rec := range records {
		if rec.Source != "dice" {
			t.Errorf("expected source dice, got %q", rec.Source)
		}
	}
}

func TestExtract_StatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   error
	}{
		{"not found ends pagination", http.StatusNotFound, extractor.ErrNotFound},
		{"forbidden is blocked", http.StatusForbidden, extractor.ErrBlocked},
		{"rate limited is blocked", http.StatusTooManyRequests, extractor.ErrBlocked},
		{"gateway timeout", http.StatusGatewayTimeout, extractor.ErrTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			t.Cleanup(srv.Close)

			_, err := New("dice", srv.URL).Extract(context.Background(), 1)
			if !errors.Is(err, tc.want) {
				t.Errorf("status %d: expected %v, got %v", tc.status, tc.want, err)
			}
		})
	}
}

func TestExtract_UnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	_, err := New("dice", srv.URL).Extract(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error for 500")
	}
	if errors.Is(err, extractor.ErrNotFound) || errors.Is(err, extractor.ErrBlocked) {
		t.Errorf("500 must not map to a pagination sentinel: %v", err)
	}
}

func TestExtract_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>oops</html>"))
	}))
	t.Cleanup(srv.Close)

	_, err := New("dice", srv.URL).Extract(context.Background(), 1)
	if err == nil {
		t.Fatal("expected decode error")
	}
}

func TestExtract_EmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result":[]}`))
	}))
	t.Cleanup(srv.Close)

	records, err := New("dice", srv.URL).Extract(context.Background(), 1)
	if err != nil {
		t.Fatalf("empty result is not an error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
}
