package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fallacysheriff/fallacysheriff/internal/models"
)

// fakeRunner implements pollRunner for handler tests.
type fakeRunner struct {
	summary   models.PollSummary
	status    models.PollStatus
	statusErr error
	runCalls  int
}

func (f *fakeRunner) RunPollCycle(ctx context.Context) models.PollSummary {
	f.runCalls++
	return f.summary
}

func (f *fakeRunner) Status() (models.PollStatus, error) {
	return f.status, f.statusErr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response body %q: %v", rr.Body.String(), err)
	}
	return resp
}

func TestServerOptions(t *testing.T) {
	cfg := Opts{Addr: DefaultAddr, Schedule: DefaultSchedule}
	for _, opt := range []Option{WithAddr(":9090"), WithSchedule("@every 1m"), WithoutStartupPoll()} {
		opt(&cfg)
	}
	if cfg.Addr != ":9090" {
		t.Errorf("Addr = %q, want %q", cfg.Addr, ":9090")
	}
	if cfg.Schedule != "@every 1m" {
		t.Errorf("Schedule = %q, want %q", cfg.Schedule, "@every 1m")
	}
	if !cfg.SkipStartupPoll {
		t.Error("WithoutStartupPoll should set SkipStartupPoll")
	}
}

func TestHealthHandler(t *testing.T) {
	srv := NewServer(&fakeRunner{}, DefaultSchedule, "http://localhost:1200")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	srv.routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
	resp := decodeResponse(t, rr)
	if resp.Status != "ok" {
		t.Errorf("expected status ok, got %q", resp.Status)
	}
}

func TestHealthHandlerMethodNotAllowed(t *testing.T) {
	srv := NewServer(&fakeRunner{}, DefaultSchedule, "http://localhost:1200")

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	rr := httptest.NewRecorder()
	srv.routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestStatusHandler(t *testing.T) {
	pollTime := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	runner := &fakeRunner{
		status: models.PollStatus{
			LastSeenID:        "1930000000000000000",
			MentionsProcessed: 7,
			LastPollTime:      &pollTime,
		},
	}
	srv := NewServer(runner, DefaultSchedule, "http://localhost:1200")

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rr := httptest.NewRecorder()
	srv.routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decodeResponse(t, rr)
	if resp.Status != "ok" {
		t.Errorf("expected status ok, got %q", resp.Status)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected result object, got %T", resp.Result)
	}
	if result["last_seen_id"] != "1930000000000000000" {
		t.Errorf("expected last_seen_id in result, got %v", result["last_seen_id"])
	}
	if result["mentions_processed"] != float64(7) {
		t.Errorf("expected mentions_processed 7, got %v", result["mentions_processed"])
	}
	if result["schedule"] != DefaultSchedule {
		t.Errorf("expected schedule %q, got %v", DefaultSchedule, result["schedule"])
	}
	if result["rsshub_url"] != "http://localhost:1200" {
		t.Errorf("expected rsshub_url in result, got %v", result["rsshub_url"])
	}
}

func TestStatusHandlerStoreError(t *testing.T) {
	runner := &fakeRunner{statusErr: errors.New("database is locked")}
	srv := NewServer(runner, DefaultSchedule, "http://localhost:1200")

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rr := httptest.NewRecorder()
	srv.routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rr.Code)
	}
	resp := decodeResponse(t, rr)
	if resp.Status != "error" {
		t.Errorf("expected status error, got %q", resp.Status)
	}
}

func TestPollHandler(t *testing.T) {
	runner := &fakeRunner{
		summary: models.PollSummary{Fetched: 3, Eligible: 2, Processed: 2, Replied: 2},
	}
	srv := NewServer(runner, DefaultSchedule, "http://localhost:1200")

	req := httptest.NewRequest(http.MethodPost, "/poll", nil)
	rr := httptest.NewRecorder()
	srv.routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if runner.runCalls != 1 {
		t.Errorf("expected 1 poll cycle, got %d", runner.runCalls)
	}
	resp := decodeResponse(t, rr)
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected result object, got %T", resp.Result)
	}
	if result["replied"] != float64(2) {
		t.Errorf("expected replied 2, got %v", result["replied"])
	}
}

func TestPollHandlerConflict(t *testing.T) {
	runner := &fakeRunner{summary: models.PollSummary{Skipped: true}}
	srv := NewServer(runner, DefaultSchedule, "http://localhost:1200")

	req := httptest.NewRequest(http.MethodPost, "/poll", nil)
	rr := httptest.NewRecorder()
	srv.routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rr.Code)
	}
	resp := decodeResponse(t, rr)
	if resp.Status != "error" {
		t.Errorf("expected status error, got %q", resp.Status)
	}
	if resp.Message != models.ErrCycleInProgress.Error() {
		t.Errorf("expected message %q, got %q", models.ErrCycleInProgress.Error(), resp.Message)
	}
}

func TestPollHandlerMethodNotAllowed(t *testing.T) {
	runner := &fakeRunner{}
	srv := NewServer(runner, DefaultSchedule, "http://localhost:1200")

	req := httptest.NewRequest(http.MethodGet, "/poll", nil)
	rr := httptest.NewRecorder()
	srv.routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
	if runner.runCalls != 0 {
		t.Errorf("poll cycle should not run on GET, got %d calls", runner.runCalls)
	}
}
