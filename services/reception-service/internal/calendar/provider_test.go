package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/frontdesk-labs/frontdesk/services/reception-service/internal/availability"
)

type stubSource struct {
	intervals []availability.Interval
	err       error
}

func (s stubSource) BusyIntervals(_ context.Context, _ string, _, _ time.Time) ([]availability.Interval, error) {
	return s.intervals, s.err
}

func TestProvider_MergesLocalAndExternal(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	local := stubSource{intervals: []availability.Interval{{Start: day.Add(10 * time.Hour), End: day.Add(11 * time.Hour)}}}
	external := stubSource{intervals: []availability.Interval{{Start: day.Add(14 * time.Hour), End: day.Add(15 * time.Hour)}}}

	busy, err := NewProvider(local, external).BusyIntervals(context.Background(), "biz-1", day)
	if err != nil {
		t.Fatalf("busy intervals: %v", err)
	}
	if len(busy) != 2 {
		t.Fatalf("got %d intervals, want 2", len(busy))
	}
}

func TestProvider_ExternalFailureIsAnError(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	local := stubSource{}
	external := stubSource{err: errors.New("rate limited")}

	if _, err := NewProvider(local, external).BusyIntervals(context.Background(), "biz-1", day); err == nil {
		t.Fatal("a failing external feed must not look like a free day")
	}
}

func TestProvider_NoExternalFeedConfigured(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	local := stubSource{intervals: []availability.Interval{{Start: day.Add(9 * time.Hour), End: day.Add(10 * time.Hour)}}}

	busy, err := NewProvider(local, nil).BusyIntervals(context.Background(), "biz-1", day)
	if err != nil {
		t.Fatalf("busy intervals: %v", err)
	}
	if len(busy) != 1 {
		t.Fatalf("got %d intervals, want 1", len(busy))
	}
}

func TestFeedClient_ParsesBusyIntervals(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("business_id") != "biz-1" {
			t.Errorf("missing business_id, got %q", r.URL.RawQuery)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewEncoder(w).Encode([]feedInterval{
			{Start: day.Add(10 * time.Hour), End: day.Add(11 * time.Hour)},
			{Start: day.Add(12 * time.Hour), End: day.Add(12 * time.Hour)}, // degenerate, dropped
		})
	}))
	defer srv.Close()

	client := NewFeedClient(srv.URL, "tok")
	busy, err := client.BusyIntervals(context.Background(), "biz-1", day, day.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("busy intervals: %v", err)
	}
	if len(busy) != 1 {
		t.Fatalf("got %d intervals, want 1 (degenerate dropped)", len(busy))
	}
}

func TestFeedClient_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewFeedClient(srv.URL, "")
	_, err := client.BusyIntervals(context.Background(), "biz-1", time.Now(), time.Now().Add(time.Hour))
	if err == nil {
		t.Fatal("expected error on 502")
	}
}
