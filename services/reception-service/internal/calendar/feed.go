package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/frontdesk-labs/frontdesk/services/reception-service/internal/availability"
)

// FeedClient reads busy intervals from the calendar integration sidecar
// (the service that holds per-business Google/Outlook credentials).
type FeedClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewFeedClient(baseURL, token string) *FeedClient {
	return &FeedClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type feedInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (c *FeedClient) BusyIntervals(ctx context.Context, businessID string, from, to time.Time) ([]availability.Interval, error) {
	q := url.Values{}
	q.Set("business_id", businessID)
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/busy?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar feed request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("calendar feed returned %d", resp.StatusCode)
	}

	var raw []feedInterval
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode calendar feed: %w", err)
	}

	intervals := make([]availability.Interval, 0, len(raw))
	for _, r := range raw {
		if !r.End.After(r.Start) {
			continue
		}
		intervals = append(intervals, availability.Interval{Start: r.Start, End: r.End})
	}
	return intervals, nil
}
