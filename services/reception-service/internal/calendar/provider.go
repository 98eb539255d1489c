// Package calendar assembles the busy-interval snapshot for a business
// day: locally booked appointments merged with the business's external
// calendar feed.
package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/frontdesk-labs/frontdesk/services/reception-service/internal/availability"
)

// IntervalSource yields occupied intervals overlapping [from, to).
type IntervalSource interface {
	BusyIntervals(ctx context.Context, businessID string, from, to time.Time) ([]availability.Interval, error)
}

// Provider implements booking.SnapshotProvider by unioning the local
// appointment store with an optional external feed. A failing source is
// an error, never silently treated as "no busy time": booking against a
// blind snapshot is how double-bookings happen.
type Provider struct {
	local    IntervalSource
	external IntervalSource // nil when the business has no linked calendar
}

func NewProvider(local IntervalSource, external IntervalSource) *Provider {
	return &Provider{local: local, external: external}
}

func (p *Provider) BusyIntervals(ctx context.Context, businessID string, dayStart time.Time) ([]availability.Interval, error) {
	dayEnd := dayStart.Add(24 * time.Hour)

	busy, err := p.local.BusyIntervals(ctx, businessID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("local appointments: %w", err)
	}

	if p.external != nil {
		ext, err := p.external.BusyIntervals(ctx, businessID, dayStart, dayEnd)
		if err != nil {
			return nil, fmt.Errorf("external calendar: %w", err)
		}
		busy = append(busy, ext...)
	}
	return busy, nil
}
