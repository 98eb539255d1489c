package storage

import (
	"context"
	"time"

	"github.com/frontdesk-labs/frontdesk/libs/db"
)

// BusinessSettings is the per-business booking policy: the single
// configured timezone and working-hours window the whole core assumes.
type BusinessSettings struct {
	BusinessID             string
	Name                   string
	Timezone               string
	WorkStartHour          int
	WorkEndHour            int
	DefaultDurationMinutes int
}

// Location resolves the configured timezone, falling back to UTC when the
// stored name is bad rather than failing the request.
func (s BusinessSettings) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type BusinessRepository struct {
	pool *db.Pool
}

func NewBusinessRepository(pool *db.Pool) *BusinessRepository {
	return &BusinessRepository{pool: pool}
}

// GetOrCreateSettings creates a default row when missing so a freshly
// onboarded business can take bookings before touching the dashboard.
func (r *BusinessRepository) GetOrCreateSettings(ctx context.Context, businessID string) (BusinessSettings, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO business_settings (business_id)
		VALUES ($1)
		ON CONFLICT (business_id) DO NOTHING
	`, businessID)
	if err != nil {
		return BusinessSettings{}, err
	}

	var s BusinessSettings
	err = r.pool.QueryRow(ctx, `
		SELECT business_id::text, name, timezone, work_start_hour, work_end_hour, default_duration_minutes
		FROM business_settings
		WHERE business_id = $1
	`, businessID).Scan(&s.BusinessID, &s.Name, &s.Timezone, &s.WorkStartHour, &s.WorkEndHour, &s.DefaultDurationMinutes)
	return s, err
}

func (r *BusinessRepository) UpdateSettings(ctx context.Context, s BusinessSettings) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO business_settings
			(business_id, name, timezone, work_start_hour, work_end_hour, default_duration_minutes)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (business_id) DO UPDATE
		SET name = EXCLUDED.name,
			timezone = EXCLUDED.timezone,
			work_start_hour = EXCLUDED.work_start_hour,
			work_end_hour = EXCLUDED.work_end_hour,
			default_duration_minutes = EXCLUDED.default_duration_minutes,
			updated_at = now()
	`, s.BusinessID, s.Name, s.Timezone, s.WorkStartHour, s.WorkEndHour, s.DefaultDurationMinutes)
	return err
}
