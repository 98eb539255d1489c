package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/frontdesk-labs/frontdesk/libs/db"
	"github.com/frontdesk-labs/frontdesk/services/reception-service/internal/availability"
	"github.com/frontdesk-labs/frontdesk/services/reception-service/internal/booking"
	"github.com/frontdesk-labs/frontdesk/services/reception-service/internal/model"
	"github.com/frontdesk-labs/frontdesk/services/reception-service/internal/outbox"
)

// AppointmentRepository persists appointments and implements both
// booking.AppointmentStore and calendar.IntervalSource. The GiST
// exclusion constraint on non-cancelled time ranges is the last-resort
// guard behind the coordinator's commit-time recheck.
type AppointmentRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewAppointmentRepository(pool *db.Pool, outboxRepo *outbox.Repository) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, outbox: outboxRepo}
}

const appointmentColumns = `
	id, business_id, contact_id, client_name, client_phone, COALESCE(client_email, ''),
	service_type, start_time, duration_minutes, status,
	COALESCE(external_calendar_event_id, ''), COALESCE(external_sheet_row_id, ''),
	COALESCE(notes, ''), created_at, updated_at
`

// Create inserts the appointment and its booked event in one transaction.
// An exclusion-constraint conflict maps to booking.ErrOverlappingAppointment.
func (r *AppointmentRepository) Create(ctx context.Context, appt *model.Appointment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt.ID = uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO appointments
			(id, business_id, contact_id, client_name, client_phone, client_email,
			 service_type, start_time, end_time, duration_minutes, status, notes)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, $12)
	`, appt.ID, appt.BusinessID, appt.ContactID, appt.ClientName, appt.ClientPhone, appt.ClientEmail,
		appt.ServiceType, appt.StartTime, appt.EndTime(), appt.DurationMinutes, appt.Status, appt.Notes)
	if err != nil {
		if isPgError(err, pgExclusionViolation) {
			return fmt.Errorf("appointments exclusion constraint: %w", booking.ErrOverlappingAppointment)
		}
		return err
	}

	if r.outbox != nil {
		if err := r.insertEvent(ctx, tx, outbox.TopicAppointmentBooked, appt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *AppointmentRepository) Get(ctx context.Context, businessID, apptID string) (*model.Appointment, bool, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND business_id = $2
	`, apptID, businessID)
	return scanAppointment(row)
}

// UpdateStatus is compare-and-set: the write lands only while the row
// still holds the expected status. Zero rows means either the row is
// gone or a concurrent transition won the race.
func (r *AppointmentRepository) UpdateStatus(ctx context.Context, businessID, apptID, expected, status string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $4, updated_at = now()
		WHERE id = $1 AND business_id = $2 AND status = $3
		RETURNING `+appointmentColumns+`
	`, apptID, businessID, expected, status)
	appt, found, err := scanAppointment(row)
	if err != nil {
		return err
	}
	if !found {
		var current string
		err := r.pool.QueryRow(ctx, `
			SELECT status FROM appointments WHERE id = $1 AND business_id = $2
		`, apptID, businessID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return booking.ErrAppointmentNotFound
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("appointment %s is %s, not %s: %w", apptID, current, expected, booking.ErrInvalidTransition)
	}

	if r.outbox != nil && status == model.StatusCancelled {
		if err := r.insertEvent(ctx, tx, outbox.TopicAppointmentCancelled, appt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *AppointmentRepository) SetExternalRefs(ctx context.Context, businessID, apptID, calendarEventID, sheetRowID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET external_calendar_event_id = NULLIF($3, ''),
			external_sheet_row_id = NULLIF($4, ''),
			updated_at = now()
		WHERE id = $1 AND business_id = $2
	`, apptID, businessID, calendarEventID, sheetRowID)
	return err
}

// BusyIntervals returns the occupied ranges of non-cancelled appointments
// overlapping [from, to). Cancelled appointments do not block.
func (r *AppointmentRepository) BusyIntervals(ctx context.Context, businessID string, from, to time.Time) ([]availability.Interval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_time, end_time
		FROM appointments
		WHERE business_id = $1
			AND status <> 'cancelled'
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, businessID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intervals []availability.Interval
	for rows.Next() {
		var iv availability.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		intervals = append(intervals, iv)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return intervals, nil
}

func (r *AppointmentRepository) ListByBusiness(ctx context.Context, businessID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE business_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, businessID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, _, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, *appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func (r *AppointmentRepository) insertEvent(ctx context.Context, tx pgx.Tx, topic string, appt *model.Appointment) error {
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"business_id":    appt.BusinessID,
		"contact_id":     appt.ContactID,
		"service_type":   appt.ServiceType,
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":       appt.EndTime().UTC().Format(time.RFC3339),
		"status":         appt.Status,
	})
	if err != nil {
		return err
	}
	return r.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     topic,
		Payload:       payload,
	})
}

func scanAppointment(row rowScanner) (*model.Appointment, bool, error) {
	var a model.Appointment
	err := row.Scan(
		&a.ID,
		&a.BusinessID,
		&a.ContactID,
		&a.ClientName,
		&a.ClientPhone,
		&a.ClientEmail,
		&a.ServiceType,
		&a.StartTime,
		&a.DurationMinutes,
		&a.Status,
		&a.ExternalCalendarEventID,
		&a.ExternalSheetRowID,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &a, true, nil
}
