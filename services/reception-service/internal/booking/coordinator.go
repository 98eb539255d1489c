// Package booking owns the authoritative booking decision: commit-time
// availability recheck, durable write, and best-effort side effects.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/frontdesk-labs/frontdesk/services/reception-service/internal/availability"
	"github.com/frontdesk-labs/frontdesk/services/reception-service/internal/model"
)

// ErrSlotUnavailable is the authoritative conflict at commit time.
// User-facing and retryable with a different slot.
var ErrSlotUnavailable = errors.New("slot unavailable")

// ErrOverlappingAppointment is reported by AppointmentStore.Create when
// the storage exclusion constraint fires; the coordinator maps it to
// ErrSlotUnavailable.
var ErrOverlappingAppointment = errors.New("overlapping appointment")

// ErrInvalidTransition is returned when a status update violates the
// appointment state machine.
var ErrInvalidTransition = errors.New("invalid status transition")

var ErrAppointmentNotFound = errors.New("appointment not found")

// SnapshotProvider supplies the busy intervals for a business day. It may
// be slow or momentarily unavailable; a failure is an error, never an
// empty result.
type SnapshotProvider interface {
	BusyIntervals(ctx context.Context, businessID string, dayStart time.Time) ([]availability.Interval, error)
}

// AppointmentStore is the persistence port for appointments.
// UpdateStatus is compare-and-set: it applies the new status only while
// the row still holds the expected one, and reports ErrInvalidTransition
// (wrapped) when a concurrent transition got there first.
type AppointmentStore interface {
	Create(ctx context.Context, appt *model.Appointment) error
	Get(ctx context.Context, businessID, apptID string) (*model.Appointment, bool, error)
	UpdateStatus(ctx context.Context, businessID, apptID, expected, status string) error
	SetExternalRefs(ctx context.Context, businessID, apptID, calendarEventID, sheetRowID string) error
}

// Notifier mirrors appointments to the external calendar and sheet.
// Every call is best-effort: failures are logged by the coordinator and
// never affect the durable appointment.
type Notifier interface {
	CreateCalendarEvent(ctx context.Context, appt *model.Appointment) (string, error)
	UpdateCalendarEvent(ctx context.Context, appt *model.Appointment) error
	AppendSheetRow(ctx context.Context, appt *model.Appointment) (string, error)
	DeleteCalendarEvent(ctx context.Context, businessID, eventID string) error
}

type Request struct {
	BusinessID  string
	ContactID   string
	ClientName  string
	ClientPhone string
	ClientEmail string
	ServiceType string
	Start       time.Time
	Duration    time.Duration
	Notes       string
}

type Coordinator struct {
	snapshots SnapshotProvider
	store     AppointmentStore
	notifier  Notifier
	logger    *slog.Logger
}

func NewCoordinator(snapshots SnapshotProvider, store AppointmentStore, notifier Notifier, logger *slog.Logger) *Coordinator {
	return &Coordinator{snapshots: snapshots, store: store, notifier: notifier, logger: logger}
}

// Book re-validates availability against a fresh snapshot, persists the
// appointment as pending, then dispatches side effects. The recheck always
// runs at commit time: an availability answer from an earlier read is
// never trusted.
func (c *Coordinator) Book(ctx context.Context, req Request) (*model.Appointment, error) {
	if req.BusinessID == "" || req.ContactID == "" {
		return nil, errors.New("businessID and contactID are required")
	}
	if req.Duration <= 0 {
		req.Duration = 60 * time.Minute
	}

	y, m, d := req.Start.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, req.Start.Location())

	busy, err := c.snapshots.BusyIntervals(ctx, req.BusinessID, dayStart)
	if err != nil {
		return nil, fmt.Errorf("refetch busy intervals: %w", err)
	}
	if !availability.IsFree(req.Start, req.Duration, busy) {
		return nil, ErrSlotUnavailable
	}

	appt := &model.Appointment{
		BusinessID:      req.BusinessID,
		ContactID:       req.ContactID,
		ClientName:      req.ClientName,
		ClientPhone:     req.ClientPhone,
		ClientEmail:     req.ClientEmail,
		ServiceType:     req.ServiceType,
		StartTime:       req.Start,
		DurationMinutes: int(req.Duration / time.Minute),
		Status:          model.StatusPending,
		Notes:           req.Notes,
	}
	if err := c.store.Create(ctx, appt); err != nil {
		// A writer that slipped in between the snapshot and our insert is
		// caught by the storage exclusion constraint.
		if errors.Is(err, ErrOverlappingAppointment) {
			return nil, ErrSlotUnavailable
		}
		return nil, fmt.Errorf("persist appointment: %w", err)
	}

	c.mirrorOut(ctx, appt)
	return appt, nil
}

// mirrorOut runs the external calendar and sheet writes. The appointment
// is already durable; the mirrors may lag or fail independently.
func (c *Coordinator) mirrorOut(ctx context.Context, appt *model.Appointment) {
	if c.notifier == nil {
		return
	}

	eventID, err := c.notifier.CreateCalendarEvent(ctx, appt)
	if err != nil {
		c.logger.Warn("calendar event creation failed; appointment unaffected",
			"appointment_id", appt.ID, "err", err)
	} else {
		appt.ExternalCalendarEventID = eventID
	}

	rowID, err := c.notifier.AppendSheetRow(ctx, appt)
	if err != nil {
		c.logger.Warn("sheet append failed; appointment unaffected",
			"appointment_id", appt.ID, "err", err)
	} else {
		appt.ExternalSheetRowID = rowID
	}

	if appt.ExternalCalendarEventID == "" && appt.ExternalSheetRowID == "" {
		return
	}
	if err := c.store.SetExternalRefs(ctx, appt.BusinessID, appt.ID, appt.ExternalCalendarEventID, appt.ExternalSheetRowID); err != nil {
		c.logger.Warn("storing external refs failed", "appointment_id", appt.ID, "err", err)
	}
}

// Transition applies a status change, enforcing the state machine. A
// transition to cancelled also removes the mirrored calendar event,
// best-effort: the local appointment is authoritative over external state.
func (c *Coordinator) Transition(ctx context.Context, businessID, apptID, to string) (*model.Appointment, error) {
	if !model.ValidStatus(to) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}

	appt, found, err := c.store.Get(ctx, businessID, apptID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if !found {
		return nil, ErrAppointmentNotFound
	}
	if appt.Status == to {
		return appt, nil
	}
	if !model.CanTransition(appt.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, to)
	}

	// Compare-and-set against the status we validated: a transition that
	// raced past us between the read and the write must lose, not land
	// last on a terminal row.
	if err := c.store.UpdateStatus(ctx, businessID, apptID, appt.Status, to); err != nil {
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update status: %w", err)
	}
	appt.Status = to

	if c.notifier != nil && appt.ExternalCalendarEventID != "" {
		if to == model.StatusCancelled {
			if err := c.notifier.DeleteCalendarEvent(ctx, businessID, appt.ExternalCalendarEventID); err != nil {
				c.logger.Warn("calendar event removal failed; cancellation stands",
					"appointment_id", appt.ID, "err", err)
			}
		} else {
			if err := c.notifier.UpdateCalendarEvent(ctx, appt); err != nil {
				c.logger.Warn("calendar event update failed; transition stands",
					"appointment_id", appt.ID, "err", err)
			}
		}
	}
	return appt, nil
}
