package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/frontdesk-labs/frontdesk/services/reception-service/internal/availability"
	"github.com/frontdesk-labs/frontdesk/services/reception-service/internal/model"
)

// fakeAppointmentStore keeps appointments in memory and rejects overlaps
// the way the Postgres exclusion constraint does. It doubles as the
// snapshot source so that committed rows become busy immediately.
type fakeAppointmentStore struct {
	mu     sync.Mutex
	appts  map[string]*model.Appointment
	nextID int

	externalErr error // injected into the busy-interval fetch

	// beforeUpdateStatus runs once, right before the status write, so a
	// test can slip a competing transition in between read and write.
	beforeUpdateStatus func()
}

func newFakeAppointmentStore() *fakeAppointmentStore {
	return &fakeAppointmentStore{appts: make(map[string]*model.Appointment)}
}

func (s *fakeAppointmentStore) Create(_ context.Context, appt *model.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.appts {
		if existing.BusinessID != appt.BusinessID || existing.Status == model.StatusCancelled {
			continue
		}
		if appt.StartTime.Before(existing.EndTime()) && existing.StartTime.Before(appt.EndTime()) {
			return fmt.Errorf("exclusion constraint: %w", ErrOverlappingAppointment)
		}
	}
	s.nextID++
	appt.ID = fmt.Sprintf("appt-%d", s.nextID)
	cp := *appt
	s.appts[appt.ID] = &cp
	return nil
}

func (s *fakeAppointmentStore) Get(_ context.Context, businessID, apptID string) (*model.Appointment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[apptID]
	if !ok || a.BusinessID != businessID {
		return nil, false, nil
	}
	cp := *a
	return &cp, true, nil
}

func (s *fakeAppointmentStore) UpdateStatus(_ context.Context, businessID, apptID, expected, status string) error {
	if s.beforeUpdateStatus != nil {
		hook := s.beforeUpdateStatus
		s.beforeUpdateStatus = nil
		hook()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[apptID]
	if !ok || a.BusinessID != businessID {
		return ErrAppointmentNotFound
	}
	if a.Status != expected {
		return fmt.Errorf("appointment is %s, not %s: %w", a.Status, expected, ErrInvalidTransition)
	}
	a.Status = status
	return nil
}

func (s *fakeAppointmentStore) SetExternalRefs(_ context.Context, businessID, apptID, calendarEventID, sheetRowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[apptID]
	if !ok || a.BusinessID != businessID {
		return errors.New("not found")
	}
	a.ExternalCalendarEventID = calendarEventID
	a.ExternalSheetRowID = sheetRowID
	return nil
}

// BusyIntervals implements SnapshotProvider over the committed rows.
func (s *fakeAppointmentStore) BusyIntervals(_ context.Context, businessID string, dayStart time.Time) ([]availability.Interval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.externalErr != nil {
		return nil, s.externalErr
	}
	dayEnd := dayStart.Add(24 * time.Hour)
	var busy []availability.Interval
	for _, a := range s.appts {
		if a.BusinessID != businessID || a.Status == model.StatusCancelled {
			continue
		}
		if a.StartTime.Before(dayEnd) && dayStart.Before(a.EndTime()) {
			busy = append(busy, availability.Interval{Start: a.StartTime, End: a.EndTime()})
		}
	}
	return busy, nil
}

type fakeNotifier struct {
	mu          sync.Mutex
	calendarErr error
	sheetErr    error
	created     int
	updated     []string
	appended    int
	deleted     []string
}

func (n *fakeNotifier) CreateCalendarEvent(_ context.Context, appt *model.Appointment) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.calendarErr != nil {
		return "", n.calendarErr
	}
	n.created++
	return "gcal-" + appt.ID, nil
}

func (n *fakeNotifier) UpdateCalendarEvent(_ context.Context, appt *model.Appointment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updated = append(n.updated, appt.ExternalCalendarEventID)
	return nil
}

func (n *fakeNotifier) AppendSheetRow(_ context.Context, appt *model.Appointment) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sheetErr != nil {
		return "", n.sheetErr
	}
	n.appended++
	return "row-" + appt.ID, nil
}

func (n *fakeNotifier) DeleteCalendarEvent(_ context.Context, _, eventID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deleted = append(n.deleted, eventID)
	return nil
}

func bookingRequest(start time.Time) Request {
	return Request{
		BusinessID:  "biz-1",
		ContactID:   "contact-1",
		ClientName:  "Ana",
		ClientPhone: "+5491100000000",
		ServiceType: "consultation",
		Start:       start,
		Duration:    time.Hour,
	}
}

func TestBook_PersistsPendingAndMirrors(t *testing.T) {
	store := newFakeAppointmentStore()
	notifier := &fakeNotifier{}
	c := NewCoordinator(store, store, notifier, slog.Default())

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	appt, err := c.Book(context.Background(), bookingRequest(start))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if appt.Status != model.StatusPending {
		t.Fatalf("status = %s, want pending", appt.Status)
	}
	if appt.ExternalCalendarEventID != "gcal-"+appt.ID {
		t.Fatalf("calendar ref = %q", appt.ExternalCalendarEventID)
	}
	if appt.ExternalSheetRowID != "row-"+appt.ID {
		t.Fatalf("sheet ref = %q", appt.ExternalSheetRowID)
	}

	stored, found, _ := store.Get(context.Background(), "biz-1", appt.ID)
	if !found || stored.ExternalCalendarEventID == "" {
		t.Fatal("external refs must be persisted via follow-up update")
	}
}

func TestBook_SlotTakenAtCommitTime(t *testing.T) {
	store := newFakeAppointmentStore()
	c := NewCoordinator(store, store, &fakeNotifier{}, slog.Default())
	ctx := context.Background()

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	if _, err := c.Book(ctx, bookingRequest(start)); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	// Same slot again: the fresh snapshot now contains the first booking.
	_, err := c.Book(ctx, bookingRequest(start))
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("err = %v, want ErrSlotUnavailable", err)
	}
	// Overlapping, not identical, is rejected too.
	_, err = c.Book(ctx, bookingRequest(start.Add(30*time.Minute)))
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("err = %v, want ErrSlotUnavailable for overlap", err)
	}
}

func TestBook_ConcurrentCallersExactlyOneWins(t *testing.T) {
	store := newFakeAppointmentStore()
	c := NewCoordinator(store, store, nil, slog.Default())
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	const n = 6
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Book(context.Background(), bookingRequest(start))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSlotUnavailable):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != n-1 {
		t.Fatalf("wins=%d conflicts=%d, want 1 and %d", wins, conflicts, n-1)
	}
}

func TestBook_SideEffectFailureDoesNotFailBooking(t *testing.T) {
	store := newFakeAppointmentStore()
	notifier := &fakeNotifier{calendarErr: errors.New("calendar down"), sheetErr: errors.New("sheet down")}
	c := NewCoordinator(store, store, notifier, slog.Default())

	start := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	appt, err := c.Book(context.Background(), bookingRequest(start))
	if err != nil {
		t.Fatalf("side-effect failure must not fail book(): %v", err)
	}
	if appt.Status != model.StatusPending {
		t.Fatalf("status = %s, want pending", appt.Status)
	}
	if appt.ExternalCalendarEventID != "" || appt.ExternalSheetRowID != "" {
		t.Fatal("external refs must stay empty when mirrors fail")
	}
}

func TestBook_SnapshotFailurePropagates(t *testing.T) {
	store := newFakeAppointmentStore()
	store.externalErr = errors.New("calendar api rate limited")
	c := NewCoordinator(store, store, nil, slog.Default())

	start := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	if _, err := c.Book(context.Background(), bookingRequest(start)); err == nil {
		t.Fatal("snapshot provider failure must propagate, never book blind")
	}
}

func TestBook_DefaultsDurationToSixtyMinutes(t *testing.T) {
	store := newFakeAppointmentStore()
	c := NewCoordinator(store, store, nil, slog.Default())

	req := bookingRequest(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	req.Duration = 0
	appt, err := c.Book(context.Background(), req)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if appt.DurationMinutes != 60 {
		t.Fatalf("duration = %d, want 60", appt.DurationMinutes)
	}
}

func TestTransition_StateMachine(t *testing.T) {
	store := newFakeAppointmentStore()
	c := NewCoordinator(store, store, &fakeNotifier{}, slog.Default())
	ctx := context.Background()

	appt, err := c.Book(ctx, bookingRequest(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	if _, err := c.Transition(ctx, "biz-1", appt.ID, model.StatusCompleted); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pending -> completed should be rejected, got %v", err)
	}
	if _, err := c.Transition(ctx, "biz-1", appt.ID, model.StatusConfirmed); err != nil {
		t.Fatalf("pending -> confirmed: %v", err)
	}
	if _, err := c.Transition(ctx, "biz-1", appt.ID, model.StatusCompleted); err != nil {
		t.Fatalf("confirmed -> completed: %v", err)
	}
	if _, err := c.Transition(ctx, "biz-1", appt.ID, model.StatusCancelled); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("completed is terminal, got %v", err)
	}
	if _, err := c.Transition(ctx, "biz-1", "missing", model.StatusCancelled); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("want ErrAppointmentNotFound, got %v", err)
	}
}

func TestTransition_LosesRaceAgainstConcurrentTransition(t *testing.T) {
	store := newFakeAppointmentStore()
	c := NewCoordinator(store, store, nil, slog.Default())
	ctx := context.Background()

	appt, err := c.Book(ctx, bookingRequest(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	// A cancel commits between our state-machine check and our write. The
	// confirm must lose; a terminal cancelled row must never flip back.
	store.beforeUpdateStatus = func() {
		if _, err := c.Transition(ctx, "biz-1", appt.ID, model.StatusCancelled); err != nil {
			t.Errorf("competing cancel: %v", err)
		}
	}
	if _, err := c.Transition(ctx, "biz-1", appt.ID, model.StatusConfirmed); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition for the losing writer", err)
	}

	stored, _, _ := store.Get(ctx, "biz-1", appt.ID)
	if stored.Status != model.StatusCancelled {
		t.Fatalf("status = %s, want cancelled to stick", stored.Status)
	}
}

func TestTransition_ConfirmUpdatesMirroredEvent(t *testing.T) {
	store := newFakeAppointmentStore()
	notifier := &fakeNotifier{}
	c := NewCoordinator(store, store, notifier, slog.Default())
	ctx := context.Background()

	appt, err := c.Book(ctx, bookingRequest(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := c.Transition(ctx, "biz-1", appt.ID, model.StatusConfirmed); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(notifier.updated) != 1 || notifier.updated[0] != appt.ExternalCalendarEventID {
		t.Fatalf("updated = %v, want the mirrored event id", notifier.updated)
	}
}

func TestTransition_CancelRemovesMirroredEvent(t *testing.T) {
	store := newFakeAppointmentStore()
	notifier := &fakeNotifier{}
	c := NewCoordinator(store, store, notifier, slog.Default())
	ctx := context.Background()

	appt, err := c.Book(ctx, bookingRequest(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := c.Transition(ctx, "biz-1", appt.ID, model.StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(notifier.deleted) != 1 || notifier.deleted[0] != appt.ExternalCalendarEventID {
		t.Fatalf("deleted = %v, want the mirrored event id", notifier.deleted)
	}

	stored, _, _ := store.Get(ctx, "biz-1", appt.ID)
	if stored.Status != model.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", stored.Status)
	}
}

func TestTransition_CancelledSlotBecomesBookable(t *testing.T) {
	store := newFakeAppointmentStore()
	c := NewCoordinator(store, store, nil, slog.Default())
	ctx := context.Background()

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	appt, err := c.Book(ctx, bookingRequest(start))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := c.Transition(ctx, "biz-1", appt.ID, model.StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := c.Book(ctx, bookingRequest(start)); err != nil {
		t.Fatalf("cancelled slot should be free again: %v", err)
	}
}
