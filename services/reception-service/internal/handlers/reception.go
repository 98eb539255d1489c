package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/frontdesk-labs/frontdesk/libs/auth"
	"github.com/frontdesk-labs/frontdesk/services/reception-service/internal/availability"
	"github.com/frontdesk-labs/frontdesk/services/reception-service/internal/booking"
	"github.com/frontdesk-labs/frontdesk/services/reception-service/internal/identity"
	"github.com/frontdesk-labs/frontdesk/services/reception-service/internal/intent"
	"github.com/frontdesk-labs/frontdesk/services/reception-service/internal/model"
	"github.com/frontdesk-labs/frontdesk/services/reception-service/internal/storage"
)

// Ports the handlers depend on; satisfied by the real resolver,
// coordinator and repositories, and by fakes in tests.
type resolver interface {
	Resolve(ctx context.Context, businessID, phone, email string, p identity.Profile) (*model.Contact, bool, error)
}

type coordinator interface {
	Book(ctx context.Context, req booking.Request) (*model.Appointment, error)
	Transition(ctx context.Context, businessID, apptID, to string) (*model.Appointment, error)
}

type settingsStore interface {
	GetOrCreateSettings(ctx context.Context, businessID string) (storage.BusinessSettings, error)
	UpdateSettings(ctx context.Context, s storage.BusinessSettings) error
}

type contactLister interface {
	ListByBusiness(ctx context.Context, businessID string, limit int) ([]model.Contact, error)
}

type appointmentLister interface {
	ListByBusiness(ctx context.Context, businessID string, limit int) ([]model.Appointment, error)
}

type ReceptionHandler struct {
	resolver     resolver
	coordinator  coordinator
	snapshots    booking.SnapshotProvider
	settings     settingsStore
	contacts     contactLister
	appointments appointmentLister
	logger       *slog.Logger
}

func NewReceptionHandler(
	res resolver,
	coord coordinator,
	snapshots booking.SnapshotProvider,
	settings settingsStore,
	contacts contactLister,
	appointments appointmentLister,
	logger *slog.Logger,
) *ReceptionHandler {
	return &ReceptionHandler{
		resolver:     res,
		coordinator:  coord,
		snapshots:    snapshots,
		settings:     settings,
		contacts:     contacts,
		appointments: appointments,
		logger:       logger,
	}
}

type resolveRequest struct {
	BusinessID string `json:"business_id"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Source     string `json:"source"`
	Notes      string `json:"notes"`
}

type resolveResponse struct {
	ContactID         string `json:"contact_id"`
	IsNew             bool   `json:"is_new"`
	Name              string `json:"name"`
	TotalInteractions int    `json:"total_interactions"`
}

// Resolve records one conversational touchpoint and returns the canonical
// contact, creating it when the caller is new.
func (h *ReceptionHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.Phone = strings.ReplaceAll(strings.TrimSpace(req.Phone), " ", "")
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Source = strings.TrimSpace(req.Source)

	if req.BusinessID == "" || req.Phone == "" {
		http.Error(w, "business_id and phone are required", http.StatusBadRequest)
		return
	}
	if req.Source != "" && !model.ValidSource(req.Source) {
		http.Error(w, "unknown source channel", http.StatusBadRequest)
		return
	}

	contact, isNew, err := h.resolver.Resolve(r.Context(), req.BusinessID, req.Phone, req.Email, identity.Profile{
		Name:   strings.TrimSpace(req.Name),
		Source: req.Source,
		Notes:  strings.TrimSpace(req.Notes),
	})
	if err != nil {
		h.logger.Error("identity resolution failed", "business_id", req.BusinessID, "err", err)
		http.Error(w, "temporarily unable to resolve contact, please retry", http.StatusServiceUnavailable)
		return
	}

	status := http.StatusOK
	if isNew {
		status = http.StatusCreated
	}
	writeJSON(w, status, resolveResponse{
		ContactID:         contact.ID,
		IsNew:             isNew,
		Name:              contact.Name,
		TotalInteractions: contact.TotalInteractions,
	})
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// Slots lists bookable candidate slots for a business day.
func (h *ReceptionHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	businessID := strings.TrimSpace(r.URL.Query().Get("business_id"))
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if businessID == "" || dateStr == "" {
		http.Error(w, "business_id and date are required", http.StatusBadRequest)
		return
	}

	settings, err := h.settings.GetOrCreateSettings(r.Context(), businessID)
	if err != nil {
		http.Error(w, "failed to load business settings", http.StatusInternalServerError)
		return
	}
	loc := settings.Location()

	day, err := time.ParseInLocation("2006-01-02", dateStr, loc)
	if err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	durationMins := settings.DefaultDurationMinutes
	if raw := strings.TrimSpace(r.URL.Query().Get("duration_minutes")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 15 || n > 480 {
			http.Error(w, "invalid duration_minutes", http.StatusBadRequest)
			return
		}
		durationMins = n
	}
	if durationMins <= 0 {
		durationMins = 60
	}

	busy, err := h.snapshots.BusyIntervals(r.Context(), businessID, day)
	if err != nil {
		h.logger.Warn("busy interval fetch failed", "business_id", businessID, "err", err)
		http.Error(w, "calendar temporarily unavailable, please retry", http.StatusServiceUnavailable)
		return
	}

	slots := availability.CandidateSlots(day, availability.WorkingHours{
		StartHour: settings.WorkStartHour,
		EndHour:   settings.WorkEndHour,
	}, time.Duration(durationMins)*time.Minute, busy)

	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, slotItem{
			StartTime: s.Start.Format(time.RFC3339),
			EndTime:   s.End().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

type bookRequest struct {
	BusinessID string `json:"business_id"`
	intent.Extraction
}

type appointmentItem struct {
	AppointmentID           string `json:"appointment_id"`
	ContactID               string `json:"contact_id"`
	ClientName              string `json:"client_name"`
	ServiceType             string `json:"service_type"`
	StartTime               string `json:"start_time"`
	EndTime                 string `json:"end_time"`
	Status                  string `json:"status"`
	ExternalCalendarEventID string `json:"external_calendar_event_id,omitempty"`
	ExternalSheetRowID      string `json:"external_sheet_row_id,omitempty"`
}

func appointmentToItem(a *model.Appointment) appointmentItem {
	return appointmentItem{
		AppointmentID:           a.ID,
		ContactID:               a.ContactID,
		ClientName:              a.ClientName,
		ServiceType:             a.ServiceType,
		StartTime:               a.StartTime.Format(time.RFC3339),
		EndTime:                 a.EndTime().Format(time.RFC3339),
		Status:                  a.Status,
		ExternalCalendarEventID: a.ExternalCalendarEventID,
		ExternalSheetRowID:      a.ExternalSheetRowID,
	}
}

// Book runs the full inbound flow: validate the extracted intent, resolve
// the caller to a contact, then hand off to the coordinator.
func (h *ReceptionHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	if req.BusinessID == "" {
		http.Error(w, "business_id is required", http.StatusBadRequest)
		return
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		var verr *intent.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":  "validation failed",
				"fields": verr.Fields,
			})
			return
		}
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	settings, err := h.settings.GetOrCreateSettings(r.Context(), req.BusinessID)
	if err != nil {
		http.Error(w, "failed to load business settings", http.StatusInternalServerError)
		return
	}
	start, err := req.StartTime(settings.Location())
	if err != nil {
		http.Error(w, "invalid date or time", http.StatusBadRequest)
		return
	}

	contact, _, err := h.resolver.Resolve(r.Context(), req.BusinessID, req.ClientPhone, req.ClientEmail, identity.Profile{
		Name:   req.ClientName,
		Source: req.Source,
		Notes:  req.Notes,
	})
	if err != nil {
		h.logger.Error("identity resolution failed", "business_id", req.BusinessID, "err", err)
		http.Error(w, "temporarily unable to resolve contact, please retry", http.StatusServiceUnavailable)
		return
	}

	appt, err := h.coordinator.Book(r.Context(), booking.Request{
		BusinessID:  req.BusinessID,
		ContactID:   contact.ID,
		ClientName:  req.ClientName,
		ClientPhone: req.ClientPhone,
		ClientEmail: req.ClientEmail,
		ServiceType: req.ServiceType,
		Start:       start,
		Duration:    time.Duration(req.DurationMinutes) * time.Minute,
		Notes:       req.Notes,
	})
	if err != nil {
		if errors.Is(err, booking.ErrSlotUnavailable) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": "this time is no longer available, please choose another",
			})
			return
		}
		h.logger.Error("booking failed", "business_id", req.BusinessID, "err", err)
		http.Error(w, "booking temporarily unavailable, please retry", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusCreated, appointmentToItem(appt))
}

type statusRequest struct {
	BusinessID    string `json:"business_id"`
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
}

// UpdateStatus applies an explicit appointment status transition.
func (h *ReceptionHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	req.Status = strings.TrimSpace(req.Status)
	if req.BusinessID == "" || req.AppointmentID == "" || req.Status == "" {
		http.Error(w, "business_id, appointment_id and status are required", http.StatusBadRequest)
		return
	}

	appt, err := h.coordinator.Transition(r.Context(), req.BusinessID, req.AppointmentID, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, booking.ErrAppointmentNotFound):
			http.Error(w, "appointment not found", http.StatusNotFound)
		case errors.Is(err, booking.ErrInvalidTransition):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			h.logger.Error("status update failed", "appointment_id", req.AppointmentID, "err", err)
			http.Error(w, "failed to update appointment", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, appointmentToItem(appt))
}

type cancelRequest struct {
	BusinessID    string `json:"business_id"`
	AppointmentID string `json:"appointment_id"`
}

// Cancel is a convenience wrapper over UpdateStatus(cancelled).
func (h *ReceptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.BusinessID == "" || req.AppointmentID == "" {
		http.Error(w, "business_id and appointment_id are required", http.StatusBadRequest)
		return
	}

	appt, err := h.coordinator.Transition(r.Context(), req.BusinessID, req.AppointmentID, model.StatusCancelled)
	if err != nil {
		switch {
		case errors.Is(err, booking.ErrAppointmentNotFound):
			http.Error(w, "appointment not found", http.StatusNotFound)
		case errors.Is(err, booking.ErrInvalidTransition):
			http.Error(w, "appointment cannot be cancelled", http.StatusConflict)
		default:
			h.logger.Error("cancellation failed", "appointment_id", req.AppointmentID, "err", err)
			http.Error(w, "failed to cancel appointment", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, appointmentToItem(appt))
}

// ListAppointments serves the dashboard appointment feed.
func (h *ReceptionHandler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	businessID, limit, ok := listParams(w, r)
	if !ok {
		return
	}

	appts, err := h.appointments.ListByBusiness(r.Context(), businessID, limit)
	if err != nil {
		http.Error(w, "failed to list appointments", http.StatusInternalServerError)
		return
	}
	items := make([]appointmentItem, 0, len(appts))
	for i := range appts {
		items = append(items, appointmentToItem(&appts[i]))
	}
	writeJSON(w, http.StatusOK, items)
}

type contactItem struct {
	ContactID         string `json:"contact_id"`
	Name              string `json:"name"`
	Phone             string `json:"phone"`
	Email             string `json:"email,omitempty"`
	Source            string `json:"source"`
	TotalInteractions int    `json:"total_interactions"`
	LastInteractionAt string `json:"last_interaction_at"`
}

// ListContacts serves the dashboard CRM feed.
func (h *ReceptionHandler) ListContacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	businessID, limit, ok := listParams(w, r)
	if !ok {
		return
	}

	contacts, err := h.contacts.ListByBusiness(r.Context(), businessID, limit)
	if err != nil {
		http.Error(w, "failed to list contacts", http.StatusInternalServerError)
		return
	}
	items := make([]contactItem, 0, len(contacts))
	for _, c := range contacts {
		items = append(items, contactItem{
			ContactID:         c.ID,
			Name:              c.Name,
			Phone:             c.Phone,
			Email:             c.Email,
			Source:            c.Source,
			TotalInteractions: c.TotalInteractions,
			LastInteractionAt: c.LastInteractionAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

type settingsPayload struct {
	BusinessID             string `json:"business_id,omitempty"`
	Name                   string `json:"name"`
	Timezone               string `json:"timezone"`
	WorkStartHour          int    `json:"work_start_hour"`
	WorkEndHour            int    `json:"work_end_hour"`
	DefaultDurationMinutes int    `json:"default_duration_minutes"`
}

// Settings serves the per-business booking policy: GET returns the
// current values (creating defaults for a fresh business), PUT replaces
// them.
func (h *ReceptionHandler) Settings(w http.ResponseWriter, r *http.Request) {
	businessID, _, ok := listParams(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		s, err := h.settings.GetOrCreateSettings(r.Context(), businessID)
		if err != nil {
			http.Error(w, "failed to load business settings", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, settingsPayload{
			Name:                   s.Name,
			Timezone:               s.Timezone,
			WorkStartHour:          s.WorkStartHour,
			WorkEndHour:            s.WorkEndHour,
			DefaultDurationMinutes: s.DefaultDurationMinutes,
		})

	case http.MethodPut:
		var req settingsPayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		if req.WorkStartHour < 0 || req.WorkEndHour > 24 || req.WorkStartHour >= req.WorkEndHour {
			http.Error(w, "working hours must satisfy 0 <= start < end <= 24", http.StatusBadRequest)
			return
		}
		if req.Timezone != "" {
			if _, err := time.LoadLocation(req.Timezone); err != nil {
				http.Error(w, "unknown timezone", http.StatusBadRequest)
				return
			}
		}
		if req.DefaultDurationMinutes < 15 || req.DefaultDurationMinutes > 480 {
			http.Error(w, "default_duration_minutes must be between 15 and 480", http.StatusBadRequest)
			return
		}
		err := h.settings.UpdateSettings(r.Context(), storage.BusinessSettings{
			BusinessID:             businessID,
			Name:                   strings.TrimSpace(req.Name),
			Timezone:               req.Timezone,
			WorkStartHour:          req.WorkStartHour,
			WorkEndHour:            req.WorkEndHour,
			DefaultDurationMinutes: req.DefaultDurationMinutes,
		})
		if err != nil {
			h.logger.Error("settings update failed", "business_id", businessID, "err", err)
			http.Error(w, "failed to update settings", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// listParams resolves the business scope for dashboard reads. The JWT
// claims win; the query param is a fallback for unauthenticated setups.
func listParams(w http.ResponseWriter, r *http.Request) (businessID string, limit int, ok bool) {
	if claims := auth.ClaimsFromContext(r.Context()); claims != nil && claims.BusinessID != "" {
		businessID = claims.BusinessID
	}
	if businessID == "" {
		businessID = strings.TrimSpace(r.URL.Query().Get("business_id"))
	}
	if businessID == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return "", 0, false
	}

	limit = 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	return businessID, limit, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
