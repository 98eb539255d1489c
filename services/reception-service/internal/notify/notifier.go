// Package notify mirrors appointments to downstream systems (business
// calendar, bookings spreadsheet). All writers are best-effort by
// contract: the caller logs failures and never rolls anything back.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/frontdesk-labs/frontdesk/services/reception-service/internal/model"
)

// WebhookNotifier talks to the integrations sidecar that owns the
// per-business calendar and spreadsheet credentials.
type WebhookNotifier struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewWebhookNotifier(baseURL, token string) *WebhookNotifier {
	return &WebhookNotifier{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type appointmentPayload struct {
	BusinessID  string `json:"business_id"`
	ClientName  string `json:"client_name"`
	ClientPhone string `json:"client_phone"`
	ClientEmail string `json:"client_email,omitempty"`
	ServiceType string `json:"service_type"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Notes       string `json:"notes,omitempty"`
}

func payloadFor(appt *model.Appointment) appointmentPayload {
	return appointmentPayload{
		BusinessID:  appt.BusinessID,
		ClientName:  appt.ClientName,
		ClientPhone: appt.ClientPhone,
		ClientEmail: appt.ClientEmail,
		ServiceType: appt.ServiceType,
		StartTime:   appt.StartTime.UTC().Format(time.RFC3339),
		EndTime:     appt.EndTime().UTC().Format(time.RFC3339),
		Notes:       appt.Notes,
	}
}

func (n *WebhookNotifier) CreateCalendarEvent(ctx context.Context, appt *model.Appointment) (string, error) {
	var resp struct {
		EventID string `json:"event_id"`
	}
	if err := n.post(ctx, "/v1/calendar/events", payloadFor(appt), &resp); err != nil {
		return "", err
	}
	if resp.EventID == "" {
		return "", errors.New("integration returned empty event id")
	}
	return resp.EventID, nil
}

// UpdateCalendarEvent pushes the current appointment state (including
// status) to the already-mirrored event.
func (n *WebhookNotifier) UpdateCalendarEvent(ctx context.Context, appt *model.Appointment) error {
	if appt.ExternalCalendarEventID == "" {
		return errors.New("appointment has no mirrored calendar event")
	}
	body := struct {
		appointmentPayload
		Status string `json:"status"`
	}{payloadFor(appt), appt.Status}

	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	path := "/v1/calendar/events/" + url.PathEscape(appt.ExternalCalendarEventID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, n.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return n.do(req, nil)
}

func (n *WebhookNotifier) AppendSheetRow(ctx context.Context, appt *model.Appointment) (string, error) {
	var resp struct {
		RowID string `json:"row_id"`
	}
	if err := n.post(ctx, "/v1/sheets/rows", payloadFor(appt), &resp); err != nil {
		return "", err
	}
	if resp.RowID == "" {
		return "", errors.New("integration returned empty row id")
	}
	return resp.RowID, nil
}

func (n *WebhookNotifier) DeleteCalendarEvent(ctx context.Context, businessID, eventID string) error {
	path := "/v1/calendar/events/" + url.PathEscape(eventID) + "?business_id=" + url.QueryEscape(businessID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, n.baseURL+path, nil)
	if err != nil {
		return err
	}
	return n.do(req, nil)
}

func (n *WebhookNotifier) post(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return n.do(req, out)
}

func (n *WebhookNotifier) do(req *http.Request, out any) error {
	if n.baseURL == "" {
		return errors.New("integration base url not configured")
	}
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}
	resp, err := n.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("integration returned %d for %s", resp.StatusCode, req.URL.Path)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// NoopNotifier is used when no integration is configured; bookings still
// succeed, mirrors are simply skipped.
type NoopNotifier struct{}

func (NoopNotifier) CreateCalendarEvent(context.Context, *model.Appointment) (string, error) {
	return "", nil
}

func (NoopNotifier) UpdateCalendarEvent(context.Context, *model.Appointment) error {
	return nil
}

func (NoopNotifier) AppendSheetRow(context.Context, *model.Appointment) (string, error) {
	return "", nil
}

func (NoopNotifier) DeleteCalendarEvent(context.Context, string, string) error {
	return nil
}
