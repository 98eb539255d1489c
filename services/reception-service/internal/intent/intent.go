// Package intent types the output of the conversational extractor. The
// extractor runs upstream (LLM over a call transcript); its output is
// untrusted input and gets the same validation as any HTTP request.
package intent

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/frontdesk-labs/frontdesk/services/reception-service/internal/model"
)

// Extraction is the appointment request distilled from free text.
type Extraction struct {
	ClientName      string `json:"client_name"`
	ClientPhone     string `json:"client_phone"`
	ClientEmail     string `json:"client_email"`
	ServiceType     string `json:"service_type"`
	Date            string `json:"date"` // YYYY-MM-DD, business-local
	Time            string `json:"time"` // HH:MM, business-local
	DurationMinutes int    `json:"duration_minutes"`
	Notes           string `json:"notes"`
	Source          string `json:"source"`
}

// ValidationError reports one message per invalid field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid fields: " + strings.Join(parts, "; ")
}

var (
	phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// Normalize trims whitespace and applies defaults (60-minute duration,
// call source) without judging validity.
func (x *Extraction) Normalize() {
	x.ClientName = strings.TrimSpace(x.ClientName)
	x.ClientPhone = strings.ReplaceAll(strings.TrimSpace(x.ClientPhone), " ", "")
	x.ClientEmail = strings.ToLower(strings.TrimSpace(x.ClientEmail))
	x.ServiceType = strings.TrimSpace(x.ServiceType)
	x.Date = strings.TrimSpace(x.Date)
	x.Time = strings.TrimSpace(x.Time)
	x.Notes = strings.TrimSpace(x.Notes)
	x.Source = strings.TrimSpace(x.Source)
	if x.DurationMinutes == 0 {
		x.DurationMinutes = 60
	}
	if x.Source == "" {
		x.Source = model.SourceCall
	}
}

// Validate returns a *ValidationError listing every bad field, or nil.
func (x *Extraction) Validate() error {
	fields := map[string]string{}

	if x.ClientName == "" {
		fields["client_name"] = "required"
	}
	if x.ClientPhone == "" {
		fields["client_phone"] = "required"
	} else if !phonePattern.MatchString(x.ClientPhone) {
		fields["client_phone"] = "must be digits with optional leading +"
	}
	if x.ClientEmail != "" && !emailPattern.MatchString(x.ClientEmail) {
		fields["client_email"] = "malformed email"
	}
	if x.Date == "" {
		fields["date"] = "required"
	} else if _, err := time.Parse("2006-01-02", x.Date); err != nil {
		fields["date"] = "must be YYYY-MM-DD"
	}
	if x.Time == "" {
		fields["time"] = "required"
	} else if _, err := time.Parse("15:04", x.Time); err != nil {
		fields["time"] = "must be HH:MM"
	}
	if x.DurationMinutes < 15 || x.DurationMinutes > 480 {
		fields["duration_minutes"] = "must be between 15 and 480"
	}
	if x.Source != "" && !model.ValidSource(x.Source) {
		fields["source"] = "unknown source channel"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// StartTime combines date and time in the business timezone.
// Call Validate first; malformed inputs error here too.
func (x *Extraction) StartTime(loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02 15:04", x.Date+" "+x.Time, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse slot start: %w", err)
	}
	return t, nil
}
