package intent

import (
	"errors"
	"testing"
	"time"
)

func validExtraction() Extraction {
	x := Extraction{
		ClientName:  "Ana Diaz",
		ClientPhone: "+5491100000000",
		ClientEmail: "ana@example.com",
		ServiceType: "haircut",
		Date:        "2026-03-02",
		Time:        "10:00",
	}
	x.Normalize()
	return x
}

func TestValidate_AcceptsWellFormedExtraction(t *testing.T) {
	x := validExtraction()
	if err := x.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if x.DurationMinutes != 60 {
		t.Fatalf("duration default = %d, want 60", x.DurationMinutes)
	}
	if x.Source != "call" {
		t.Fatalf("source default = %q, want call", x.Source)
	}
}

func TestValidate_ReportsEveryBadField(t *testing.T) {
	x := Extraction{
		ClientPhone:     "not-a-phone",
		ClientEmail:     "nope",
		Date:            "03/02/2026",
		Time:            "25:99",
		DurationMinutes: 5,
		Source:          "carrier-pigeon",
	}
	x.Normalize()

	err := x.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("want *ValidationError, got %v", err)
	}
	for _, field := range []string{"client_name", "client_phone", "client_email", "date", "time", "duration_minutes", "source"} {
		if _, ok := verr.Fields[field]; !ok {
			t.Fatalf("missing validation message for %s (got %v)", field, verr.Fields)
		}
	}
}

func TestValidate_EmailOptional(t *testing.T) {
	x := validExtraction()
	x.ClientEmail = ""
	if err := x.Validate(); err != nil {
		t.Fatalf("email must be optional: %v", err)
	}
}

func TestNormalize_StripsPhoneSpaces(t *testing.T) {
	x := Extraction{ClientPhone: " +54 911 0000 0000 "}
	x.Normalize()
	if x.ClientPhone != "+5491100000000" {
		t.Fatalf("phone = %q", x.ClientPhone)
	}
}

func TestStartTime_BusinessLocal(t *testing.T) {
	x := validExtraction()
	loc, err := time.LoadLocation("America/Argentina/Buenos_Aires")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	start, err := x.StartTime(loc)
	if err != nil {
		t.Fatalf("start time: %v", err)
	}
	want := time.Date(2026, 3, 2, 10, 0, 0, 0, loc)
	if !start.Equal(want) {
		t.Fatalf("start = %s, want %s", start, want)
	}
}
