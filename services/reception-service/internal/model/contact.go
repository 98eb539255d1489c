package model

import "time"

// Contact acquisition channels.
const (
	SourceCall      = "call"
	SourceWhatsApp  = "whatsapp"
	SourceInstagram = "instagram"
	SourceFacebook  = "facebook"
	SourceWeb       = "web"
	SourceManual    = "manual"
)

// Contact is the canonical CRM record for one caller per business.
// (business_id, phone) is unique; (business_id, email) is unique when
// email is present.
type Contact struct {
	ID                string
	BusinessID        string
	Name              string
	Phone             string
	Email             string
	Source            string
	TotalInteractions int
	LastInteractionAt time.Time
	Notes             string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func ValidSource(s string) bool {
	switch s {
	case SourceCall, SourceWhatsApp, SourceInstagram, SourceFacebook, SourceWeb, SourceManual:
		return true
	}
	return false
}
