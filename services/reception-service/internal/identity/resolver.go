// Package identity maps an inbound phone/email to exactly one canonical
// contact per business, without creating duplicates under concurrent
// resolution attempts.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/frontdesk-labs/frontdesk/services/reception-service/internal/model"
)

// ErrDuplicateContact is returned by ContactStore.Insert when a storage
// uniqueness constraint fires. The resolver treats it as a lost race, not
// an error.
var ErrDuplicateContact = errors.New("contact already exists")

// ContactStore is the persistence port. Lookups return (nil, false, nil)
// when no row matches; every query is business-scoped.
type ContactStore interface {
	FindByPhone(ctx context.Context, businessID, phone string) (*model.Contact, bool, error)
	FindByEmail(ctx context.Context, businessID, email string) (*model.Contact, bool, error)
	// FindByPhoneOrEmail prefers a phone match when both keys hit
	// different rows.
	FindByPhoneOrEmail(ctx context.Context, businessID, phone, email string) (*model.Contact, bool, error)
	Insert(ctx context.Context, c *model.Contact) error
	Update(ctx context.Context, c *model.Contact) error
}

// Profile carries the optional fields learned from the current touchpoint.
type Profile struct {
	Name   string
	Source string
	Notes  string
}

type Resolver struct {
	store  ContactStore
	logger *slog.Logger
	now    func() time.Time
}

func NewResolver(store ContactStore, logger *slog.Logger) *Resolver {
	return &Resolver{store: store, logger: logger, now: time.Now}
}

// Resolve returns the single canonical contact for (businessID, phone,
// email), creating one when none exists. The sequence is
// check-recheck-then-act: a second lookup runs immediately before the
// insert so that a concurrent resolver's row is picked up, and a unique
// violation on insert is retried once as an update. Safe to call again
// after a timeout.
func (r *Resolver) Resolve(ctx context.Context, businessID, phone, email string, p Profile) (*model.Contact, bool, error) {
	if businessID == "" || phone == "" {
		return nil, false, errors.New("businessID and phone are required")
	}

	existing, found, err := r.store.FindByPhone(ctx, businessID, phone)
	if err != nil {
		return nil, false, fmt.Errorf("lookup by phone: %w", err)
	}
	if found {
		r.warnOnSplitIdentity(ctx, existing, businessID, email)
		return r.touch(ctx, existing, phone, email, p)
	}

	if email != "" {
		existing, found, err = r.store.FindByEmail(ctx, businessID, email)
		if err != nil {
			return nil, false, fmt.Errorf("lookup by email: %w", err)
		}
		if found {
			return r.touch(ctx, existing, phone, email, p)
		}
	}

	// Race-closing recheck: a concurrent resolver may have inserted between
	// the lookups above and our insert below.
	existing, found, err = r.store.FindByPhoneOrEmail(ctx, businessID, phone, email)
	if err != nil {
		return nil, false, fmt.Errorf("recheck lookup: %w", err)
	}
	if found {
		return r.touch(ctx, existing, phone, email, p)
	}

	now := r.now().UTC()
	fresh := &model.Contact{
		BusinessID:        businessID,
		Name:              p.Name,
		Phone:             phone,
		Email:             email,
		Source:            p.Source,
		Notes:             p.Notes,
		TotalInteractions: 1,
		LastInteractionAt: now,
	}
	if err := r.store.Insert(ctx, fresh); err != nil {
		if !errors.Is(err, ErrDuplicateContact) {
			return nil, false, fmt.Errorf("insert contact: %w", err)
		}
		// Lost the race between recheck and insert. Duplicate avoidance
		// beats raising an error: fall back to updating the winner's row.
		existing, found, err = r.store.FindByPhoneOrEmail(ctx, businessID, phone, email)
		if err != nil {
			return nil, false, fmt.Errorf("post-conflict lookup: %w", err)
		}
		if !found {
			return nil, false, fmt.Errorf("contact vanished after unique violation for business %s", businessID)
		}
		return r.touch(ctx, existing, phone, email, p)
	}
	return fresh, true, nil
}

// touch merges the incoming touchpoint into an existing contact.
// Incoming non-empty values win, except source, which is sticky once set.
func (r *Resolver) touch(ctx context.Context, c *model.Contact, phone, email string, p Profile) (*model.Contact, bool, error) {
	prevEmail := c.Email
	if p.Name != "" {
		c.Name = p.Name
	}
	if phone != "" {
		c.Phone = phone
	}
	if email != "" {
		c.Email = email
	}
	if c.Source == "" && p.Source != "" {
		c.Source = p.Source
	}
	if p.Notes != "" {
		c.Notes = p.Notes
	}
	c.TotalInteractions++
	c.LastInteractionAt = r.now().UTC()

	err := r.store.Update(ctx, c)
	if err != nil && errors.Is(err, ErrDuplicateContact) && c.Email != prevEmail {
		// The incoming email already belongs to a different contact (the
		// split-identity case, caught here by the email unique index). The
		// phone match wins; keep this row's email as it was and retry.
		c.Email = prevEmail
		err = r.store.Update(ctx, c)
	}
	if err != nil {
		return nil, false, fmt.Errorf("update contact %s: %w", c.ID, err)
	}
	return c, false, nil
}

// warnOnSplitIdentity logs when the phone matched one contact but the email
// independently matches a different one. The phone match wins
// deterministically; the rows are never merged automatically.
func (r *Resolver) warnOnSplitIdentity(ctx context.Context, phoneMatch *model.Contact, businessID, email string) {
	if email == "" {
		return
	}
	byEmail, found, err := r.store.FindByEmail(ctx, businessID, email)
	if err != nil || !found {
		return
	}
	if byEmail.ID != phoneMatch.ID {
		r.logger.Warn("identity conflict: phone and email match different contacts; phone match wins",
			"business_id", businessID,
			"phone_contact_id", phoneMatch.ID,
			"email_contact_id", byEmail.ID,
		)
	}
}
