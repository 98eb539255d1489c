package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/frontdesk-labs/frontdesk/libs/db"
	"github.com/frontdesk-labs/frontdesk/services/reception-service/internal/identity"
	"github.com/frontdesk-labs/frontdesk/services/reception-service/internal/model"
	"github.com/frontdesk-labs/frontdesk/services/reception-service/internal/outbox"
)

const (
	pgUniqueViolation    = "23505"
	pgExclusionViolation = "23P01"
)

// ContactRepository persists contacts and implements identity.ContactStore.
// The unique indexes on (business_id, phone) and (business_id, email) are
// the storage backstop behind the resolver's recheck-then-act sequence.
type ContactRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewContactRepository(pool *db.Pool, outboxRepo *outbox.Repository) *ContactRepository {
	return &ContactRepository{pool: pool, outbox: outboxRepo}
}

const contactColumns = `
	id, business_id, name, phone, COALESCE(email, ''), source,
	total_interactions, last_interaction_at, COALESCE(notes, ''), created_at, updated_at
`

func (r *ContactRepository) FindByPhone(ctx context.Context, businessID, phone string) (*model.Contact, bool, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE business_id = $1 AND phone = $2
	`, businessID, phone)
	return scanContact(row)
}

func (r *ContactRepository) FindByEmail(ctx context.Context, businessID, email string) (*model.Contact, bool, error) {
	if email == "" {
		return nil, false, nil
	}
	row := r.pool.QueryRow(ctx, `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE business_id = $1 AND email = $2
	`, businessID, email)
	return scanContact(row)
}

// FindByPhoneOrEmail is the race-closing recheck. A phone match sorts
// first so that a split identity resolves deterministically to the
// phone-matched row.
func (r *ContactRepository) FindByPhoneOrEmail(ctx context.Context, businessID, phone, email string) (*model.Contact, bool, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE business_id = $1 AND (phone = $2 OR ($3 <> '' AND email = $3))
		ORDER BY (phone = $2) DESC, created_at ASC
		LIMIT 1
	`, businessID, phone, email)
	return scanContact(row)
}

func (r *ContactRepository) Insert(ctx context.Context, c *model.Contact) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	c.ID = uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO contacts
			(id, business_id, name, phone, email, source, total_interactions, last_interaction_at, notes)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9)
	`, c.ID, c.BusinessID, c.Name, c.Phone, c.Email, c.Source, c.TotalInteractions, c.LastInteractionAt, c.Notes)
	if err != nil {
		if isPgError(err, pgUniqueViolation) {
			return fmt.Errorf("contacts unique index: %w", identity.ErrDuplicateContact)
		}
		return err
	}

	if r.outbox != nil {
		payload, err := json.Marshal(map[string]any{
			"contact_id":  c.ID,
			"business_id": c.BusinessID,
			"phone":       c.Phone,
			"source":      c.Source,
		})
		if err != nil {
			return err
		}
		err = r.outbox.Insert(ctx, tx, outbox.Event{
			AggregateType: "contact",
			AggregateID:   c.ID,
			EventType:     outbox.TopicContactCreated,
			Payload:       payload,
		})
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *ContactRepository) Update(ctx context.Context, c *model.Contact) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE contacts
		SET name = $3,
			phone = $4,
			email = NULLIF($5, ''),
			source = $6,
			total_interactions = $7,
			last_interaction_at = $8,
			notes = $9,
			updated_at = now()
		WHERE id = $1 AND business_id = $2
	`, c.ID, c.BusinessID, c.Name, c.Phone, c.Email, c.Source, c.TotalInteractions, c.LastInteractionAt, c.Notes)
	if err != nil {
		// The phone/email unique indexes guard updates too: copying a key
		// that already belongs to another contact must be reported, not
		// surfaced as an opaque storage error.
		if isPgError(err, pgUniqueViolation) {
			return fmt.Errorf("contacts unique index: %w", identity.ErrDuplicateContact)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("contact %s not found", c.ID)
	}
	return nil
}

func (r *ContactRepository) ListByBusiness(ctx context.Context, businessID string, limit int) ([]model.Contact, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE business_id = $1
		ORDER BY last_interaction_at DESC
		LIMIT $2
	`, businessID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []model.Contact
	for rows.Next() {
		c, _, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, *c)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return contacts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (*model.Contact, bool, error) {
	var c model.Contact
	err := row.Scan(
		&c.ID,
		&c.BusinessID,
		&c.Name,
		&c.Phone,
		&c.Email,
		&c.Source,
		&c.TotalInteractions,
		&c.LastInteractionAt,
		&c.Notes,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &c, true, nil
}

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
