package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"securelink/internal/models"
)

var ErrContactNotFound = errors.New("contact not found")

// ContactRepository resolves contact identities and manages push tokens.
type ContactRepository interface {
	GetByContactID(ctx context.Context, contactID string) (models.Contact, error)
	GetByPrincipalID(ctx context.Context, principalID string) (models.Contact, error)
	SetPushToken(ctx context.Context, contactID string, token string, enabled bool) error
	ClearPushToken(ctx context.Context, contactID string) error
}

// ContactRepo is a sqlx implementation of ContactRepository.
type ContactRepo struct {
	db *sqlx.DB
}

// NewContactRepo constructs a ContactRepo.
func NewContactRepo(db *sqlx.DB) *ContactRepo {
	return &ContactRepo{db: db}
}

const contactColumns = `principal_id, contact_id, display_name, photo_url, push_token, notifications_enabled, created_at`

// GetByContactID fetches a contact by its shareable identity.
func (r *ContactRepo) GetByContactID(ctx context.Context, contactID string) (models.Contact, error) {
	var contact models.Contact
	err := r.db.GetContext(ctx, &contact, `SELECT `+contactColumns+` FROM contacts WHERE contact_id=$1`, contactID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Contact{}, ErrContactNotFound
	}
	return contact, err
}

// GetByPrincipalID fetches the contact owned by a principal.
func (r *ContactRepo) GetByPrincipalID(ctx context.Context, principalID string) (models.Contact, error) {
	var contact models.Contact
	err := r.db.GetContext(ctx, &contact, `SELECT `+contactColumns+` FROM contacts WHERE principal_id=$1`, principalID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Contact{}, ErrContactNotFound
	}
	return contact, err
}

// SetPushToken stores the device push token and the notification preference.
func (r *ContactRepo) SetPushToken(ctx context.Context, contactID string, token string, enabled bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE contacts SET push_token=$2, notifications_enabled=$3 WHERE contact_id=$1`, contactID, token, enabled)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrContactNotFound
	}
	return nil
}

// ClearPushToken drops a token the provider reported as dead.
func (r *ContactRepo) ClearPushToken(ctx context.Context, contactID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE contacts SET push_token='' WHERE contact_id=$1`, contactID)
	return err
}
