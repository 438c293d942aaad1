package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"securelink/internal/models"
)

// PresenceRepository persists online/offline state. Typing state never
// reaches this layer.
type PresenceRepository interface {
	SetOnline(ctx context.Context, contactID string) error
	SetOffline(ctx context.Context, contactID string, lastSeen time.Time) error
	Get(ctx context.Context, contactID string) (models.Presence, error)
}

// PresenceRepo is a sqlx implementation of PresenceRepository.
type PresenceRepo struct {
	db *sqlx.DB
}

// NewPresenceRepo constructs a PresenceRepo.
func NewPresenceRepo(db *sqlx.DB) *PresenceRepo {
	return &PresenceRepo{db: db}
}

// SetOnline upserts the online flag.
func (r *PresenceRepo) SetOnline(ctx context.Context, contactID string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO presence (contact_id, is_online) VALUES ($1, TRUE)
        ON CONFLICT (contact_id) DO UPDATE SET is_online=TRUE`, contactID)
	return err
}

// SetOffline records the disconnect time.
func (r *PresenceRepo) SetOffline(ctx context.Context, contactID string, lastSeen time.Time) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO presence (contact_id, is_online, last_seen) VALUES ($1, FALSE, $2)
        ON CONFLICT (contact_id) DO UPDATE SET is_online=FALSE, last_seen=EXCLUDED.last_seen`, contactID, lastSeen)
	return err
}

// Get returns the stored presence record; unknown contacts read as offline.
func (r *PresenceRepo) Get(ctx context.Context, contactID string) (models.Presence, error) {
	var p models.Presence
	err := r.db.GetContext(ctx, &p, `SELECT contact_id, is_online, last_seen FROM presence WHERE contact_id=$1`, contactID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Presence{ContactID: contactID, IsOnline: false}, nil
	}
	return p, err
}
