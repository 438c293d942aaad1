package models

import "time"

// Contact binds an authenticated principal to its shareable contact identity.
// The contact id is assigned at registration and never changes.
type Contact struct {
	PrincipalID          string    `db:"principal_id" json:"-"`
	ContactID            string    `db:"contact_id" json:"contact_id"`
	DisplayName          string    `db:"display_name" json:"display_name"`
	PhotoURL             string    `db:"photo_url" json:"photo_url,omitempty"`
	PushToken            string    `db:"push_token" json:"-"`
	NotificationsEnabled bool      `db:"notifications_enabled" json:"-"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
}
