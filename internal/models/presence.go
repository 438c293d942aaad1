package models

import "time"

// Presence is the observable state of a contact. Typing is ephemeral: it is
// broadcast but never persisted, and expires after a short silence window.
type Presence struct {
	ContactID string     `db:"contact_id" json:"contact_id"`
	IsOnline  bool       `db:"is_online" json:"is_online"`
	LastSeen  *time.Time `db:"last_seen" json:"last_seen,omitempty"`
	IsTyping  bool       `db:"-" json:"is_typing,omitempty"`
}
