package models

import "time"

// ChatSummary is the denormalized per-owner conversation row shown in the
// chat list. It is derived from message writes: the unread counter increments
// on receipt and resets when the owner marks the conversation read.
type ChatSummary struct {
	OwnerContactID  string     `db:"owner_contact_id" json:"-"`
	ContactID       string     `db:"contact_id" json:"contact_id"`
	DisplayName     string     `db:"display_name" json:"display_name"`
	PhotoURL        string     `db:"photo_url" json:"photo_url,omitempty"`
	LastMessage     string     `db:"last_message" json:"last_message"`
	LastMessageTime *time.Time `db:"last_message_time" json:"last_message_time,omitempty"`
	UnreadCount     int        `db:"unread_count" json:"unread_count"`
	IsOnline        bool       `db:"-" json:"is_online"`
}
