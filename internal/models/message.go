package models

import "time"

// MessageStatus is the delivery lifecycle state of a message.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// statusRank orders the forward-only part of the lifecycle.
var statusRank = map[MessageStatus]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// CanAdvance reports whether a transition from s to next is allowed.
// Transitions are monotonic; failed is reachable from sending/sent and is
// re-entered into sending only by an explicit retry.
func (s MessageStatus) CanAdvance(next MessageStatus) bool {
	if next == StatusFailed {
		return s == StatusSending || s == StatusSent
	}
	if s == StatusFailed {
		return next == StatusSending
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// Valid reports whether s is a known status value.
func (s MessageStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok || s == StatusFailed
}

// MessageTypeText is the default message type when a client omits one.
const MessageTypeText = "text"

// Message is one chat message as stored in a single owner partition. The same
// id appears once under the sender's partition and once under the recipient's;
// both copies converge to the same status through propagated events, never
// through independent mutation.
type Message struct {
	ID                 string        `db:"id" json:"id"`
	OwnerContactID     string        `db:"owner_contact_id" json:"-"`
	SenderContactID    string        `db:"sender_contact_id" json:"sender_contact_id"`
	RecipientContactID string        `db:"recipient_contact_id" json:"recipient_contact_id"`
	Content            string        `db:"content" json:"content"`
	Type               string        `db:"type" json:"type"`
	Status             MessageStatus `db:"status" json:"status"`
	CreatedAt          time.Time     `db:"created_at" json:"created_at"`
	DeliveredAt        *time.Time    `db:"delivered_at" json:"delivered_at,omitempty"`
	ReadAt             *time.Time    `db:"read_at" json:"read_at,omitempty"`
}
