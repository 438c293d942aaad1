package models

import (
	"fmt"
	"time"
)

// EventType discriminates the channel event union.
type EventType string

const (
	EventAuthenticate     EventType = "authenticate"
	EventAuthenticated    EventType = "authenticated"
	EventAuthError        EventType = "auth_error"
	EventSendMessage      EventType = "send_message"
	EventNewMessage       EventType = "new_message"
	EventMessageDelivered EventType = "message_delivered"
	EventMessageRead      EventType = "message_read"
	EventTypingStart      EventType = "typing_start"
	EventTypingStop       EventType = "typing_stop"
	EventUserOnline       EventType = "user_online"
	EventUserOffline      EventType = "user_offline"
	EventHeartbeat        EventType = "heartbeat"
	EventHeartbeatAck     EventType = "heartbeat_ack"
	EventSuperseded       EventType = "superseded"
	EventError            EventType = "error"
)

// Error codes carried by EventAuthError and EventError.
const (
	CodeInvalidToken  = "invalid_token"
	CodeAuthTimeout   = "auth_timeout"
	CodeIdleTimeout   = "idle_timeout"
	CodeBadEvent      = "bad_event"
	CodeSendRejected  = "send_rejected"
	CodeSlowConsumer  = "slow_consumer"
	CodeNotAuthorized = "not_authorized"
)

// ChannelEvent is the single wire format for both directions of a channel.
// Only the fields belonging to the variant named by Type are populated;
// Validate enforces the per-variant requirements at the boundary.
type ChannelEvent struct {
	Type EventType `json:"type"`

	// authenticate
	Token    string `json:"token,omitempty"`
	DeviceID string `json:"device_id,omitempty"`

	// send_message
	RecipientContactID string `json:"recipient_contact_id,omitempty"`
	Content            string `json:"content,omitempty"`
	MessageType        string `json:"message_type,omitempty"`
	ClientMessageID    string `json:"client_message_id,omitempty"`
	Silent             bool   `json:"silent,omitempty"`

	// new_message
	Message *Message `json:"message,omitempty"`

	// message_delivered / message_read
	MessageID string `json:"message_id,omitempty"`

	// presence and typing
	ContactID string     `json:"contact_id,omitempty"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`

	// auth_error / error / superseded
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Validate checks the variant-specific required fields for events accepted
// from clients. Server-emitted variants arriving inbound are rejected.
func (e *ChannelEvent) Validate() error {
	switch e.Type {
	case EventAuthenticate:
		if e.Token == "" {
			return fmt.Errorf("authenticate: missing token")
		}
		if e.ContactID == "" {
			return fmt.Errorf("authenticate: missing contact_id")
		}
		return nil
	case EventSendMessage:
		if e.RecipientContactID == "" {
			return fmt.Errorf("send_message: missing recipient_contact_id")
		}
		if e.Content == "" {
			return fmt.Errorf("send_message: missing content")
		}
		if e.ClientMessageID == "" {
			return fmt.Errorf("send_message: missing client_message_id")
		}
		return nil
	case EventMessageDelivered, EventMessageRead:
		if e.MessageID == "" {
			return fmt.Errorf("%s: missing message_id", e.Type)
		}
		return nil
	case EventTypingStart, EventTypingStop, EventHeartbeat:
		return nil
	default:
		return fmt.Errorf("unexpected inbound event type %q", e.Type)
	}
}
