package delivery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"securelink/internal/models"
	"securelink/internal/observability"
	"securelink/internal/push"
	"securelink/internal/registry"
	"securelink/internal/repositories"
)

var (
	ErrEmptyContent     = errors.New("message content is empty")
	ErrContentTooLong   = errors.New("message content exceeds length ceiling")
	ErrSelfSend         = errors.New("cannot send a message to yourself")
	ErrUnknownRecipient = errors.New("recipient contact id is unknown")
	ErrBadMessageID     = errors.New("client message id is not a valid uuid")
	ErrPersistence      = errors.New("message could not be persisted")
)

// SendInput is one send request, identical for the HTTP path and the channel
// fallback path. ClientMessageID makes retries on either path idempotent.
type SendInput struct {
	SenderContactID    string
	RecipientContactID string
	Content            string
	Type               string
	ClientMessageID    string
	Silent             bool
}

// SendResult is returned to the sender.
type SendResult struct {
	MessageID        string               `json:"message_id"`
	Status           models.MessageStatus `json:"status"`
	RecipientOnline  bool                 `json:"recipient_online"`
	NotificationSent bool                 `json:"notification_sent"`
}

// Coordinator implements the message delivery pipeline: validate, batch-write
// both partitions, attempt real-time delivery, fall back to push, and relay
// status updates back to senders.
type Coordinator struct {
	messages repositories.MessageRepository
	contacts repositories.ContactRepository
	registry *registry.Registry
	notifier push.Notifier
	resolver *contactResolver

	maxContentLength int
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(messages repositories.MessageRepository, contacts repositories.ContactRepository, reg *registry.Registry, notifier push.Notifier, maxContentLength int) *Coordinator {
	return &Coordinator{
		messages:         messages,
		contacts:         contacts,
		registry:         reg,
		notifier:         notifier,
		resolver:         newContactResolver(contacts),
		maxContentLength: maxContentLength,
	}
}

// Send runs the full delivery algorithm. The batch write is all-or-nothing;
// once it commits the message is durably "sent" regardless of what the
// real-time or notification legs do afterwards.
func (c *Coordinator) Send(ctx context.Context, in SendInput) (SendResult, error) {
	if err := c.validate(in); err != nil {
		observability.IncMessageSent("rejected")
		return SendResult{}, err
	}
	if _, err := c.resolver.Resolve(ctx, in.RecipientContactID); err != nil {
		observability.IncMessageSent("rejected")
		return SendResult{}, err
	}

	msgType := in.Type
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	msg := models.Message{
		ID:                 in.ClientMessageID,
		SenderContactID:    in.SenderContactID,
		RecipientContactID: in.RecipientContactID,
		Content:            in.Content,
		Type:               msgType,
		Status:             models.StatusSent,
		CreatedAt:          time.Now().UTC(),
	}

	saved, err := c.messages.SaveConversationPair(ctx, msg)
	if err != nil {
		observability.IncMessageSent("failed")
		return SendResult{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	// A retry of an id the recipient already acknowledged is a no-op: no
	// second real-time push, no second notification.
	if !saved.Inserted && (saved.ExistingStatus == models.StatusDelivered || saved.ExistingStatus == models.StatusRead) {
		observability.IncMessageSent("duplicate")
		_, online := c.registry.Lookup(in.RecipientContactID)
		return SendResult{MessageID: msg.ID, Status: saved.ExistingStatus, RecipientOnline: online}, nil
	}

	result := SendResult{MessageID: msg.ID, Status: models.StatusSent}

	conn, online := c.registry.Lookup(in.RecipientContactID)
	if online {
		if err := conn.Channel.Send(models.ChannelEvent{Type: models.EventNewMessage, Message: &msg}); err != nil {
			log.Printf("delivery: realtime push to %s failed: %v", in.RecipientContactID, err)
			online = false
		}
	}
	result.RecipientOnline = online

	if !online && !in.Silent {
		result.NotificationSent = c.dispatchNotification(msg)
	}

	observability.IncMessageSent("ok")
	return result, nil
}

// MarkDelivered advances both stored copies to delivered and relays the
// receipt to the sender's live connection. Idempotent: only the first call
// for a given id notifies anyone.
func (c *Coordinator) MarkDelivered(ctx context.Context, messageID string) error {
	return c.advance(ctx, messageID, models.StatusDelivered, models.EventMessageDelivered)
}

// MarkRead advances both stored copies to read and relays the receipt.
func (c *Coordinator) MarkRead(ctx context.Context, messageID string) error {
	return c.advance(ctx, messageID, models.StatusRead, models.EventMessageRead)
}

// MarkConversationRead marks every unread counterpart message read, resets
// the owner's unread counter and sends one read receipt per message to the
// counterpart's live connection.
func (c *Coordinator) MarkConversationRead(ctx context.Context, ownerContactID, counterpartContactID string) (int, error) {
	ids, err := c.messages.MarkConversationRead(ctx, ownerContactID, counterpartContactID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	observability.IncStatusTransition(string(models.StatusRead))

	if conn, ok := c.registry.Lookup(counterpartContactID); ok {
		for _, id := range ids {
			if err := conn.Channel.Send(models.ChannelEvent{Type: models.EventMessageRead, MessageID: id}); err != nil {
				log.Printf("delivery: read receipt to %s failed: %v", counterpartContactID, err)
				break
			}
		}
	}
	return len(ids), nil
}

func (c *Coordinator) advance(ctx context.Context, messageID string, to models.MessageStatus, eventType models.EventType) error {
	updated, sender, err := c.messages.AdvanceStatus(ctx, messageID, to)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !updated {
		return nil
	}
	observability.IncStatusTransition(string(to))

	// The sender learns about the transition in real time when connected;
	// otherwise the stored status is picked up by its next sync.
	if conn, ok := c.registry.Lookup(sender); ok {
		if err := conn.Channel.Send(models.ChannelEvent{Type: eventType, MessageID: messageID}); err != nil {
			log.Printf("delivery: status relay to %s failed: %v", sender, err)
		}
	}
	return nil
}

func (c *Coordinator) validate(in SendInput) error {
	if in.Content == "" {
		return ErrEmptyContent
	}
	if len(in.Content) > c.maxContentLength {
		return ErrContentTooLong
	}
	if in.SenderContactID == in.RecipientContactID {
		return ErrSelfSend
	}
	if _, err := uuid.Parse(in.ClientMessageID); err != nil {
		return ErrBadMessageID
	}
	return nil
}

// dispatchNotification submits the push on its own goroutine so the sender's
// response is never blocked on the provider. The returned flag means a
// submission was dispatched, not that the provider accepted it.
func (c *Coordinator) dispatchNotification(msg models.Message) bool {
	recipient, err := c.contacts.GetByContactID(context.Background(), msg.RecipientContactID)
	if err != nil {
		log.Printf("delivery: load recipient %s for push failed: %v", msg.RecipientContactID, err)
		return false
	}
	if !recipient.NotificationsEnabled || recipient.PushToken == "" {
		return false
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		res, err := c.notifier.Submit(ctx, msg.RecipientContactID, push.Notification{
			Token:    recipient.PushToken,
			Title:    "New message",
			Body:     msg.Content,
			Data:     map[string]string{"message_id": msg.ID, "sender_contact_id": msg.SenderContactID},
			Priority: "high",
		})
		switch {
		case err != nil:
			observability.IncPushSubmission("error")
			log.Printf("delivery: push submit for %s failed: %v", msg.RecipientContactID, err)
		case !res.Accepted:
			observability.IncPushSubmission("rejected")
		default:
			observability.IncPushSubmission("accepted")
		}
	}()
	return true
}
