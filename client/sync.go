package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"securelink/internal/models"
)

// Errors surfaced by the sync engine.
var (
	ErrNotConnected = errors.New("channel not connected")
	ErrSendRejected = errors.New("send rejected by server")
	ErrUnknownLocal = errors.New("message not in local cache")
	ErrNotRetryable = errors.New("message is not in a failed state")
	ErrSuperseded   = errors.New("session superseded by another device")
	ErrAuthRefused  = errors.New("channel authentication refused")
)

const (
	authReadTimeout = 15 * time.Second
	heartbeatEvery  = 30 * time.Second
)

// Options configures an Engine.
type Options struct {
	BaseURL   string
	WSURL     string
	Token     string
	ContactID string
	DeviceID  string

	// QueuePath is the directory for the durable send queue. Empty keeps
	// the queue in memory.
	QueuePath string

	CachePerConversation int
	HTTPTimeout          time.Duration
	HandshakeTimeout     time.Duration
}

// Engine keeps a device's local cache converged with the server: it owns
// the channel connection, replays queued sends, applies inbound events and
// acknowledges deliveries.
type Engine struct {
	opts  Options
	api   *apiClient
	cache *Cache
	queue *SendQueue

	dialer websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	wake   chan struct{}
	events chan models.ChannelEvent
}

// NewEngine builds an Engine from options, applying defaults.
func NewEngine(opts Options) *Engine {
	if opts.CachePerConversation <= 0 {
		opts.CachePerConversation = 500
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 10 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}

	return &Engine{
		opts:   opts,
		api:    newAPIClient(opts.BaseURL, opts.Token, opts.HTTPTimeout),
		cache:  NewCache(opts.ContactID, opts.CachePerConversation),
		queue:  NewSendQueue(opts.QueuePath),
		dialer: websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
		wake:   make(chan struct{}, 1),
		events: make(chan models.ChannelEvent, 64),
	}
}

// Cache exposes the local replica for UI reads.
func (e *Engine) Cache() *Cache { return e.cache }

// Events yields every channel event the engine applies, for UI updates.
func (e *Engine) Events() <-chan models.ChannelEvent { return e.events }

// Bootstrap pulls chats and conversations over HTTP and merges them into
// the cache. The server copy wins for anything it knows about; local
// messages still queued or failed are preserved untouched. Inbound messages
// the sync is seeing for the first time are acknowledged, so a message
// received while this device was offline still advances to delivered on
// the sender's side.
func (e *Engine) Bootstrap(ctx context.Context) error {
	chats, err := e.api.listChats(ctx)
	if err != nil {
		return err
	}

	for _, chat := range chats {
		e.cache.SetChat(chat)
		msgs, err := e.api.listMessages(ctx, chat.ContactID)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			inserted := e.cache.UpsertMessage(m)
			if inserted && m.SenderContactID != e.opts.ContactID && m.Status == models.StatusSent {
				e.ackDelivery(ctx, m.ID)
			}
		}
	}
	return nil
}

// ackDelivery reports receipt of a message, preferring the live channel and
// falling back to HTTP.
func (e *Engine) ackDelivery(ctx context.Context, messageID string) {
	if err := e.writeEvent(models.ChannelEvent{
		Type:      models.EventMessageDelivered,
		MessageID: messageID,
	}); err != nil {
		if apiErr := e.api.markDelivered(ctx, messageID); apiErr != nil {
			log.Printf("could not acknowledge delivery of %s: %v", messageID, apiErr)
		}
	}
}

// Run maintains the channel connection until ctx is cancelled, redialing
// with capped exponential backoff. A network-restore signal short-circuits
// the current wait.
func (e *Engine) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := e.runSession(ctx, bo)
		if errors.Is(err, ErrSuperseded) || errors.Is(err, ErrAuthRefused) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			log.Printf("channel session ended: %v", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(bo.NextBackOff()):
		case <-e.wake:
			bo.Reset()
		}
	}
}

// NetworkRestored tells a waiting Run loop to reconnect immediately.
func (e *Engine) NetworkRestored() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) runSession(ctx context.Context, bo *backoff.ExponentialBackOff) error {
	conn, _, err := e.dialer.DialContext(ctx, e.opts.WSURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := e.authenticate(conn); err != nil {
		return err
	}
	bo.Reset()

	e.mu.Lock()
	e.conn = conn
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.conn = nil
		e.mu.Unlock()
	}()

	// Converge before reading live traffic: resync state dropped while
	// offline, then replay queued sends in compose order.
	if err := e.Bootstrap(ctx); err != nil {
		log.Printf("resync failed: %v", err)
	}
	e.flushQueue(ctx)

	hbCtx, cancelHB := context.WithCancel(ctx)
	defer cancelHB()
	go e.heartbeatLoop(hbCtx)

	for {
		var ev models.ChannelEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}
		if err := e.applyEvent(ctx, ev); err != nil {
			return err
		}
	}
}

func (e *Engine) authenticate(conn *websocket.Conn) error {
	err := conn.WriteJSON(models.ChannelEvent{
		Type:      models.EventAuthenticate,
		Token:     e.opts.Token,
		ContactID: e.opts.ContactID,
		DeviceID:  e.opts.DeviceID,
	})
	if err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(authReadTimeout))
	defer conn.SetReadDeadline(time.Time{})

	var ev models.ChannelEvent
	if err := conn.ReadJSON(&ev); err != nil {
		return err
	}
	switch ev.Type {
	case models.EventAuthenticated:
		return nil
	case models.EventAuthError:
		return fmt.Errorf("%w: %s", ErrAuthRefused, ev.Code)
	default:
		return errors.New("unexpected handshake reply: " + string(ev.Type))
	}
}

func (e *Engine) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.writeEvent(models.ChannelEvent{Type: models.EventHeartbeat}); err != nil {
				return
			}
		}
	}
}

func (e *Engine) writeEvent(ev models.ChannelEvent) error {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return conn.WriteJSON(ev)
}

// Send composes a message optimistically: it appears in the cache as
// sending immediately and the returned id is final. Delivery is attempted
// over HTTP first, then the channel, then the durable queue.
func (e *Engine) Send(ctx context.Context, recipientContactID, content string) (string, error) {
	id := uuid.NewString()
	now := time.Now()
	e.cache.UpsertMessage(models.Message{
		ID:                 id,
		OwnerContactID:     e.opts.ContactID,
		SenderContactID:    e.opts.ContactID,
		RecipientContactID: recipientContactID,
		Content:            content,
		Type:               models.MessageTypeText,
		Status:             models.StatusSending,
		CreatedAt:          now,
	})

	item := QueuedSend{
		ClientMessageID:    id,
		RecipientContactID: recipientContactID,
		Content:            content,
		Type:               models.MessageTypeText,
		QueuedAt:           now,
	}
	return id, e.trySend(ctx, item)
}

// Retry resubmits a failed message under its original id, so the server's
// dedupe collapses any copy that did land.
func (e *Engine) Retry(ctx context.Context, messageID string) error {
	m, ok := e.cache.Get(messageID)
	if !ok {
		return ErrUnknownLocal
	}
	if m.Status != models.StatusFailed {
		return ErrNotRetryable
	}
	e.cache.ApplyStatus(messageID, models.StatusSending)

	return e.trySend(ctx, QueuedSend{
		ClientMessageID:    m.ID,
		RecipientContactID: m.RecipientContactID,
		Content:            m.Content,
		Type:               m.Type,
		QueuedAt:           time.Now(),
	})
}

func (e *Engine) trySend(ctx context.Context, item QueuedSend) error {
	out, err := e.api.sendMessage(ctx, item)
	if err == nil {
		e.cache.ApplyStatus(item.ClientMessageID, out.Status)
		return nil
	}

	var rejection *apiError
	if errors.As(err, &rejection) {
		e.cache.ApplyStatus(item.ClientMessageID, models.StatusFailed)
		return ErrSendRejected
	}

	// Transport failure. Park the send for replay first, then try the
	// channel: a buffered channel write is not an acknowledgement, so the
	// item stays queued until the server's echo, or a later flush the
	// server dedupes by client message id, confirms it.
	e.queue.Enqueue(item)
	_ = e.writeEvent(models.ChannelEvent{
		Type:               models.EventSendMessage,
		RecipientContactID: item.RecipientContactID,
		Content:            item.Content,
		MessageType:        item.Type,
		ClientMessageID:    item.ClientMessageID,
		Silent:             item.Silent,
	})
	return nil
}

func (e *Engine) flushQueue(ctx context.Context) {
	items, ok := e.queue.BeginDrain()
	if !ok {
		return
	}
	defer e.queue.EndDrain()

	for _, item := range items {
		out, err := e.api.sendMessage(ctx, item)
		if err != nil {
			var rejection *apiError
			if errors.As(err, &rejection) {
				e.queue.Remove(item.ClientMessageID)
				e.cache.ApplyStatus(item.ClientMessageID, models.StatusFailed)
				continue
			}
			// Still offline; keep the rest queued in order.
			return
		}
		e.queue.Remove(item.ClientMessageID)
		e.cache.ApplyStatus(item.ClientMessageID, out.Status)
	}
}

func (e *Engine) applyEvent(ctx context.Context, ev models.ChannelEvent) error {
	switch ev.Type {
	case models.EventNewMessage:
		if ev.Message == nil {
			break
		}
		m := *ev.Message
		if m.SenderContactID == e.opts.ContactID {
			// Echo of our own send confirms it reached the server.
			e.cache.UpsertMessage(m)
			e.queue.Remove(m.ID)
			break
		}
		if e.cache.UpsertMessage(m) {
			e.cache.IncrementUnread(m.SenderContactID)
			// Receipt of a new message is its delivery.
			e.ackDelivery(ctx, m.ID)
		}

	case models.EventMessageDelivered:
		e.cache.ApplyStatus(ev.MessageID, models.StatusDelivered)

	case models.EventMessageRead:
		e.cache.ApplyStatus(ev.MessageID, models.StatusRead)

	case models.EventTypingStart:
		e.cache.SetTyping(ev.ContactID, true)

	case models.EventTypingStop:
		e.cache.SetTyping(ev.ContactID, false)

	case models.EventUserOnline:
		e.cache.SetPresence(ev.ContactID, true, nil)

	case models.EventUserOffline:
		e.cache.SetPresence(ev.ContactID, false, ev.LastSeen)

	case models.EventHeartbeatAck, models.EventAuthenticated:

	case models.EventSuperseded:
		e.emit(ev)
		return ErrSuperseded

	case models.EventError:
		log.Printf("channel error %s: %s", ev.Code, ev.Reason)
		if ev.Code == models.CodeSendRejected && ev.MessageID != "" {
			e.cache.ApplyStatus(ev.MessageID, models.StatusFailed)
		}
	}

	e.emit(ev)
	return nil
}

func (e *Engine) emit(ev models.ChannelEvent) {
	select {
	case e.events <- ev:
	default:
	}
}

// MarkConversationRead clears the local unread counter and pushes read
// receipts to the server.
func (e *Engine) MarkConversationRead(ctx context.Context, counterpartContactID string) error {
	e.cache.ResetUnread(counterpartContactID)
	return e.api.markConversationRead(ctx, counterpartContactID)
}

// Close releases the engine's durable resources.
func (e *Engine) Close() error {
	return e.queue.Close()
}
