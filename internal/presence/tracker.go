package presence

import (
	"context"
	"log"
	"sync"
	"time"

	"securelink/internal/models"
	"securelink/internal/registry"
	"securelink/internal/repositories"
)

// Tracker derives presence from registry membership. Online and offline
// transitions are persisted and broadcast; typing is broadcast only and
// expires by itself so indicators never get stuck.
type Tracker struct {
	registry *registry.Registry
	repo     repositories.PresenceRepository

	typingTTL time.Duration
	mu        sync.Mutex
	typing    map[string]*time.Timer
	closed    bool
}

// NewTracker constructs a Tracker.
func NewTracker(reg *registry.Registry, repo repositories.PresenceRepository, typingTTL time.Duration) *Tracker {
	return &Tracker{
		registry:  reg,
		repo:      repo,
		typingTTL: typingTTL,
		typing:    make(map[string]*time.Timer),
	}
}

// SetOnline records and announces the contact coming online.
func (t *Tracker) SetOnline(ctx context.Context, principalID, contactID string) {
	if err := t.repo.SetOnline(ctx, contactID); err != nil {
		log.Printf("presence: persist online for %s failed: %v", contactID, err)
	}
	t.registry.Broadcast(models.ChannelEvent{
		Type:      models.EventUserOnline,
		ContactID: contactID,
	}, principalID)
}

// SetOffline records lastSeen and announces the contact going offline. Any
// pending typing indicator is cancelled and retracted first.
func (t *Tracker) SetOffline(ctx context.Context, principalID, contactID string) {
	t.stopTypingTimer(contactID)

	lastSeen := time.Now()
	if err := t.repo.SetOffline(ctx, contactID, lastSeen); err != nil {
		log.Printf("presence: persist offline for %s failed: %v", contactID, err)
	}
	t.registry.Broadcast(models.ChannelEvent{
		Type:      models.EventUserOffline,
		ContactID: contactID,
		LastSeen:  &lastSeen,
	}, principalID)
}

// StartTyping announces a typing indicator and arms its expiry. Repeated
// calls while typing continues just push the expiry forward.
func (t *Tracker) StartTyping(principalID, contactID string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if timer, ok := t.typing[contactID]; ok {
		timer.Stop()
	}
	t.typing[contactID] = time.AfterFunc(t.typingTTL, func() {
		t.expireTyping(principalID, contactID)
	})
	t.mu.Unlock()

	t.registry.Broadcast(models.ChannelEvent{
		Type:      models.EventTypingStart,
		ContactID: contactID,
	}, principalID)
}

// StopTyping retracts the indicator immediately.
func (t *Tracker) StopTyping(principalID, contactID string) {
	if !t.stopTypingTimer(contactID) {
		return
	}
	t.registry.Broadcast(models.ChannelEvent{
		Type:      models.EventTypingStop,
		ContactID: contactID,
	}, principalID)
}

// Get reads the persisted presence record.
func (t *Tracker) Get(ctx context.Context, contactID string) (models.Presence, error) {
	return t.repo.Get(ctx, contactID)
}

// Close cancels every pending typing timer.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for contactID, timer := range t.typing {
		timer.Stop()
		delete(t.typing, contactID)
	}
}

func (t *Tracker) expireTyping(principalID, contactID string) {
	t.mu.Lock()
	delete(t.typing, contactID)
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return
	}
	t.registry.Broadcast(models.ChannelEvent{
		Type:      models.EventTypingStop,
		ContactID: contactID,
	}, principalID)
}

func (t *Tracker) stopTypingTimer(contactID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	timer, ok := t.typing[contactID]
	if !ok {
		return false
	}
	timer.Stop()
	delete(t.typing, contactID)
	return true
}
