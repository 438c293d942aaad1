package client

import (
	"sort"
	"sync"
	"time"

	"securelink/internal/models"
)

// Cache is the client-side replica used for instant UI: a bounded
// per-conversation message log keyed by message id plus a chat-metadata
// index. It may lag the durable store; the sync engine reconciles it.
type Cache struct {
	selfContactID      string
	maxPerConversation int

	mu            sync.RWMutex
	byID          map[string]*models.Message
	conversations map[string][]string
	chats         map[string]*models.ChatSummary
	presence      map[string]*models.Presence
}

// NewCache creates an empty cache for the given identity.
func NewCache(selfContactID string, maxPerConversation int) *Cache {
	return &Cache{
		selfContactID:      selfContactID,
		maxPerConversation: maxPerConversation,
		byID:               make(map[string]*models.Message),
		conversations:      make(map[string][]string),
		chats:              make(map[string]*models.ChatSummary),
		presence:           make(map[string]*models.Presence),
	}
}

func (c *Cache) counterpartOf(m models.Message) string {
	if m.SenderContactID == c.selfContactID {
		return m.RecipientContactID
	}
	return m.SenderContactID
}

// UpsertMessage inserts a message or, when the id is already cached, merges
// the incoming copy. Status merging is monotonic, so an out-of-order
// delivered event can never downgrade a read message. Returns true when the
// id was new.
func (c *Cache) UpsertMessage(m models.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.byID[m.ID]; ok {
		if existing.Status.CanAdvance(m.Status) {
			existing.Status = m.Status
			existing.DeliveredAt = m.DeliveredAt
			existing.ReadAt = m.ReadAt
		}
		return false
	}

	stored := m
	c.byID[m.ID] = &stored
	counterpart := c.counterpartOf(m)
	c.conversations[counterpart] = append(c.conversations[counterpart], m.ID)

	// Drop oldest entries once the conversation log exceeds its bound.
	if len(c.conversations[counterpart]) > c.maxPerConversation {
		overflow := c.conversations[counterpart][0]
		c.conversations[counterpart] = c.conversations[counterpart][1:]
		delete(c.byID, overflow)
	}

	chat := c.chatLocked(counterpart)
	chat.LastMessage = m.Content
	created := m.CreatedAt
	chat.LastMessageTime = &created
	return true
}

// ApplyStatus advances a message's status if the transition is allowed.
func (c *Cache) ApplyStatus(messageID string, status models.MessageStatus) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.byID[messageID]
	if !ok || !m.Status.CanAdvance(status) {
		return false
	}
	m.Status = status
	now := time.Now()
	switch status {
	case models.StatusDelivered:
		m.DeliveredAt = &now
	case models.StatusRead:
		m.ReadAt = &now
	}
	return true
}

// Get returns a copy of the cached message.
func (c *Cache) Get(messageID string) (models.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.byID[messageID]
	if !ok {
		return models.Message{}, false
	}
	return *m, true
}

// Messages returns the conversation with the counterpart in arrival order.
func (c *Cache) Messages(counterpartContactID string) []models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := c.conversations[counterpartContactID]
	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		if m, ok := c.byID[id]; ok {
			out = append(out, *m)
		}
	}
	return out
}

// SetChat replaces the summary for a counterpart, keeping the live presence
// flag already cached locally.
func (c *Cache) SetChat(summary models.ChatSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored := summary
	if p, ok := c.presence[summary.ContactID]; ok {
		stored.IsOnline = p.IsOnline
	}
	c.chats[summary.ContactID] = &stored
}

// Chats returns summaries ordered by most recent activity.
func (c *Cache) Chats() []models.ChatSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.ChatSummary, 0, len(c.chats))
	for _, chat := range c.chats {
		out = append(out, *chat)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].LastMessageTime, out[j].LastMessageTime
		if ti == nil {
			return false
		}
		if tj == nil {
			return true
		}
		return ti.After(*tj)
	})
	return out
}

// IncrementUnread bumps the unread counter for a counterpart.
func (c *Cache) IncrementUnread(counterpartContactID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chatLocked(counterpartContactID).UnreadCount++
}

// ResetUnread zeroes the unread counter, the local half of "mark read".
func (c *Cache) ResetUnread(counterpartContactID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chatLocked(counterpartContactID).UnreadCount = 0
}

// SetPresence records a counterpart's online state.
func (c *Cache) SetPresence(contactID string, online bool, lastSeen *time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.presenceLocked(contactID)
	p.IsOnline = online
	if lastSeen != nil {
		p.LastSeen = lastSeen
	}
	if chat, ok := c.chats[contactID]; ok {
		chat.IsOnline = online
	}
}

// SetTyping toggles the ephemeral typing flag; it is never persisted.
func (c *Cache) SetTyping(contactID string, typing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presenceLocked(contactID).IsTyping = typing
}

// Presence returns the cached presence for a contact.
func (c *Cache) Presence(contactID string) models.Presence {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.presence[contactID]; ok {
		return *p
	}
	return models.Presence{ContactID: contactID}
}

func (c *Cache) chatLocked(contactID string) *models.ChatSummary {
	chat, ok := c.chats[contactID]
	if !ok {
		chat = &models.ChatSummary{OwnerContactID: c.selfContactID, ContactID: contactID}
		c.chats[contactID] = chat
	}
	return chat
}

func (c *Cache) presenceLocked(contactID string) *models.Presence {
	p, ok := c.presence[contactID]
	if !ok {
		p = &models.Presence{ContactID: contactID}
		c.presence[contactID] = p
	}
	return p
}
