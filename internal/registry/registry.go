package registry

import (
	"log"
	"sync"
	"time"

	"securelink/internal/models"
)

// Channel is the outbound half of a client connection. Send must not block
// indefinitely; implementations enqueue into a bounded buffer and report
// backpressure as an error.
type Channel interface {
	Send(ev models.ChannelEvent) error
	Close()
}

// Connection is the ephemeral binding between an authenticated principal and
// its live channel. At most one Connection per principal is installed at any
// instant.
type Connection struct {
	PrincipalID string
	ContactID   string
	DeviceID    string
	Channel     Channel
	ConnectedAt time.Time

	lastActive time.Time
}

// Registry tracks one live channel per principal. Both indices are guarded by
// a single mutex so a live lookup never observes one index ahead of the
// other.
type Registry struct {
	mu          sync.RWMutex
	byPrincipal map[string]*Connection
	byContact   map[string]string

	idleThreshold time.Duration
	sweepInterval time.Duration
	stop          chan struct{}
	stopOnce      sync.Once

	evictHandler func(*Connection)
}

// New creates an empty registry. The idle sweeper does not run until Start.
func New(idleThreshold, sweepInterval time.Duration) *Registry {
	return &Registry{
		byPrincipal:   make(map[string]*Connection),
		byContact:     make(map[string]string),
		idleThreshold: idleThreshold,
		sweepInterval: sweepInterval,
		stop:          make(chan struct{}),
	}
}

// Register installs the channel as the principal's authoritative connection.
// An existing connection for the same principal is sent a superseded notice
// and closed before the replacement is visible to lookups.
func (r *Registry) Register(principalID, contactID, deviceID string, ch Channel) *Connection {
	now := time.Now()
	conn := &Connection{
		PrincipalID: principalID,
		ContactID:   contactID,
		DeviceID:    deviceID,
		Channel:     ch,
		ConnectedAt: now,
		lastActive:  now,
	}

	r.mu.Lock()
	old := r.byPrincipal[principalID]
	if old != nil {
		_ = old.Channel.Send(models.ChannelEvent{
			Type:   models.EventSuperseded,
			Reason: "connection replaced by a newer device session",
		})
		old.Channel.Close()
	}
	r.byPrincipal[principalID] = conn
	r.byContact[contactID] = principalID
	r.mu.Unlock()

	if old != nil {
		log.Printf("registry: superseded connection principal=%s device=%s", principalID, old.DeviceID)
	}
	return conn
}

// Lookup resolves a contact identity to its live connection, if any.
func (r *Registry) Lookup(contactID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	principalID, ok := r.byContact[contactID]
	if !ok {
		return nil, false
	}
	conn, ok := r.byPrincipal[principalID]
	return conn, ok
}

// Unregister removes conn if it is still the principal's current connection.
// A connection that was superseded removes nothing, so the replacement stays
// registered. The return value tells the caller whether the principal went
// offline.
func (r *Registry) Unregister(conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.byPrincipal[conn.PrincipalID]
	if !ok || current != conn {
		return false
	}
	delete(r.byPrincipal, conn.PrincipalID)
	delete(r.byContact, conn.ContactID)
	return true
}

// SetEvictHandler registers a callback invoked after a connection is
// force-removed, by explicit Evict or by the idle sweep. The owning
// goroutine's Unregister returns false for evicted connections, so the
// handler is the only place an eviction can record the principal going
// offline. Supersede and normal teardown do not fire it.
func (r *Registry) SetEvictHandler(handler func(*Connection)) {
	r.mu.Lock()
	r.evictHandler = handler
	r.mu.Unlock()
}

// Evict force-removes whatever connection the principal holds.
func (r *Registry) Evict(principalID string) {
	r.mu.Lock()
	conn, ok := r.byPrincipal[principalID]
	if ok {
		delete(r.byPrincipal, principalID)
		delete(r.byContact, conn.ContactID)
	}
	handler := r.evictHandler
	r.mu.Unlock()

	if !ok {
		return
	}
	conn.Channel.Close()
	if handler != nil {
		handler(conn)
	}
}

// Touch refreshes the principal's last-active timestamp. Heartbeats and any
// inbound event call this so active clients are never idle-evicted.
func (r *Registry) Touch(principalID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.byPrincipal[principalID]; ok {
		conn.lastActive = time.Now()
	}
}

// Broadcast sends the event to every live connection except the named
// principal. Send failures are left to each connection's own lifecycle.
func (r *Registry) Broadcast(ev models.ChannelEvent, exceptPrincipalID string) {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.byPrincipal))
	for id, conn := range r.byPrincipal {
		if id == exceptPrincipalID {
			continue
		}
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.Channel.Send(ev); err != nil {
			log.Printf("registry: broadcast to %s failed: %v", conn.ContactID, err)
		}
	}
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPrincipal)
}

// Start launches the idle sweeper. It only reads timestamps and evicts; it
// never blocks request handling.
func (r *Registry) Start() {
	go func() {
		ticker := time.NewTicker(r.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sweepIdle(time.Now())
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop cancels the idle sweeper.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Registry) sweepIdle(now time.Time) {
	r.mu.Lock()
	var stale []*Connection
	for _, conn := range r.byPrincipal {
		if now.Sub(conn.lastActive) > r.idleThreshold {
			stale = append(stale, conn)
		}
	}
	for _, conn := range stale {
		delete(r.byPrincipal, conn.PrincipalID)
		delete(r.byContact, conn.ContactID)
	}
	handler := r.evictHandler
	r.mu.Unlock()

	for _, conn := range stale {
		_ = conn.Channel.Send(models.ChannelEvent{
			Type:   models.EventError,
			Code:   models.CodeIdleTimeout,
			Reason: "connection idle past threshold",
		})
		conn.Channel.Close()
		if handler != nil {
			handler(conn)
		}
		log.Printf("registry: idle-evicted principal=%s contact=%s", conn.PrincipalID, conn.ContactID)
	}
}
