package client

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// QueuedSend is a composed message waiting for connectivity.
type QueuedSend struct {
	ClientMessageID    string    `json:"client_message_id"`
	RecipientContactID string    `json:"recipient_contact_id"`
	Content            string    `json:"content"`
	Type               string    `json:"type"`
	Silent             bool      `json:"silent"`
	QueuedAt           time.Time `json:"queued_at"`
}

// SendQueue is a FIFO queue of pending sends backed by a local badger
// store so queued messages survive app restarts. When the store cannot be
// opened the queue degrades to memory only.
type SendQueue struct {
	mu       sync.Mutex
	items    []QueuedSend
	draining bool
	db       *badger.DB
}

// NewSendQueue opens the queue at path. An empty path or an open failure
// yields an in-memory queue.
func NewSendQueue(path string) *SendQueue {
	q := &SendQueue{}
	if path == "" {
		return q
	}

	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		log.Printf("send queue store unavailable, using memory only: %v", err)
		return q
	}
	q.db = db
	q.restore()
	return q
}

// Time-ordered keys keep badger iteration in enqueue order.
func queueKey(item QueuedSend) []byte {
	return []byte(fmt.Sprintf("queue:%019d:%s", item.QueuedAt.UnixNano(), item.ClientMessageID))
}

func (q *SendQueue) restore() {
	err := q.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("queue:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var item QueuedSend
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &item)
			}); err != nil {
				return err
			}
			q.items = append(q.items, item)
		}
		return nil
	})
	if err != nil {
		log.Printf("failed to restore send queue: %v", err)
	}
}

// Enqueue appends an item and persists it when a store is available.
func (q *SendQueue) Enqueue(item QueuedSend) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, item)
	if q.db == nil {
		return
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return
	}
	if err := q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(queueKey(item), payload)
	}); err != nil {
		log.Printf("failed to persist queued send %s: %v", item.ClientMessageID, err)
	}
}

// Remove drops the item with the given client message id.
func (q *SendQueue) Remove(clientMessageID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, item := range q.items {
		if item.ClientMessageID != clientMessageID {
			continue
		}
		q.items = append(q.items[:i], q.items[i+1:]...)
		if q.db != nil {
			if err := q.db.Update(func(txn *badger.Txn) error {
				return txn.Delete(queueKey(item))
			}); err != nil {
				log.Printf("failed to delete queued send %s: %v", clientMessageID, err)
			}
		}
		return
	}
}

// BeginDrain snapshots the queue in FIFO order and marks a drain in
// progress. A second concurrent drain is refused so the same queued send is
// never submitted twice.
func (q *SendQueue) BeginDrain() ([]QueuedSend, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.draining {
		return nil, false
	}
	q.draining = true
	snapshot := make([]QueuedSend, len(q.items))
	copy(snapshot, q.items)
	return snapshot, true
}

// EndDrain clears the drain flag.
func (q *SendQueue) EndDrain() {
	q.mu.Lock()
	q.draining = false
	q.mu.Unlock()
}

// Len reports how many sends are pending.
func (q *SendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close releases the backing store.
func (q *SendQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.db == nil {
		return nil
	}
	return q.db.Close()
}
