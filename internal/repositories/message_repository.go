package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"securelink/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// SaveResult reports the outcome of a dual-partition write. Inserted is false
// when the client message id was already persisted; ExistingStatus then holds
// the status of the stored copy so retries can be answered without rewriting.
type SaveResult struct {
	Inserted       bool
	ExistingStatus models.MessageStatus
}

// MessageRepository owns the dual-partition message store. Every write that
// must be atomic runs inside a single transaction, which is the store's batch
// primitive.
type MessageRepository interface {
	SaveConversationPair(ctx context.Context, msg models.Message) (SaveResult, error)
	ListConversation(ctx context.Context, ownerContactID, counterpartContactID string) ([]models.Message, error)
	AdvanceStatus(ctx context.Context, messageID string, to models.MessageStatus) (updated bool, senderContactID string, err error)
	MarkConversationRead(ctx context.Context, ownerContactID, counterpartContactID string) ([]string, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// SaveConversationPair writes the canonical message under both the sender's
// and the recipient's partitions and refreshes both chat summaries, all in
// one transaction. Re-sends with an id that already exists are no-ops: the
// insert conflicts, the counters stay untouched and the stored status is
// returned.
func (r *MessageRepo) SaveConversationPair(ctx context.Context, msg models.Message) (SaveResult, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return SaveResult{}, fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO messages
        (owner_contact_id, id, sender_contact_id, recipient_contact_id, content, type, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (owner_contact_id, id) DO NOTHING`,
		msg.SenderContactID, msg.ID, msg.SenderContactID, msg.RecipientContactID, msg.Content, msg.Type, msg.Status, msg.CreatedAt)
	if err != nil {
		return SaveResult{}, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return SaveResult{}, err
	}
	if count == 0 {
		var existing models.MessageStatus
		if err := tx.GetContext(ctx, &existing, `SELECT status FROM messages WHERE owner_contact_id=$1 AND id=$2`, msg.SenderContactID, msg.ID); err != nil {
			return SaveResult{}, err
		}
		if err := tx.Commit(); err != nil {
			return SaveResult{}, err
		}
		return SaveResult{Inserted: false, ExistingStatus: existing}, nil
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO messages
        (owner_contact_id, id, sender_contact_id, recipient_contact_id, content, type, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (owner_contact_id, id) DO NOTHING`,
		msg.RecipientContactID, msg.ID, msg.SenderContactID, msg.RecipientContactID, msg.Content, msg.Type, msg.Status, msg.CreatedAt); err != nil {
		return SaveResult{}, err
	}

	// Sender's summary: counterpart is the recipient, unread stays zero.
	if _, err := tx.ExecContext(ctx, `INSERT INTO chats (owner_contact_id, contact_id, last_message, last_message_time, unread_count)
        VALUES ($1, $2, $3, $4, 0)
        ON CONFLICT (owner_contact_id, contact_id)
        DO UPDATE SET last_message=EXCLUDED.last_message, last_message_time=EXCLUDED.last_message_time, unread_count=0`,
		msg.SenderContactID, msg.RecipientContactID, msg.Content, msg.CreatedAt); err != nil {
		return SaveResult{}, err
	}

	// Recipient's summary: counterpart is the sender, unread increments.
	if _, err := tx.ExecContext(ctx, `INSERT INTO chats (owner_contact_id, contact_id, last_message, last_message_time, unread_count)
        VALUES ($1, $2, $3, $4, 1)
        ON CONFLICT (owner_contact_id, contact_id)
        DO UPDATE SET last_message=EXCLUDED.last_message, last_message_time=EXCLUDED.last_message_time, unread_count=chats.unread_count+1`,
		msg.RecipientContactID, msg.SenderContactID, msg.Content, msg.CreatedAt); err != nil {
		return SaveResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return SaveResult{}, fmt.Errorf("commit batch: %w", err)
	}
	return SaveResult{Inserted: true, ExistingStatus: msg.Status}, nil
}

// ListConversation returns the owner's copy of a conversation in send order.
func (r *MessageRepo) ListConversation(ctx context.Context, ownerContactID, counterpartContactID string) ([]models.Message, error) {
	query := `SELECT owner_contact_id, id, sender_contact_id, recipient_contact_id, content, type, status, created_at, delivered_at, read_at
        FROM messages
        WHERE owner_contact_id=$1
          AND (sender_contact_id=$2 OR recipient_contact_id=$2)
        ORDER BY created_at ASC`
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, ownerContactID, counterpartContactID)
	return msgs, err
}

// AdvanceStatus moves both stored copies of a message forward. The WHERE
// guard makes the update monotonic and idempotent: a delivered event for a
// message already read matches zero rows and reports updated=false.
func (r *MessageRepo) AdvanceStatus(ctx context.Context, messageID string, to models.MessageStatus) (bool, string, error) {
	var query string
	switch to {
	case models.StatusDelivered:
		query = `UPDATE messages SET status='delivered', delivered_at=NOW()
            WHERE id=$1 AND status IN ('sending', 'sent')
            RETURNING sender_contact_id`
	case models.StatusRead:
		query = `UPDATE messages SET status='read', read_at=NOW()
            WHERE id=$1 AND status IN ('sending', 'sent', 'delivered')
            RETURNING sender_contact_id`
	default:
		return false, "", fmt.Errorf("status %q cannot be advanced to", to)
	}

	var sender string
	err := r.db.GetContext(ctx, &sender, query, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		// Already at or past the target state, or unknown id. Either way the
		// call is a no-op.
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return true, sender, nil
}

// MarkConversationRead advances every counterpart-authored message the owner
// has not read yet, in both partitions, and resets the owner's unread
// counter. The ids of newly read messages are returned so read receipts can
// be relayed to their sender.
func (r *MessageRepo) MarkConversationRead(ctx context.Context, ownerContactID, counterpartContactID string) ([]string, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	var ids []string
	if err := tx.SelectContext(ctx, &ids, `SELECT id FROM messages
        WHERE owner_contact_id=$1 AND sender_contact_id=$2 AND status IN ('sending', 'sent', 'delivered')`,
		ownerContactID, counterpartContactID); err != nil {
		return nil, err
	}

	if len(ids) > 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE messages SET status='read', read_at=NOW()
            WHERE id = ANY($1) AND status IN ('sending', 'sent', 'delivered')`, pq.Array(ids)); err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE chats SET unread_count=0
        WHERE owner_contact_id=$1 AND contact_id=$2`, ownerContactID, counterpartContactID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	return ids, nil
}
