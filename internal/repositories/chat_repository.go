package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"securelink/internal/models"
)

// ChatRepository reads the denormalized conversation summaries.
type ChatRepository interface {
	ListChats(ctx context.Context, ownerContactID string) ([]models.ChatSummary, error)
}

// ChatRepo is a sqlx implementation of ChatRepository.
type ChatRepo struct {
	db *sqlx.DB
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *sqlx.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

// ListChats returns the owner's chat list, newest conversation first, with
// the counterpart's profile joined in.
func (r *ChatRepo) ListChats(ctx context.Context, ownerContactID string) ([]models.ChatSummary, error) {
	query := `SELECT ch.owner_contact_id, ch.contact_id,
            COALESCE(co.display_name, ch.display_name) AS display_name,
            COALESCE(co.photo_url, ch.photo_url) AS photo_url,
            ch.last_message, ch.last_message_time, ch.unread_count
        FROM chats ch
        LEFT JOIN contacts co ON co.contact_id = ch.contact_id
        WHERE ch.owner_contact_id=$1
        ORDER BY ch.last_message_time DESC NULLS LAST`
	var chats []models.ChatSummary
	err := r.db.SelectContext(ctx, &chats, query, ownerContactID)
	return chats, err
}
