package db

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect initializes the database connection and runs migrations.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS contacts (
            principal_id TEXT PRIMARY KEY,
            contact_id TEXT NOT NULL UNIQUE,
            display_name TEXT NOT NULL DEFAULT '',
            photo_url TEXT NOT NULL DEFAULT '',
            push_token TEXT NOT NULL DEFAULT '',
            notifications_enabled BOOLEAN NOT NULL DEFAULT TRUE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            owner_contact_id TEXT NOT NULL,
            id UUID NOT NULL,
            sender_contact_id TEXT NOT NULL,
            recipient_contact_id TEXT NOT NULL,
            content TEXT NOT NULL,
            type TEXT NOT NULL DEFAULT 'text',
            status TEXT NOT NULL DEFAULT 'sent',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            delivered_at TIMESTAMPTZ,
            read_at TIMESTAMPTZ,
            PRIMARY KEY (owner_contact_id, id)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation
            ON messages (owner_contact_id, sender_contact_id, recipient_contact_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS chats (
            owner_contact_id TEXT NOT NULL,
            contact_id TEXT NOT NULL,
            display_name TEXT NOT NULL DEFAULT '',
            photo_url TEXT NOT NULL DEFAULT '',
            last_message TEXT NOT NULL DEFAULT '',
            last_message_time TIMESTAMPTZ,
            unread_count INT NOT NULL DEFAULT 0,
            PRIMARY KEY (owner_contact_id, contact_id)
        );`,
		`CREATE TABLE IF NOT EXISTS presence (
            contact_id TEXT PRIMARY KEY,
            is_online BOOLEAN NOT NULL DEFAULT FALSE,
            last_seen TIMESTAMPTZ
        );`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	log.Println("database migrations applied")
	return nil
}
