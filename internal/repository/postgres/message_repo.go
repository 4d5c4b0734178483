package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mbellot/loup-garou/internal/model"
)

// MessageRepo handles chat message database operations.
type MessageRepo struct {
	db *sql.DB
}

// NewMessageRepo creates a MessageRepo.
func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Create inserts a new message. RecipientID may be empty for public lines.
func (r *MessageRepo) Create(ctx context.Context, matchID, senderID, recipientID, content string) (*model.Message, error) {
	var m model.Message
	var recip sql.NullString
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO messages (match_id, sender_id, recipient_id, content)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, match_id, sender_id, recipient_id, content, created_at`,
		matchID, senderID, nullStr(recipientID), content,
	).Scan(&m.ID, &m.MatchID, &m.SenderID, &recip, &m.Content, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	m.RecipientID = recip.String
	return &m, nil
}

// ListByMatch returns messages visible to a user in a match: public lines
// plus private ones sent to or by them (role reveals).
func (r *MessageRepo) ListByMatch(ctx context.Context, matchID, userID string) ([]model.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, match_id, sender_id, COALESCE(recipient_id, ''), content, created_at
		 FROM messages
		 WHERE match_id = $1 AND (recipient_id IS NULL OR sender_id = $2 OR recipient_id = $2)
		 ORDER BY created_at`, matchID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.MatchID, &m.SenderID, &m.RecipientID, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
