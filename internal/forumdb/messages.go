package forumdb

import (
	"context"
	"database/sql"
	"time"
)

// Message is one direct-message row.
type Message struct {
	ID            int64
	SenderID      int64
	ReceiverID    int64
	Content       string
	ImageURL      string
	CorrelationID string
	CreatedAt     time.Time
}

// ChatSummary is one row of the chat list: every other user, ordered by the
// most recent conversation first and alphabetically for users never
// messaged.
type ChatSummary struct {
	UserID        int64
	Nickname      string
	LastMessage   string
	LastMessageAt time.Time
	UnreadCount   int
}

// Messages reads and writes the direct-message table.
type Messages struct {
	DB *sql.DB
}

// Insert persists one message and returns the confirmed row with its server
// id and timestamp.
func (m *Messages) Insert(ctx context.Context, msg Message) (Message, error) {
	err := m.DB.QueryRowContext(ctx,
		`INSERT INTO messages (sender_id, receiver_id, content, image_url, correlation_id)
		 VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))
		 RETURNING id, created_at`,
		msg.SenderID, msg.ReceiverID, msg.Content, msg.ImageURL, msg.CorrelationID,
	).Scan(&msg.ID, &msg.CreatedAt)
	return msg, err
}

// History returns one page of the conversation between selfID and peerID,
// newest first.
func (m *Messages) History(ctx context.Context, selfID, peerID int64, limit, offset int) ([]Message, error) {
	rows, err := m.DB.QueryContext(ctx,
		`SELECT id, sender_id, receiver_id, content, COALESCE(image_url, ''), COALESCE(correlation_id, ''), created_at
		 FROM messages
		 WHERE (sender_id=$1 AND receiver_id=$2) OR (sender_id=$2 AND receiver_id=$1)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3 OFFSET $4`,
		selfID, peerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &msg.ImageURL, &msg.CorrelationID, &msg.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// MarkRead flags everything peerID sent to selfID as read.
func (m *Messages) MarkRead(ctx context.Context, selfID, peerID int64) error {
	_, err := m.DB.ExecContext(ctx,
		`UPDATE messages SET read=TRUE WHERE sender_id=$1 AND receiver_id=$2 AND read=FALSE`,
		peerID, selfID)
	return err
}

// Summaries builds the chat list for selfID.
func (m *Messages) Summaries(ctx context.Context, selfID int64) ([]ChatSummary, error) {
	rows, err := m.DB.QueryContext(ctx,
		`SELECT u.id, u.nickname,
		        COALESCE(last.content, ''), last.created_at,
		        COALESCE(unread.count, 0)
		 FROM users u
		 LEFT JOIN LATERAL (
		     SELECT content, created_at FROM messages
		     WHERE (sender_id=u.id AND receiver_id=$1) OR (sender_id=$1 AND receiver_id=u.id)
		     ORDER BY created_at DESC, id DESC LIMIT 1
		 ) last ON TRUE
		 LEFT JOIN LATERAL (
		     SELECT COUNT(*) AS count FROM messages
		     WHERE sender_id=u.id AND receiver_id=$1 AND read=FALSE
		 ) unread ON TRUE
		 WHERE u.id <> $1
		 ORDER BY last.created_at DESC NULLS LAST, LOWER(u.nickname) ASC`,
		selfID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChatSummary
	for rows.Next() {
		var s ChatSummary
		var lastAt sql.NullTime
		if err := rows.Scan(&s.UserID, &s.Nickname, &s.LastMessage, &lastAt, &s.UnreadCount); err != nil {
			return nil, err
		}
		if lastAt.Valid {
			s.LastMessageAt = lastAt.Time
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
