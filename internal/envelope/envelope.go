package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is the typed unit exchanged over the real-time channel. The
// payload shape depends on Type.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

const (
	TypeChatMessage      = "chat_message"
	TypeTyping           = "typing"
	TypeOnlineStatus     = "online_status"
	TypePresenceSnapshot = "presence_snapshot"
	TypeNewPost          = "new_post"
	TypeNewComment       = "new_comment"
)

// ChatMessage carries a direct message between two users. CorrelationID is
// generated by the sending client and echoed by the server so optimistic
// local copies can be matched to their confirmed counterparts.
type ChatMessage struct {
	ID            int64     `json:"id,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	SenderID      int64     `json:"senderId"`
	ReceiverID    int64     `json:"receiverId"`
	Content       string    `json:"content"`
	ImageURL      string    `json:"imageUrl,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Typing signals that a user started or stopped composing a message.
type Typing struct {
	SenderID   int64 `json:"senderId"`
	ReceiverID int64 `json:"receiverId"`
	IsTyping   bool  `json:"isTyping"`
}

// OnlineStatus announces a single user's presence transition.
type OnlineStatus struct {
	UserID   int64 `json:"userId"`
	IsOnline bool  `json:"isOnline"`
}

// PresenceSnapshot lists every currently-online user. Sent to a session
// right after it attaches so the client never has to guess who is offline.
type PresenceSnapshot struct {
	UserIDs []int64 `json:"userIds"`
}

// NewPost announces a freshly created forum post.
type NewPost struct {
	PostID   int64 `json:"postId"`
	AuthorID int64 `json:"authorId"`
}

// NewComment announces a comment added to a post.
type NewComment struct {
	PostID    int64 `json:"postId"`
	CommentID int64 `json:"commentId"`
	AuthorID  int64 `json:"authorId"`
}

// Encode wraps a payload value into a wire-ready envelope.
func Encode(typ string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return Envelope{Type: typ, Payload: raw}, nil
}

// Decode parses the payload of an envelope into dst.
func Decode(env Envelope, dst any) error {
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return nil
}

// NewCorrelationID returns a fresh id for an outbound chat message.
func NewCorrelationID() string {
	return uuid.NewString()
}
