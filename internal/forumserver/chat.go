package forumserver

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"forum-chat/internal/forumdb"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type chatSummaryPayload struct {
	UserID        int64      `json:"userId"`
	Nickname      string     `json:"nickname"`
	IsOnline      bool       `json:"isOnline"`
	LastMessage   string     `json:"lastMessage,omitempty"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	UnreadCount   int        `json:"unreadCount"`
}

type messagePayload struct {
	ID            int64     `json:"id"`
	SenderID      int64     `json:"senderId"`
	ReceiverID    int64     `json:"receiverId"`
	Content       string    `json:"content"`
	ImageURL      string    `json:"imageUrl,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func toMessagePayload(msg forumdb.Message) messagePayload {
	return messagePayload{
		ID:            msg.ID,
		SenderID:      msg.SenderID,
		ReceiverID:    msg.ReceiverID,
		Content:       msg.Content,
		ImageURL:      msg.ImageURL,
		CorrelationID: msg.CorrelationID,
		CreatedAt:     msg.CreatedAt,
	}
}

func (s *Server) chatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident := identityFrom(r)
		summaries, err := s.messages.Summaries(r.Context(), ident.UserID)
		if err != nil {
			log.Printf("chat summaries for user %d: %v", ident.UserID, err)
			writeError(w, http.StatusInternalServerError, "query failed")
			return
		}
		out := make([]chatSummaryPayload, 0, len(summaries))
		for _, sum := range summaries {
			payload := chatSummaryPayload{
				UserID:      sum.UserID,
				Nickname:    sum.Nickname,
				IsOnline:    s.hub.IsOnline(sum.UserID),
				LastMessage: sum.LastMessage,
				UnreadCount: sum.UnreadCount,
			}
			if !sum.LastMessageAt.IsZero() {
				at := sum.LastMessageAt
				payload.LastMessageAt = &at
			}
			out = append(out, payload)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// messagesHandler returns one page of history with the peer named by the
// userId query parameter, newest first. Fetching a page marks the peer's
// messages as read, mirroring the conversation being on screen.
func (s *Server) messagesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident := identityFrom(r)
		peerID, err := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
		if err != nil || peerID <= 0 {
			writeError(w, http.StatusBadRequest, "userId required")
			return
		}
		limit := queryInt(r, "limit", defaultHistoryLimit)
		if limit > maxHistoryLimit {
			limit = maxHistoryLimit
		}
		offset := queryInt(r, "offset", 0)

		page, err := s.messages.History(r.Context(), ident.UserID, peerID, limit, offset)
		if err != nil {
			log.Printf("history for user %d peer %d: %v", ident.UserID, peerID, err)
			writeError(w, http.StatusInternalServerError, "query failed")
			return
		}
		if offset == 0 {
			if err := s.messages.MarkRead(r.Context(), ident.UserID, peerID); err != nil {
				log.Printf("mark read for user %d peer %d: %v", ident.UserID, peerID, err)
			}
		}
		out := make([]messagePayload, 0, len(page))
		for _, msg := range page {
			out = append(out, toMessagePayload(msg))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type sendMessageRequest struct {
	ReceiverID    int64  `json:"receiverId"`
	Content       string `json:"content"`
	ImageURL      string `json:"imageUrl"`
	CorrelationID string `json:"correlationId"`
}

// sendMessageHandler persists one direct message and returns the confirmed
// row. Fan-out to the receiver rides the sender's live frame, not this
// endpoint, so an offline receiver simply finds the message in history.
func (s *Server) sendMessageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident := identityFrom(r)
		var req sendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		req.Content = strings.TrimSpace(req.Content)
		if req.Content == "" && req.ImageURL == "" {
			writeError(w, http.StatusBadRequest, "content required")
			return
		}
		if req.ReceiverID <= 0 || req.ReceiverID == ident.UserID {
			writeError(w, http.StatusBadRequest, "invalid receiver")
			return
		}
		if _, err := s.users.ByID(r.Context(), req.ReceiverID); err != nil {
			writeError(w, http.StatusBadRequest, "unknown receiver")
			return
		}
		msg, err := s.messages.Insert(r.Context(), forumdb.Message{
			SenderID:      ident.UserID,
			ReceiverID:    req.ReceiverID,
			Content:       req.Content,
			ImageURL:      req.ImageURL,
			CorrelationID: req.CorrelationID,
		})
		if err != nil {
			log.Printf("store message from user %d: %v", ident.UserID, err)
			writeError(w, http.StatusInternalServerError, "store failed")
			return
		}
		s.metrics.MessagesStored.Add(1)
		writeJSON(w, http.StatusCreated, toMessagePayload(msg))
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
