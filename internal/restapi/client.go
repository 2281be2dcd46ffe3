package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"forum-chat/internal/chatstore"
)

// APIError carries the HTTP status and server message of a failed call so
// callers can distinguish client mistakes from server trouble.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

// User is the authenticated account as the server reports it.
type User struct {
	ID       int64  `json:"id"`
	Nickname string `json:"nickname"`
	Email    string `json:"email,omitempty"`
}

// ChatSummary is one row of the chat list: the peer plus conversation
// metadata for ordering and badges.
type ChatSummary struct {
	UserID        int64     `json:"userId"`
	Nickname      string    `json:"nickname"`
	IsOnline      bool      `json:"isOnline"`
	LastMessage   string    `json:"lastMessage,omitempty"`
	LastMessageAt time.Time `json:"lastMessageAt,omitempty"`
	UnreadCount   int       `json:"unreadCount"`
}

// Post is a forum post as returned by the feed endpoints.
type Post struct {
	ID        int64     `json:"id"`
	AuthorID  int64     `json:"authorId"`
	Author    string    `json:"author"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Comment is one comment under a post.
type Comment struct {
	ID        int64     `json:"id"`
	PostID    int64     `json:"postId"`
	AuthorID  int64     `json:"authorId"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// SendMessageRequest is the persistence half of a direct-message send.
type SendMessageRequest struct {
	ReceiverID    int64  `json:"receiverId"`
	Content       string `json:"content"`
	ImageURL      string `json:"imageUrl,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// Client talks to the forum HTTP API. It is safe for concurrent use; the
// bearer token is replaced atomically on login.
type Client struct {
	base string
	http *http.Client

	mu    sync.RWMutex
	token string
}

func NewClient(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

// SetToken installs the bearer token used for authenticated calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the currently installed bearer token.
func (c *Client) Token() string {
	return c.currentToken()
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

type loginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Login authenticates with a nickname or email plus password. On success the
// returned token is installed on the client.
func (c *Client) Login(ctx context.Context, identifier, password string) (User, error) {
	body := map[string]string{"identifier": identifier, "password": password}
	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "/api/login", nil, body, &resp); err != nil {
		return User{}, err
	}
	c.SetToken(resp.Token)
	return resp.User, nil
}

// Register creates an account and logs it in.
func (c *Client) Register(ctx context.Context, nickname, email, password string) (User, error) {
	body := map[string]string{"nickname": nickname, "email": email, "password": password}
	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "/api/register", nil, body, &resp); err != nil {
		return User{}, err
	}
	c.SetToken(resp.Token)
	return resp.User, nil
}

// Chats returns the chat list ordered by the server: most recent
// conversation first, then alphabetically for users never messaged.
func (c *Client) Chats(ctx context.Context) ([]ChatSummary, error) {
	var out []ChatSummary
	if err := c.do(ctx, http.MethodGet, "/api/chats", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Messages fetches one page of direct-message history with peerID. The
// result is ascending by creation time regardless of server ordering, which
// is what a history merge wants.
func (c *Client) Messages(ctx context.Context, peerID int64, limit, offset int) ([]chatstore.Message, error) {
	q := url.Values{}
	q.Set("userId", fmt.Sprintf("%d", peerID))
	q.Set("limit", fmt.Sprintf("%d", limit))
	q.Set("offset", fmt.Sprintf("%d", offset))
	var out []chatstore.Message
	if err := c.do(ctx, http.MethodGet, "/api/messages", q, nil, &out); err != nil {
		return nil, err
	}
	for i := 1; i < len(out); i++ {
		if out[i].CreatedAt.Before(out[i-1].CreatedAt) {
			reverse(out)
			break
		}
	}
	return out, nil
}

// SendMessage persists one direct message and returns the confirmed row with
// its server id and timestamp.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (chatstore.Message, error) {
	var out chatstore.Message
	if err := c.do(ctx, http.MethodPost, "/api/send-message", nil, req, &out); err != nil {
		return chatstore.Message{}, err
	}
	if out.CorrelationID == "" {
		out.CorrelationID = req.CorrelationID
	}
	return out, nil
}

// Posts returns the forum feed, newest first.
func (c *Client) Posts(ctx context.Context) ([]Post, error) {
	var out []Post
	if err := c.do(ctx, http.MethodGet, "/api/posts", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreatePost publishes a post; the server broadcasts it to online users.
func (c *Client) CreatePost(ctx context.Context, title, content string) (Post, error) {
	body := map[string]string{"title": title, "content": content}
	var out Post
	if err := c.do(ctx, http.MethodPost, "/api/posts", nil, body, &out); err != nil {
		return Post{}, err
	}
	return out, nil
}

// Comments lists the comments under a post, oldest first.
func (c *Client) Comments(ctx context.Context, postID int64) ([]Comment, error) {
	q := url.Values{}
	q.Set("postId", fmt.Sprintf("%d", postID))
	var out []Comment
	if err := c.do(ctx, http.MethodGet, "/api/comments", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateComment adds a comment to a post.
func (c *Client) CreateComment(ctx context.Context, postID int64, content string) (Comment, error) {
	body := map[string]any{"postId": postID, "content": content}
	var out Comment
	if err := c.do(ctx, http.MethodPost, "/api/comments", nil, body, &out); err != nil {
		return Comment{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, dst any) error {
	endpoint := c.base + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.currentToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if dst == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&payload); err == nil {
		if payload.Error != "" {
			apiErr.Message = payload.Error
		} else {
			apiErr.Message = payload.Message
		}
	}
	return apiErr
}

func reverse(msgs []chatstore.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
