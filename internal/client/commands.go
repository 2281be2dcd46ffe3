package client

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"forum-chat/internal/chatstore"
)

const commandHelp = `commands:
  /chats                refresh the chat list
  /open <name|id>       open a conversation
  /more                 load older messages in the open conversation
  /retry                resend the last failed message
  /posts                list recent forum posts
  /post <title> | <body> publish a post
  /comments <postId>    list comments under a post
  /comment <postId> <text> comment on a post
  /stats                connection counters
  /quit                 exit`

// ReadCLIInput consumes lines from r until EOF, dispatching commands and
// plain messages. It runs on its own goroutine.
func (a *App) ReadCLIInput(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		a.handleInput(scanner.Text())
		select {
		case <-a.ctx.Done():
			return
		default:
		}
	}
}

// handleInput routes one line of user input. Lines starting with "/" are
// commands; anything else goes to the open conversation.
func (a *App) handleInput(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if !strings.HasPrefix(line, "/") {
		a.sendToActive(line)
		return
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "/help":
		a.sink.ShowSystem(commandHelp)
	case "/chats":
		go a.refreshChats()
	case "/open":
		a.openConversation(rest)
	case "/more":
		a.loadOlder()
	case "/retry":
		a.retryLastFailed()
	case "/posts":
		a.listPosts()
	case "/post":
		a.createPost(rest)
	case "/comments":
		a.listComments(rest)
	case "/comment":
		a.createComment(rest)
	case "/stats":
		a.sink.ShowSystem(a.Conn.Metrics().Snapshot().String())
	case "/quit", "/exit":
		a.Shutdown()
	default:
		a.sink.ShowSystem(fmt.Sprintf("unknown command %s (/help for the list)", cmd))
	}
}

func (a *App) sendToActive(text string) {
	peer := a.ActivePeer()
	if peer == 0 {
		a.sink.ShowSystem("no conversation open, /open <name> first")
		return
	}
	if _, err := a.Coord.SendMessage(a.ctx, peer, text, ""); err != nil {
		a.sink.ShowSystem(fmt.Sprintf("send failed: %v (/retry to resend)", err))
	}
}

// openConversation resolves the argument to a peer id, loads the newest
// history page, and renders it.
func (a *App) openConversation(arg string) {
	if arg == "" {
		a.sink.ShowSystem("usage: /open <name|id>")
		return
	}
	peer, ok := a.resolvePeer(arg)
	if !ok {
		a.sink.ShowSystem(fmt.Sprintf("no chat partner matching %q, try /chats", arg))
		return
	}

	a.mu.Lock()
	a.activePeer = peer
	a.printed[peer] = 0
	name := a.peerNameLocked(peer)
	a.mu.Unlock()

	a.Store.Open(peer)
	if err := a.Store.LoadHistory(a.ctx, peer, a.Cfg.HistoryLimit, 0); err != nil {
		a.sink.ShowSystem(fmt.Sprintf("history for %s unavailable: %v", name, err))
	}
	conv := a.Store.Conversation(peer)

	a.mu.Lock()
	a.printed[peer] = len(conv.Messages)
	a.unread[peer] = 0
	a.mu.Unlock()

	a.sink.ShowSystem(fmt.Sprintf("conversation with %s (%d messages)", name, len(conv.Messages)))
	for _, msg := range conv.Messages {
		a.sink.ShowMessage(a.messageView(msg))
	}
	if conv.HasMoreOlder {
		a.sink.ShowSystem("older messages available, /more to load")
	}
	a.Store.MarkRead(peer)
}

// resolvePeer matches a nickname from the chat list cache or parses a raw
// user id.
func (a *App) resolvePeer(arg string) (int64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, name := range a.names {
		if strings.EqualFold(name, arg) {
			return id, true
		}
	}
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil && id > 0 {
		return id, true
	}
	return 0, false
}

func (a *App) loadOlder() {
	peer := a.ActivePeer()
	if peer == 0 {
		a.sink.ShowSystem("no conversation open")
		return
	}
	conv := a.Store.Conversation(peer)
	if !conv.HasMoreOlder {
		a.sink.ShowSystem("no older messages")
		return
	}
	before := len(conv.Messages)
	if err := a.Store.LoadHistory(a.ctx, peer, a.Cfg.HistoryLimit, conv.OldestOffset); err != nil {
		a.sink.ShowSystem(fmt.Sprintf("history load failed: %v", err))
		return
	}
	conv = a.Store.Conversation(peer)
	added := len(conv.Messages) - before

	a.mu.Lock()
	a.printed[peer] = len(conv.Messages)
	a.mu.Unlock()

	a.sink.ShowSystem(fmt.Sprintf("loaded %d older messages, re-rendering", added))
	for _, msg := range conv.Messages {
		a.sink.ShowMessage(a.messageView(msg))
	}
}

// retryLastFailed resends the newest failed message in the open
// conversation.
func (a *App) retryLastFailed() {
	peer := a.ActivePeer()
	if peer == 0 {
		a.sink.ShowSystem("no conversation open")
		return
	}
	conv := a.Store.Conversation(peer)
	var corrID string
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if conv.Messages[i].Delivery == chatstore.DeliveryFailed {
			corrID = conv.Messages[i].CorrelationID
			break
		}
	}
	if corrID == "" {
		a.sink.ShowSystem("nothing to retry")
		return
	}
	retried, err := a.Coord.Retry(a.ctx, peer, corrID)
	switch {
	case err != nil:
		a.sink.ShowSystem(fmt.Sprintf("retry failed: %v", err))
	case retried:
		a.sink.ShowSystem("message resent")
	default:
		a.sink.ShowSystem("nothing to retry")
	}
}

func (a *App) listPosts() {
	posts, err := a.API.Posts(a.ctx)
	if err != nil {
		a.sink.ShowSystem(fmt.Sprintf("posts unavailable: %v", err))
		return
	}
	if len(posts) == 0 {
		a.sink.ShowSystem("no posts yet")
		return
	}
	for _, p := range posts {
		a.sink.ShowSystem(fmt.Sprintf("#%d [%s] %s: %s", p.ID, p.CreatedAt.Format("Jan 2 15:04"), p.Author, p.Title))
	}
}

// createPost expects "title | body"; a missing separator makes the whole
// argument the title.
func (a *App) createPost(arg string) {
	if arg == "" {
		a.sink.ShowSystem("usage: /post <title> | <body>")
		return
	}
	title, body, found := strings.Cut(arg, "|")
	title = strings.TrimSpace(title)
	body = strings.TrimSpace(body)
	if !found {
		body = title
	}
	post, err := a.API.CreatePost(a.ctx, title, body)
	if err != nil {
		a.sink.ShowSystem(fmt.Sprintf("post failed: %v", err))
		return
	}
	a.sink.ShowSystem(fmt.Sprintf("published post #%d", post.ID))
}

func (a *App) listComments(arg string) {
	postID, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || postID <= 0 {
		a.sink.ShowSystem("usage: /comments <postId>")
		return
	}
	comments, err := a.API.Comments(a.ctx, postID)
	if err != nil {
		a.sink.ShowSystem(fmt.Sprintf("comments unavailable: %v", err))
		return
	}
	if len(comments) == 0 {
		a.sink.ShowSystem("no comments yet")
		return
	}
	for _, c := range comments {
		a.sink.ShowSystem(fmt.Sprintf("#%d %s: %s", c.PostID, c.Author, c.Content))
	}
}

func (a *App) createComment(arg string) {
	idPart, text, _ := strings.Cut(arg, " ")
	postID, err := strconv.ParseInt(idPart, 10, 64)
	text = strings.TrimSpace(text)
	if err != nil || postID <= 0 || text == "" {
		a.sink.ShowSystem("usage: /comment <postId> <text>")
		return
	}
	if _, err := a.API.CreateComment(a.ctx, postID, text); err != nil {
		a.sink.ShowSystem(fmt.Sprintf("comment failed: %v", err))
		return
	}
	a.sink.ShowSystem(fmt.Sprintf("comment added to post #%d", postID))
}
