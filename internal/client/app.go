package client

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"forum-chat/internal/chatstore"
	"forum-chat/internal/delivery"
	"forum-chat/internal/envelope"
	"forum-chat/internal/presence"
	"forum-chat/internal/realtime"
	"forum-chat/internal/restapi"
	"forum-chat/internal/storage"
	"forum-chat/internal/ui"
)

// App encapsulates the client runtime: session, REST API, real-time
// connection, stores, and UI surfaces.
type App struct {
	Cfg *Config

	ctx    context.Context
	cancel context.CancelFunc

	API      *restapi.Client
	Conn     *realtime.Manager
	Presence *presence.Tracker
	Store    *chatstore.Store
	Coord    *delivery.Coordinator
	Cache    *storage.ConversationCache

	user restapi.User
	sink ui.Sink
	tui  *ui.TUIDisplay

	mu         sync.Mutex
	names      map[int64]string
	printed    map[int64]int
	unread     map[int64]int
	activePeer int64

	unbinds      []func()
	startOnce    sync.Once
	shutdownOnce sync.Once
}

// NewApp authenticates the session and wires all client dependencies.
func NewApp(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())

	api := restapi.NewClient(cfg.ServerURL)
	var user restapi.User
	var err error
	if cfg.Register {
		user, err = api.Register(ctx, cfg.Nickname, cfg.Email, cfg.Password)
	} else {
		user, err = api.Login(ctx, cfg.Identifier, cfg.Password)
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	cache, err := storage.OpenConversationCache(cfg.CacheDB)
	if err != nil {
		log.Printf("conversation cache unavailable (%v), running without local persistence", err)
		cache = nil
	}

	var store *chatstore.Store
	if cache != nil {
		store = chatstore.NewStore(user.ID, api, cache)
	} else {
		store = chatstore.NewStore(user.ID, api, nil)
	}

	conn := realtime.NewManager(realtime.Options{
		URL:  cfg.WebSocketURL(),
		Dial: realtime.WebSocketDialer(api.Token()),
	})
	coord := delivery.NewCoordinator(user.ID, store, api, conn)

	app := &App{
		Cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		API:      api,
		Conn:     conn,
		Presence: presence.NewTracker(),
		Store:    store,
		Coord:    coord,
		Cache:    cache,
		user:     user,
		names:    make(map[int64]string),
		printed:  make(map[int64]int),
		unread:   make(map[int64]int),
	}
	return app, nil
}

// User returns the authenticated account.
func (a *App) User() restapi.User {
	return a.user
}

// Start launches the event bindings, the connection, and the UIs.
func (a *App) Start() {
	a.startOnce.Do(func() {
		var sinks []ui.Sink
		if a.Cfg.UseTUI {
			a.tui = ui.NewTUIDisplay(a.handleInput, func() {
				if peer := a.ActivePeer(); peer != 0 {
					a.Coord.NotifyTyping(peer)
				}
			})
			sinks = append(sinks, a.tui)
		}
		if a.Cfg.UseCLI {
			sinks = append(sinks, ui.NewCLIDisplay(ui.ShouldUseColor(a.Cfg.NoColor)))
		}
		a.sink = ui.NewMultiSink(sinks...)

		a.bindEvents()
		a.Conn.Start(realtime.Session{
			UserID:      a.user.ID,
			DisplayName: a.user.Nickname,
			Token:       a.API.Token(),
		})

		if a.tui != nil {
			go func() {
				if err := a.tui.Run(a.ctx); err != nil {
					log.Printf("tui error: %v", err)
				}
			}()
		}
		if a.Cfg.UseCLI {
			go a.ReadCLIInput(os.Stdin)
		}

		a.sink.ShowSystem(fmt.Sprintf("logged in as %s", a.user.Nickname))
		go a.refreshChats()
	})
}

func (a *App) bindEvents() {
	a.unbinds = append(a.unbinds,
		a.Coord.Bind(a.Conn),
		a.Presence.Bind(a.Conn),
		a.Store.OnChange(a.onStoreChange),
		a.Presence.OnChange(a.onPresenceChange),
		a.Coord.OnPeerTyping(a.onPeerTyping),
		a.Conn.OnStateChange(a.onStateChange),
		a.Conn.OnEvent(envelope.TypeNewPost, a.onNewPost),
		a.Conn.OnEvent(envelope.TypeNewComment, a.onNewComment),
	)
}

func (a *App) onStateChange(state realtime.State) {
	switch state {
	case realtime.StateOpen:
		a.sink.ShowSystem("connected")
	case realtime.StateReconnecting:
		a.Presence.Reset()
		a.sink.ShowSystem("connection lost, retrying...")
	case realtime.StateClosed:
		a.sink.ShowSystem("connection closed")
	}
}

// onStoreChange renders new messages for the open conversation and raises
// notifications for the rest.
func (a *App) onStoreChange(peerID int64) {
	conv := a.Store.Conversation(peerID)

	a.mu.Lock()
	active := a.activePeer
	name := a.peerNameLocked(peerID)
	prevUnread := a.unread[peerID]
	a.unread[peerID] = conv.UnreadCount
	var fresh []chatstore.Message
	if peerID == active {
		printed := a.printed[peerID]
		if printed > len(conv.Messages) {
			printed = len(conv.Messages)
		}
		fresh = conv.Messages[printed:]
		a.printed[peerID] = len(conv.Messages)
	}
	a.mu.Unlock()

	for _, msg := range fresh {
		a.sink.ShowMessage(a.messageView(msg))
	}
	if peerID == active && conv.UnreadCount > 0 {
		a.Store.MarkRead(peerID)
	}
	if peerID != active && conv.UnreadCount > prevUnread {
		last := conv.Messages[len(conv.Messages)-1]
		a.sink.ShowNotification(ui.Notification{
			Text:      fmt.Sprintf("%s: %s", name, last.Content),
			Level:     "dm",
			Timestamp: last.CreatedAt,
			From:      name,
		})
	}
}

func (a *App) onPresenceChange(change presence.Change) {
	a.mu.Lock()
	name := a.peerNameLocked(change.UserID)
	a.mu.Unlock()
	if change.IsOnline {
		a.sink.ShowSystem(fmt.Sprintf("%s is online", name))
	} else {
		a.sink.ShowSystem(fmt.Sprintf("%s went offline", name))
	}
}

func (a *App) onPeerTyping(typ envelope.Typing) {
	if typ.SenderID != a.ActivePeer() {
		return
	}
	a.mu.Lock()
	name := a.peerNameLocked(typ.SenderID)
	a.mu.Unlock()
	a.sink.ShowTyping(name, typ.IsTyping)
}

func (a *App) onNewPost(env envelope.Envelope) {
	var post envelope.NewPost
	if err := envelope.Decode(env, &post); err != nil {
		return
	}
	a.mu.Lock()
	author := a.peerNameLocked(post.AuthorID)
	a.mu.Unlock()
	a.sink.ShowNotification(ui.Notification{
		Text:  fmt.Sprintf("%s published a new post (/posts to read)", author),
		Level: "forum",
		From:  author,
	})
}

func (a *App) onNewComment(env envelope.Envelope) {
	var comment envelope.NewComment
	if err := envelope.Decode(env, &comment); err != nil {
		return
	}
	a.mu.Lock()
	author := a.peerNameLocked(comment.AuthorID)
	a.mu.Unlock()
	a.sink.ShowNotification(ui.Notification{
		Text:  fmt.Sprintf("%s commented on post %d", author, comment.PostID),
		Level: "forum",
		From:  author,
	})
}

// ActivePeer returns the peer of the open conversation, 0 when none.
func (a *App) ActivePeer() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.activePeer
}

func (a *App) messageView(msg chatstore.Message) ui.MessageView {
	a.mu.Lock()
	sender := a.peerNameLocked(msg.SenderID)
	a.mu.Unlock()
	own := msg.SenderID == a.user.ID
	if own {
		sender = a.user.Nickname
	}
	view := ui.MessageView{
		Sender:   sender,
		Content:  msg.Content,
		ImageURL: msg.ImageURL,
		At:       msg.CreatedAt,
		Own:      own,
	}
	switch msg.Delivery {
	case chatstore.DeliveryPending:
		view.State = "pending"
	case chatstore.DeliveryFailed:
		view.State = "failed"
	}
	return view
}

// peerNameLocked resolves a nickname from the chat list cache; callers hold
// a.mu.
func (a *App) peerNameLocked(userID int64) string {
	if name, ok := a.names[userID]; ok {
		return name
	}
	return fmt.Sprintf("user-%d", userID)
}

// refreshChats fetches the chat list and pushes it to the UI.
func (a *App) refreshChats() {
	chats, err := a.API.Chats(a.ctx)
	if err != nil {
		a.sink.ShowSystem(fmt.Sprintf("chat list unavailable: %v", err))
		return
	}
	entries := make([]ui.ChatEntry, 0, len(chats))
	a.mu.Lock()
	for _, chat := range chats {
		a.names[chat.UserID] = chat.Nickname
	}
	a.mu.Unlock()
	for _, chat := range chats {
		online := chat.IsOnline
		if a.Presence.Seeded() {
			online = a.Presence.IsOnline(chat.UserID)
		}
		entries = append(entries, ui.ChatEntry{
			UserID:      chat.UserID,
			Name:        chat.Nickname,
			Online:      online,
			UnreadCount: chat.UnreadCount,
		})
	}
	a.sink.UpdateChats(entries)
}

// Shutdown stops background goroutines and releases resources.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		for _, off := range a.unbinds {
			off()
		}
		a.Conn.Stop()
		if a.Cache != nil {
			if err := a.Cache.Close(); err != nil {
				log.Printf("close cache: %v", err)
			}
		}
		a.cancel()
	})
}

// WaitForShutdown blocks until an interrupt signal arrives, then shuts down
// the client gracefully.
func WaitForShutdown(app *App) {
	if app == nil {
		return
	}
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-app.ctx.Done():
	}
	log.Println("shutting down...")
	app.Shutdown()
}
