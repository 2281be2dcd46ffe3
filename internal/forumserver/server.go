package forumserver

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"forum-chat/internal/forumdb"
	"forum-chat/internal/hub"
	"forum-chat/internal/storage"
)

// Server bundles the forum HTTP handlers, the real-time hub, middleware, and
// metrics.
type Server struct {
	DB       *sql.DB
	users    *forumdb.Users
	messages *forumdb.Messages
	posts    *forumdb.Posts
	hub      *hub.Hub
	uploads  *storage.UploadStore
	metrics  *Metrics
	upgrader websocket.Upgrader
}

// New creates a Server over db. The upload store may be nil; attachment
// endpoints then answer 503.
func New(db *sql.DB, h *hub.Hub, uploads *storage.UploadStore) *Server {
	return &Server{
		DB:       db,
		users:    &forumdb.Users{DB: db},
		messages: &forumdb.Messages{DB: db},
		posts:    &forumdb.Posts{DB: db},
		hub:      h,
		uploads:  uploads,
		metrics:  &Metrics{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Hub exposes the session registry, mainly for shutdown.
func (s *Server) Hub() *hub.Hub {
	return s.hub
}

// MetricsSnapshot exposes the current counters (useful for tests/logging).
func (s *Server) MetricsSnapshot() MetricsSnapshot {
	return s.metrics.Snapshot()
}

// Router wires up chi routes, middleware, and handlers ready for http.ListenAndServe.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(s.loggingMiddleware())

	r.Post("/api/register", s.registerHandler())
	r.Post("/api/login", s.loginHandler())
	r.Get("/healthz", s.healthHandler())

	r.Group(func(r chi.Router) {
		r.Use(s.authenticated())
		r.Get("/api/chats", s.chatsHandler())
		r.Get("/api/messages", s.messagesHandler())
		r.Post("/api/send-message", s.sendMessageHandler())
		r.Get("/api/posts", s.listPostsHandler())
		r.Post("/api/posts", s.createPostHandler())
		r.Get("/api/comments", s.listCommentsHandler())
		r.Post("/api/comments", s.createCommentHandler())
		r.Post("/api/upload", s.uploadHandler())
		r.Get("/api/uploads/{id}", s.serveUploadHandler())
	})

	r.Get("/ws", s.websocketHandler())

	return r
}
