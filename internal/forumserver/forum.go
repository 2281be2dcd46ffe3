package forumserver

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"forum-chat/internal/envelope"
)

const feedLimit = 50

type postPayload struct {
	ID        int64     `json:"id"`
	AuthorID  int64     `json:"authorId"`
	Author    string    `json:"author"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type commentPayload struct {
	ID        int64     `json:"id"`
	PostID    int64     `json:"postId"`
	AuthorID  int64     `json:"authorId"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Server) listPostsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		posts, err := s.posts.List(r.Context(), feedLimit)
		if err != nil {
			log.Printf("list posts: %v", err)
			writeError(w, http.StatusInternalServerError, "query failed")
			return
		}
		out := make([]postPayload, 0, len(posts))
		for _, p := range posts {
			out = append(out, postPayload(p))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) createPostHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident := identityFrom(r)
		var req struct {
			Title   string `json:"title"`
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		req.Title = strings.TrimSpace(req.Title)
		req.Content = strings.TrimSpace(req.Content)
		if req.Title == "" || req.Content == "" {
			writeError(w, http.StatusBadRequest, "title and content required")
			return
		}
		post, err := s.posts.Insert(r.Context(), ident.UserID, req.Title, req.Content)
		if err != nil {
			log.Printf("create post for user %d: %v", ident.UserID, err)
			writeError(w, http.StatusInternalServerError, "store failed")
			return
		}
		post.Author = ident.Nickname
		s.metrics.PostsCreated.Add(1)

		if env, err := envelope.Encode(envelope.TypeNewPost, envelope.NewPost{
			PostID: post.ID, AuthorID: ident.UserID,
		}); err == nil {
			s.hub.Broadcast(env, ident.UserID)
		}
		writeJSON(w, http.StatusCreated, postPayload(post))
	}
}

func (s *Server) listCommentsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		postID, err := strconv.ParseInt(r.URL.Query().Get("postId"), 10, 64)
		if err != nil || postID <= 0 {
			writeError(w, http.StatusBadRequest, "postId required")
			return
		}
		comments, err := s.posts.CommentsByPost(r.Context(), postID)
		if err != nil {
			log.Printf("list comments for post %d: %v", postID, err)
			writeError(w, http.StatusInternalServerError, "query failed")
			return
		}
		out := make([]commentPayload, 0, len(comments))
		for _, c := range comments {
			out = append(out, commentPayload(c))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) createCommentHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident := identityFrom(r)
		var req struct {
			PostID  int64  `json:"postId"`
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		req.Content = strings.TrimSpace(req.Content)
		if req.PostID <= 0 || req.Content == "" {
			writeError(w, http.StatusBadRequest, "postId and content required")
			return
		}
		exists, err := s.posts.PostExists(r.Context(), req.PostID)
		if err != nil {
			log.Printf("check post %d: %v", req.PostID, err)
			writeError(w, http.StatusInternalServerError, "query failed")
			return
		}
		if !exists {
			writeError(w, http.StatusNotFound, "unknown post")
			return
		}
		comment, err := s.posts.InsertComment(r.Context(), req.PostID, ident.UserID, req.Content)
		if err != nil {
			log.Printf("create comment for user %d: %v", ident.UserID, err)
			writeError(w, http.StatusInternalServerError, "store failed")
			return
		}
		comment.Author = ident.Nickname

		if env, err := envelope.Encode(envelope.TypeNewComment, envelope.NewComment{
			PostID: comment.PostID, CommentID: comment.ID, AuthorID: ident.UserID,
		}); err == nil {
			s.hub.Broadcast(env, ident.UserID)
		}
		writeJSON(w, http.StatusCreated, commentPayload(comment))
	}
}

func (s *Server) uploadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.uploads == nil {
			writeError(w, http.StatusServiceUnavailable, "uploads disabled")
			return
		}
		ident := identityFrom(r)
		file, header, err := r.FormFile("image")
		if err != nil {
			writeError(w, http.StatusBadRequest, "image file required")
			return
		}
		defer file.Close()
		record, err := s.uploads.Save(header.Filename, ident.UserID, file)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"url": record.URL()})
	}
}

func (s *Server) serveUploadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.uploads == nil {
			writeError(w, http.StatusServiceUnavailable, "uploads disabled")
			return
		}
		record, f, err := s.uploads.Open(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		defer f.Close()
		w.Header().Set("Content-Type", record.Mime)
		if _, err := io.Copy(w, f); err != nil {
			log.Printf("serve upload %s: %v", record.ID, err)
		}
	}
}
