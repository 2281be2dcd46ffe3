package forumserver

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"forum-chat/internal/authutil"
)

type registerRequest struct {
	Nickname string `json:"nickname"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type userPayload struct {
	ID       int64  `json:"id"`
	Nickname string `json:"nickname"`
	Email    string `json:"email,omitempty"`
}

type loginResponse struct {
	Token string      `json:"token"`
	User  userPayload `json:"user"`
}

type healthPayload struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("response write error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.metrics.HealthChecks.Add(1)
		if err := s.DB.PingContext(r.Context()); err != nil {
			log.Printf("health ping failed: %v", err)
			writeJSON(w, http.StatusServiceUnavailable, healthPayload{Status: "error", Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, healthPayload{Status: "ok", Message: "ok"})
	}
}

func (s *Server) registerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.metrics.RegisterAttempts.Add(1)
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		req.Nickname = strings.TrimSpace(req.Nickname)
		req.Email = strings.TrimSpace(strings.ToLower(req.Email))
		if req.Nickname == "" || req.Email == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "nickname, email and password required")
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "hash error")
			return
		}
		id, err := s.users.Create(r.Context(), req.Nickname, req.Email, string(hash))
		if err != nil {
			writeError(w, http.StatusConflict, "nickname or email already taken")
			return
		}
		token, err := authutil.IssueToken(id, req.Nickname)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "token error")
			return
		}
		writeJSON(w, http.StatusCreated, loginResponse{
			Token: token,
			User:  userPayload{ID: id, Nickname: req.Nickname, Email: req.Email},
		})
	}
}

func (s *Server) loginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.metrics.LoginAttempts.Add(1)
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		user, err := s.users.ByIdentifier(r.Context(), strings.TrimSpace(req.Identifier))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		token, err := authutil.IssueToken(user.ID, user.Nickname)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "token error")
			return
		}
		writeJSON(w, http.StatusOK, loginResponse{
			Token: token,
			User:  userPayload{ID: user.ID, Nickname: user.Nickname, Email: user.Email},
		})
	}
}
