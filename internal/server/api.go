// HTTP account/conversation routes carried over from the relay's JSON
// API: registration, login, profile, contact list, and history.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/samber/lo"

	"github.com/halcyonchat/halcyon/internal/auth"
	"github.com/halcyonchat/halcyon/internal/storage"
)

type registerRequest struct {
	Username string `json:"username" validate:"required,min=2,max=32,alphanum"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type profileRequest struct {
	FirstName string `json:"first_name" validate:"max=64"`
	LastName  string `json:"last_name" validate:"max=64"`
	Avatar    string `json:"avatar" validate:"max=2048"`
}

type createChatRequest struct {
	Peer string `json:"peer" validate:"required"`
}

type userProfile struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	AvatarURL string `json:"avatar_url"`
}

type contactItem struct {
	ChatID   int64       `json:"chat_id"`
	Peer     userProfile `json:"peer"`
	LastText string      `json:"last_text"`
	Online   bool        `json:"online"`
	LastSeen string      `json:"last_seen"`
	Unread   int         `json:"unread"`
}

func toProfile(u storage.User) userProfile {
	return userProfile{
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		AvatarURL: u.AvatarURL,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}

// decodeJSON parses and validates a request body.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	if err := s.validate.Struct(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return false
	}
	return true
}

// requireUser resolves the bearer token of an API request.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer"))
	username, err := s.authn.Resolve(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return username, true
}

// isPasswordComplex requires mixed case and a digit.
func isPasswordComplex(s string) bool {
	var hasUpper, hasLower, hasDigit bool
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	return hasUpper && hasLower && hasDigit
}

// RegisterHandler creates an account and issues a session token.
func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if !isPasswordComplex(req.Password) {
		writeError(w, http.StatusBadRequest, "weak password")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.log.Error("hash password", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := s.store.CreateUser(r.Context(), req.Username, hash); err != nil {
		if errors.Is(err, storage.ErrDuplicateUser) {
			writeError(w, http.StatusConflict, "user exists")
			return
		}
		s.log.Error("create user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	token, err := s.tokens.Issue(req.Username)
	if err != nil {
		s.log.Error("issue token", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "token": token, "username": req.Username})
}

// LoginHandler verifies credentials and issues a session token.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	user, err := s.store.UserByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.log.Error("load user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	ok, err := auth.ComparePassword(req.Password, user.PasswordHash)
	if err != nil || !ok {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.tokens.Issue(user.Username)
	if err != nil {
		s.log.Error("issue token", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "token": token, "username": user.Username})
}

// MeHandler returns the caller's profile plus their live presence flag.
func (s *Server) MeHandler(w http.ResponseWriter, r *http.Request) {
	username, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	user, err := s.store.UserByUsername(r.Context(), username)
	if err != nil {
		s.log.Error("load user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"user": map[string]any{
			"username":   user.Username,
			"first_name": user.FirstName,
			"last_name":  user.LastName,
			"avatar_url": user.AvatarURL,
			"last_seen":  formatLastSeen(user.LastSeen),
			"online":     s.presence.IsOnline(username),
		},
	})
}

// ProfileHandler updates the caller's display fields.
func (s *Server) ProfileHandler(w http.ResponseWriter, r *http.Request) {
	username, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req profileRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := s.store.UpdateProfile(r.Context(), username, req.FirstName, req.LastName, req.Avatar); err != nil {
		s.log.Error("update profile", "user", username, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// SearchUserHandler finds accounts by username fragment.
func (s *Server) SearchUserHandler(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("username"))
	if q == "" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "results": []userProfile{}})
		return
	}
	users, err := s.store.SearchUsers(r.Context(), q, 20)
	if err != nil {
		s.log.Error("search users", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"results": lo.Map(users, func(u storage.User, _ int) userProfile { return toProfile(u) }),
	})
}

// CreateChatHandler explicitly resolves (or creates) the conversation
// with a peer, mirroring the implicit first-message path.
func (s *Server) CreateChatHandler(w http.ResponseWriter, r *http.Request) {
	username, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req createChatRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	peer := strings.TrimSpace(req.Peer)
	if peer == username {
		writeError(w, http.StatusBadRequest, "self")
		return
	}
	if _, err := s.store.UserByUsername(r.Context(), peer); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "peer not found")
			return
		}
		s.log.Error("load peer", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	chatID, err := s.store.CreateConversation(r.Context(), username, peer)
	if err != nil {
		s.log.Error("create conversation", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "chat_id": chatID})
}

// ContactsHandler lists the caller's conversations with peer profile,
// presence, last-message preview, and unread count.
func (s *Server) ContactsHandler(w http.ResponseWriter, r *http.Request) {
	username, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	conversations, err := s.store.ConversationsFor(r.Context(), username)
	if err != nil {
		s.log.Error("list conversations", "user", username, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]contactItem, 0, len(conversations))
	for _, conv := range conversations {
		peerName := conv.Peer(username)
		peer, err := s.store.UserByUsername(r.Context(), peerName)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			s.log.Error("load peer", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		item := contactItem{
			ChatID:   conv.ID,
			Peer:     toProfile(peer),
			Online:   s.presence.IsOnline(peerName),
			LastSeen: formatLastSeen(peer.LastSeen),
		}
		if last, err := s.store.LastMessage(r.Context(), conv.ID); err == nil {
			item.LastText = previewText(last, username)
		} else if !errors.Is(err, storage.ErrNotFound) {
			s.log.Error("load last message", "error", err)
		}
		if unread, err := s.store.UnreadCount(r.Context(), conv.ID, username); err == nil {
			item.Unread = unread
		} else {
			s.log.Error("count unread", "error", err)
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "items": items})
}

// HistoryHandler returns a conversation's messages in ascending id order
// and marks the peer's messages as read.
func (s *Server) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	username, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	chatID, err := strconv.ParseInt(r.URL.Query().Get("chat_id"), 10, 64)
	if err != nil || chatID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid chat_id")
		return
	}
	// Only participants can read a thread.
	if _, err := s.store.OtherParticipant(r.Context(), chatID, username); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusForbidden, "not a participant")
			return
		}
		s.log.Error("load conversation", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	messages, err := s.store.History(r.Context(), chatID, username)
	if err != nil {
		s.log.Error("load history", "chat", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := lo.Map(messages, func(m storage.Message, _ int) MessagePayload {
		return MessagePayload{
			ID:     m.ID,
			ChatID: m.ConversationID,
			Sender: m.Sender,
			Kind:   m.Kind,
			Text:   m.Body,
			SentAt: m.SentAt.Format(time.RFC3339),
		}
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "messages": out})
}

func previewText(m storage.Message, self string) string {
	if m.Kind == storage.KindGIF {
		return "[GIF]"
	}
	if m.Sender == self {
		return "You: " + m.Body
	}
	return m.Body
}

func formatLastSeen(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
