package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/halcyonchat/halcyon/internal/auth"
	"github.com/halcyonchat/halcyon/internal/storage"
)

// Server assembles the relay: hub, presence, session manager, message
// pipeline, signaling relay, and the HTTP surface. All dependencies are
// injected so tests can run isolated instances.
type Server struct {
	cfg      Config
	log      *slog.Logger
	hub      *Hub
	presence *Presence
	store    *storage.Store
	authn    auth.Authenticator
	tokens   *auth.TokenSource
	sessions *SessionManager
	pipeline *Pipeline
	upgrader websocket.Upgrader
	validate *validator.Validate
}

// New wires a Server from its collaborators.
func New(cfg Config, store *storage.Store, authn auth.Authenticator, tokens *auth.TokenSource, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	hub := NewHub(log)
	presence := NewPresence()
	policy := newOriginPolicy(cfg.Origins(), log)

	s := &Server{
		cfg:      cfg,
		log:      log,
		hub:      hub,
		presence: presence,
		store:    store,
		authn:    authn,
		tokens:   tokens,
		sessions: NewSessionManager(hub, presence, store, log),
		pipeline: NewPipeline(store, hub, authn, log),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.checkOrigin,
		},
		validate: validator.New(),
	}
	return s
}

// Hub exposes the hub for lifecycle coordination (Run/Shutdown).
func (s *Server) Hub() *Hub {
	return s.hub
}

// Presence exposes the presence registry.
func (s *Server) Presence() *Presence {
	return s.presence
}

// HandleFrame decodes an inbound frame and routes it to the owning
// component. Malformed envelopes and payloads that fail validation are
// dropped deterministically; no error is sent back over this channel.
func (s *Server) HandleFrame(c *Client, raw []byte) {
	env, err := decodeFrame(raw)
	if err != nil {
		s.log.Debug("dropped malformed frame", "conn", c.id, "error", err)
		return
	}

	ctx := context.Background()

	switch {
	case env.Event == EventJoinChat:
		var data JoinChatData
		if !s.decodeData(c, env, &data) {
			return
		}
		s.hub.Join(c, ChatRoom(data.ChatID))

	case env.Event == EventTyping:
		var data TypingData
		if !s.decodeData(c, env, &data) {
			return
		}
		s.pipeline.Typing(data.ChatID, data.Me, c)

	case env.Event == EventSendMessage:
		var data SendMessageData
		if !s.decodeData(c, env, &data) {
			return
		}
		s.pipeline.SendMessage(ctx, c, data)

	case isCallSignal(env.Event):
		s.relaySignal(c, env)

	case env.Event == EventAvatarUpdated:
		var data AvatarUpdatedData
		if !s.decodeData(c, env, &data) {
			return
		}
		s.avatarUpdated(c, data)

	default:
		s.log.Debug("dropped unknown event", "conn", c.id, "event", env.Event)
	}
}

// Disconnected implements frameHandler; the client calls it exactly once
// when its read pump exits.
func (s *Server) Disconnected(c *Client) {
	s.sessions.Disconnected(context.Background(), c)
}

// decodeData unmarshals and validates an event payload, reporting whether
// the event should proceed.
func (s *Server) decodeData(c *Client, env Envelope, out any) bool {
	if err := json.Unmarshal(env.Data, out); err != nil {
		s.log.Debug("dropped event, bad payload", "conn", c.id, "event", env.Event, "error", err)
		return false
	}
	if err := s.validate.Struct(out); err != nil {
		s.log.Debug("dropped event, failed validation", "conn", c.id, "event", env.Event, "error", err)
		return false
	}
	return true
}

// relaySignal forwards a call-signaling envelope verbatim to the target
// user's room. The payload shape is never inspected beyond the "to"
// field; if the target is offline the envelope is dropped with no error.
func (s *Server) relaySignal(c *Client, env Envelope) {
	var target SignalTarget
	if err := json.Unmarshal(env.Data, &target); err != nil || target.To == "" {
		s.log.Debug("dropped signal, missing target", "conn", c.id, "event", env.Event)
		return
	}
	frame, err := json.Marshal(Envelope{Event: env.Event, Data: env.Data})
	if err != nil {
		s.log.Error("encode signal frame", "event", env.Event, "error", err)
		return
	}
	s.hub.Broadcast(UserRoom(target.To), frame, nil)
}

// avatarUpdated broadcasts a profile avatar change to every connection
// except the sender.
func (s *Server) avatarUpdated(c *Client, data AvatarUpdatedData) {
	frame, err := encodeFrame(EventAvatarUpdated, data)
	if err != nil {
		s.log.Error("encode avatar event", "error", err)
		return
	}
	s.hub.BroadcastAll(frame, c)
}
