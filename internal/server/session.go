package server

import (
	"context"
	"log/slog"
	"time"
)

// lastSeenToucher is the slice of the repository the session layer needs.
type lastSeenToucher interface {
	TouchLastSeen(ctx context.Context, username string, t time.Time) error
}

// SessionManager drives the per-connection lifecycle: an authenticated
// connection joins its user room, presence is updated, last-seen is
// touched, and a presence change is broadcast on real transitions. The
// identity used at disconnect is the one bound at connect time; tokens
// are never re-resolved.
type SessionManager struct {
	hub      *Hub
	presence *Presence
	store    lastSeenToucher
	log      *slog.Logger
}

// NewSessionManager wires the session layer to its collaborators.
func NewSessionManager(hub *Hub, presence *Presence, store lastSeenToucher, log *slog.Logger) *SessionManager {
	if log == nil {
		log = slog.Default()
	}
	return &SessionManager{hub: hub, presence: presence, store: store, log: log}
}

// Connected completes the connect transition for an authenticated client.
func (sm *SessionManager) Connected(ctx context.Context, client *Client) {
	sm.hub.Join(client, UserRoom(client.username))

	transition := sm.presence.MarkOnline(client.username)
	if err := sm.store.TouchLastSeen(ctx, client.username, time.Now()); err != nil {
		sm.log.Error("touch last seen on connect", "user", client.username, "error", err)
	}
	if transition {
		sm.broadcastPresence(client.username, true)
	}
}

// Disconnected completes the close transition for a client. It is called
// exactly once per connection, before the hub unregisters it.
func (sm *SessionManager) Disconnected(ctx context.Context, client *Client) {
	transition := sm.presence.MarkOffline(client.username)
	if err := sm.store.TouchLastSeen(ctx, client.username, time.Now()); err != nil {
		sm.log.Error("touch last seen on disconnect", "user", client.username, "error", err)
	}
	if transition {
		sm.broadcastPresence(client.username, false)
	}
}

func (sm *SessionManager) broadcastPresence(username string, online bool) {
	frame, err := encodeFrame(EventPresence, PresenceEvent{Username: username, Online: online})
	if err != nil {
		sm.log.Error("encode presence event", "error", err)
		return
	}
	sm.hub.BroadcastAll(frame, nil)
}
