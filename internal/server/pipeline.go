package server

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/halcyonchat/halcyon/internal/auth"
	"github.com/halcyonchat/halcyon/internal/storage"
)

// Repository is the durable conversation/message store the pipeline
// depends on. *storage.Store satisfies it.
type Repository interface {
	// FindConversation resolves the conversation between two users in
	// either order, returning storage.ErrNotFound when absent.
	FindConversation(ctx context.Context, u1, u2 string) (int64, error)
	// CreateConversation inserts the conversation for a pair if absent
	// and returns its id; a concurrent insert of the same pair converges
	// on the existing row.
	CreateConversation(ctx context.Context, u1, u2 string) (int64, error)
	// InsertMessage persists a message and returns it with the
	// server-assigned id and timestamp.
	InsertMessage(ctx context.Context, conversationID int64, sender, kind, body string) (storage.Message, error)
	// OtherParticipant resolves the peer of self in a conversation,
	// returning storage.ErrNotFound when the conversation is unknown or
	// self is not a participant.
	OtherParticipant(ctx context.Context, conversationID int64, self string) (string, error)
}

// Pipeline validates, persists, and fans out chat messages and typing
// indicators. Persistence always happens before any broadcast, so a
// client that receives a live event can immediately fetch a consistent
// history that includes it.
type Pipeline struct {
	repo Repository
	hub  *Hub
	auth auth.Authenticator
	log  *slog.Logger
}

// NewPipeline builds a message pipeline.
func NewPipeline(repo Repository, hub *Hub, authn auth.Authenticator, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{repo: repo, hub: hub, auth: authn, log: log}
}

// Typing broadcasts a transient typing indicator to the conversation
// room, excluding the sender connection. Nothing is validated against the
// repository and nothing is persisted; a malformed conversation id is a
// no-op.
func (p *Pipeline) Typing(chatID int64, from string, sender *Client) {
	if chatID <= 0 || from == "" {
		return
	}
	frame, err := encodeFrame(EventTyping, TypingEvent{ChatID: chatID, From: from})
	if err != nil {
		p.log.Error("encode typing event", "error", err)
		return
	}
	p.hub.Broadcast(ChatRoom(chatID), frame, sender)
}

// SendMessage runs the full message path: authenticate, validate, resolve
// the conversation (creating it on first contact), persist, then notify
// the peer's user room and the conversation room. Failures are silent
// over this channel; they are logged and the operation aborts without
// broadcasting.
func (p *Pipeline) SendMessage(ctx context.Context, sender *Client, req SendMessageData) {
	username, err := p.auth.Resolve(ctx, req.Token)
	if err != nil {
		p.log.Debug("send_message dropped, invalid token", "conn", sender.id)
		return
	}

	body := strings.TrimSpace(req.Text)
	if body == "" {
		return
	}

	chatID, peer, err := p.resolveConversation(ctx, username, req.ChatID, req.Peer)
	if err != nil {
		if errors.Is(err, errDropMessage) {
			return
		}
		p.log.Error("resolve conversation", "user", username, "error", err)
		return
	}

	msg, err := p.repo.InsertMessage(ctx, chatID, username, req.Kind, body)
	if err != nil {
		p.log.Error("persist message", "user", username, "chat", chatID, "error", err)
		return
	}

	payload := MessagePayload{
		ID:     msg.ID,
		ChatID: msg.ConversationID,
		Sender: msg.Sender,
		Kind:   msg.Kind,
		Text:   msg.Body,
		SentAt: msg.SentAt.Format(time.RFC3339),
	}

	// The peer's user room hears about the message even when their
	// conversation view is closed. A sender with tabs in both rooms may
	// receive both events.
	if peer != "" {
		notification, err := encodeFrame(EventNewMessageNotification, NewMessageNotification{
			ChatID:  chatID,
			From:    username,
			Message: payload,
		})
		if err != nil {
			p.log.Error("encode notification", "error", err)
		} else {
			p.hub.Broadcast(UserRoom(peer), notification, nil)
		}
	}

	frame, err := encodeFrame(EventMessage, payload)
	if err != nil {
		p.log.Error("encode message event", "error", err)
		return
	}
	p.hub.Broadcast(ChatRoom(chatID), frame, nil)
}

// errDropMessage marks validation failures that abort a send silently.
var errDropMessage = errors.New("drop message")

// resolveConversation maps a send request onto a conversation id and the
// peer username. A zero chat id means first contact: the conversation is
// looked up by the normalized pair and created when absent.
func (p *Pipeline) resolveConversation(ctx context.Context, sender string, chatID int64, peer string) (int64, string, error) {
	if chatID != 0 {
		other, err := p.repo.OtherParticipant(ctx, chatID, sender)
		if errors.Is(err, storage.ErrNotFound) {
			// Unknown conversation or sender not a participant.
			return 0, "", errDropMessage
		}
		if err != nil {
			return 0, "", err
		}
		return chatID, other, nil
	}

	peer = strings.TrimSpace(peer)
	if peer == "" || peer == sender {
		return 0, "", errDropMessage
	}

	id, err := p.repo.FindConversation(ctx, sender, peer)
	if errors.Is(err, storage.ErrNotFound) {
		id, err = p.repo.CreateConversation(ctx, sender, peer)
	}
	if err != nil {
		return 0, "", err
	}
	return id, peer, nil
}
