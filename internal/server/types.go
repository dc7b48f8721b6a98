// Shared event payload types exchanged over the websocket channel and
// utility helpers reused across client and hub logic.
package server

import "strings"

// Inbound event names.
const (
	EventJoinChat      = "join_chat"
	EventTyping        = "typing"
	EventSendMessage   = "send_message"
	EventCallOffer     = "call-offer"
	EventCallAnswer    = "call-answer"
	EventCallDecline   = "call-decline"
	EventCallEnd       = "call-end"
	EventICECandidate  = "ice-candidate"
	EventAvatarUpdated = "avatar-updated"
)

// Outbound event names.
const (
	EventPresence               = "presence"
	EventMessage                = "message"
	EventNewMessageNotification = "new_message_notification"
)

// JoinChatData opens a conversation view: the connection joins the
// conversation room to receive its live fan-out.
type JoinChatData struct {
	ChatID int64 `json:"chat_id" validate:"required,gt=0"`
}

// TypingData is a transient typing indicator. It is never persisted.
type TypingData struct {
	ChatID int64  `json:"chat_id" validate:"required,gt=0"`
	Me     string `json:"me" validate:"required"`
}

// SendMessageData carries a chat message. ChatID zero means "resolve the
// conversation from Peer", creating it on first contact.
type SendMessageData struct {
	Token  string `json:"token" validate:"required"`
	ChatID int64  `json:"chat_id" validate:"gte=0"`
	Peer   string `json:"peer"`
	Kind   string `json:"type"`
	Text   string `json:"text"`
}

// SignalTarget is the only field the relay reads out of a call-signaling
// envelope; the payload itself is forwarded verbatim.
type SignalTarget struct {
	To string `json:"to" validate:"required"`
}

// AvatarUpdatedData announces a new avatar to every other connection.
type AvatarUpdatedData struct {
	Username  string `json:"username" validate:"required"`
	AvatarURL string `json:"avatar_url"`
}

// PresenceEvent is broadcast to all connections on a real online/offline
// transition.
type PresenceEvent struct {
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// TypingEvent is the fan-out shape of a typing indicator.
type TypingEvent struct {
	ChatID int64  `json:"chat_id"`
	From   string `json:"from"`
}

// MessagePayload is the full persisted message as seen by clients.
type MessagePayload struct {
	ID     int64  `json:"id"`
	ChatID int64  `json:"chat_id"`
	Sender string `json:"sender"`
	Kind   string `json:"type"`
	Text   string `json:"text"`
	SentAt string `json:"ts"`
}

// NewMessageNotification reaches the recipient's user room so contact
// lists update even when the conversation view is closed.
type NewMessageNotification struct {
	ChatID  int64          `json:"chat_id"`
	From    string         `json:"from"`
	Message MessagePayload `json:"message"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
