package server

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/halcyonchat/halcyon/internal/auth"
	"github.com/halcyonchat/halcyon/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := DefaultConfig()
	store, err := storage.Open(":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tokens := auth.NewTokenSource([]byte(cfg.JWTSecret), cfg.TokenTTL)
	authn := auth.NewStoreAuthenticator(tokens, store)
	return New(cfg, store, authn, tokens, testLogger())
}

func frame(t *testing.T, event string, data any) []byte {
	t.Helper()
	raw, err := encodeFrame(event, data)
	require.NoError(t, err)
	return raw
}

func TestHandleFrame_JoinChat(t *testing.T) {
	s := newTestServer(t)
	alice := addTestClient(s.hub, "alice")

	s.HandleFrame(alice, frame(t, EventJoinChat, JoinChatData{ChatID: 12}))

	require.Equal(t, 1, s.hub.RoomSize(ChatRoom(12)))
}

func TestHandleFrame_JoinChatRejectsBadID(t *testing.T) {
	s := newTestServer(t)
	alice := addTestClient(s.hub, "alice")

	s.HandleFrame(alice, []byte(`{"event":"join_chat","data":{"chat_id":0}}`))
	s.HandleFrame(alice, []byte(`{"event":"join_chat","data":{"chat_id":-4}}`))
	s.HandleFrame(alice, []byte(`{"event":"join_chat","data":{}}`))

	require.Zero(t, s.hub.RoomSize(ChatRoom(0)))
	require.Zero(t, s.hub.RoomSize(ChatRoom(-4)))
}

func TestHandleFrame_MalformedFramesAreDropped(t *testing.T) {
	s := newTestServer(t)
	alice := addTestClient(s.hub, "alice")
	bob := addTestClient(s.hub, "bob")
	s.hub.Join(bob, UserRoom("bob"))

	s.HandleFrame(alice, []byte(`not json`))
	s.HandleFrame(alice, []byte(`{"data":{}}`))
	s.HandleFrame(alice, []byte(`{"event":"no_such_event","data":{}}`))
	s.HandleFrame(alice, []byte(`{"event":"send_message","data":"not-an-object"}`))

	requireNoFrame(t, bob)
}

func TestHandleFrame_CallSignalRelayedVerbatim(t *testing.T) {
	s := newTestServer(t)
	alice := addTestClient(s.hub, "alice")
	bob := addTestClient(s.hub, "bob")
	s.hub.Join(bob, UserRoom("bob"))

	raw := []byte(`{"event":"call-offer","data":{"to":"bob","from":"alice","sdp":{"type":"offer","custom":"blob"}}}`)
	s.HandleFrame(alice, raw)

	env := recvEnvelope(t, bob)
	require.Equal(t, EventCallOffer, env.Event)
	// The payload is forwarded byte-for-byte, opaque fields included.
	require.JSONEq(t, `{"to":"bob","from":"alice","sdp":{"type":"offer","custom":"blob"}}`, string(env.Data))
}

func TestHandleFrame_CallSignalOfflineTargetIsDropped(t *testing.T) {
	s := newTestServer(t)
	alice := addTestClient(s.hub, "alice")

	// No connection has joined user:carol; nothing should panic or queue.
	s.HandleFrame(alice, frame(t, EventCallDecline, map[string]string{"to": "carol"}))
	requireNoFrame(t, alice)
}

func TestHandleFrame_CallSignalMissingTargetIsDropped(t *testing.T) {
	s := newTestServer(t)
	alice := addTestClient(s.hub, "alice")
	bob := addTestClient(s.hub, "bob")
	s.hub.Join(bob, UserRoom("bob"))

	s.HandleFrame(alice, []byte(`{"event":"ice-candidate","data":{"candidate":"..."}}`))
	requireNoFrame(t, bob)
}

func TestHandleFrame_AllSignalEventsRoute(t *testing.T) {
	s := newTestServer(t)
	alice := addTestClient(s.hub, "alice")
	bob := addTestClient(s.hub, "bob")
	s.hub.Join(bob, UserRoom("bob"))

	for _, event := range []string{EventCallOffer, EventCallAnswer, EventCallDecline, EventCallEnd, EventICECandidate} {
		s.HandleFrame(alice, frame(t, event, map[string]string{"to": "bob"}))
		env := recvEnvelope(t, bob)
		require.Equal(t, event, env.Event)
	}
}

func TestHandleFrame_AvatarUpdatedExcludesSender(t *testing.T) {
	s := newTestServer(t)
	alice := addTestClient(s.hub, "alice")
	bob := addTestClient(s.hub, "bob")
	carol := addTestClient(s.hub, "carol")

	s.HandleFrame(alice, frame(t, EventAvatarUpdated, AvatarUpdatedData{
		Username:  "alice",
		AvatarURL: "/static/avatars/alice.png",
	}))

	for _, c := range []*Client{bob, carol} {
		env := recvEnvelope(t, c)
		require.Equal(t, EventAvatarUpdated, env.Event)
		var data AvatarUpdatedData
		require.NoError(t, json.Unmarshal(env.Data, &data))
		require.Equal(t, "alice", data.Username)
	}
	requireNoFrame(t, alice)
}

func TestHandleFrame_SendMessageEndToEnd(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	for _, u := range []string{"alice", "bob"} {
		require.NoError(t, s.store.CreateUser(ctx, u, "hash"))
	}
	token, err := s.tokens.Issue("alice")
	require.NoError(t, err)

	alice := addTestClient(s.hub, "alice")
	bob := addTestClient(s.hub, "bob")
	s.hub.Join(bob, UserRoom("bob"))

	s.HandleFrame(alice, frame(t, EventSendMessage, SendMessageData{
		Token: token, Peer: "bob", Kind: "text", Text: "first contact",
	}))

	env := recvEnvelope(t, bob)
	require.Equal(t, EventNewMessageNotification, env.Event)
	var notif NewMessageNotification
	require.NoError(t, json.Unmarshal(env.Data, &notif))
	require.Equal(t, "alice", notif.From)
	require.Equal(t, "first contact", notif.Message.Text)

	// The row is durable before the broadcast reaches anyone.
	msgs, err := s.store.History(ctx, notif.ChatID, "bob")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, notif.Message.ID, msgs[0].ID)
}

func TestHandleFrame_TypingRoutesToPipeline(t *testing.T) {
	s := newTestServer(t)
	alice := addTestClient(s.hub, "alice")
	bob := addTestClient(s.hub, "bob")
	s.hub.Join(alice, ChatRoom(3))
	s.hub.Join(bob, ChatRoom(3))

	s.HandleFrame(alice, frame(t, EventTyping, TypingData{ChatID: 3, Me: "alice"}))

	env := recvEnvelope(t, bob)
	require.Equal(t, EventTyping, env.Event)
	var ev TypingEvent
	require.NoError(t, json.Unmarshal(env.Data, &ev))
	require.Equal(t, int64(3), ev.ChatID)
	require.Equal(t, "alice", ev.From)
	requireNoFrame(t, alice)
}
