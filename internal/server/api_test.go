package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type apiHarness struct {
	t   *testing.T
	srv *Server
	mux http.Handler
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	srv := newTestServer(t)
	return &apiHarness{t: t, srv: srv, mux: srv.Routes()}
}

func (h *apiHarness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader *strings.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = strings.NewReader(string(raw))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.mux.ServeHTTP(w, req)
	return w
}

func (h *apiHarness) register(username string) string {
	h.t.Helper()
	w := h.do(http.MethodPost, "/api/register", "", map[string]string{
		"username": username,
		"password": "Sup3rSecret",
	})
	require.Equal(h.t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(h.t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(h.t, resp.Token)
	return resp.Token
}

func TestAPI_RegisterAndLogin(t *testing.T) {
	h := newAPIHarness(t)
	h.register("alice")

	w := h.do(http.MethodPost, "/api/login", "", map[string]string{
		"username": "alice", "password": "Sup3rSecret",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodPost, "/api/login", "", map[string]string{
		"username": "alice", "password": "wrong-Passw0rd",
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodPost, "/api/login", "", map[string]string{
		"username": "nobody", "password": "Sup3rSecret",
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPI_RegisterRejectsDuplicatesAndWeakPasswords(t *testing.T) {
	h := newAPIHarness(t)
	h.register("alice")

	w := h.do(http.MethodPost, "/api/register", "", map[string]string{
		"username": "alice", "password": "An0therSecret",
	})
	require.Equal(t, http.StatusConflict, w.Code)

	for _, weak := range []string{"alllowercase1", "ALLUPPERCASE1", "NoDigitsHere"} {
		w := h.do(http.MethodPost, "/api/register", "", map[string]string{
			"username": "bob", "password": weak,
		})
		require.Equal(t, http.StatusBadRequest, w.Code, weak)
	}

	w = h.do(http.MethodPost, "/api/register", "", map[string]string{
		"username": "x", "password": "Sup3rSecret",
	})
	require.Equal(t, http.StatusBadRequest, w.Code, "username too short")
}

func TestAPI_MeAndProfile(t *testing.T) {
	h := newAPIHarness(t)
	token := h.register("alice")

	w := h.do(http.MethodGet, "/api/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodPost, "/api/profile", token, map[string]string{
		"first_name": "Alice", "last_name": "Liddell", "avatar": "/avatars/alice.png",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodGet, "/api/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		User struct {
			Username  string `json:"username"`
			FirstName string `json:"first_name"`
			AvatarURL string `json:"avatar_url"`
			Online    bool   `json:"online"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "alice", resp.User.Username)
	require.Equal(t, "Alice", resp.User.FirstName)
	require.Equal(t, "/avatars/alice.png", resp.User.AvatarURL)
	require.False(t, resp.User.Online, "no live connection in this test")
}

func TestAPI_SearchUser(t *testing.T) {
	h := newAPIHarness(t)
	token := h.register("alice")
	h.register("alina")
	h.register("bob")

	w := h.do(http.MethodGet, "/api/search_user?username=ali", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Results []userProfile `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	names := make([]string, 0, len(resp.Results))
	for _, u := range resp.Results {
		names = append(names, u.Username)
	}
	require.ElementsMatch(t, []string{"alice", "alina"}, names)

	w = h.do(http.MethodGet, "/api/search_user?username=", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Empty(t, resp.Results)
}

func TestAPI_CreateChat(t *testing.T) {
	h := newAPIHarness(t)
	alice := h.register("alice")
	bob := h.register("bob")

	w := h.do(http.MethodPost, "/api/create_chat", alice, map[string]string{"peer": "alice"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodPost, "/api/create_chat", alice, map[string]string{"peer": "ghost"})
	require.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(http.MethodPost, "/api/create_chat", alice, map[string]string{"peer": "bob"})
	require.Equal(t, http.StatusOK, w.Code)
	var first struct {
		ChatID int64 `json:"chat_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	require.Positive(t, first.ChatID)

	// Creating from the other side converges on the same conversation.
	w = h.do(http.MethodPost, "/api/create_chat", bob, map[string]string{"peer": "alice"})
	require.Equal(t, http.StatusOK, w.Code)
	var second struct {
		ChatID int64 `json:"chat_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	require.Equal(t, first.ChatID, second.ChatID)
}

func TestAPI_ContactsAndHistory(t *testing.T) {
	h := newAPIHarness(t)
	alice := h.register("alice")
	bob := h.register("bob")
	h.register("mallory")
	mallory := h.do(http.MethodPost, "/api/login", "", map[string]string{
		"username": "mallory", "password": "Sup3rSecret",
	})
	require.Equal(t, http.StatusOK, mallory.Code)
	var malloryResp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(mallory.Body.Bytes(), &malloryResp))

	w := h.do(http.MethodPost, "/api/create_chat", alice, map[string]string{"peer": "bob"})
	require.Equal(t, http.StatusOK, w.Code)
	var created struct {
		ChatID int64 `json:"chat_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	ctx := context.Background()
	_, err := h.srv.store.InsertMessage(ctx, created.ChatID, "alice", "text", "hello bob")
	require.NoError(t, err)
	_, err = h.srv.store.InsertMessage(ctx, created.ChatID, "bob", "gif", "http://gif")
	require.NoError(t, err)

	// Bob's contact list: one unread message from alice, GIF preview from
	// his own last message.
	w = h.do(http.MethodGet, "/api/contacts", bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var contacts struct {
		Items []contactItem `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &contacts))
	require.Len(t, contacts.Items, 1)
	require.Equal(t, created.ChatID, contacts.Items[0].ChatID)
	require.Equal(t, "alice", contacts.Items[0].Peer.Username)
	require.Equal(t, "[GIF]", contacts.Items[0].LastText)
	require.Equal(t, 1, contacts.Items[0].Unread)

	historyPath := fmt.Sprintf("/api/history?chat_id=%d", created.ChatID)

	// Non-participants cannot read the thread.
	w = h.do(http.MethodGet, historyPath, malloryResp.Token, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(http.MethodGet, "/api/history?chat_id=abc", bob, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	// Reading history marks alice's messages read for bob.
	w = h.do(http.MethodGet, historyPath, bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history struct {
		Messages []MessagePayload `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history.Messages, 2)
	require.Equal(t, "hello bob", history.Messages[0].Text)
	require.Equal(t, "gif", history.Messages[1].Kind)

	w = h.do(http.MethodGet, "/api/contacts", bob, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &contacts))
	require.Zero(t, contacts.Items[0].Unread)
}
