package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mahaj/chat-relay/pkg/auth"
	"github.com/mahaj/chat-relay/pkg/config"
	"github.com/mahaj/chat-relay/pkg/gate"
	"github.com/mahaj/chat-relay/pkg/metrics"
	"github.com/mahaj/chat-relay/pkg/presence"
	"github.com/mahaj/chat-relay/pkg/profile"
	"github.com/mahaj/chat-relay/pkg/push"
	"github.com/mahaj/chat-relay/pkg/relay"
	"github.com/mahaj/chat-relay/pkg/session"
	"github.com/mahaj/chat-relay/pkg/store"
)

type testGateway struct {
	srv       *httptest.Server
	issuer    *auth.Issuer
	profiles  *profile.MemoryStore
	store     *store.MemoryStore
	directory *presence.Directory
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	log := zaptest.NewLogger(t)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	profiles := profile.NewMemoryStore()
	for _, id := range []string{"alice", "bob", "carol"} {
		require.NoError(t, profiles.UpsertProfile(ctx, profile.Profile{UserID: id, Name: strings.ToUpper(id[:1]) + id[1:]}))
	}
	messages := store.NewMemoryStore()

	directory := presence.NewDirectory(log, presence.Options{Policy: config.PresenceLastWins, Metrics: m})
	go directory.Run(ctx)

	relays := relay.NewRegistry(ctx, relay.Deps{
		Store:     messages,
		Gate:      gate.New(profiles, log),
		Directory: directory,
		Pusher:    push.NewDispatcher(profiles, push.NewLogGateway(log), log, m),
		Metrics:   m,
	}, log, time.Minute)

	issuer := auth.NewIssuer("test-secret", time.Hour)
	hub := NewHub(ctx, directory, relays, issuer, reg, log)
	hub.ready.Store(true)

	srv := httptest.NewServer(hub.Router())
	t.Cleanup(srv.Close)

	return &testGateway{srv: srv, issuer: issuer, profiles: profiles, store: messages, directory: directory}
}

func (g *testGateway) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := g.issuer.GenerateToken(userID)
	require.NoError(t, err)
	return tok
}

func (g *testGateway) dial(t *testing.T, userID, path string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	u := "ws" + strings.TrimPrefix(g.srv.URL, "http") + path
	header := http.Header{"Authorization": {"Bearer " + g.token(t, userID)}}
	conn, resp, err := websocket.DefaultDialer.Dial(u, header)
	if err == nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func (g *testGateway) post(t *testing.T, userID, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, g.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+g.token(t, userID))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

// readUntil reads frames until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var frame map[string]any
		require.NoError(t, conn.ReadJSON(&frame))
		if frame["type"] == typ {
			return frame
		}
	}
}

func TestConversationFlow(t *testing.T) {
	g := newTestGateway(t)

	bobPresence, _, err := g.dial(t, "bob", "/ws/presence")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		online, err := g.directory.IsOnline(context.Background(), "bob")
		return err == nil && online
	}, 2*time.Second, 10*time.Millisecond)

	alice, _, err := g.dial(t, "alice", "/ws/conversations/dm:alice:bob")
	require.NoError(t, err)
	bob, _, err := g.dial(t, "bob", "/ws/conversations/dm:alice:bob")
	require.NoError(t, err)

	joined := readUntil(t, alice, "PRESENCE_UPDATE")
	assert.Equal(t, "bob", joined["userId"])
	assert.Equal(t, "online", joined["status"])

	resp, body := g.post(t, "alice", "/api/messages", `{"receiver_id":"bob","content":"hello over http"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "delivered", body["status"])
	assert.Equal(t, "dm:alice:bob", body["conversation_id"])

	got := readUntil(t, bob, "NEW_MESSAGE")
	assert.Equal(t, "hello over http", got["payload"].(map[string]any)["content"])

	note := readUntil(t, bobPresence, "NEW_MESSAGE_NOTIFICATION")
	assert.EqualValues(t, 1, note["payload"].(map[string]any)["unreadCount"])

	echo := readUntil(t, alice, "NEW_MESSAGE")
	assert.Equal(t, "alice", echo["payload"].(map[string]any)["sender_id"])
	tick := readUntil(t, alice, "STATUS_UPDATE")
	assert.Equal(t, "delivered", tick["status"])

	require.NoError(t, alice.WriteJSON(map[string]any{
		"type":    "NEW_MESSAGE",
		"payload": map[string]string{"receiverId": "bob", "content": "hello over ws", "conversationId": "dm:alice:bob"},
	}))
	got = readUntil(t, bob, "NEW_MESSAGE")
	assert.Equal(t, "hello over ws", got["payload"].(map[string]any)["content"])
	readUntil(t, alice, "NEW_MESSAGE")
	tick = readUntil(t, alice, "STATUS_UPDATE")
	assert.Equal(t, "delivered", tick["status"])

	resp, body = g.post(t, "bob", "/api/conversations/dm:alice:bob/read", ``)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["updated"])
	for i := 0; i < 2; i++ {
		receipt := readUntil(t, alice, "STATUS_UPDATE")
		assert.Equal(t, "read", receipt["status"])
	}

	// MESSAGES_READ over the socket is idempotent.
	require.NoError(t, bob.WriteJSON(map[string]string{"type": "MESSAGES_READ", "conversationId": "dm:alice:bob"}))

	resp, body = g.post(t, "bob", "/api/conversations/dm:alice:bob/read", ``)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["updated"])
}

func TestBlockedSendLooksAccepted(t *testing.T) {
	g := newTestGateway(t)
	require.NoError(t, g.profiles.Block(context.Background(), "bob", "alice"))

	resp, body := g.post(t, "alice", "/api/messages", `{"receiver_id":"bob","content":"let me in"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, map[string]any{"status": "accepted"}, body)
	assert.Zero(t, g.store.Len())
}

func TestUpgradeRules(t *testing.T) {
	g := newTestGateway(t)

	_, resp, err := g.dial(t, "carol", "/ws/conversations/dm:alice:bob")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	for _, path := range []string{"/ws/conversations/general", "/ws/conversations/dm:bob:alice", "/ws/conversations/dm:alice:alice"} {
		_, resp, err = g.dial(t, "alice", path)
		require.Error(t, err, path)
		require.NotNil(t, resp, path)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
	}

	u := "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/ws/presence"
	_, resp, err = websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHTTPValidation(t *testing.T) {
	g := newTestGateway(t)

	resp, _ := g.post(t, "alice", "/api/messages", `{"receiver_id":"alice","content":"me"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = g.post(t, "alice", "/api/messages", `{"receiver_id":"bob","content":"  "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = g.post(t, "carol", "/api/conversations/dm:alice:bob/read", ``)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	res, err := http.Get(g.srv.URL + "/readyz")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestPresenceSnapshotLargerThanSendBuffer(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	online := 4 * sendBuffer
	for i := 0; i < online; i++ {
		s := session.New(fmt.Sprintf("user%05d", i), "", session.NewRecorder())
		require.NoError(t, g.directory.Connect(ctx, s))
	}

	alice, _, err := g.dial(t, "alice", "/ws/presence")
	require.NoError(t, err)

	snapshot := readUntil(t, alice, "PRESENCE_SNAPSHOT")
	users, ok := snapshot["payload"].([]any)
	require.True(t, ok)
	assert.Len(t, users, online)
	assert.Equal(t, "user00000", users[0])
}
