package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mahaj/chat-relay/pkg/logging"
	"github.com/mahaj/chat-relay/pkg/model"
)

type client struct {
	base  string
	token string
}

func (c client) call(method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func login(apiAddr, userID string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	status, err := client{base: apiAddr}.call(http.MethodPost, "/login", map[string]string{"user_id": userID, "name": userID}, &out)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("login %s: status %d", userID, status)
	}
	return out.Token, nil
}

// awaitFrame reads until a frame of the wanted type arrives.
func awaitFrame(conn *websocket.Conn, want model.EventType) (json.RawMessage, error) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		var ev struct {
			Type model.EventType `json:"type"`
		}
		if json.Unmarshal(raw, &ev) == nil && ev.Type == want {
			return raw, nil
		}
	}
}

func main() {
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	gatewayAddr := flag.String("gateway", "localhost:8080", "gateway service address")
	flag.Parse()

	log, err := logging.NewLogger("info")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	suffix := fmt.Sprint(time.Now().UnixNano())
	sender, receiver := "verify_a"+suffix, "verify_b"+suffix

	senderToken, err := login(*apiAddr, sender)
	if err != nil {
		log.Fatal("login", zap.Error(err))
	}
	receiverToken, err := login(*apiAddr, receiver)
	if err != nil {
		log.Fatal("login", zap.Error(err))
	}

	var conv struct {
		ConversationID string `json:"conversation_id"`
	}
	if _, err := (client{base: *apiAddr, token: senderToken}).call(http.MethodPost, "/api/conversations", map[string]string{"other_user_id": receiver}, &conv); err != nil {
		log.Fatal("find conversation", zap.Error(err))
	}
	log.Info("conversation resolved", zap.String("conversation_id", conv.ConversationID))

	u := url.URL{Scheme: "ws", Host: *gatewayAddr, Path: "/ws/conversations/" + conv.ConversationID}
	header := http.Header{}
	header.Add("Authorization", "Bearer "+receiverToken)
	ws, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		log.Fatal("dial conversation", zap.Error(err))
	}
	defer ws.Close()

	gateway := client{base: "http://" + *gatewayAddr, token: senderToken}
	var sent model.Message
	status, err := gateway.call(http.MethodPost, "/api/messages", map[string]string{"receiver_id": receiver, "content": "verify"}, &sent)
	if err != nil || status != http.StatusCreated {
		log.Fatal("send message", zap.Int("status", status), zap.Error(err))
	}
	log.Info("message accepted", zap.Int64("id", sent.ID), zap.String("status", string(sent.Status)))

	if _, err := awaitFrame(ws, model.EventNewMessage); err != nil {
		log.Fatal("receiver did not get the message", zap.Error(err))
	}

	var read struct {
		Updated int `json:"updated"`
	}
	receiverGateway := client{base: "http://" + *gatewayAddr, token: receiverToken}
	if _, err := receiverGateway.call(http.MethodPost, "/api/conversations/"+url.PathEscape(conv.ConversationID)+"/read", nil, &read); err != nil {
		log.Fatal("mark read", zap.Error(err))
	}
	log.Info("marked read", zap.Int("updated", read.Updated))

	var messages []model.Message
	if _, err := (client{base: *apiAddr, token: senderToken}).call(http.MethodGet, "/api/history?conversation_id="+url.QueryEscape(conv.ConversationID), nil, &messages); err != nil {
		log.Fatal("history", zap.Error(err))
	}
	if len(messages) != 1 || messages[0].Status != model.StatusRead {
		log.Fatal("unexpected history", zap.Any("messages", messages))
	}
	log.Info("verification passed")
}
