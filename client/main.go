package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mahaj/chat-relay/pkg/logging"
	"github.com/mahaj/chat-relay/pkg/model"
)

type LoginResponse struct {
	Token string `json:"token"`
}

func login(apiAddr, userID, name, pushToken string) (string, error) {
	reqBody, _ := json.Marshal(map[string]string{"user_id": userID, "name": name, "push_token": pushToken})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed: %s", string(body))
	}

	var loginResp LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", err
	}
	return loginResp.Token, nil
}

func history(apiAddr, token, conversationID string) ([]model.Message, error) {
	req, err := http.NewRequest(http.MethodGet, apiAddr+"/api/history?"+url.Values{"conversation_id": {conversationID}}.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("history failed: %s", string(body))
	}
	var messages []model.Message
	err = json.NewDecoder(resp.Body).Decode(&messages)
	return messages, err
}

func dial(gatewayAddr, path, token string) (*websocket.Conn, error) {
	u := url.URL{Scheme: "ws", Host: gatewayAddr, Path: path}
	header := http.Header{}
	header.Add("Authorization", "Bearer "+token)
	c, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	return c, err
}

// event is the union of the outbound frames a client can receive.
type event struct {
	Type      model.EventType `json:"type"`
	UserID    string          `json:"userId"`
	Status    string          `json:"status"`
	MessageID int64           `json:"messageId"`
	Payload   json.RawMessage `json:"payload"`
}

func render(raw []byte) {
	var ev event
	if err := json.Unmarshal(raw, &ev); err != nil {
		fmt.Printf("\rReceived raw: %s\n> ", raw)
		return
	}

	switch ev.Type {
	case model.EventNewMessage:
		var m model.Message
		_ = json.Unmarshal(ev.Payload, &m)
		fmt.Printf("\r%s: %s\n> ", m.SenderID, m.Content)
	case model.EventStatusUpdate:
		fmt.Printf("\rmessage %d is %s\n> ", ev.MessageID, ev.Status)
	case model.EventPresenceSnapshot:
		var users []string
		_ = json.Unmarshal(ev.Payload, &users)
		fmt.Printf("\ronline: %v\n> ", users)
	case model.EventPresenceUpdate:
		fmt.Printf("\r%s is %s\n> ", ev.UserID, ev.Status)
	case model.EventNewMessageNotification:
		var s model.UnreadSummary
		_ = json.Unmarshal(ev.Payload, &s)
		fmt.Printf("\r[%s] %d unread, last from %s: %s\n> ", s.ConversationID, s.UnreadCount, s.LastMessageSenderID, s.LastMessage)
	default:
		fmt.Printf("\rReceived: %s\n> ", raw)
	}
}

func pump(c *websocket.Conn, done chan<- struct{}, log *zap.Logger) {
	defer close(done)
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			log.Debug("read", zap.Error(err))
			return
		}
		render(message)
	}
}

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "gateway service address")
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	userID := flag.String("user", "user1", "user id")
	name := flag.String("name", "", "display name")
	pushToken := flag.String("push-token", "", "device token for offline notifications")
	dmUser := flag.String("dm", "", "user id to chat with")
	flag.Parse()

	log, err := logging.NewLogger("warn")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if *dmUser == "" || *dmUser == *userID {
		log.Fatal("-dm must name another user")
	}
	conversationID := model.ConversationID(*userID, *dmUser)

	token, err := login(*apiAddr, *userID, *name, *pushToken)
	if err != nil {
		log.Fatal("login failed", zap.Error(err))
	}

	past, err := history(*apiAddr, token, conversationID)
	if err != nil {
		log.Fatal("history failed", zap.Error(err))
	}
	for _, m := range past {
		fmt.Printf("%s: %s (%s)\n", m.SenderID, m.Content, m.Status)
	}

	presence, err := dial(*serverAddr, "/ws/presence", token)
	if err != nil {
		log.Fatal("dial presence", zap.Error(err))
	}
	defer presence.Close()

	c, err := dial(*serverAddr, "/ws/conversations/"+conversationID, token)
	if err != nil {
		log.Fatal("dial conversation", zap.Error(err))
	}
	defer c.Close()

	done := make(chan struct{})
	go pump(c, done, log)
	go pump(presence, make(chan struct{}), log)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	send := func(v any) bool {
		raw, _ := json.Marshal(v)
		if err := c.WriteMessage(websocket.TextMessage, raw); err != nil {
			log.Warn("write", zap.Error(err))
			return false
		}
		return true
	}

	go func() {
		// Everything addressed to us so far counts as seen.
		send(model.Inbound{Type: model.EventMessagesRead, ConversationID: conversationID})

		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := scanner.Text()
			switch text {
			case "":
			case "/quit":
				interrupt <- os.Interrupt
				return
			case "/read":
				if !send(model.Inbound{Type: model.EventMessagesRead, ConversationID: conversationID}) {
					return
				}
			default:
				payload, _ := json.Marshal(model.OutgoingMessage{ReceiverID: *dmUser, Content: text, ConversationID: conversationID})
				if !send(model.Inbound{Type: model.EventNewMessage, Payload: payload}) {
					return
				}
			}
			fmt.Print("> ")
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-interrupt:
			// Cleanly close the connection by sending a close message and then
			// waiting (with timeout) for the server to close the connection.
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Warn("write close", zap.Error(err))
				return
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}
