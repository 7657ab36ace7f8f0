package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mahaj/chat-relay/pkg/model"
	"github.com/mahaj/chat-relay/pkg/relay"
	"github.com/mahaj/chat-relay/pkg/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192

	// Outbound frames buffered per socket before it counts as a slow consumer.
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// Client is a middleman between the websocket connection and the actor that owns its
// session. It implements session.Connection: Send only queues, the write pump does I/O.
type Client struct {
	conn *websocket.Conn
	log  *zap.Logger

	// Buffered channel of outbound frames.
	send chan []byte

	// Closed once by Close; stops the write pump.
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, log *zap.Logger) *Client {
	return &Client{
		conn: conn,
		log:  log,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *Client) Send(ev model.Event) error {
	frame, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return session.ErrClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return session.ErrClosed
	default:
		return session.ErrSlowConsumer
	}
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// readPump pumps frames from the websocket connection to onFrame until the peer goes away.
func (c *Client) readPump(onFrame func([]byte)) {
	defer c.Close()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		onFrame(message)
	}
}

// writePump pumps frames from the send buffer to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// servePresence attaches a socket to the presence directory.
func (h *Hub) servePresence(w http.ResponseWriter, r *http.Request) {
	claims, err := h.issuer.Authenticate(r)
	if err != nil {
		h.log.Debug("unauthorized presence upgrade", zap.Error(err))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(conn, h.log)
	s := session.New(claims.UserID, "", client)
	go client.writePump()

	if err := h.directory.Connect(h.ctx, s); err != nil {
		h.log.Warn("presence connect failed", zap.String("user_id", s.UserID), zap.Error(err))
		client.Close()
		return
	}

	go func() {
		client.readPump(func([]byte) {})
		if err := h.directory.Disconnect(h.ctx, s); err != nil {
			h.log.Debug("presence disconnect failed", zap.String("session_id", s.ID), zap.Error(err))
		}
	}()
}

// serveConversation attaches a socket to the relay of one conversation.
func (h *Hub) serveConversation(w http.ResponseWriter, r *http.Request) {
	claims, err := h.issuer.Authenticate(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conversationID := chi.URLParam(r, "id")
	if _, err := model.OtherParticipant(conversationID, claims.UserID); err != nil {
		if errors.Is(err, model.ErrNotParticipant) {
			http.Error(w, "Unauthorized to join this conversation", http.StatusForbidden)
			return
		}
		http.Error(w, "Invalid conversation", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(conn, h.log)
	s := session.New(claims.UserID, conversationID, client)
	go client.writePump()

	if err := h.relays.AttachSession(h.ctx, s); err != nil {
		h.log.Warn("relay attach failed",
			zap.String("conversation_id", conversationID),
			zap.String("user_id", s.UserID),
			zap.Error(err))
		client.Close()
		return
	}

	go func() {
		client.readPump(func(frame []byte) { h.handleFrame(s, frame) })
		if err := h.relays.DetachSession(h.ctx, s); err != nil {
			h.log.Debug("relay detach failed", zap.String("session_id", s.ID), zap.Error(err))
		}
	}()
}

// handleFrame dispatches one inbound client frame on a conversation socket.
func (h *Hub) handleFrame(s *session.Session, frame []byte) {
	var in model.Inbound
	if err := json.Unmarshal(frame, &in); err != nil {
		h.log.Debug("malformed frame", zap.String("session_id", s.ID), zap.Error(err))
		return
	}

	switch in.Type {
	case model.EventNewMessage:
		// The message fields may be nested in payload or sent flat next to type.
		src := []byte(in.Payload)
		if len(src) == 0 {
			src = frame
		}
		var out model.OutgoingMessage
		if err := json.Unmarshal(src, &out); err != nil {
			h.log.Debug("malformed message frame", zap.String("session_id", s.ID), zap.Error(err))
			return
		}
		if out.ConversationID != "" && out.ConversationID != s.ConversationID {
			h.log.Warn("message for another conversation ignored",
				zap.String("conversation_id", s.ConversationID),
				zap.String("target", out.ConversationID))
			return
		}
		res, err := h.relays.AcceptMessage(h.ctx, s.ConversationID, relay.AcceptRequest{
			SenderID:   s.UserID,
			ReceiverID: out.ReceiverID,
			Content:    out.Content,
		})
		if err != nil {
			h.log.Warn("accept message failed",
				zap.String("conversation_id", s.ConversationID),
				zap.String("user_id", s.UserID),
				zap.Error(err))
			return
		}
		if res.Dropped != nil {
			h.log.Debug("message dropped", zap.String("reason", string(res.Dropped.Reason)))
		}

	case model.EventMessagesRead:
		if _, err := h.relays.MarkRead(h.ctx, s.ConversationID, s.UserID); err != nil {
			h.log.Warn("mark read failed",
				zap.String("conversation_id", s.ConversationID),
				zap.String("user_id", s.UserID),
				zap.Error(err))
		}

	default:
		h.log.Debug("unknown frame type", zap.String("type", string(in.Type)))
	}
}
