package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mahaj/chat-relay/pkg/auth"
	"github.com/mahaj/chat-relay/pkg/model"
	"github.com/mahaj/chat-relay/pkg/presence"
	"github.com/mahaj/chat-relay/pkg/relay"
	"github.com/mahaj/chat-relay/pkg/web"
)

// Hub ties the transport to the actors: the presence directory for global sockets and
// the relay registry for conversation sockets and HTTP sends.
type Hub struct {
	ctx       context.Context
	directory *presence.Directory
	relays    *relay.Registry
	issuer    *auth.Issuer
	log       *zap.Logger
	gatherer  prometheus.Gatherer
	ready     atomic.Bool
}

func NewHub(ctx context.Context, directory *presence.Directory, relays *relay.Registry, issuer *auth.Issuer, gatherer prometheus.Gatherer, log *zap.Logger) *Hub {
	return &Hub{
		ctx:       ctx,
		directory: directory,
		relays:    relays,
		issuer:    issuer,
		log:       log.Named("gateway"),
		gatherer:  gatherer,
	}
}

func (h *Hub) Router() http.Handler {
	r := web.NewRouter(h.log)
	web.MountAdmin(r, h.gatherer, &h.ready)

	r.Get("/ws/presence", h.servePresence)
	r.Get("/ws/conversations/{id}", h.serveConversation)

	r.Group(func(r chi.Router) {
		r.Use(h.issuer.Middleware)
		r.Post("/api/messages", h.postMessage)
		r.Post("/api/conversations/{id}/read", h.markRead)
	})
	return r
}

type sendRequest struct {
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
}

// postMessage routes an HTTP send into the conversation's relay. A gate drop answers 202
// without a message so the sender cannot tell it apart from an accepted send.
func (h *Hub) postMessage(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())

	var req sendRequest
	if err := web.Decode(w, r, &req); err != nil {
		web.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.ReceiverID = strings.TrimSpace(req.ReceiverID)
	if req.ReceiverID == "" || req.ReceiverID == claims.UserID || strings.Contains(req.ReceiverID, ":") {
		web.Error(w, http.StatusBadRequest, "invalid receiver_id")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		web.Error(w, http.StatusBadRequest, "content is required")
		return
	}

	conversationID := model.ConversationID(claims.UserID, req.ReceiverID)
	res, err := h.relays.AcceptMessage(r.Context(), conversationID, relay.AcceptRequest{
		SenderID:   claims.UserID,
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
	})
	switch {
	case errors.Is(err, relay.ErrPersistence):
		h.log.Error("message not persisted", zap.String("conversation_id", conversationID), zap.Error(err))
		web.Error(w, http.StatusInternalServerError, "failed to store message")
		return
	case err != nil:
		h.log.Warn("accept message failed", zap.String("conversation_id", conversationID), zap.Error(err))
		web.Error(w, http.StatusServiceUnavailable, "try again")
		return
	}

	if res.Dropped != nil {
		web.JSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
		return
	}
	web.JSON(w, http.StatusCreated, res.Message)
}

func (h *Hub) markRead(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	conversationID := chi.URLParam(r, "id")

	if _, _, err := model.Participants(conversationID); err != nil {
		web.Error(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	if _, err := model.OtherParticipant(conversationID, claims.UserID); err != nil {
		web.Error(w, http.StatusForbidden, "not a participant")
		return
	}

	n, err := h.relays.MarkRead(r.Context(), conversationID, claims.UserID)
	if err != nil {
		h.log.Error("mark read failed", zap.String("conversation_id", conversationID), zap.Error(err))
		web.Error(w, http.StatusInternalServerError, "failed to mark read")
		return
	}
	web.JSON(w, http.StatusOK, map[string]int{"updated": n})
}
