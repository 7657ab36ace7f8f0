package main

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/mahaj/chat-relay/pkg/auth"
	"github.com/mahaj/chat-relay/pkg/model"
	"github.com/mahaj/chat-relay/pkg/profile"
	"github.com/mahaj/chat-relay/pkg/web"
)

type ConversationRequest struct {
	OtherUserID string `json:"other_user_id"`
}

type Conversation struct {
	ConversationID string           `json:"conversation_id"`
	OtherUser      *profile.Profile `json:"other_user"`
	UnreadCount    int              `json:"unread_count"`
	LastMessage    *model.Message   `json:"last_message,omitempty"`
}

// FindOrCreateConversation resolves the canonical conversation between the caller and
// another registered user. Conversations exist implicitly, so nothing is written.
func (a *API) FindOrCreateConversation(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())

	var req ConversationRequest
	if err := web.Decode(w, r, &req); err != nil {
		web.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.OtherUserID == "" || req.OtherUserID == claims.UserID {
		web.Error(w, http.StatusBadRequest, "other_user_id must name another user")
		return
	}

	other, err := a.profiles.GetProfile(r.Context(), req.OtherUserID)
	if err != nil {
		a.log.Error("load profile", zap.String("user_id", req.OtherUserID), zap.Error(err))
		web.Error(w, http.StatusInternalServerError, "Failed to load user")
		return
	}
	if other == nil {
		web.Error(w, http.StatusNotFound, "User not found")
		return
	}
	// Push tokens stay private to their owner.
	other.PushToken = ""

	conversationID := model.ConversationID(claims.UserID, req.OtherUserID)
	unread, err := a.messages.CountUnread(r.Context(), conversationID, claims.UserID)
	if err != nil {
		a.log.Error("count unread", zap.String("conversation_id", conversationID), zap.Error(err))
		web.Error(w, http.StatusInternalServerError, "Failed to load conversation")
		return
	}
	last, err := a.messages.LastMessage(r.Context(), conversationID)
	if err != nil {
		a.log.Error("load last message", zap.String("conversation_id", conversationID), zap.Error(err))
		web.Error(w, http.StatusInternalServerError, "Failed to load conversation")
		return
	}

	web.JSON(w, http.StatusOK, Conversation{
		ConversationID: conversationID,
		OtherUser:      other,
		UnreadCount:    unread,
		LastMessage:    last,
	})
}
