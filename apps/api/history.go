package main

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/mahaj/chat-relay/pkg/auth"
	"github.com/mahaj/chat-relay/pkg/model"
	"github.com/mahaj/chat-relay/pkg/profile"
	"github.com/mahaj/chat-relay/pkg/web"
)

type LoginRequest struct {
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	PushToken string `json:"push_token"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

// Login registers or refreshes the caller's profile and hands back a session token.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := web.Decode(w, r, &req); err != nil {
		web.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == "" {
		web.Error(w, http.StatusBadRequest, "user_id is required")
		return
	}

	p := profile.Profile{UserID: req.UserID, Name: req.Name, PushToken: req.PushToken}
	if p.Name == "" {
		p.Name = req.UserID
	}
	if err := a.profiles.UpsertProfile(r.Context(), p); err != nil {
		a.log.Error("upsert profile", zap.String("user_id", req.UserID), zap.Error(err))
		web.Error(w, http.StatusInternalServerError, "Failed to save profile")
		return
	}

	token, err := a.issuer.GenerateToken(req.UserID)
	if err != nil {
		web.Error(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}
	web.JSON(w, http.StatusOK, LoginResponse{Token: token})
}

// History returns the newest messages of a conversation the caller takes part in, oldest first.
func (a *API) History(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())

	conversationID := r.URL.Query().Get("conversation_id")
	if _, err := model.OtherParticipant(conversationID, claims.UserID); err != nil {
		if errors.Is(err, model.ErrNotParticipant) {
			web.Error(w, http.StatusForbidden, "Not a participant")
			return
		}
		web.Error(w, http.StatusBadRequest, "Invalid conversation_id")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			web.Error(w, http.StatusBadRequest, "limit must be a number")
			return
		}
		limit = n
	}

	messages, err := a.messages.History(r.Context(), conversationID, limit)
	if err != nil {
		a.log.Error("load history", zap.String("conversation_id", conversationID), zap.Error(err))
		web.Error(w, http.StatusInternalServerError, "Failed to retrieve history")
		return
	}
	if messages == nil {
		messages = []model.Message{}
	}
	web.JSON(w, http.StatusOK, messages)
}
