package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mahaj/chat-relay/pkg/auth"
	"github.com/mahaj/chat-relay/pkg/web"
)

type TargetRequest struct {
	UserID string `json:"user_id"`
}

func (a *API) decodeTarget(w http.ResponseWriter, r *http.Request, self string) (string, bool) {
	var req TargetRequest
	if err := web.Decode(w, r, &req); err != nil {
		web.Error(w, http.StatusBadRequest, "Invalid request body")
		return "", false
	}
	if req.UserID == "" || req.UserID == self {
		web.Error(w, http.StatusBadRequest, "user_id must name another user")
		return "", false
	}
	return req.UserID, true
}

// Block adds user_id to the caller's block list. Blocked senders are dropped silently by the relay.
func (a *API) Block(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	target, ok := a.decodeTarget(w, r, claims.UserID)
	if !ok {
		return
	}
	if err := a.profiles.Block(r.Context(), claims.UserID, target); err != nil {
		a.log.Error("block user", zap.String("user_id", claims.UserID), zap.String("target", target), zap.Error(err))
		web.Error(w, http.StatusInternalServerError, "Failed to block user")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) Unblock(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	target := chi.URLParam(r, "id")
	if err := a.profiles.Unblock(r.Context(), claims.UserID, target); err != nil {
		a.log.Error("unblock user", zap.String("user_id", claims.UserID), zap.String("target", target), zap.Error(err))
		web.Error(w, http.StatusInternalServerError, "Failed to unblock user")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecordInterest notes that the caller is interested in user_id.
func (a *API) RecordInterest(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	target, ok := a.decodeTarget(w, r, claims.UserID)
	if !ok {
		return
	}
	if err := a.profiles.RecordInterest(r.Context(), claims.UserID, target); err != nil {
		a.log.Error("record interest", zap.String("user_id", claims.UserID), zap.String("target", target), zap.Error(err))
		web.Error(w, http.StatusInternalServerError, "Failed to record interest")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// InterestedBy lists the users that recorded interest in the caller.
func (a *API) InterestedBy(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	users, err := a.profiles.InterestedBy(r.Context(), claims.UserID)
	if err != nil {
		a.log.Error("load interest", zap.String("user_id", claims.UserID), zap.Error(err))
		web.Error(w, http.StatusInternalServerError, "Failed to load interest")
		return
	}
	if users == nil {
		users = []string{}
	}
	web.JSON(w, http.StatusOK, map[string][]string{"users": users})
}
