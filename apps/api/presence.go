package main

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/mahaj/chat-relay/pkg/presence"
	"github.com/mahaj/chat-relay/pkg/web"
)

// Presence lists the users the gateways currently report online.
func (a *API) Presence(w http.ResponseWriter, r *http.Request) {
	if a.redis == nil {
		web.Error(w, http.StatusServiceUnavailable, "Presence is not shared by this deployment")
		return
	}

	users, err := presence.OnlineUsers(r.Context(), a.redis)
	if err != nil {
		a.log.Error("fetch presence", zap.Error(err))
		web.Error(w, http.StatusInternalServerError, "Failed to fetch presence")
		return
	}
	if users == nil {
		users = []string{}
	}
	web.JSON(w, http.StatusOK, map[string][]string{"online": users})
}
