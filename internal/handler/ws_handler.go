/*
This file contains HandleWebSocket, which checks that the bearer token
belongs to the connecting user, upgrades the HTTP connection and runs the client's pumps.
*/
package handler

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"edchat/internal/app/chat"
	"edchat/internal/app/db"
	"edchat/internal/pkg/auth/jwt"
	"edchat/internal/pkg/errs"
	"edchat/internal/pkg/logx"
	"edchat/internal/pkg/randx"
	"edchat/internal/pkg/resp"
)

// HandleWebSocket upgrades GET /ws?userId=<id> into the realtime channel of
// that user. The route requires a bearer token, and its subject must be userId.
func HandleWebSocket(deps *AppDeps, upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userId")
		if !randx.IsValidID(userID) {
			logx.Warn("WebSocket request rejected: missing or malformed userId")
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		identity := jwt.GetPayloadFromContext(r)
		if identity == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}
		if identity.ID != userID {
			logx.Warn("WebSocket connection rejected: token belongs to another user",
				"user_id", userID, "token_user_id", identity.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrIdentityMismatch))
			return
		}

		if _, err := deps.Users.GetUserByID(r.Context(), userID); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				logx.Info("WebSocket connection rejected: unknown user.", "user_id", userID)
				resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
				return
			}
			logx.Error(err, "WebSocket user lookup failed", "user_id", userID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		client := chat.NewClient(deps.Hub, conn, userID)
		if !deps.Hub.Register(client) {
			logx.Warn("WebSocket connection dropped: hub is shutting down", "user_id", userID)
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			_ = conn.Close()
			return
		}

		go client.WritePump()

		logx.Info("WebSocket connection established and client registered", "client_id", userID)

		client.ReadPump()
	}
}
