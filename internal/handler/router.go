/*
This file defines the main Router, applying logging, CORS, metrics and rate
limiting before delegating requests to the API and WebSocket handlers.
*/
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"edchat/internal/pkg/auth/jwt"
	"edchat/internal/pkg/limiter"
	"edchat/internal/pkg/logx"
	"edchat/internal/pkg/metrics"
	"edchat/internal/pkg/resp"
)

const (
	AuthRate     = 0.2
	AuthBurst    = 5
	SendRate     = 2
	SendBurst    = 10
	ConnectRate  = 0.2
	ConnectBurst = 5
)

// Router sets up the main HTTP routing table. The rate limiter sweepers run
// until ctx is done.
func Router(ctx context.Context, deps *AppDeps) http.Handler {
	authLimiter := limiter.NewKeyedRateLimiter(ctx, rate.Limit(AuthRate), AuthBurst)
	sendLimiter := limiter.NewKeyedRateLimiter(ctx, rate.Limit(SendRate), SendBurst)
	connectLimiter := limiter.NewKeyedRateLimiter(ctx, rate.Limit(ConnectRate), ConnectBurst)

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	wsUpgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			// Non-browser clients send no Origin.
			if origin == "" {
				return true
			}
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(metrics.HTTPMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		data := map[string]any{
			"status":       "ok",
			"service":      "edchat",
			"online_users": len(deps.Hub.OnlineIDs()),
		}
		resp.RespondSuccess(w, r, data)
	})

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(jwt.IdentityExtractorMiddleware(deps.Config.JWTSecret))

		api.Route("/auth", func(auth chi.Router) {
			auth.Use(authLimiter.Middleware(limiter.ClientIP))
			auth.Post("/register", HandleRegister(deps))
			auth.Post("/login", HandleLogin(deps))
		})

		api.Route("/messages", func(msgs chi.Router) {
			msgs.Use(jwt.RequireIdentity)
			msgs.Get("/users", HandleListUsers(deps))
			msgs.Get("/{partnerId}", HandleGetMessages(deps))
			msgs.With(sendLimiter.Middleware(userKey)).Post("/send/{partnerId}", HandleSendMessage(deps))
		})

		api.Get("/file/download", HandleImageDownload(deps))
	})

	r.With(
		connectLimiter.Middleware(limiter.ClientIP),
		jwt.IdentityExtractorMiddleware(deps.Config.JWTSecret),
		jwt.RequireIdentity,
	).Get("/ws", HandleWebSocket(deps, wsUpgrader))

	return r
}

// userKey buckets authenticated requests by user id.
func userKey(r *http.Request) string {
	if identity := jwt.GetPayloadFromContext(r); identity != nil {
		return "user:" + identity.ID
	}
	return limiter.ClientIP(r)
}
