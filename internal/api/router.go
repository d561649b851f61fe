// Tourforge - Virtual Tour Editor and Session Server
// Copyright 2026 Tourforge Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tourforge/tourforge

// Package api provides HTTP routing using Chi router. The only real
// surface is the websocket endpoint; everything else is health and
// metrics plumbing.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/tourforge/tourforge/internal/config"
	"github.com/tourforge/tourforge/internal/logging"
	ws "github.com/tourforge/tourforge/internal/websocket"
)

// Router assembles the HTTP surface of the server.
type Router struct {
	cfg      *config.Config
	hub      *ws.Hub
	commands *CommandHandler
	upgrader websocket.Upgrader
}

// NewRouter creates a router serving the given hub and dispatcher.
func NewRouter(cfg *config.Config, hub *ws.Hub, commands *CommandHandler) *Router {
	return &Router{
		cfg:      cfg,
		hub:      hub,
		commands: commands,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
			// Editor clients are desktop apps and file:// pages that
			// send no Origin header, so origin checking is left open.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Setup configures all routes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(httprate.LimitByIP(router.cfg.Security.RateLimitReqs, router.cfg.Security.RateLimitWindow))

	r.Get("/healthz", router.health)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/connect", router.webSocket)
	r.Get("/ws", router.webSocket)

	return r
}

func (router *Router) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// webSocket upgrades the connection and hands it to the hub. Each
// connection gets its own command budget so one noisy client cannot
// starve the rest.
func (router *Router) webSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := router.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("websocket upgrade error")
		return
	}

	limiter := rate.NewLimiter(
		rate.Every(router.cfg.Security.RateLimitWindow/time.Duration(router.cfg.Security.RateLimitReqs)),
		router.cfg.Security.RateLimitReqs,
	)

	client := ws.NewClient(router.hub, conn, router.commands, limiter)
	router.hub.Register <- client
	client.Start()
}
