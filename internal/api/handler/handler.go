// Package handler wires the HTTP surface: anonymous identity issuance, the
// websocket relay endpoint and the REST routes for conversations, sessions
// and reports.
package handler

import (
	"randolink/backend/internal/chat"
	"randolink/backend/internal/relay"
	"randolink/backend/internal/report"
	"randolink/backend/internal/session"
	"randolink/backend/internal/store"
)

// Handler carries the services the routes dispatch into.
type Handler struct {
	Hub       *relay.Hub
	Store     store.Storage
	Chat      *chat.Channel
	Registry  *session.Registry
	Reports   *report.Service
	jwtSecret []byte
}

func NewHandler(hub *relay.Hub, s store.Storage, ch *chat.Channel, reg *session.Registry, rep *report.Service, jwtSecret []byte) *Handler {
	return &Handler{
		Hub:       hub,
		Store:     s,
		Chat:      ch,
		Registry:  reg,
		Reports:   rep,
		jwtSecret: jwtSecret,
	}
}
