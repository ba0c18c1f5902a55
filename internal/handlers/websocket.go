package handlers

import (
	"net/http"

	"civic-hazard-backend/internal/apperr"
	"civic-hazard-backend/internal/middleware"
	"civic-hazard-backend/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// FeedHandler upgrades authority clients onto the live report feed.
type FeedHandler struct {
	hub       *services.FeedHub
	validator middleware.TokenValidator
}

// NewFeedHandler creates a new feed handler
func NewFeedHandler(hub *services.FeedHub, validator middleware.TokenValidator) *FeedHandler {
	return &FeedHandler{hub: hub, validator: validator}
}

// HandleFeed handles GET /ws. Browsers cannot set headers on websocket
// requests, so the token travels as a query parameter.
func (h *FeedHandler) HandleFeed(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		respondErr(w, apperr.Unauthorized("token required"))
		return
	}

	userID, role, err := h.validator.ValidateJWT(token)
	if err != nil {
		respondErr(w, apperr.Unauthorized("invalid token"))
		return
	}
	if !role.IsAuthority() {
		respondErr(w, apperr.Forbidden("the live feed requires authority access"))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade feed connection")
		return
	}

	h.hub.Register(userID, conn)
	defer h.hub.Unregister(userID)

	log.Info().Str("user_id", userID).Msg("Feed connection established")

	// The feed is one-way; drain client frames until the connection closes.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("user_id", userID).Msg("Feed connection error")
			}
			return
		}
	}
}
