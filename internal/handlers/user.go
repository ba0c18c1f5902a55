package handlers

import (
	"net/http"

	"civic-hazard-backend/internal/middleware"
	"civic-hazard-backend/internal/models"
	"civic-hazard-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// UserHandler handles account and device-token HTTP requests
type UserHandler struct {
	userService *services.UserService
}

// NewUserHandler creates a new user handler
func NewUserHandler(userService *services.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

type authResponse struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

// Register handles POST /api/v1/auth/register
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := decodeJSON(r, &input); err != nil {
		respondErr(w, err)
		return
	}

	user, token, err := h.userService.Register(r.Context(), input.Email, input.Password, input.Name)
	if err != nil {
		respondErr(w, err)
		return
	}

	log.Info().Str("user_id", user.ID).Msg("User registered")
	respondData(w, http.StatusCreated, authResponse{User: user, Token: token})
}

// Login handles POST /api/v1/auth/login
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &input); err != nil {
		respondErr(w, err)
		return
	}

	user, token, err := h.userService.Login(r.Context(), input.Email, input.Password)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondData(w, http.StatusOK, authResponse{User: user, Token: token})
}

// RegisterPushToken handles POST /api/v1/push-tokens
func (h *UserHandler) RegisterPushToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := middleware.GetActor(ctx)

	var input struct {
		Token    string `json:"token"`
		Platform string `json:"platform"`
	}
	if err := decodeJSON(r, &input); err != nil {
		respondErr(w, err)
		return
	}

	if err := h.userService.RegisterPushToken(ctx, actor.ID, input.Token, input.Platform); err != nil {
		respondErr(w, err)
		return
	}
	respondData(w, http.StatusOK, map[string]string{"status": "registered"})
}

// UpdateRole handles PATCH /api/v1/users/{id}/role (admin only)
func (h *UserHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := middleware.GetActor(ctx)

	var input struct {
		Role string `json:"role"`
	}
	if err := decodeJSON(r, &input); err != nil {
		respondErr(w, err)
		return
	}

	targetID := chi.URLParam(r, "id")
	if err := h.userService.UpdateRole(ctx, actor.Role, targetID, models.Role(input.Role)); err != nil {
		respondErr(w, err)
		return
	}

	log.Info().Str("user_id", targetID).Str("role", input.Role).Msg("Role updated")
	respondData(w, http.StatusOK, map[string]string{"id": targetID, "role": input.Role})
}
