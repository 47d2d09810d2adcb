package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"school-service/internal/service"
	"school-service/internal/util"
)

// AuthHandler serves login and registration.
type AuthHandler struct {
	responder
	auth *service.AuthService
}

func NewAuthHandler(auth *service.AuthService, r responder) *AuthHandler {
	return &AuthHandler{responder: r, auth: auth}
}

func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/register", h.Register)
	})
}

// Login answers 401 for bad credentials and 429 with lockedUntil while the
// identification is locked out.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req service.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondWithError(w, r, err, "Invalid request body")
		return
	}

	res, err := h.auth.Login(r.Context(), &req, h.client(r))
	if err != nil {
		h.respondWithError(w, r, err, "Login failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, util.SuccessResponse(res, "Login successful"))
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondWithError(w, r, err, "Invalid request body")
		return
	}

	user, err := h.auth.Register(r.Context(), &req, h.client(r))
	if err != nil {
		h.respondWithError(w, r, err, "Registration failed")
		return
	}
	h.respondWithJSON(w, http.StatusCreated, util.SuccessResponse(user, "User registered successfully"))
}
