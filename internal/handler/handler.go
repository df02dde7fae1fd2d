package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/vkudelin/agent-registry/internal/infrastructure/auth"
	"github.com/vkudelin/agent-registry/internal/models"
	service "github.com/vkudelin/agent-registry/internal/services"
	pkgerrors "github.com/vkudelin/agent-registry/pkg/errors"
)

type Handler struct {
	service service.AuthService
}

func NewHandler(s service.AuthService) *Handler {
	return &Handler{service: s}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

// writeInternalError keeps the failure detail in the server log; the client
// only ever sees a fixed message.
func (h *Handler) writeInternalError(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	h.writeError(w, http.StatusInternalServerError, errors.New("internal server error"))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/register", h.Register).Methods("POST")
	r.HandleFunc("/login", h.Login).Methods("POST")
	r.HandleFunc("/refresh", h.Refresh).Methods("POST")
	r.HandleFunc("/logout", h.Logout).Methods("POST")
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/me", h.Me).Methods("GET")
}

func (h *Handler) RegisterAdminRoutes(r *mux.Router) {
	r.HandleFunc("/stats", h.TokenStats).Methods("GET")
}

type sessionResponse struct {
	User   *models.User      `json:"user"`
	Tokens *models.TokenPair `json:"tokens"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	user, tokens, err := h.service.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, pkgerrors.ErrEmailExists), errors.Is(err, pkgerrors.ErrUsernameExists):
			h.writeError(w, http.StatusConflict, err)
		case errors.Is(err, pkgerrors.ErrInvalidInput):
			h.writeError(w, http.StatusBadRequest, err)
		default:
			h.writeInternalError(w, r, err)
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, sessionResponse{User: user, Tokens: tokens})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	user, tokens, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrInvalidCredentials) {
			h.writeError(w, http.StatusUnauthorized, err)
		} else {
			h.writeInternalError(w, r, err)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, sessionResponse{User: user, Tokens: tokens})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.RefreshToken == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("refresh_token is required"))
		return
	}

	accessToken, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrInvalidToken) {
			h.writeError(w, http.StatusUnauthorized, err)
		} else {
			h.writeInternalError(w, r, err)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"access_token": accessToken})
}

// Logout never fails for the caller: deletion problems are logged downstream
// and the response is always 204.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
		AccessToken  string `json:"access_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.RefreshToken == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("refresh_token is required"))
		return
	}

	h.service.Logout(r.Context(), req.RefreshToken, req.AccessToken)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}
	h.writeJSON(w, http.StatusOK, principal)
}

func (h *Handler) TokenStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.TokenStats(r.Context())
	if err != nil {
		h.writeInternalError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}
