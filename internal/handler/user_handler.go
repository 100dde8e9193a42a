package handler

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/userdir/internal/service"
)

// dniParam returns the {dni} path segment. Routing matches on the raw path
// when the request has one, so escaped segments are decoded here.
func dniParam(r *http.Request) string {
	raw := chi.URLParam(r, "dni")
	if dni, err := url.PathUnescape(raw); err == nil {
		return dni
	}
	return raw
}

// UserHandler serves the user directory JSON API.
type UserHandler struct {
	userService *service.UserService
	logger      zerolog.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(userService *service.UserService, logger zerolog.Logger) *UserHandler {
	return &UserHandler{
		userService: userService,
		logger:      logger.With().Str("handler", "user").Logger(),
	}
}

// RegisterRoutes registers the user routes under r.
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Get("/users", h.ListUsers)
	r.Post("/users", h.CreateUser)
	r.Get("/users/{dni}", h.GetUser)
	r.Patch("/users/{dni}", h.UpdateUser)
	r.Delete("/users/{dni}", h.DeleteUser)
	r.Post("/users/{dni}/access", h.SearchUser)
	r.Put("/users/{dni}/last-access", h.SetLastAccess)
}

// CreateUserRequest is the body of POST /users.
type CreateUserRequest struct {
	DNI   string `json:"dni"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// UpdateUserRequest is the body of PATCH /users/{dni}. Omitted fields are kept.
type UpdateUserRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

// SetLastAccessRequest is the body of PUT /users/{dni}/last-access.
type SetLastAccessRequest struct {
	LastAccess string `json:"last_access"`
}

// ListUsers handles GET /users.
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	out, err := h.userService.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateUser handles POST /users.
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.userService.Create(r.Context(), service.CreateUserInput{
		DNI:   req.DNI,
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/users/"+url.PathEscape(user.DNI))
	writeJSON(w, http.StatusCreated, user)
}

// GetUser handles GET /users/{dni}. It does not record an access.
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.userService.Get(r.Context(), dniParam(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// SearchUser handles POST /users/{dni}/access: a lookup that records the access.
func (h *UserHandler) SearchUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.userService.Search(r.Context(), dniParam(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdateUser handles PATCH /users/{dni}.
func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req UpdateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.userService.Update(r.Context(), service.UpdateUserInput{
		DNI:   dniParam(r),
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// DeleteUser handles DELETE /users/{dni}.
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.userService.Delete(r.Context(), dniParam(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetLastAccess handles PUT /users/{dni}/last-access.
func (h *UserHandler) SetLastAccess(w http.ResponseWriter, r *http.Request) {
	var req SetLastAccessRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.userService.SetLastAccess(r.Context(), dniParam(r), req.LastAccess)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
