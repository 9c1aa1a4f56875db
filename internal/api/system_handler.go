package api

import (
	"net/http"

	"github.com/opcbridge/opcbridge/internal/auth"
)

// SystemHandler handles authentication and process-level endpoints.
type SystemHandler struct {
	auth *auth.Service
}

func NewSystemHandler(authService *auth.Service) *SystemHandler {
	return &SystemHandler{auth: authService}
}

// Login handles POST /api/v1/login
func (h *SystemHandler) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[auth.LoginRequest](w, r)
	if !ok {
		return
	}

	if req.Username == "" || req.Password == "" {
		sendError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Username and password are required", nil)
		return
	}

	response, err := h.auth.Login(req.Username, req.Password)
	if err != nil {
		sendError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid credentials", nil)
		return
	}

	sendJSON(w, http.StatusOK, response)
}
