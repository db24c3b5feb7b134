package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// ErrInvalidCredentials is returned when the operator login does not match.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Handler serves the login and identity endpoints.
type Handler struct {
	manager *Manager
}

func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Login checks the operator credentials and returns a signed token.
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid request body",
		})
	}

	user, err := h.validateCredentials(req.Username, req.Password)
	if err != nil {
		log.Warn().Str("username", req.Username).Msg("login rejected")
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "Invalid credentials",
		})
	}

	token, err := h.manager.GenerateToken(user)
	if err != nil {
		log.Error().Err(err).Msg("token generation failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to generate token",
		})
	}

	log.Info().Str("username", user.Name).Msg("operator logged in")
	return c.JSON(http.StatusOK, LoginResponse{Token: token, User: user})
}

// Me returns the identity behind the presented token.
func (h *Handler) Me(c echo.Context) error {
	user := GetUserFromContext(c)
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "Not authenticated",
		})
	}
	return c.JSON(http.StatusOK, user)
}

// validateCredentials compares against the configured operator account.
// Both comparisons always run so a wrong username costs the same as a
// wrong password.
func (h *Handler) validateCredentials(username, password string) (User, error) {
	cfg := h.manager.config
	if cfg.User == "" || cfg.Password == "" {
		return User{}, fmt.Errorf("no operator account configured: %w", ErrInvalidCredentials)
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(cfg.User))
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(cfg.Password))
	if userOK&passOK != 1 {
		return User{}, ErrInvalidCredentials
	}

	return User{
		Name:  cfg.User,
		Roles: []string{RoleAdmin, RoleApprover},
	}, nil
}
