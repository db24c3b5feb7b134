package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

const (
	// RoleAdmin can change configuration and read everything.
	RoleAdmin = "admin"
	// RoleApprover can resolve pending approvals.
	RoleApprover = "approver"
)

// User is the identity carried inside a token and the echo context.
type User struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

// Claims wraps the user with the standard JWT registered claims.
type Claims struct {
	User User `json:"user"`
	jwt.RegisteredClaims
}

// Config controls token signing and which credentials Login accepts.
type Config struct {
	Secret   string
	TokenTTL time.Duration
	Require  bool
	User     string
	Password string
}

// Manager issues and validates operator tokens.
type Manager struct {
	config Config
	secret []byte
}

// NewManager builds a Manager. A missing secret is replaced with a random
// one, which means issued tokens die with the process.
func NewManager(config Config) *Manager {
	secret := config.Secret
	if secret == "" {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			panic(fmt.Sprintf("generate auth secret: %v", err))
		}
		secret = base64.StdEncoding.EncodeToString(raw)
		if config.Require {
			log.Warn().Msg("no auth secret configured, generated an ephemeral one; tokens will not survive a restart")
		}
	}

	if config.TokenTTL == 0 {
		config.TokenTTL = 24 * time.Hour
	}

	return &Manager{
		config: config,
		secret: []byte(secret),
	}
}

// Middleware enforces bearer-token auth on every route except the public
// ones. When auth is not required it only decorates the context with the
// user if a valid token happens to be present.
func (m *Manager) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if isPublicPath(c.Path()) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")

			if !m.config.Require {
				if user, err := m.userFromHeader(authHeader); err == nil {
					c.Set("user", user)
				}
				return next(c)
			}

			if authHeader == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "Missing authorization header",
				})
			}

			user, err := m.userFromHeader(authHeader)
			if err != nil {
				log.Debug().Err(err).Str("path", c.Path()).Msg("token rejected")
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "Invalid token",
				})
			}

			c.Set("user", user)
			return next(c)
		}
	}
}

// RequireRole guards a route with a role check. It must run after
// Middleware so the user is already in the context.
func (m *Manager) RequireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !m.config.Require {
				return next(c)
			}

			user := GetUserFromContext(c)
			if user == nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "Authentication required",
				})
			}

			if !user.HasRole(role) {
				return c.JSON(http.StatusForbidden, map[string]string{
					"error": fmt.Sprintf("Role '%s' required", role),
				})
			}

			return next(c)
		}
	}
}

// GenerateToken signs a token for the user with the configured TTL.
func (m *Manager) GenerateToken(user User) (string, error) {
	now := time.Now()
	claims := Claims{
		User: user,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Name,
			Issuer:    "warden",
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.TokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a token and returns its user.
func (m *Manager) ValidateToken(tokenString string) (*User, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return &claims.User, nil
}

// Required reports whether requests must carry a valid token.
func (m *Manager) Required() bool {
	return m.config.Require
}

// GetUserFromContext returns the authenticated user, or nil when the
// request carried no valid token.
func GetUserFromContext(c echo.Context) *User {
	user, ok := c.Get("user").(*User)
	if !ok {
		return nil
	}
	return user
}

// HasRole reports whether the user carries the given role.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (m *Manager) userFromHeader(header string) (*User, error) {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return nil, fmt.Errorf("malformed authorization header")
	}
	return m.ValidateToken(parts[1])
}

func isPublicPath(path string) bool {
	switch path {
	case "/health", "/login":
		return true
	}
	return false
}
