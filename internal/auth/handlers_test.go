package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func setupTestAuth() (*Manager, *Handler, *echo.Echo) {
	manager := NewManager(Config{
		Secret:   "test-secret-key",
		TokenTTL: 24 * time.Hour,
		Require:  true,
		User:     "ops",
		Password: "sesame",
	})

	handler := NewHandler(manager)
	e := echo.New()

	return manager, handler, e
}

func postLogin(e *echo.Echo, body string) (*httptest.ResponseRecorder, echo.Context) {
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return rec, e.NewContext(req, rec)
}

func TestLoginSuccess(t *testing.T) {
	manager, handler, e := setupTestAuth()

	rec, c := postLogin(e, `{"username":"ops","password":"sesame"}`)
	err := handler.Login(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "token")
	assert.Contains(t, rec.Body.String(), "ops")

	// The issued token must validate and carry both roles.
	var resp LoginResponse
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	user, err := manager.ValidateToken(resp.Token)
	assert.NoError(t, err)
	assert.True(t, user.HasRole(RoleAdmin))
	assert.True(t, user.HasRole(RoleApprover))
}

func TestLoginInvalidPassword(t *testing.T) {
	_, handler, e := setupTestAuth()

	rec, c := postLogin(e, `{"username":"ops","password":"wrongpassword"}`)
	err := handler.Login(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid credentials")
}

func TestLoginUnknownUser(t *testing.T) {
	_, handler, e := setupTestAuth()

	rec, c := postLogin(e, `{"username":"mallory","password":"sesame"}`)
	err := handler.Login(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginMissingUsername(t *testing.T) {
	_, handler, e := setupTestAuth()

	rec, c := postLogin(e, `{"password":"sesame"}`)
	err := handler.Login(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginInvalidJSON(t *testing.T) {
	_, handler, e := setupTestAuth()

	rec, c := postLogin(e, `{invalid json}`)
	err := handler.Login(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginNoAccountConfigured(t *testing.T) {
	manager := NewManager(Config{
		Secret:  "test-secret",
		Require: true,
	})
	handler := NewHandler(manager)
	e := echo.New()

	rec, c := postLogin(e, `{"username":"ops","password":"sesame"}`)
	err := handler.Login(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMeEndpoint(t *testing.T) {
	_, handler, e := setupTestAuth()

	user := User{
		Name:  "ops",
		Roles: []string{RoleAdmin},
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("user", &user)

	err := handler.Me(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ops")
	assert.Contains(t, rec.Body.String(), "admin")
}

func TestMeEndpointUnauthorized(t *testing.T) {
	_, handler, e := setupTestAuth()

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := handler.Me(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestValidateCredentialsTimingAttack(t *testing.T) {
	_, handler, _ := setupTestAuth()

	// Both failure modes should take similar time.
	start1 := time.Now()
	_, err1 := handler.validateCredentials("ops", "wrongpassword")
	duration1 := time.Since(start1)

	start2 := time.Now()
	_, err2 := handler.validateCredentials("mallory", "sesame")
	duration2 := time.Since(start2)

	assert.Error(t, err1)
	assert.Error(t, err2)

	diff := duration1 - duration2
	if diff < 0 {
		diff = -diff
	}
	assert.Less(t, diff, 10*time.Millisecond, "timing difference too large")
}
