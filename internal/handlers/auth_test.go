package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/memohai/intake/internal/config"
)

func TestNewAuthHandlerRequiresCredentials(t *testing.T) {
	t.Parallel()

	_, err := NewAuthHandler(nil, config.AdminConfig{}, config.AuthConfig{JWTSecret: "s"})
	assert.Error(t, err)
	_, err = NewAuthHandler(nil, config.AdminConfig{Username: "ops", Password: "pw"}, config.AuthConfig{})
	assert.Error(t, err)
}

func TestLogin(t *testing.T) {
	t.Parallel()

	hashed, err := bcrypt.GenerateFromPassword([]byte("hashed-pw"), bcrypt.MinCost)
	require.NoError(t, err)

	cases := []struct {
		name     string
		password string
		body     string
		status   int
	}{
		{name: "plain password", password: "secret", body: `{"username":"ops","password":"secret"}`, status: http.StatusOK},
		{name: "bcrypt password", password: string(hashed), body: `{"username":"ops","password":"hashed-pw"}`, status: http.StatusOK},
		{name: "wrong password", password: "secret", body: `{"username":"ops","password":"nope"}`, status: http.StatusUnauthorized},
		{name: "wrong user", password: "secret", body: `{"username":"root","password":"secret"}`, status: http.StatusUnauthorized},
		{name: "missing field", password: "secret", body: `{"username":"ops"}`, status: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h, err := NewAuthHandler(nil, config.AdminConfig{Username: "ops", Password: tc.password}, config.AuthConfig{JWTSecret: "secret-key"})
			require.NoError(t, err)
			e := echo.New()
			h.Register(e)

			rec := serve(e, http.MethodPost, "/auth/login", tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			if tc.status != http.StatusOK {
				return
			}
			var resp LoginResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.AccessToken)
			assert.Equal(t, "Bearer", resp.TokenType)
			assert.Equal(t, "ops", resp.Username)
		})
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	e := echo.New()
	NewPingHandler(nil).Register(e)
	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/ping", "").Code)
	assert.Equal(t, http.StatusOK, serve(e, http.MethodHead, "/health", "").Code)
}
