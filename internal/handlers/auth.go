package handlers

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/memohai/intake/internal/auth"
	"github.com/memohai/intake/internal/config"
)

// AuthHandler issues admin tokens.
type AuthHandler struct {
	logger       *slog.Logger
	username     string
	passwordHash []byte
	jwtSecret    string
	expiresIn    time.Duration
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   string `json:"expires_at"`
	Username    string `json:"username"`
}

// NewAuthHandler accepts the admin password either as a bcrypt hash or in
// plain text; plain text is hashed once here so comparisons stay uniform.
func NewAuthHandler(log *slog.Logger, admin config.AdminConfig, authCfg config.AuthConfig) (*AuthHandler, error) {
	if log == nil {
		log = slog.Default()
	}
	username := strings.TrimSpace(admin.Username)
	if username == "" || admin.Password == "" {
		return nil, fmt.Errorf("admin username and password are required")
	}
	if strings.TrimSpace(authCfg.JWTSecret) == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	hash := []byte(admin.Password)
	if _, err := bcrypt.Cost(hash); err != nil {
		hash, err = bcrypt.GenerateFromPassword([]byte(admin.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash admin password: %w", err)
		}
	}
	return &AuthHandler{
		logger:       log.With(slog.String("handler", "auth")),
		username:     username,
		passwordHash: hash,
		jwtSecret:    authCfg.JWTSecret,
		expiresIn:    authCfg.ExpiresIn(),
	}, nil
}

func (h *AuthHandler) Register(e *echo.Echo) {
	e.POST("/auth/login", h.Login)
	e.POST("/auth/refresh", h.Refresh)
}

// Login godoc
// @Summary Admin login
// @Description Exchange admin credentials for a JWT
// @Tags auth
// @Param payload body LoginRequest true "Login request"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(c echo.Context) error {
	var req LoginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	userOK := subtle.ConstantTimeCompare([]byte(strings.TrimSpace(req.Username)), []byte(h.username)) == 1
	passErr := bcrypt.CompareHashAndPassword(h.passwordHash, []byte(req.Password))
	if !userOK || passErr != nil {
		h.logger.Warn("admin login rejected", slog.String("username", req.Username))
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	token, expiresAt, err := auth.GenerateToken(h.username, h.jwtSecret, h.expiresIn)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt.Format(time.RFC3339),
		Username:    h.username,
	})
}

// Refresh godoc
// @Summary Refresh admin token
// @Tags auth
// @Success 200 {object} LoginResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c echo.Context) error {
	token, expiresAt, err := auth.RefreshTokenFromContext(c, h.jwtSecret, h.expiresIn)
	if err != nil {
		return err
	}
	adminID, _ := auth.AdminIDFromContext(c)
	return c.JSON(http.StatusOK, LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt.Format(time.RFC3339),
		Username:    adminID,
	})
}
