package handler

import (
	"errors"
	"net/http"

	"github.com/abdusco/redirects/internal/auth"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

type AuthHandler struct {
	authenticator *auth.Authenticator
}

func NewAuthHandler(authenticator *auth.Authenticator) *AuthHandler {
	return &AuthHandler{authenticator: authenticator}
}

// Login validates credentials and sets the session cookie.
func (h *AuthHandler) Login(c echo.Context) error {
	var req auth.Credentials
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	cookie, err := h.authenticator.Authenticate(req)
	if errors.Is(err, auth.ErrUnauthorized) {
		log.Warn().Str("username", req.Username).Msg("failed login attempt")
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create token")
	}
	cookie.Secure = c.IsTLS()
	c.SetCookie(cookie)

	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Logout clears the session cookie.
func (h *AuthHandler) Logout(c echo.Context) error {
	c.SetCookie(h.authenticator.ExpireCookie())
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
