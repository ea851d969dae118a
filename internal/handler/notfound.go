package handler

import (
	"net/http"

	"github.com/abdusco/redirects/internal/redirect"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// NotFoundHandler answers requests nothing else handled.
// Admin paths always get a plain 404.
type NotFoundHandler struct {
	dispatcher *redirect.Dispatcher
	settings   *redirect.SettingsStore
	siteURL    string
}

func NewNotFoundHandler(dispatcher *redirect.Dispatcher, settings *redirect.SettingsStore, siteURL string) *NotFoundHandler {
	return &NotFoundHandler{dispatcher: dispatcher, settings: settings, siteURL: siteURL}
}

func (h *NotFoundHandler) Handle(c echo.Context) error {
	path := c.Request().URL.Path
	if path == "/" || h.dispatcher.IsAdmin(path) {
		return echo.ErrNotFound
	}
	if h.settings.Current(c.Request().Context()).Redirect404ToHome {
		log.Debug().Str("path", path).Msg("redirecting 404 to home")
		c.Response().Header().Set("X-Redirect-By", redirectedBy)
		return c.Redirect(http.StatusFound, h.siteURL+"/")
	}
	return echo.ErrNotFound
}
