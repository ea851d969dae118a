package handler

import (
	"net/http"

	"github.com/abdusco/redirects/internal/redirect"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

type SettingsHandler struct {
	settings *redirect.SettingsStore
}

func NewSettingsHandler(settings *redirect.SettingsStore) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

func (h *SettingsHandler) GetSettings(c echo.Context) error {
	settings, err := h.settings.Get(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to load settings")
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, settings)
}

func (h *SettingsHandler) UpdateSettings(c echo.Context) error {
	ctx := c.Request().Context()

	current, err := h.settings.Get(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	// fields missing from the body keep their current values
	if err := c.Bind(&current); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	if err := h.settings.Save(ctx, current); err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, current)
}
