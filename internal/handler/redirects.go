package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/abdusco/redirects/internal/redirect"
	"github.com/abdusco/redirects/internal/repo"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const recentHitsLimit = 50

// HitLog records individual dispatches. It is optional.
type HitLog interface {
	Create(ctx context.Context, ruleID int64, path string, status int, userAgent, ipAddress string) error
	Recent(ctx context.Context, ruleID int64, limit uint) ([]repo.Hit, error)
	DeleteForRule(ctx context.Context, ruleID int64) error
}

type RedirectHandler struct {
	store *redirect.Store
	hits  HitLog
	now   func() time.Time
}

func NewRedirectHandler(store *redirect.Store, hits HitLog) *RedirectHandler {
	return &RedirectHandler{
		store: store,
		hits:  hits,
		now:   time.Now,
	}
}

type RedirectRequest struct {
	Source      string `json:"source" form:"source"`
	Destination string `json:"destination" form:"destination"`
	Type        int    `json:"type" form:"type"`
	Regex       bool   `json:"regex" form:"regex"`
}

func (r RedirectRequest) toInput() redirect.RuleInput {
	return redirect.RuleInput{
		Source:      strings.TrimSpace(r.Source),
		Destination: strings.TrimSpace(r.Destination),
		Type:        redirect.Type(r.Type),
		Regex:       r.Regex,
	}
}

type RedirectResponse struct {
	ID           int64  `json:"id"`
	Position     int    `json:"position"`
	Source       string `json:"source"`
	Destination  string `json:"destination"`
	Type         int    `json:"type"`
	TypeLabel    string `json:"type_label"`
	Regex        bool   `json:"regex"`
	Hits         int64  `json:"hits"`
	LastAccessed string `json:"last_accessed"`
	Created      string `json:"created"`
}

type TypeResponse struct {
	Code  int    `json:"code"`
	Label string `json:"label"`
}

type ListRedirectsResponse struct {
	Redirects []RedirectResponse `json:"redirects"`
	Count     int                `json:"count"`
	Shadowed  []redirect.Shadow  `json:"shadowed"`
	Types     []TypeResponse     `json:"types"`
}

type RedirectEnvelope struct {
	Message  string           `json:"message,omitempty"`
	Redirect RedirectResponse `json:"redirect"`
}

type ImportResponse struct {
	Message string `json:"message"`
	redirect.ImportResult
}

func toResponse(rule redirect.Rule, position int) RedirectResponse {
	return RedirectResponse{
		ID:           rule.ID,
		Position:     position,
		Source:       rule.Source,
		Destination:  rule.Destination,
		Type:         int(rule.Type),
		TypeLabel:    rule.Type.Label(),
		Regex:        rule.Regex,
		Hits:         rule.Hits,
		LastAccessed: rule.LastAccessed.String(),
		Created:      rule.Created.String(),
	}
}

// storeError maps store failures to HTTP errors.
func storeError(err error) error {
	switch {
	case errors.Is(err, redirect.ErrRuleNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, redirect.ErrEmptySource),
		errors.Is(err, redirect.ErrMissingDestination),
		errors.Is(err, redirect.ErrInvalidPattern),
		errors.Is(err, redirect.ErrControlCharacter):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, redirect.ErrVersionConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid redirect ID")
	}
	return id, nil
}

func (h *RedirectHandler) ListRedirects(c echo.Context) error {
	rules, err := h.store.All(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list redirects")
		return storeError(err)
	}

	return c.JSON(http.StatusOK, ListRedirectsResponse{
		Redirects: lo.Map(rules, toResponse),
		Count:     len(rules),
		Shadowed:  h.store.Shadowed(rules),
		Types: lo.Map(redirect.Types, func(t redirect.Type, _ int) TypeResponse {
			return TypeResponse{Code: int(t), Label: t.Label()}
		}),
	})
}

func (h *RedirectHandler) GetRedirect(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	rules, err := h.store.All(c.Request().Context())
	if err != nil {
		return storeError(err)
	}
	rule, position, found := lo.FindIndexOf(rules, func(r redirect.Rule) bool { return r.ID == id })
	if !found {
		return storeError(redirect.ErrRuleNotFound)
	}

	return c.JSON(http.StatusOK, RedirectEnvelope{Redirect: toResponse(rule, position)})
}

func (h *RedirectHandler) CreateRedirect(c echo.Context) error {
	ctx := c.Request().Context()

	var req RedirectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	rule, err := h.store.Add(ctx, req.toInput())
	if err != nil {
		log.Warn().Err(err).Str("source", req.Source).Msg("failed to add redirect")
		return storeError(err)
	}

	position := h.warnShadowed(ctx, rule.ID)

	return c.JSON(http.StatusCreated, RedirectEnvelope{
		Message:  "Redirect added successfully.",
		Redirect: toResponse(rule, position),
	})
}

func (h *RedirectHandler) UpdateRedirect(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := parseID(c)
	if err != nil {
		return err
	}

	var req RedirectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	rule, err := h.store.Update(ctx, id, req.toInput())
	if err != nil {
		log.Warn().Err(err).Int64("id", id).Msg("failed to update redirect")
		return storeError(err)
	}

	position := h.warnShadowed(ctx, rule.ID)

	return c.JSON(http.StatusOK, RedirectEnvelope{
		Message:  "Redirect updated successfully.",
		Redirect: toResponse(rule, position),
	})
}

// warnShadowed logs when rule id can never match and returns its position.
func (h *RedirectHandler) warnShadowed(ctx context.Context, id int64) int {
	rules, err := h.store.All(ctx)
	if err != nil {
		return -1
	}
	for _, shadow := range h.store.Shadowed(rules) {
		if shadow.RuleID == id {
			log.Warn().
				Int64("id", id).
				Int64("shadowed_by", shadow.ShadowedBy).
				Msg("redirect is unreachable, an earlier rule matches its source")
		}
	}
	_, position, _ := lo.FindIndexOf(rules, func(r redirect.Rule) bool { return r.ID == id })
	return position
}

func (h *RedirectHandler) DeleteRedirect(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := parseID(c)
	if err != nil {
		return err
	}

	if err := h.store.Delete(ctx, id); err != nil {
		return storeError(err)
	}

	if h.hits != nil {
		if err := h.hits.DeleteForRule(ctx, id); err != nil {
			log.Error().Err(err).Int64("id", id).Msg("failed to clear hit log")
		}
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "Redirect deleted successfully."})
}

func (h *RedirectHandler) DeleteAllRedirects(c echo.Context) error {
	if err := h.store.DeleteAll(c.Request().Context()); err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "All redirects deleted."})
}

func (h *RedirectHandler) ExportRedirects(c echo.Context) error {
	var buf bytes.Buffer
	if err := h.store.ExportCSV(c.Request().Context(), &buf); err != nil {
		return storeError(err)
	}

	filename := "redirects-" + h.now().UTC().Format(time.DateOnly) + ".csv"
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (h *RedirectHandler) ImportRedirects(c echo.Context) error {
	var data []byte
	contentType := c.Request().Header.Get(echo.HeaderContentType)
	if strings.HasPrefix(contentType, echo.MIMEApplicationForm) || strings.HasPrefix(contentType, echo.MIMEMultipartForm) {
		data = []byte(c.FormValue("csv"))
	} else {
		raw, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
		}
		data = raw
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "No CSV data provided.")
	}

	result, err := h.store.ImportCSV(c.Request().Context(), bytes.NewReader(data))
	if err != nil {
		return storeError(err)
	}

	return c.JSON(http.StatusOK, ImportResponse{
		Message:      fmt.Sprintf("Imported %d redirects, skipped %d.", result.Imported, result.Skipped),
		ImportResult: result,
	})
}

func (h *RedirectHandler) ListHits(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := parseID(c)
	if err != nil {
		return err
	}

	if _, err := h.store.Get(ctx, id); err != nil {
		return storeError(err)
	}

	if h.hits == nil {
		return c.JSON(http.StatusOK, map[string]any{"hits": []repo.Hit{}})
	}

	hits, err := h.hits.Recent(ctx, id, recentHitsLimit)
	if err != nil {
		log.Error().Err(err).Int64("id", id).Msg("failed to list hits")
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"hits": hits})
}
