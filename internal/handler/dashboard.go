package handler

import (
	"cmp"
	"net/http"
	"slices"

	"github.com/abdusco/redirects/internal/redirect"
	"github.com/labstack/echo/v4"
	"github.com/samber/lo"
)

const topRedirects = 5

type DashboardHandler struct {
	store *redirect.Store
}

func NewDashboardHandler(store *redirect.Store) *DashboardHandler {
	return &DashboardHandler{store: store}
}

type DashboardResponse struct {
	Count     int                `json:"count"`
	TotalHits int64              `json:"total_hits"`
	ByType    map[int]int        `json:"by_type"`
	Top       []RedirectResponse `json:"top"`
}

func (h *DashboardHandler) Summary(c echo.Context) error {
	rules, err := h.store.All(c.Request().Context())
	if err != nil {
		return storeError(err)
	}

	responses := lo.Map(rules, toResponse)
	slices.SortStableFunc(responses, func(a, b RedirectResponse) int {
		return cmp.Compare(b.Hits, a.Hits)
	})
	top := lo.Filter(responses, func(r RedirectResponse, _ int) bool { return r.Hits > 0 })

	return c.JSON(http.StatusOK, DashboardResponse{
		Count:     len(rules),
		TotalHits: lo.SumBy(rules, func(r redirect.Rule) int64 { return r.Hits }),
		ByType:    lo.CountValuesBy(rules, func(r redirect.Rule) int { return int(r.Type) }),
		Top:       lo.Subset(top, 0, topRedirects),
	})
}
