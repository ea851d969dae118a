package handler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/abdusco/redirects/internal/redirect"
	"github.com/abdusco/redirects/internal/repo"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

const testSite = "https://example.com"

type memoryHitLog struct {
	mu   sync.Mutex
	hits []repo.Hit
}

func (m *memoryHitLog) Create(_ context.Context, ruleID int64, path string, status int, userAgent, ipAddress string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits = append(m.hits, repo.Hit{
		ID:        int64(len(m.hits) + 1),
		RuleID:    ruleID,
		Path:      path,
		Status:    status,
		UserAgent: userAgent,
		IPAddress: ipAddress,
	})
	return nil
}

func (m *memoryHitLog) Recent(_ context.Context, ruleID int64, limit uint) ([]repo.Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repo.Hit
	for i := len(m.hits) - 1; i >= 0 && uint(len(out)) < limit; i-- {
		if m.hits[i].RuleID == ruleID {
			out = append(out, m.hits[i])
		}
	}
	return out, nil
}

func (m *memoryHitLog) DeleteForRule(_ context.Context, ruleID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.hits[:0]
	for _, h := range m.hits {
		if h.RuleID != ruleID {
			kept = append(kept, h)
		}
	}
	m.hits = kept
	return nil
}

type testServer struct {
	e        *echo.Echo
	store    *redirect.Store
	settings *redirect.SettingsStore
	hits     *memoryHitLog
}

// newTestServer wires the handlers the way main does, without authentication.
func newTestServer(t *testing.T, pages ErrorPages) *testServer {
	t.Helper()

	store := redirect.NewStore(redirect.NewMemorySlot(), redirect.NewNormalizer(testSite))
	settings := redirect.NewSettingsStore(redirect.NewMemorySlot(), redirect.Settings{RedirectsEnabled: true})
	hits := &memoryHitLog{}

	if pages == nil {
		var err error
		pages, err = NewErrorPages(testSite, "", "")
		require.NoError(t, err)
	}

	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler
	dispatcher := redirect.NewDispatcher(store, settings, "/admin")
	e.Pre(NewDispatchHandler(dispatcher, hits, pages).Middleware())

	api := e.Group("/admin/api")
	rh := NewRedirectHandler(store, hits)
	api.GET("/redirects", rh.ListRedirects)
	api.POST("/redirects", rh.CreateRedirect)
	api.DELETE("/redirects", rh.DeleteAllRedirects)
	api.GET("/redirects/export", rh.ExportRedirects)
	api.POST("/redirects/import", rh.ImportRedirects)
	api.GET("/redirects/:id", rh.GetRedirect)
	api.PUT("/redirects/:id", rh.UpdateRedirect)
	api.DELETE("/redirects/:id", rh.DeleteRedirect)
	api.GET("/redirects/:id/hits", rh.ListHits)

	sh := NewSettingsHandler(settings)
	api.GET("/settings", sh.GetSettings)
	api.PUT("/settings", sh.UpdateSettings)

	api.GET("/dashboard", NewDashboardHandler(store).Summary)

	e.GET("/content", func(c echo.Context) error {
		return c.String(http.StatusOK, "page")
	})
	e.RouteNotFound("/*", NewNotFoundHandler(dispatcher, settings, testSite).Handle)

	return &testServer{e: e, store: store, settings: settings, hits: hits}
}

func (s *testServer) do(method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) doJSON(method, target, body string) *httptest.ResponseRecorder {
	return s.do(method, target, strings.NewReader(body), echo.MIMEApplicationJSON)
}

func (s *testServer) add(t *testing.T, in redirect.RuleInput) redirect.Rule {
	t.Helper()
	rule, err := s.store.Add(context.Background(), in)
	require.NoError(t, err)
	return rule
}
