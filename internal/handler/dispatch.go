package handler

import (
	"bytes"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"os"

	"github.com/abdusco/redirects/internal/logger"
	"github.com/abdusco/redirects/internal/redirect"
	"github.com/labstack/echo/v4"
)

const redirectedBy = "redirects"

var errorPageTemplate = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="utf-8">
	<meta name="viewport" content="width=device-width, initial-scale=1">
	<meta name="robots" content="noindex, nofollow">
	<title>{{.Code}} - {{.Title}}</title>
	<style>
		body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; background: #f1f1f1; color: #444; margin: 0; display: flex; align-items: center; justify-content: center; min-height: 100vh; }
		.error-container { background: #fff; padding: 40px 60px; border-radius: 4px; box-shadow: 0 1px 3px rgba(0,0,0,0.13); text-align: center; max-width: 500px; }
		h1 { font-size: 72px; margin: 0 0 10px; color: #0073aa; }
		h2 { font-size: 24px; margin: 0 0 20px; font-weight: 400; }
		p { color: #666; line-height: 1.6; }
		a { color: #0073aa; text-decoration: none; }
	</style>
</head>
<body>
	<div class="error-container">
		<h1>{{.Code}}</h1>
		<h2>{{.Title}}</h2>
		<p>{{.Message}}</p>
		<p><a href="{{.Home}}">Return to homepage</a></p>
	</div>
</body>
</html>
`))

type errorPage struct {
	Code    int
	Title   string
	Message string
	Home    string
}

// ErrorPages holds the bodies sent for terminal responses.
type ErrorPages map[int][]byte

// NewErrorPages renders the built-in pages and replaces them with the
// contents of gonePath and legalPath when those are set.
func NewErrorPages(siteURL, gonePath, legalPath string) (ErrorPages, error) {
	pages := ErrorPages{}
	builtin := []errorPage{
		{Code: http.StatusGone, Title: "Content Deleted", Message: "The content you are looking for has been permanently removed."},
		{Code: http.StatusUnavailableForLegalReasons, Title: "Unavailable For Legal Reasons", Message: "This content is not available due to legal reasons."},
	}
	for _, page := range builtin {
		page.Home = siteURL + "/"
		var buf bytes.Buffer
		if err := errorPageTemplate.Execute(&buf, page); err != nil {
			return nil, fmt.Errorf("failed to render %d page: %w", page.Code, err)
		}
		pages[page.Code] = buf.Bytes()
	}

	custom := map[int]string{
		http.StatusGone:                       gonePath,
		http.StatusUnavailableForLegalReasons: legalPath,
	}
	for code, path := range custom {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %d page: %w", code, err)
		}
		pages[code] = data
	}

	return pages, nil
}

type DispatchHandler struct {
	dispatcher *redirect.Dispatcher
	hits       HitLog
	pages      ErrorPages
}

func NewDispatchHandler(dispatcher *redirect.Dispatcher, hits HitLog, pages ErrorPages) *DispatchHandler {
	return &DispatchHandler{
		dispatcher: dispatcher,
		hits:       hits,
		pages:      pages,
	}
}

// Middleware answers requests that match a redirect rule before routing.
// Everything else falls through to the next handler.
func (h *DispatchHandler) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			requestURI := req.RequestURI
			if requestURI == "" {
				requestURI = req.URL.RequestURI()
			}

			decision, ok := h.dispatcher.Resolve(req.Context(), requestURI)
			if !ok {
				return next(c)
			}

			if h.hits != nil {
				err := h.hits.Create(req.Context(), decision.Rule.ID, decision.Path, decision.Status, req.UserAgent(), getClientIP(req))
				if err != nil {
					l := logger.With("rule_id", decision.Rule.ID, "path", decision.Path)
					l.Error().Err(err).Msg("failed to log hit")
				}
			}

			if decision.Terminal() {
				return h.terminal(c, decision.Status)
			}

			c.Response().Header().Set("X-Redirect-By", redirectedBy)
			return c.Redirect(decision.Status, decision.Location)
		}
	}
}

func (h *DispatchHandler) terminal(c echo.Context, status int) error {
	header := c.Response().Header()
	header.Set(echo.HeaderCacheControl, "no-cache, must-revalidate, max-age=0, no-store, private")
	header.Set("Expires", "Wed, 11 Jan 1984 05:00:00 GMT")
	header.Set("X-Redirect-By", redirectedBy)

	body, ok := h.pages[status]
	if !ok {
		return c.NoContent(status)
	}
	return c.HTMLBlob(status, body)
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// Try X-Forwarded-For header first (for proxies)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := net.ParseIP(xff); ip != nil {
			return xff
		}
	}

	// Try X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if ip := net.ParseIP(xri); ip != nil {
			return xri
		}
	}

	// Fall back to RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}

	return r.RemoteAddr
}
