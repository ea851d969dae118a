package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

const cookieName = "redirects_session"

var ErrUnauthorized = errors.New("unauthorized")

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (c Credentials) Check(other Credentials) bool {
	userOK := subtle.ConstantTimeCompare([]byte(c.Username), []byte(other.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(c.Password), []byte(other.Password)) == 1
	return userOK && passOK
}

func NewCredentials(s string) (Credentials, error) {
	username, password, ok := strings.Cut(s, ":")
	if !ok || username == "" {
		return Credentials{}, fmt.Errorf("invalid credentials format")
	}

	return Credentials{
		Username: username,
		Password: password,
	}, nil
}

type Authenticator struct {
	credentials Credentials
	jwtSecret   string
	cookiePath  string
}

func NewAuthenticator(credentials Credentials, jwtSecret, cookiePath string) *Authenticator {
	return &Authenticator{credentials: credentials, jwtSecret: jwtSecret, cookiePath: cookiePath}
}

// Authenticate checks creds and returns a session cookie for them.
func (a *Authenticator) Authenticate(creds Credentials) (*http.Cookie, error) {
	if !a.credentials.Check(creds) {
		return nil, ErrUnauthorized
	}
	return a.generateCookie(creds.Username)
}

func (a *Authenticator) generateCookie(username string) (*http.Cookie, error) {
	token, err := signToken(username, a.jwtSecret, time.Now())
	if err != nil {
		return nil, err
	}

	cookie := &http.Cookie{
		Name:     cookieName,
		Value:    token,
		Path:     a.cookiePath,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(tokenExpiry.Seconds()),
	}
	return cookie, nil
}

// ExpireCookie clears the session cookie.
func (a *Authenticator) ExpireCookie() *http.Cookie {
	return &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     a.cookiePath,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	}
}

func NewAuthMiddleware(auther *Authenticator) echo.MiddlewareFunc {
	type authStrategy func(c echo.Context) (bool, error)
	strategies := []authStrategy{
		auther.authWithCookie,
		auther.authWithBasicAuth,
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, strategy := range strategies {
				ok, err := strategy(c)
				if err != nil {
					log.Debug().Err(err).Str("path", c.Request().URL.Path).Msg("authentication attempt failed")
					continue
				}

				if ok {
					return next(c)
				}
			}
			return echo.ErrUnauthorized
		}
	}
}

func (a *Authenticator) authWithCookie(c echo.Context) (bool, error) {
	cookie, err := c.Cookie(cookieName)
	if err != nil || cookie == nil || cookie.Value == "" {
		return false, nil
	}

	claims, err := parseToken(cookie.Value, a.jwtSecret)
	if err != nil {
		return false, err
	}

	refreshed, err := a.generateCookie(claims.Subject)
	if err != nil {
		return false, fmt.Errorf("failed to generate cookie: %w", err)
	}
	refreshed.Secure = c.IsTLS()
	c.SetCookie(refreshed)

	return true, nil
}

func (a *Authenticator) authWithBasicAuth(c echo.Context) (bool, error) {
	username, password, ok := c.Request().BasicAuth()
	if !ok {
		return false, nil
	}

	cookie, err := a.Authenticate(Credentials{Username: username, Password: password})
	if err != nil {
		return false, err
	}
	cookie.Secure = c.IsTLS()
	c.SetCookie(cookie)

	return true, nil
}
