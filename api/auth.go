// Package api implements the HTTP surface for the knowledge graph build
// orchestration service: bearer-token authentication, the response envelope, and
// the /kg/* and /healthz handlers.
package api

import (
	"strings"

	"github.com/labstack/echo/v4"

	"kgraphsvc.evalgo.org/resultcode"
)

// BearerAuthMiddleware requires every request to carry "Authorization: Bearer
// <token>" matching apiKey. It is the Bearer-token rework of the teacher's
// BasicAuthMiddleware/unauthorized(c, realm) pattern: a missing header and a wrong
// token are distinguished so the response can carry TokenIsNull versus
// TokenFailOrExpire, and WWW-Authenticate is set on both.
func BearerAuthMiddleware(apiKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if auth == "" {
				return unauthorized(c, resultcode.TokenIsNull, "missing Authorization header, expected: Authorization: Bearer <token>")
			}

			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) {
				return unauthorized(c, resultcode.TokenIsNull, "missing Authorization header, expected: Authorization: Bearer <token>")
			}

			token := strings.TrimSpace(auth[len(prefix):])
			if token == "" {
				return unauthorized(c, resultcode.TokenIsNull, "missing bearer token")
			}
			if token != apiKey {
				return unauthorized(c, resultcode.TokenFailOrExpire, "invalid or expired token")
			}

			return next(c)
		}
	}
}

func unauthorized(c echo.Context, kind resultcode.Kind, detail string) error {
	c.Response().Header().Set("WWW-Authenticate", "Bearer")
	return resultcode.New(kind, detail)
}
