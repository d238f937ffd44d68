package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

var errRequestTimeout = errors.New("request timeout")

// longLived reports requests that must not get a deadline: the websocket
// endpoint and any upgrade request.
func longLived(r *http.Request) bool {
	if r.URL.Path == "/ws" || strings.HasPrefix(r.URL.Path, "/ws/") {
		return true
	}
	return strings.EqualFold(r.Header.Get(echo.HeaderUpgrade), "websocket")
}

// RequestTimeout bounds each request's context by timeout and answers 504
// when the handler has not returned by then.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 || longLived(c.Request()) {
				return next(c)
			}

			ctx, cancel := context.WithTimeoutCause(c.Request().Context(), timeout, errRequestTimeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			done := make(chan error, 1)
			go func() { done <- next(c) }()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				if errors.Is(context.Cause(ctx), errRequestTimeout) {
					return echo.NewHTTPError(http.StatusGatewayTimeout, "request timed out after "+timeout.String())
				}
				// Client went away.
				return ctx.Err()
			}
		}
	}
}
