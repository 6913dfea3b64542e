package httpadapter

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/PabloGalante/personai/internal/domain"
	"github.com/PabloGalante/personai/internal/observability"
)

const (
	headerRequestID = "X-Request-ID"
	ctxKeyUserID    = "user_id"
)

// withRequestID propagates or assigns a request id and stores it in the
// request context for the logger.
func withRequestID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := strings.TrimSpace(c.Request().Header.Get(headerRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Response().Header().Set(headerRequestID, id)

		req := c.Request()
		c.SetRequest(req.WithContext(observability.WithRequestID(req.Context(), id)))
		return next(c)
	}
}

// withLogging logs every request and records its metrics.
func withLogging(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		req := c.Request()
		status := c.Response().Status
		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)

		observability.RequestCount.WithLabelValues(req.Method, route, strconv.Itoa(status)).Inc()
		observability.RequestDuration.WithLabelValues(req.Method, route).Observe(elapsed.Seconds())

		observability.LoggerFromContext(req.Context()).Info("http request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
		)
		return nil
	}
}

// withAuth resolves the bearer token into a user id.
func withAuth(auth domain.Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return unauthorized(c)
			}
			userID, err := auth.Authenticate(c.Request().Context(), token)
			if err != nil {
				if !errors.Is(err, domain.ErrUnauthorized) {
					observability.LoggerFromContext(c.Request().Context()).Error("authentication failed", "error", err)
				}
				return unauthorized(c)
			}
			c.Set(ctxKeyUserID, userID)
			return next(c)
		}
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func userIDFrom(c echo.Context) domain.UserID {
	id, _ := c.Get(ctxKeyUserID).(domain.UserID)
	return id
}
