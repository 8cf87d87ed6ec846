package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/thrillee/smppgateway/internal/auth"
	"github.com/thrillee/smppgateway/internal/database"
	"github.com/thrillee/smppgateway/internal/logging"
	"github.com/thrillee/smppgateway/internal/managerapi/handlers/dto"
	"github.com/thrillee/smppgateway/pkg/errormapper"
)

const (
	DefaultLimit  = 20
	MaxLimit      = 100
	DefaultOffset = 0

	requestIDHeader = "X-Request-ID"
	apiKeyHeader    = "X-API-Key"
)

// parsePagination extracts limit and offset from query params with validation and defaults.
func parsePagination(c *gin.Context) (limit, offset int32) {
	limitStr := c.DefaultQuery("limit", strconv.Itoa(DefaultLimit))
	offsetStr := c.DefaultQuery("offset", strconv.Itoa(DefaultOffset))

	limit64, err := strconv.ParseInt(limitStr, 10, 32)
	if err != nil || limit64 <= 0 {
		limit = DefaultLimit
	} else if limit64 > MaxLimit {
		slog.WarnContext(c.Request.Context(), "Requested limit exceeds maximum, capping.", slog.Int64("requested", limit64), slog.Int("max", MaxLimit))
		limit = MaxLimit
	} else {
		limit = int32(limit64)
	}

	offset64, err := strconv.ParseInt(offsetStr, 10, 32)
	if err != nil || offset64 < 0 {
		offset = DefaultOffset
	} else {
		offset = int32(offset64)
	}

	return limit, offset
}

// requestContext tags the request context with a request id, taken from the
// X-Request-ID header when the caller sent one.
func requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(logging.ContextWithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// requireAPIKey rejects requests without a valid key in X-API-Key or an
// Authorization bearer token.
func requireAPIKey(v *auth.KeyVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(apiKeyHeader)
		if key == "" {
			if token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
				key = strings.TrimSpace(token)
			}
		}
		if !v.Verify(key) {
			slog.WarnContext(c.Request.Context(), "Rejected management API request", slog.String("path", c.FullPath()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "missing or invalid API key", Code: "UNAUTHORIZED"})
			return
		}
		c.Next()
	}
}

// errorBody classifies err for an API answer.
func errorBody(err error) (int, dto.ErrorResponse) {
	code := errormapper.CodeOf(err)
	if errors.Is(err, database.ErrNotFound) {
		code = errormapper.ErrorCodeNotFound
	}
	status := errormapper.HTTPStatus(code)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	return status, dto.ErrorResponse{Error: msg, Code: code}
}

// respondError writes err as JSON with the status its code maps to.
// Internal failures are logged and their detail withheld from the caller.
func respondError(c *gin.Context, ctx context.Context, action string, err error) {
	status, body := errorBody(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "Request failed", slog.String("action", action), slog.Any("error", err))
	} else {
		slog.DebugContext(ctx, "Request rejected", slog.String("action", action), slog.Any("error", err))
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: msg, Code: errormapper.ErrorCodeValidationFailure})
}
