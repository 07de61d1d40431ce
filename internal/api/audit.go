package api

import (
	"log/slog"
	"net/http"

	"github.com/alecgard/loopkit/internal/auth"
	"github.com/alecgard/loopkit/internal/ratelimit"
)

// auditLog emits a structured audit log entry for a member action.
func auditLog(r *http.Request, action string, resourceType string, resourceID string, detail ...any) {
	attrs := []any{
		"action", action,
		"resource_type", resourceType,
		"resource_id", resourceID,
		"ip", ratelimit.ByClientIP(r),
		"request_id", RequestIDFromContext(r.Context()),
	}

	if u := auth.UserFromContext(r.Context()); u != nil {
		attrs = append(attrs, "user_id", u.ID)
	}

	attrs = append(attrs, detail...)
	slog.Info("audit", attrs...)
}
