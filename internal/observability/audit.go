package observability

import (
	"log/slog"
	"net/http"
)

// Audit emits a structured audit record for a staff- or kiosk-initiated
// action. Keep the event names stable; dashboards key on them.
func Audit(r *http.Request, event string, attrs ...any) {
	fields := make([]any, 0, 10+len(attrs))
	fields = append(fields,
		"event", event,
		"method", r.Method,
		"path", r.URL.Path,
		"remote", r.RemoteAddr,
		"request_id", r.Header.Get("X-Request-Id"),
	)
	fields = append(fields, attrs...)
	slog.InfoContext(r.Context(), "audit", fields...)
}
