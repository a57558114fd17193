package middleware

import (
	"net/http"

	"github.com/salesdesk/crm-management/pkg/logger"

	"github.com/google/uuid"
)

// TraceID stamps every request with a trace id, honoring one supplied by an
// upstream proxy, and threads it through the context logger.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.NewString()
		}

		ctx := logger.With(r.Context(), "trace_id", traceID)

		// propagate back to the response
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
