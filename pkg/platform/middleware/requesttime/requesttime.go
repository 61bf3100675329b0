// Package requesttime stamps each admin request with a single "now" and a
// correlation id, so handlers, services and audit events agree on both.
package requesttime

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"gatekeeper/pkg/requestcontext"
)

const requestIDHeader = "X-Request-ID"

// Middleware captures the request time and request id. An inbound
// X-Request-ID is honoured; otherwise a random one is generated.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		ctx := requestcontext.WithTime(r.Context(), time.Now())
		ctx = requestcontext.WithRequestID(ctx, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
