package api

import (
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// withRequestLog assigns each request a short-lived correlation ID and logs
// method, path and latency once the handler returns.
func withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)

		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("[api] %s %s req_id=%s duration=%s", r.Method, r.URL.Path, id, time.Since(start))
	})
}
