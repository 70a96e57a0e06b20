package api

import (
	"net/http"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nutribin/feedrelay/internal/logx"
)

// MiddlewareChain returns the middleware applied to every route.
func MiddlewareChain() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		chiMiddleware.RequestID,
		chiMiddleware.Recoverer,
		requestLogger,
	}
}

// requestLogger logs each request once it has been served. It does not wrap
// the ResponseWriter so WebSocket upgrades can still hijack the connection.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logx.Log.Debug().
			Str("request_id", chiMiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
