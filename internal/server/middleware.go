package server

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// requireKey protects a route with a shared secret sent in header. Requests
// with a missing or wrong key are rejected with 401 before the handler runs.
// An empty expected key rejects every request.
func requireKey(header, expected string, logger *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get(header)
			if expected == "" || provided == "" ||
				subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
				logger.WithFields(logrus.Fields{
					"host":   tenantHost(r),
					"remote": r.RemoteAddr,
				}).Warn("refresh rejected: bad key")
				jsonErr(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// accessLog logs each request at debug level once it completes.
func accessLog(logger *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.WithFields(logrus.Fields{
					"request_id": middleware.GetReqID(r.Context()),
					"method":     r.Method,
					"host":       r.Host,
					"path":       r.URL.Path,
					"status":     ww.Status(),
					"bytes":      ww.BytesWritten(),
					"duration":   time.Since(start).Round(time.Microsecond),
				}).Debug("request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
