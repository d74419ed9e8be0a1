package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type contextKey int

const (
	ctxKeyRequestID contextKey = iota
	ctxKeyLogger
	ctxKeyClient
)

// headerRequestID is echoed back so device logs and server logs line up.
const headerRequestID = "X-Request-ID"

// getRequestID returns the request ID from the context.
func getRequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// getClient returns the rate-limit identity set by requireToken.
func getClient(ctx context.Context) string {
	c, _ := ctx.Value(ctxKeyClient).(string)
	return c
}

// logFor returns the context-scoped logger, falling back to the default logger.
func logFor(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKeyLogger).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// loggerMiddleware creates a per-request logger with the request ID and stores it in the context.
func loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := slog.Default().With("rid", getRequestID(r.Context()))
		ctx := context.WithValue(r.Context(), ctxKeyLogger, l)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// metricsMiddleware records request counts and categorizes response status codes.
func metricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.RecordRequest()
			sc := &statusCapture{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(sc, r)
			switch {
			case sc.code >= 500:
				m.RecordError()
			case sc.code >= 400:
				m.RecordClientError()
			}
		})
	}
}

// recoveryMiddleware catches panics and returns a 500 response.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logFor(r.Context()).Error("panic recovered", "panic", rec, "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestIDMiddleware keeps a caller-supplied request ID or generates one,
// and adds it to the context and response headers.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerRequestID))
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusCapture wraps ResponseWriter to capture the status code.
type statusCapture struct {
	http.ResponseWriter
	code int
}

func (sc *statusCapture) WriteHeader(code int) {
	sc.code = code
	sc.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs each request with method, path, status, and duration.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sc := &statusCapture{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sc, r)
		logFor(r.Context()).Info("req",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sc.code,
			"dur", time.Since(start).String(),
		)
	})
}

// requireToken returns an http.HandlerFunc that checks the Bearer token
// against want. An empty want disables the check.
func requireToken(want string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := "ip:" + clientIP(r)
		if want != "" {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "missing authorization header")
				return
			}
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid authorization format")
				return
			}
			token := strings.TrimPrefix(authHeader, "Bearer ")
			if subtle.ConstantTimeCompare([]byte(token), []byte(want)) != 1 {
				writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid token")
				return
			}
		}

		ctx := r.Context()
		if device := strings.TrimSpace(r.Header.Get(headerDeviceID)); device != "" {
			client = "device:" + device
			ctx = context.WithValue(ctx, ctxKeyLogger, logFor(ctx).With("device", device))
		}
		ctx = context.WithValue(ctx, ctxKeyClient, client)
		handler(w, r.WithContext(ctx))
	}
}

// maxBytesMiddleware limits request body size to prevent abuse.
func maxBytesMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// chain applies middleware in order (first applied is outermost).
func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
