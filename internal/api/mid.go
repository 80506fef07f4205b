package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"
)

// Logger logs every request with its outcome.
func Logger(log *slog.Logger) MidFunc {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, r *http.Request) Encoder {
			start := time.Now()
			resp := next(ctx, r)

			status := http.StatusOK
			if s, ok := resp.(httpStatus); ok {
				status = s.HTTPStatus()
			}
			log.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration", time.Since(start),
			)
			return resp
		}
	}
}

// Errors logs server-side failures. Client errors are expected and only
// show up in the request log.
func Errors(log *slog.Logger) MidFunc {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, r *http.Request) Encoder {
			resp := next(ctx, r)
			if e, ok := resp.(*Error); ok && e.Code >= http.StatusInternalServerError {
				log.Error("request failed", "path", r.URL.Path, "error", e)
			}
			return resp
		}
	}
}

// Panics turns a panic into a 500 response.
func Panics() MidFunc {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, r *http.Request) (resp Encoder) {
			defer func() {
				if rec := recover(); rec != nil {
					resp = &Error{
						Code:    http.StatusInternalServerError,
						Message: "internal error",
						Err:     fmt.Errorf("PANIC [%v] TRACE[%s]", rec, debug.Stack()),
					}
				}
			}()
			return next(ctx, r)
		}
	}
}

// CORS allows browsers from origin to call the API and answers preflight
// requests.
func CORS(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
