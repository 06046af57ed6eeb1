package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Routes groups the handlers served by the HTTP API
type Routes struct {
	Detect  *DetectHandler
	Async   *AsyncHandler
	Metrics http.Handler
	Logger  *zap.Logger
}

// NewRouter builds the HTTP API
func NewRouter(rt Routes) http.Handler {
	logger := rt.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(allowCORS)

	r.Get("/health", HandleHealth)
	if rt.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.Metrics)
	}
	if rt.Detect != nil {
		r.Post("/api/detect", rt.Detect.HandleDetect)
	}
	if rt.Async != nil {
		r.Post("/trigger_workflow", rt.Async.HandleTrigger)
		r.Get("/workflow_status/{execution_id}", rt.Async.HandleStatus)
	}

	return r
}

// requestLogger logs one line per request
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}

// allowCORS lets browser front-ends on any origin call the API
func allowCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
