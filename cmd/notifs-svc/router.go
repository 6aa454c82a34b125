package main

import (
	"log/slog"
	"net/http"
	"time"

	"pollcast/internal/notif"
	"pollcast/internal/wire"

	"github.com/gorilla/mux"
)

// CORS sits outside the mux so preflight requests, which match no route,
// still get their headers.
func setupRouter(app *wire.Application, logger *slog.Logger) http.Handler {
	router := mux.NewRouter()
	router.Use(loggingMiddleware(logger))

	router.HandleFunc("/health", healthCheckHandler(app)).Methods(http.MethodGet)
	router.Handle("/ws", app.WS).Methods(http.MethodGet)
	app.Handler.Register(router, app.Validator)

	return corsMiddleware(router)
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+notif.InternalKeyHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware does not wrap the writer, so websocket upgrades still
// see a hijackable connection.
func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
		})
	}
}

func healthCheckHandler(app *wire.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "healthy", http.StatusOK
		if sqlDB, err := app.DB.DB(); err != nil || sqlDB.PingContext(r.Context()) != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write([]byte(`{"status":"` + status + `","service":"pollcast-notifications"}`))
	}
}
