// Package middleware holds HTTP middlewares shared by the service's handlers.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/httplog/v3"
)

// Logging logs one line per request with method, path, status and duration.
// Request headers are limited to an allow-list; bodies are never logged.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return httplog.RequestLogger(logger, &httplog.Options{
		Schema: httplog.SchemaECS.Concise(true),

		LogRequestHeaders:  []string{"Content-Type", "Origin"},
		LogResponseHeaders: []string{},
		LogRequestBody:     nil,
		LogResponseBody:    nil,

		// Recovery is a dedicated middleware; httplog still logs the panic
		RecoverPanics: false,
	})
}
