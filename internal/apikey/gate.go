// Package apikey implements the shared API key check guarding secret and token operations.
package apikey

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/florianilch/home-secrets/internal/apperror"
)

const (
	// HeaderName carries the presented key.
	HeaderName = "X-API-Key"
	// QueryParam is accepted when the header is absent.
	QueryParam = "api_key"
)

// Gate compares presented keys with the configured one.
type Gate struct {
	expected string
}

// New creates a Gate. An empty expected key rejects every request.
func New(expected string) *Gate {
	return &Gate{expected: expected}
}

// Authorize returns a Forbidden error unless presented matches the configured key.
func (g *Gate) Authorize(presented string) error {
	if g.expected == "" || presented == "" {
		return apperror.Forbidden()
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(g.expected)) != 1 {
		return apperror.Forbidden()
	}
	return nil
}

// Presented extracts the key from the request. The header takes precedence over the query.
func Presented(r *http.Request) string {
	if key := r.Header.Get(HeaderName); key != "" {
		return key
	}
	return r.URL.Query().Get(QueryParam)
}

// Middleware rejects requests without a valid key. onError writes the failure response.
func (g *Gate) Middleware(onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := g.Authorize(Presented(r)); err != nil {
				slog.WarnContext(r.Context(), "api key validation failed", "path", r.URL.Path)
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// StripQuery moves the api_key query parameter into the header and removes it
// from the URL, so the key never reaches request logs. An existing header wins.
func StripQuery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Has(QueryParam) {
			if r.Header.Get(HeaderName) == "" {
				r.Header.Set(HeaderName, query.Get(QueryParam))
			}
			query.Del(QueryParam)
			r.URL.RawQuery = query.Encode()
			r.RequestURI = r.URL.RequestURI()
		}
		next.ServeHTTP(w, r)
	})
}
