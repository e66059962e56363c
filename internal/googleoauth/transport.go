package googleoauth

import (
	"log/slog"
	"net/http"
	"time"
)

// userAgent identifies this service to the token endpoint.
const userAgent = "home-secrets"

// tokenEndpointTransport decorates token endpoint requests and logs their outcome.
// The oauth2 package guarantees this transport only receives token endpoint requests.
// Request and response bodies carry credentials and are never logged.
type tokenEndpointTransport struct {
	base http.RoundTripper
}

// Compile-time check that tokenEndpointTransport implements http.RoundTripper.
var _ http.RoundTripper = (*tokenEndpointTransport)(nil)

func (t *tokenEndpointTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.Header.Set("User-Agent", userAgent)
	out.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := t.base.RoundTrip(out)
	if err != nil {
		slog.DebugContext(req.Context(), "token endpoint request failed",
			"host", req.URL.Host,
			"duration", time.Since(start),
			"error", err,
		)
		return nil, err
	}

	slog.DebugContext(req.Context(), "token endpoint responded",
		"host", req.URL.Host,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)
	return resp, nil
}
