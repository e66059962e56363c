package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/florianilch/home-secrets/internal/apikey"
	"github.com/florianilch/home-secrets/internal/apperror"
	"github.com/florianilch/home-secrets/internal/googleoauth"
	"github.com/florianilch/home-secrets/internal/observability"
	"github.com/florianilch/home-secrets/internal/secrets"
	"github.com/florianilch/home-secrets/internal/tokenstore"
)

const testKey = "k3y"

// fakeFlow returns canned results and records the labels it was called with.
type fakeFlow struct {
	startURL string
	entry    *googleoauth.Entry
	status   *googleoauth.Status
	err      error
	labels   []string
}

func (f *fakeFlow) Start(_ context.Context, _, label string) (string, error) {
	f.labels = append(f.labels, label)
	return f.startURL, f.err
}

func (f *fakeFlow) Callback(_ context.Context, req googleoauth.CallbackRequest) (*googleoauth.CallbackResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &googleoauth.CallbackResult{Status: "ok", Label: "default", HasRefresh: req.Code != ""}, nil
}

func (f *fakeFlow) Token(_ context.Context, label string) (*googleoauth.Entry, error) {
	f.labels = append(f.labels, label)
	return f.entry, f.err
}

func (f *fakeFlow) Status(_ context.Context, label string) (*googleoauth.Status, error) {
	f.labels = append(f.labels, label)
	return f.status, f.err
}

func (f *fakeFlow) Delete(_ context.Context, label string) error {
	f.labels = append(f.labels, label)
	return f.err
}

func (f *fakeFlow) DefaultLabel() string { return "default" }

func newTestServer(t *testing.T, flow OAuthFlow, opts ...Option) *Server {
	t.Helper()
	env := map[string]string{
		"HS_DB_PASSWORD": "hunter2",
		"HS_EMPTY":       "",
	}
	lookup := secrets.NewLookup("HS_", secrets.NewEnvSourceFunc(func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}), nil)

	s, err := New(apikey.New(testKey), lookup, flow, opts...)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, h http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func withKey() http.Header {
	header := http.Header{}
	header.Set(apikey.HeaderName, testKey)
	return header
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewRequiresDependencies(t *testing.T) {
	lookup := secrets.NewLookup("", secrets.NewEnvSource(), nil)
	_, err := New(nil, lookup, &fakeFlow{})
	require.Error(t, err)
	_, err = New(apikey.New("k"), nil, &fakeFlow{})
	require.Error(t, err)
	_, err = New(apikey.New("k"), lookup, nil)
	require.Error(t, err)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, &fakeFlow{})
	rec := do(t, s, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSecretRoute(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		header     http.Header
		wantStatus int
		wantBody   string
	}{
		{
			name:       "found via header",
			target:     "/secret/db_password",
			header:     withKey(),
			wantStatus: http.StatusOK,
			wantBody:   `{"key":"db_password","env":"HS_DB_PASSWORD","value":"hunter2"}`,
		},
		{
			name:       "found via query",
			target:     "/secret/db_password?api_key=" + testKey,
			wantStatus: http.StatusOK,
			wantBody:   `{"key":"db_password","env":"HS_DB_PASSWORD","value":"hunter2"}`,
		},
		{
			name:       "empty value is returned",
			target:     "/secret/empty",
			header:     withKey(),
			wantStatus: http.StatusOK,
			wantBody:   `{"key":"empty","env":"HS_EMPTY","value":""}`,
		},
		{
			name:       "unset",
			target:     "/secret/nope",
			header:     withKey(),
			wantStatus: http.StatusNotFound,
			wantBody:   `{"error":"HS_NOPE not set"}`,
		},
		{
			name:       "missing key",
			target:     "/secret/db_password",
			wantStatus: http.StatusForbidden,
			wantBody:   `{"error":"Forbidden"}`,
		},
		{
			name:       "wrong key",
			target:     "/secret/db_password",
			header:     http.Header{apikey.HeaderName: {"wrong"}},
			wantStatus: http.StatusForbidden,
			wantBody:   `{"error":"Forbidden"}`,
		},
		{
			name:       "header wins over query",
			target:     "/secret/db_password?api_key=" + testKey,
			header:     http.Header{apikey.HeaderName: {"wrong"}},
			wantStatus: http.StatusForbidden,
			wantBody:   `{"error":"Forbidden"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeFlow{})
			rec := do(t, s, http.MethodGet, tt.target, tt.header)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestEmptyConfiguredKeyRejectsEverything(t *testing.T) {
	lookup := secrets.NewLookup("", secrets.NewEnvSource(), nil)
	s, err := New(apikey.New(""), lookup, &fakeFlow{})
	require.NoError(t, err)

	rec := do(t, s, http.MethodGet, "/secret/x?api_key=", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStartRoute(t *testing.T) {
	flow := &fakeFlow{startURL: "https://accounts.example.com/auth?state=n"}
	s := newTestServer(t, flow)

	rec := do(t, s, http.MethodGet, "/oauth/google/start?redirect_uri=https%3A%2F%2Fh%2Fx&label=work", withKey())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StartResponse{AuthorizeURL: flow.startURL}, decode[StartResponse](t, rec))
	assert.Equal(t, []string{"work"}, flow.labels)

	rec = do(t, s, http.MethodGet, "/oauth/google/start?redirect_uri=x", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCallbackIsNotGated(t *testing.T) {
	s := newTestServer(t, &fakeFlow{})
	rec := do(t, s, http.MethodGet, "/oauth/google/callback?code=c&state=s", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","label":"default","has_refresh":true}`, rec.Body.String())
}

func TestTokenRouteDefaultsTokenType(t *testing.T) {
	flow := &fakeFlow{entry: &googleoauth.Entry{AccessToken: "A1", RefreshToken: "R1", Expiry: 1700003570, Scope: "email"}}
	s := newTestServer(t, flow)

	rec := do(t, s, http.MethodGet, "/oauth/google/token", withKey())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"access_token":"A1","expiry":1700003570,"token_type":"Bearer","scope":"email"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "R1")
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
	}{
		{apperror.New(apperror.KindNotFound, "No token for label 'default'"), http.StatusNotFound},
		{apperror.New(apperror.KindConflict, "No refresh_token stored; re-run /oauth/google/start"), http.StatusConflict},
		{apperror.New(apperror.KindGrantRevoked, "Refresh token expired or revoked; re-run /oauth/google/start"), http.StatusBadRequest},
		{apperror.New(apperror.KindProvider, `Refresh failed: {"error":"invalid_client"}`), http.StatusBadRequest},
		{apperror.New(apperror.KindDisabled, "Google OAuth disabled"), http.StatusBadRequest},
		{apperror.New(apperror.KindMisconfigured, "Missing Google client id"), http.StatusInternalServerError},
		{apperror.New(apperror.KindUpstream, "Refresh failed: token endpoint request failed"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(apperror.KindOf(tt.err).String(), func(t *testing.T) {
			s := newTestServer(t, &fakeFlow{err: tt.err})
			rec := do(t, s, http.MethodGet, "/oauth/google/token", withKey())

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, apperror.Message(tt.err), decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestDeleteRoute(t *testing.T) {
	flow := &fakeFlow{}
	s := newTestServer(t, flow)

	rec := do(t, s, http.MethodDelete, "/oauth/google/token", withKey())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"deleted","label":"default"}`, rec.Body.String())

	rec = do(t, s, http.MethodDelete, "/oauth/google/token?label=work", withKey())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"deleted","label":"work"}`, rec.Body.String())
	assert.Equal(t, []string{"default", "work"}, flow.labels)
}

func TestStatusRoute(t *testing.T) {
	flow := &fakeFlow{status: &googleoauth.Status{Label: "default", Status: googleoauth.StatusExpired, HasRefresh: true}}
	s := newTestServer(t, flow)

	rec := do(t, s, http.MethodGet, "/oauth/google/status", withKey())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"label": "default",
		"status": "expired",
		"has_access": false,
		"has_refresh": true,
		"expiry": 0,
		"expires_in": 0,
		"scope": ""
	}`, rec.Body.String())
}

func TestDebugEnvRoute(t *testing.T) {
	s := newTestServer(t, &fakeFlow{}, WithDebugInfo(func() any {
		return map[string]any{"google_enabled": true, "hs_api_key": "***"}
	}))

	rec := do(t, s, http.MethodGet, "/debug/env", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, s, http.MethodGet, "/debug/env", withKey())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"google_enabled":true,"hs_api_key":"***"}`, rec.Body.String())
}

func TestDebugEnvRouteDisabledByDefault(t *testing.T) {
	s := newTestServer(t, &fakeFlow{})
	rec := do(t, s, http.MethodGet, "/debug/env", withKey())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	s := newTestServer(t, &fakeFlow{}, WithMetrics(observability.NewMetrics()))

	do(t, s, http.MethodGet, "/healthz", nil)
	rec := do(t, s, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `home_secrets_http_requests_total{code="200",method="get",route="healthz"} 1`)
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, &fakeFlow{}, WithAllowedOrigins([]string{"https://ha.local:8123"}))

	t.Run("preflight from allowed origin", func(t *testing.T) {
		rec := do(t, s, http.MethodOptions, "/oauth/google/token", http.Header{
			"Origin":                         {"https://ha.local:8123"},
			"Access-Control-Request-Method":  {"DELETE"},
			"Access-Control-Request-Headers": {"X-API-Key"},
		})

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "https://ha.local:8123", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
		assert.Equal(t, "X-API-Key", rec.Header().Get("Access-Control-Allow-Headers"))
		assert.Equal(t, "DELETE", rec.Header().Get("Access-Control-Allow-Methods"))
		assert.Contains(t, rec.Header().Get("Vary"), "Origin")
	})

	t.Run("preflight from unknown origin", func(t *testing.T) {
		rec := do(t, s, http.MethodOptions, "/secret/db_password", http.Header{
			"Origin":                        {"https://evil.example"},
			"Access-Control-Request-Method": {"GET"},
		})

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("simple request from allowed origin", func(t *testing.T) {
		header := withKey()
		header.Set("Origin", "https://ha.local:8123")
		rec := do(t, s, http.MethodGet, "/secret/db_password", header)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "https://ha.local:8123", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("simple request from unknown origin", func(t *testing.T) {
		header := withKey()
		header.Set("Origin", "https://evil.example")
		rec := do(t, s, http.MethodGet, "/secret/db_password", header)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestCORSWithoutOriginsAllowsNone(t *testing.T) {
	s := newTestServer(t, &fakeFlow{})

	rec := do(t, s, http.MethodOptions, "/secret/db_password", http.Header{
		"Origin":                        {"https://ha.local:8123"},
		"Access-Control-Request-Method": {"GET"},
	})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t, &fakeFlow{})

	rec := do(t, s, http.MethodGet, "/healthz", nil)
	generated := rec.Header().Get(RequestIDHeader)
	assert.Len(t, generated, 36)

	rec = do(t, s, http.MethodGet, "/healthz", http.Header{RequestIDHeader: {"abc-123"}})
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))

	rec = do(t, s, http.MethodGet, "/healthz", http.Header{RequestIDHeader: {strings.Repeat("x", maxRequestIDLen+1)}})
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)
}

func TestRecovery(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal Server Error"}`, rec.Body.String())
}

func TestStripQueryRunsBeforeHandlers(t *testing.T) {
	var seen *url.URL
	h := applyMiddlewares(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.URL
		w.WriteHeader(http.StatusOK)
	}), apikey.StripQuery)

	do(t, h, http.MethodGet, "/secret/x?api_key=k&label=a", nil)
	require.NotNil(t, seen)
	assert.Equal(t, "label=a", seen.RawQuery)
}

// TestGoogleFlowEndToEnd drives start, callback, token and delete through the
// real manager, a file-backed store and a stubbed token endpoint.
func TestGoogleFlowEndToEnd(t *testing.T) {
	tokenEndpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			_, _ = w.Write([]byte(`{"access_token":"A1","refresh_token":"R1","expires_in":3600,"scope":"email","token_type":"Bearer"}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"unsupported_grant_type"}`))
		}
	}))
	t.Cleanup(tokenEndpoint.Close)

	backend, err := tokenstore.NewFileBackend(filepath.Join(t.TempDir(), "google_tokens.json"))
	require.NoError(t, err)
	store, err := tokenstore.New(backend)
	require.NoError(t, err)

	manager, err := googleoauth.New(googleoauth.Config{
		Enabled:  true,
		ClientID: "cid",
		Scopes:   []string{"email"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://accounts.example.com/auth",
			TokenURL:  tokenEndpoint.URL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, store)
	require.NoError(t, err)

	s := newTestServer(t, manager)

	rec := do(t, s, http.MethodGet, "/oauth/google/start?redirect_uri=https%3A%2F%2Fh%2Fx", withKey())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	authorizeURL, err := url.Parse(decode[StartResponse](t, rec).AuthorizeURL)
	require.NoError(t, err)
	state := authorizeURL.Query().Get("state")

	rec = do(t, s, http.MethodGet, "/oauth/google/callback?code=c&state="+url.QueryEscape(state), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"status":"ok","label":"default","has_refresh":true}`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/oauth/google/callback?code=c&state="+url.QueryEscape(state), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid state"}`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/oauth/google/token", withKey())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "A1", decode[TokenResponse](t, rec).AccessToken)

	rec = do(t, s, http.MethodDelete, "/oauth/google/token", withKey())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/oauth/google/status", withKey())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, googleoauth.StatusNoToken, decode[googleoauth.Status](t, rec).Status)

	rec = do(t, s, http.MethodGet, "/oauth/google/token", withKey())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartAndShutdown(t *testing.T) {
	s := newTestServer(t, &fakeFlow{})

	errCh, err := s.Start(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, s.Shutdown(context.Background()))

	_, open := <-errCh
	assert.False(t, open)
}
