package apikey

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/florianilch/home-secrets/internal/apperror"
)

func TestGate_Authorize(t *testing.T) {
	tests := []struct {
		name      string
		expected  string
		presented string
		wantErr   bool
	}{
		{"match", "s3cret", "s3cret", false},
		{"mismatch", "s3cret", "guess", true},
		{"prefix only", "s3cret", "s3c", true},
		{"absent", "s3cret", "", true},
		{"unset expected key", "", "anything", true},
		{"both empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.expected).Authorize(tt.presented)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.True(t, apperror.Is(err, apperror.KindForbidden))
		})
	}
}

func TestPresented(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header string
		want   string
	}{
		{"header", "/x", "h", "h"},
		{"query", "/x?api_key=q", "", "q"},
		{"header wins over query", "/x?api_key=q", "h", "h"},
		{"none", "/x", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				r.Header.Set(HeaderName, tt.header)
			}
			assert.Equal(t, tt.want, Presented(r))
		})
	}
}

func TestGate_Middleware(t *testing.T) {
	gate := New("k")
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	onError := func(w http.ResponseWriter, _ *http.Request, err error) {
		w.WriteHeader(apperror.HTTPStatus(err))
	}
	h := gate.Middleware(onError)(next)

	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Header.Set(HeaderName, "k")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStripQuery(t *testing.T) {
	var seen *http.Request
	h := StripQuery(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = r
	}))

	r := httptest.NewRequest(http.MethodGet, "/oauth/google/start?redirect_uri=https%3A%2F%2Fh%2Fx&api_key=q", nil)
	h.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, "q", seen.Header.Get(HeaderName))
	assert.False(t, seen.URL.Query().Has(QueryParam))
	assert.Equal(t, "https://h/x", seen.URL.Query().Get("redirect_uri"))
	assert.NotContains(t, seen.RequestURI, "api_key")

	// Header is kept when both are present
	r = httptest.NewRequest(http.MethodGet, "/x?api_key=q", nil)
	r.Header.Set(HeaderName, "h")
	h.ServeHTTP(httptest.NewRecorder(), r)
	assert.Equal(t, "h", seen.Header.Get(HeaderName))
	assert.Empty(t, seen.URL.RawQuery)
}
