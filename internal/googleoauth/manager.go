package googleoauth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/florianilch/home-secrets/internal/apperror"
)

// Store persists JSON values by key.
type Store interface {
	Load(ctx context.Context, key string, v any) (bool, error)
	Save(ctx context.Context, key string, v any) error
}

// Observer is notified of token endpoint outcomes.
type Observer interface {
	ObserveExchange(result string)
	ObserveRefresh(result string)
}

// Outcome values reported to the Observer.
const (
	ResultSuccess       = "success"
	ResultInvalidGrant  = "invalid_grant"
	ResultProviderError = "provider_error"
	ResultUpstreamError = "upstream_error"
)

// Config holds the provider settings of a Manager.
type Config struct {
	Enabled      bool
	ClientID     string
	ClientSecret string
	Scopes       []string
	// DefaultLabel is used when an operation names no label.
	DefaultLabel string
	Endpoint     oauth2.Endpoint
	// StateTTL bounds the time between Start and Callback.
	StateTTL time.Duration
	// Timeout bounds each call to the token endpoint.
	Timeout time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithTransport sets the base transport for token endpoint requests.
// If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) Option {
	return func(m *Manager) {
		m.baseTransport = transport
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithObserver reports token endpoint outcomes to o.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		m.observer = o
	}
}

// Manager drives the authorization-code flow and the token lifecycle per label.
type Manager struct {
	cfg           Config
	store         Store
	httpClient    *http.Client
	baseTransport http.RoundTripper
	now           func() time.Time
	observer      Observer
}

// New creates a Manager. No I/O is performed.
func New(cfg Config, store Store, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("missing token store")
	}
	if cfg.DefaultLabel == "" {
		cfg.DefaultLabel = DefaultLabel
	}
	if cfg.Endpoint.TokenURL == "" {
		cfg.Endpoint = Endpoint
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = DefaultStateTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	m := &Manager{
		cfg:           cfg,
		store:         store,
		baseTransport: http.DefaultTransport,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	// Bounds every token endpoint call, including those without a request deadline
	m.httpClient = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: &tokenEndpointTransport{base: m.baseTransport},
	}
	return m, nil
}

// DefaultLabel returns the label used when none is given.
func (m *Manager) DefaultLabel() string {
	return m.cfg.DefaultLabel
}

// resolveLabel applies the default label and rejects the reserved registry key.
func (m *Manager) resolveLabel(label string) (string, error) {
	if label == "" {
		return m.cfg.DefaultLabel, nil
	}
	if label == ReservedKey {
		return "", apperror.Newf(apperror.KindBadRequest, "label %q is reserved", label)
	}
	return label, nil
}

// oauthConfig returns the client configuration bound to redirectURI.
func (m *Manager) oauthConfig(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     m.cfg.ClientID,
		ClientSecret: m.cfg.ClientSecret,
		Endpoint:     m.cfg.Endpoint,
		RedirectURL:  redirectURI,
		Scopes:       m.cfg.Scopes,
	}
}

// clientContext injects the bounded HTTP client into ctx, the way oauth2 expects it.
func (m *Manager) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

func (m *Manager) checkEnabled() error {
	if !m.cfg.Enabled {
		return apperror.New(apperror.KindDisabled, "Google OAuth disabled")
	}
	if m.cfg.ClientID == "" {
		return apperror.New(apperror.KindMisconfigured, "Missing Google client id")
	}
	return nil
}

// Start records a pending flow for label and returns the URL the user must visit.
// An empty label selects the default label.
func (m *Manager) Start(ctx context.Context, redirectURI, label string) (string, error) {
	if err := m.checkEnabled(); err != nil {
		return "", err
	}
	if redirectURI == "" {
		return "", apperror.New(apperror.KindBadRequest, "redirect_uri parameter is required")
	}
	label, err := m.resolveLabel(label)
	if err != nil {
		return "", err
	}

	nonce, err := newNonce()
	if err != nil {
		return "", apperror.Wrap(apperror.KindInternal, "starting authorization", err)
	}
	pending := PendingState{
		Label:       label,
		RedirectURI: redirectURI,
		IssuedAt:    m.now().Unix(),
	}
	if err := m.putState(ctx, nonce, pending); err != nil {
		return "", apperror.Wrap(apperror.KindInternal, "recording authorization state", err)
	}

	authorizeURL := m.oauthConfig(redirectURI).AuthCodeURL(nonce,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
		// Forces a refresh token even when the user consented before
		oauth2.ApprovalForce,
	)

	slog.InfoContext(ctx, "oauth flow started", "label", label, "redirect_uri", redirectURI)
	return authorizeURL, nil
}

// CallbackRequest carries the query parameters of the provider redirect.
type CallbackRequest struct {
	Code  string
	State string
	// Error is set by the provider when the user denied consent.
	Error string
}

// CallbackResult reports a completed flow.
type CallbackResult struct {
	Status     string `json:"status"`
	Label      string `json:"label"`
	HasRefresh bool   `json:"has_refresh"`
}

// Callback consumes the state nonce, exchanges the code and persists the tokens.
// The nonce is single-use: it is removed before the exchange, whatever its outcome.
func (m *Manager) Callback(ctx context.Context, req CallbackRequest) (*CallbackResult, error) {
	if err := m.checkEnabled(); err != nil {
		return nil, err
	}
	if req.State == "" {
		return nil, apperror.New(apperror.KindBadRequest, "state parameter is required")
	}

	pending, ok, err := m.takeState(ctx, req.State)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, "consuming authorization state", err)
	}
	if !ok {
		slog.WarnContext(ctx, "oauth callback with unknown state")
		return nil, apperror.New(apperror.KindBadRequest, "Invalid state")
	}
	if pending.RedirectURI == "" {
		return nil, apperror.New(apperror.KindBadRequest, "Invalid state: missing redirect_uri")
	}
	if req.Error != "" {
		return nil, apperror.Newf(apperror.KindProvider, "Authorization failed: %s", req.Error)
	}
	if req.Code == "" {
		return nil, apperror.New(apperror.KindBadRequest, "code parameter is required")
	}
	label, err := m.resolveLabel(pending.Label)
	if err != nil {
		return nil, err
	}

	tok, err := m.oauthConfig(pending.RedirectURI).Exchange(m.clientContext(ctx), req.Code)
	if err != nil {
		result, classified := classifyTokenError("Token exchange failed", err)
		m.observeExchange(result)
		slog.ErrorContext(ctx, "token exchange failed", "label", label, "error", err)
		return nil, classified
	}
	m.observeExchange(ResultSuccess)

	entry := entryFromToken(tok, m.now())
	// Google omits the refresh token on repeated consent
	if entry.RefreshToken == "" {
		var existing Entry
		if _, err := m.store.Load(ctx, label, &existing); err != nil {
			slog.WarnContext(ctx, "could not read existing entry", "label", label, "error", err)
		}
		entry.RefreshToken = existing.RefreshToken
	}

	if err := m.store.Save(ctx, label, entry); err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, "persisting tokens", err)
	}

	slog.InfoContext(ctx, "oauth flow completed",
		"label", label,
		"has_refresh", entry.RefreshToken != "",
		"state_age", m.stateAge(pending),
	)
	return &CallbackResult{
		Status:     "ok",
		Label:      label,
		HasRefresh: entry.RefreshToken != "",
	}, nil
}

// loadEntry returns the stored entry for label; ok is false for absent or cleared entries.
func (m *Manager) loadEntry(ctx context.Context, label string) (Entry, bool, error) {
	var entry Entry
	found, err := m.store.Load(ctx, label, &entry)
	if err != nil {
		return Entry{}, false, apperror.Wrap(apperror.KindInternal, "reading token entry", err)
	}
	return entry, found && !entry.IsZero(), nil
}

// Token returns a usable access token for label, refreshing it when it expired.
// A still-valid token is returned without contacting the provider.
func (m *Manager) Token(ctx context.Context, label string) (*Entry, error) {
	label, err := m.resolveLabel(label)
	if err != nil {
		return nil, err
	}

	entry, ok, err := m.loadEntry(ctx, label)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.Newf(apperror.KindNotFound, "No token for label '%s'", label)
	}
	if entry.Valid(m.now()) {
		return &entry, nil
	}
	if entry.RefreshToken == "" {
		return nil, apperror.New(apperror.KindConflict, "No refresh_token stored; re-run /oauth/google/start")
	}

	refreshed, err := m.refresh(ctx, label, entry)
	if err != nil {
		return nil, err
	}
	return refreshed, nil
}

// refresh performs a refresh_token grant and persists the result.
func (m *Manager) refresh(ctx context.Context, label string, entry Entry) (*Entry, error) {
	ts := m.oauthConfig("").TokenSource(m.clientContext(ctx), &oauth2.Token{
		RefreshToken: entry.RefreshToken,
	})

	tok, err := ts.Token()
	if err != nil {
		result, classified := classifyTokenError("Refresh failed", err)
		m.observeRefresh(result)
		if result != ResultInvalidGrant {
			slog.ErrorContext(ctx, "token refresh failed", "label", label, "error", err)
			return nil, classified
		}

		// The grant is gone for good; force a new authorization
		if err := m.store.Save(ctx, label, Entry{}); err != nil {
			slog.ErrorContext(ctx, "failed to clear revoked entry", "label", label, "error", err)
		}
		slog.WarnContext(ctx, "refresh token expired or revoked, entry cleared", "label", label)
		return nil, &apperror.Error{
			Kind:    apperror.KindGrantRevoked,
			Message: "Refresh token expired or revoked; re-run /oauth/google/start",
			Err:     classified,
		}
	}
	m.observeRefresh(ResultSuccess)

	entry.AccessToken = tok.AccessToken
	entry.Expiry = expiryFor(tok, m.now())
	// Providers may rotate the refresh token; oauth2 keeps the old one otherwise
	if tok.RefreshToken != "" {
		entry.RefreshToken = tok.RefreshToken
	}

	if err := m.store.Save(ctx, label, entry); err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, "persisting refreshed token", err)
	}

	slog.InfoContext(ctx, "access token refreshed", "label", label)
	return &entry, nil
}

// Delete clears the entry of label.
func (m *Manager) Delete(ctx context.Context, label string) error {
	label, err := m.resolveLabel(label)
	if err != nil {
		return err
	}

	_, ok, err := m.loadEntry(ctx, label)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.Newf(apperror.KindNotFound, "No token for label '%s'", label)
	}

	if err := m.store.Save(ctx, label, Entry{}); err != nil {
		return apperror.Wrap(apperror.KindInternal, "clearing token entry", err)
	}

	slog.InfoContext(ctx, "token entry cleared", "label", label)
	return nil
}

func (m *Manager) observeExchange(result string) {
	if m.observer != nil {
		m.observer.ObserveExchange(result)
	}
}

func (m *Manager) observeRefresh(result string) {
	if m.observer != nil {
		m.observer.ObserveRefresh(result)
	}
}
