package googleoauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"
)

// PendingState is the context of a started but not yet completed flow.
type PendingState struct {
	Label       string `json:"label"`
	RedirectURI string `json:"redirect_uri"`
	IssuedAt    int64  `json:"issued_at"`
}

// registry maps state nonces to pending flows.
type registry map[string]PendingState

// newNonce returns a URL-safe random string carrying nonceBytes of entropy.
func newNonce() (string, error) {
	b := make([]byte, nonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating state nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// loadRegistry reads the pending flows and drops the ones older than the TTL.
// Reports whether anything was dropped.
func (m *Manager) loadRegistry(ctx context.Context) (registry, bool) {
	reg := registry{}
	if _, err := m.store.Load(ctx, ReservedKey, &reg); err != nil {
		// A corrupt registry only invalidates pending flows
		slog.WarnContext(ctx, "discarding unreadable state registry", "error", err)
		reg = registry{}
	}
	if reg == nil {
		reg = registry{}
	}

	cutoff := m.now().Add(-m.cfg.StateTTL).Unix()
	swept := 0
	for nonce, pending := range reg {
		if pending.IssuedAt < cutoff {
			delete(reg, nonce)
			swept++
		}
	}
	if swept > 0 {
		slog.DebugContext(ctx, "expired pending oauth states", "count", swept)
	}
	return reg, swept > 0
}

// putState records a pending flow under nonce.
func (m *Manager) putState(ctx context.Context, nonce string, pending PendingState) error {
	reg, _ := m.loadRegistry(ctx)
	reg[nonce] = pending
	return m.store.Save(ctx, ReservedKey, reg)
}

// takeState removes and returns the pending flow for nonce.
// Expired entries found along the way are dropped as well.
func (m *Manager) takeState(ctx context.Context, nonce string) (PendingState, bool, error) {
	reg, swept := m.loadRegistry(ctx)
	pending, ok := reg[nonce]
	if ok {
		delete(reg, nonce)
	}
	if ok || swept {
		if err := m.store.Save(ctx, ReservedKey, reg); err != nil {
			return PendingState{}, false, err
		}
	}
	return pending, ok, nil
}

// stateAge is used for logging only.
func (m *Manager) stateAge(pending PendingState) time.Duration {
	return m.now().Sub(time.Unix(pending.IssuedAt, 0)).Round(time.Second)
}
