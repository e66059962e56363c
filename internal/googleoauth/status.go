package googleoauth

import (
	"context"
)

// StatusCode classifies the token state of a label.
type StatusCode string

const (
	StatusNoToken         StatusCode = "no_token"
	StatusNoRefreshToken  StatusCode = "no_refresh_token"
	StatusExpiredNoAccess StatusCode = "expired_no_access"
	// StatusExpired can be recovered by a refresh.
	StatusExpired StatusCode = "expired"
	StatusOK      StatusCode = "ok"
)

// Status is a read-only view of a label's token state.
type Status struct {
	Label      string     `json:"label"`
	Status     StatusCode `json:"status"`
	HasAccess  bool       `json:"has_access"`
	HasRefresh bool       `json:"has_refresh"`
	Expiry     int64      `json:"expiry"`
	// ExpiresIn is the number of seconds until Expiry, never negative.
	ExpiresIn int64  `json:"expires_in"`
	Scope     string `json:"scope"`
}

// Status classifies the stored entry of label. It neither contacts the
// provider nor modifies the store.
func (m *Manager) Status(ctx context.Context, label string) (*Status, error) {
	label, err := m.resolveLabel(label)
	if err != nil {
		return nil, err
	}

	entry, ok, err := m.loadEntry(ctx, label)
	if err != nil {
		return nil, err
	}
	return classify(label, entry, ok, m.now().Unix()), nil
}

func classify(label string, entry Entry, present bool, now int64) *Status {
	status := &Status{
		Label:      label,
		HasAccess:  entry.AccessToken != "",
		HasRefresh: entry.RefreshToken != "",
		Expiry:     entry.Expiry,
		ExpiresIn:  max(entry.Expiry-now, 0),
		Scope:      entry.Scope,
	}

	expired := entry.Expiry <= now
	switch {
	case !present:
		status.Status = StatusNoToken
	case !status.HasRefresh:
		status.Status = StatusNoRefreshToken
	case expired && !status.HasAccess:
		status.Status = StatusExpiredNoAccess
	case expired:
		status.Status = StatusExpired
	default:
		status.Status = StatusOK
	}
	return status
}
