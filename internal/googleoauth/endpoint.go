package googleoauth

import (
	"time"

	"golang.org/x/oauth2"
)

// Endpoint defines Google's OAuth2 authorization and token endpoints.
// Client credentials are sent as form parameters.
var Endpoint = oauth2.Endpoint{
	AuthURL:   "https://accounts.google.com/o/oauth2/v2/auth",
	TokenURL:  "https://oauth2.googleapis.com/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

const (
	// DefaultLabel names the credential slot used when no label is given.
	DefaultLabel = "default"

	// DefaultStateTTL bounds how long a started flow can be completed.
	DefaultStateTTL = 10 * time.Minute

	// DefaultTimeout bounds each call to the token endpoint.
	DefaultTimeout = 20 * time.Second

	// expirySkew is subtracted from the provider's expires_in.
	expirySkew = 30 * time.Second

	// defaultLifetime is assumed when the provider omits expires_in.
	defaultLifetime = time.Hour

	// ReservedKey is the store key holding pending flows. It is not a valid label.
	ReservedKey = "__state__"

	// nonceBytes is the entropy of a state nonce.
	nonceBytes = 24
)
