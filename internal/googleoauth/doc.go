// Package googleoauth manages a Google OAuth2 offline authorization-code flow
// and keeps the resulting tokens fresh.
//
// Tokens are kept per label, so one service instance can hold several
// independent Google identities. The lifecycle of a label is:
//
//	Start    -> authorization URL carrying a single-use state nonce
//	Callback -> code exchanged for tokens, entry persisted
//	Token    -> cached access token, or a refresh grant once it expired
//	Delete   -> entry cleared, a new Start is required
//
// A refresh token, once obtained, survives later writes: Google omits it on
// repeated consent and on refresh, so the stored one is carried over. A refresh
// answered with invalid_grant clears the entry.
//
// # Usage
//
//	m, err := googleoauth.New(cfg, store)
//	authorizeURL, err := m.Start(ctx, "https://host/callback", "")
//	// user consents, Google redirects back with code and state
//	result, err := m.Callback(ctx, googleoauth.CallbackRequest{Code: code, State: state})
//	entry, err := m.Token(ctx, result.Label)
package googleoauth
