package googleoauth

import (
	"strconv"
	"time"

	"golang.org/x/oauth2"
)

// Entry is the persisted token state of one label.
// The zero Entry represents a cleared slot.
type Entry struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	// Expiry is in epoch seconds; the access token is invalid from then on.
	Expiry int64 `json:"expiry,omitempty"`
}

// IsZero reports whether the entry holds nothing.
func (e Entry) IsZero() bool {
	return e == Entry{}
}

// Valid reports whether the access token can be used at now.
func (e Entry) Valid(now time.Time) bool {
	return e.AccessToken != "" && e.Expiry > now.Unix()
}

// entryFromToken converts a token endpoint response into an Entry.
func entryFromToken(tok *oauth2.Token, now time.Time) Entry {
	entry := Entry{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       expiryFor(tok, now),
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		entry.Scope = scope
	}
	return entry
}

// expiryFor computes now + expires_in - skew in epoch seconds.
func expiryFor(tok *oauth2.Token, now time.Time) int64 {
	lifetime := defaultLifetime
	if tok.ExpiresIn > 0 {
		lifetime = time.Duration(tok.ExpiresIn) * time.Second
	} else {
		switch v := tok.Extra("expires_in").(type) {
		case float64:
			lifetime = time.Duration(v) * time.Second
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				lifetime = time.Duration(n) * time.Second
			}
		}
	}
	return now.Add(lifetime - expirySkew).Unix()
}
