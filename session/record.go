package session

import (
	"time"
)

// SchemaVersion is the current persisted record layout version. A stored
// record with any other version is discarded wholesale; no field-level
// migration is attempted.
const SchemaVersion = 3

// Storage keys. Each is an independent persisted value and independently
// clearable: the primary record, the explicit role selection, and the
// opaque server-side restore identifier.
const (
	RecordKey    = "rosterhq.portal.session"
	RoleKey      = "rosterhq.portal.role"
	RestoreIDKey = "rosterhq.portal.sid"
)

// legacyKeys are every storage key an earlier schema has ever used.
// Clear removes them all so stale state cannot resurrect after an
// upgrade.
var legacyKeys = []string{
	"rosterhq.admin.session",
	"rosterhq.coach.session",
	"rosterhq.portal.tokens",
}

// TokenBundle is the set of tokens returned by an auth exchange. All
// fields are opaque compact tokens. AccessToken is always present;
// IDToken and RefreshToken depend on the issuing flow (a constrained
// flow may reuse the access token as its own refresh token).
type TokenBundle struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// IdentityToken returns the token that carries identity claims: the ID
// token when present, otherwise the access token.
func (b TokenBundle) IdentityToken() string {
	if b.IDToken != "" {
		return b.IDToken
	}
	return b.AccessToken
}

// Record is the persisted session record.
type Record struct {
	SchemaVersion int         `json:"schemaVersion"`
	Email         string      `json:"email"`
	Tokens        TokenBundle `json:"tokenBundle"`
	IssuedAt      time.Time   `json:"issuedAt"`
	ExpiresAt     time.Time   `json:"expiresAt"`
	LastRefreshAt time.Time   `json:"lastRefreshAt"`
	UserAgent     string      `json:"userAgent"`
	LoginTime     time.Time   `json:"loginTime"`
}

// NewRecord builds a fresh record for a successful verification.
// expiresIn is the server-reported token lifetime; it is capped at
// maxDuration, the client's hard ceiling, so a misconfigured server
// cannot hand out a longer-lived local session than policy allows.
func NewRecord(email string, tokens TokenBundle, expiresIn, maxDuration time.Duration, userAgent string, now time.Time) Record {
	if expiresIn <= 0 || expiresIn > maxDuration {
		expiresIn = maxDuration
	}
	return Record{
		SchemaVersion: SchemaVersion,
		Email:         email,
		Tokens:        tokens,
		IssuedAt:      now,
		ExpiresAt:     now.Add(expiresIn),
		LastRefreshAt: now,
		UserAgent:     userAgent,
		LoginTime:     now,
	}
}

// Refreshed returns a copy of the record updated for a successful
// refresh: new tokens and expiry, original issue and login times kept.
func (r Record) Refreshed(tokens TokenBundle, expiresIn, maxDuration time.Duration, now time.Time) Record {
	if expiresIn <= 0 || expiresIn > maxDuration {
		expiresIn = maxDuration
	}
	out := r
	out.Tokens = tokens
	out.ExpiresAt = now.Add(expiresIn)
	out.LastRefreshAt = now
	return out
}

// ExpiredAt reports whether the record is expired by the local clock.
func (r Record) ExpiredAt(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
