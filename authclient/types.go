package authclient

import "github.com/rosterhq/portal-session/session"

// MagicLinkRequest asks the auth service to email a one-time login link.
type MagicLinkRequest struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

// VerifyRequest exchanges a one-time token for a token bundle.
// ClientSessionID is a client-minted identifier the server may associate
// with the login for later restoration, used when the deployment does
// not mint its own.
type VerifyRequest struct {
	Token           string `json:"token"`
	Email           string `json:"email"`
	ClientSessionID string `json:"client_session_id,omitempty"`
}

// VerifyResponse is the auth service's answer to a verify exchange.
type VerifyResponse struct {
	Tokens    session.TokenBundle `json:"tokens"`
	ExpiresIn int                 `json:"expires_in,omitempty"`
	UserRole  string              `json:"user_role,omitempty"`
	SessionID string              `json:"session_id,omitempty"`
}

// RefreshRequest trades a refresh token for a fresh bundle.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshResponse carries the refreshed bundle.
type RefreshResponse struct {
	Tokens    session.TokenBundle `json:"tokens"`
	ExpiresIn int                 `json:"expires_in,omitempty"`
}

// RestoreRequest presents a server-held session identifier.
type RestoreRequest struct {
	SessionID string `json:"session_id"`
}

// RestoreUser is the identity block of a restore response.
type RestoreUser struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

// RestoreResponse repopulates a session from the server's copy.
type RestoreResponse struct {
	Tokens    session.TokenBundle `json:"tokens"`
	User      RestoreUser         `json:"user"`
	ExpiresIn int                 `json:"expires_in,omitempty"`
}

// LogoutRequest invalidates the server-held session. Fire-and-forget.
type LogoutRequest struct {
	SessionID string `json:"session_id"`
}

// APIError is the error body the auth service returns on failures.
type APIError struct {
	Error string `json:"error"`
}
