// Package token decodes compact (JWT-format) tokens into claim sets.
//
// Decoding is deliberately unverified: the issuing server is the
// authority on token validity and the transport is TLS. The client reads
// claims purely for display and role logic, so no signature check is
// performed here. Do not "fix" this by adding verification — that would
// change the trust model, which places validity decisions server-side.
package token

import (
	jwtlib "github.com/golang-jwt/jwt/v5"
)

// ClaimSet holds the claims the portals care about, extracted from a
// compact token's payload segment.
type ClaimSet struct {
	Subject   string   // "sub" - user's unique ID
	Email     string   // "email"
	ExpiresAt int64    // "exp" - expiry, seconds since epoch
	Role      string   // "role" - single role claim
	Roles     []string // "roles" - multi-valued role claim
}

// Decode extracts the claim set from a compact token without verifying
// its signature. It returns ok=false for any malformed input: wrong
// segment count, undecodable payload, or a missing/non-numeric exp claim.
// It never panics and never returns a partial claim set on failure.
func Decode(raw string) (ClaimSet, bool) {
	if raw == "" {
		return ClaimSet{}, false
	}

	parsed, _, err := jwtlib.NewParser().ParseUnverified(raw, jwtlib.MapClaims{})
	if err != nil {
		return ClaimSet{}, false
	}

	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return ClaimSet{}, false
	}

	// exp is mandatory and must be numeric. encoding/json decodes JSON
	// numbers into float64 within a map.
	exp, ok := claims["exp"].(float64)
	if !ok {
		return ClaimSet{}, false
	}

	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	role, _ := claims["role"].(string)

	var roles []string
	if claimRoles, ok := claims["roles"].([]any); ok {
		roles = toStringSlice(claimRoles)
	}

	return ClaimSet{
		Subject:   sub,
		Email:     email,
		ExpiresAt: int64(exp),
		Role:      role,
		Roles:     roles,
	}, true
}

// Expired reports whether the claim set's expiry is at or before
// nowEpochSeconds.
func Expired(cs ClaimSet, nowEpochSeconds int64) bool {
	return cs.ExpiresAt <= nowEpochSeconds
}

func toStringSlice(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
