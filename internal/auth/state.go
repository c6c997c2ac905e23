package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const stateAudience = "oauth-state"

// StateTTL bounds how long a user has to complete a provider authorisation.
const StateTTL = 10 * time.Minute

// State identifies the user who started a provider authorisation. It is
// round-tripped through the provider as the OAuth state parameter.
type State struct {
	TenantID string
	UserID   string
	Provider string
}

type stateClaims struct {
	TenantID string `json:"tenant_id"`
	Provider string `json:"provider"`
	jwt.RegisteredClaims
}

// SignState encodes s as a short-lived signed token.
func SignState(cfg Config, s State) (string, error) {
	now := time.Now()
	claims := stateClaims{
		TenantID: s.TenantID,
		Provider: s.Provider,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings{stateAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(StateTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
}

// ParseState verifies a token produced by SignState.
func ParseState(cfg Config, token string) (State, error) {
	var claims stateClaims
	opts := append(cfg.parserOptions(), jwt.WithAudience(stateAudience))
	if _, err := jwt.ParseWithClaims(token, &claims, cfg.keyFunc, opts...); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.TenantID == "" || claims.Provider == "" {
		return State{}, ErrInvalidToken
	}
	return State{TenantID: claims.TenantID, UserID: claims.Subject, Provider: claims.Provider}, nil
}
