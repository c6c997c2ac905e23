package strava

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

const (
	AuthURL  = "https://www.strava.com/oauth/authorize"
	TokenURL = "https://www.strava.com/oauth/token"
)

// Scopes requested from the athlete (Strava uses comma-separated scopes).
var Scopes = []string{"read,activity:read_all"}

const refreshBuffer = 60 * time.Second

// NewOAuthConfig builds the OAuth client configuration.
func NewOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   AuthURL,
			TokenURL:  TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: redirectURL,
		Scopes:      Scopes,
	}
}

// ExtractAthleteID reads the athlete ID Strava embeds in the token response.
func ExtractAthleteID(token *oauth2.Token) string {
	if athlete, ok := token.Extra("athlete").(map[string]interface{}); ok {
		if id, ok := athlete["id"].(float64); ok {
			return strconv.FormatInt(int64(id), 10)
		}
	}
	return ""
}

// TokenSource refreshes tokens shortly before expiry and hands every new
// token to onRefresh so it can be persisted. Strava rotates refresh tokens.
type TokenSource struct {
	ctx       context.Context
	config    *oauth2.Config
	token     *oauth2.Token
	onRefresh func(*oauth2.Token) error
	mu        sync.Mutex
}

// NewTokenSource creates a TokenSource. ctx is used for refresh requests.
func NewTokenSource(ctx context.Context, cfg *oauth2.Config, token *oauth2.Token, onRefresh func(*oauth2.Token) error) *TokenSource {
	return &TokenSource{ctx: ctx, config: cfg, token: token, onRefresh: onRefresh}
}

// Token returns a valid token, refreshing if necessary.
func (ts *TokenSource) Token() (*oauth2.Token, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if time.Until(ts.token.Expiry) > refreshBuffer {
		return ts.token, nil
	}

	expired := *ts.token
	expired.Expiry = time.Now().Add(-time.Second)
	newToken, err := ts.config.TokenSource(ts.ctx, &expired).Token()
	if err != nil {
		return nil, err
	}
	if ts.onRefresh != nil {
		if err := ts.onRefresh(newToken); err != nil {
			return nil, err
		}
	}
	ts.token = newToken
	return newToken, nil
}
