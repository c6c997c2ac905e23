package domain

import (
	"context"
	"fmt"
	"time"
)

// ProviderConnection stores a user's OAuth grant for an external fitness platform.
type ProviderConnection struct {
	TenantID     string
	UserID       string
	Provider     string
	AthleteID    string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
	LastSyncedAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ConnectionRepository persists provider connections.
type ConnectionRepository interface {
	GetConnection(ctx context.Context, tenantID, userID, provider string) (*ProviderConnection, error)
	SaveConnection(ctx context.Context, conn ProviderConnection) error
	MarkSynced(ctx context.Context, tenantID, userID, provider string, at time.Time) error
}

// ActivityProvider fetches a user's activities from an external platform and
// translates them into import items using the core activity taxonomy.
type ActivityProvider interface {
	Name() string
	FetchActivities(ctx context.Context, conn ProviderConnection, since time.Time) ([]ImportItem, error)
}

// Connector is implemented by providers that authorise through an OAuth redirect.
type Connector interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (ProviderConnection, error)
}

func (s *Service) connector(providerName string) (Connector, error) {
	p, ok := s.providers[providerName]
	if !ok {
		return nil, ErrProviderNotConfigured
	}
	c, ok := p.(Connector)
	if !ok {
		return nil, ErrProviderNotConfigured
	}
	return c, nil
}

// ConnectURL returns the provider authorisation URL carrying the opaque state.
func (s *Service) ConnectURL(providerName, state string) (string, error) {
	c, err := s.connector(providerName)
	if err != nil {
		return "", err
	}
	return c.AuthCodeURL(state), nil
}

// CompleteConnection exchanges an authorisation code and stores the grant for the user.
func (s *Service) CompleteConnection(ctx context.Context, tenantID, userID, providerName, code string) (*ProviderConnection, error) {
	c, err := s.connector(providerName)
	if err != nil {
		return nil, err
	}
	if s.connections == nil {
		return nil, ErrProviderNotConfigured
	}

	conn, err := c.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange %s authorisation code: %w: %w", providerName, ErrProviderFetch, err)
	}
	conn.TenantID = tenantID
	conn.UserID = userID
	conn.Provider = providerName
	if err := s.connections.SaveConnection(ctx, conn); err != nil {
		return nil, fmt.Errorf("save %s connection: %w", providerName, err)
	}
	s.logger.Printf("%s connected (user=%s athlete=%s)", providerName, userID, conn.AthleteID)
	return &conn, nil
}
