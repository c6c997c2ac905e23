package strava

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"example.com/fittrack/internal/domain"
)

// Name identifies Strava as an activity source.
const Name = "strava"

// syncOverlap re-reads a window before the watermark so activities uploaded
// late are still picked up. Repeats are dropped by external id.
const syncOverlap = 24 * time.Hour

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL points the API client somewhere other than Strava.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithLogger overrides the provider logger.
func WithLogger(logger *log.Logger) Option {
	return func(p *Provider) { p.logger = logger }
}

// WithHTTPClient sets the base HTTP client used for token and API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements domain.ActivityProvider and domain.Connector for Strava.
type Provider struct {
	oauth       *oauth2.Config
	connections domain.ConnectionRepository
	limiter     *RateLimiter
	baseURL     string
	httpClient  *http.Client
	logger      *log.Logger
}

// NewProvider constructs a Provider. Refreshed tokens are written back through connections.
func NewProvider(cfg *oauth2.Config, connections domain.ConnectionRepository, opts ...Option) *Provider {
	p := &Provider{
		oauth:       cfg,
		connections: connections,
		limiter:     NewRateLimiter(),
		baseURL:     BaseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      log.New(log.Writer(), "[strava] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements domain.ActivityProvider.
func (p *Provider) Name() string { return Name }

// AuthCodeURL implements domain.Connector.
func (p *Provider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("approval_prompt", "auto"))
}

// Exchange implements domain.Connector.
func (p *Provider) Exchange(ctx context.Context, code string) (domain.ProviderConnection, error) {
	token, err := p.oauth.Exchange(p.withHTTPClient(ctx), code)
	if err != nil {
		return domain.ProviderConnection{}, err
	}
	return domain.ProviderConnection{
		Provider:     Name,
		AthleteID:    ExtractAthleteID(token),
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
	}, nil
}

// FetchActivities implements domain.ActivityProvider.
func (p *Provider) FetchActivities(ctx context.Context, conn domain.ProviderConnection, since time.Time) ([]domain.ImportItem, error) {
	token := &oauth2.Token{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		TokenType:    conn.TokenType,
		Expiry:       conn.Expiry,
	}
	ctx = p.withHTTPClient(ctx)
	source := NewTokenSource(ctx, p.oauth, token, func(t *oauth2.Token) error {
		updated := conn
		updated.AccessToken = t.AccessToken
		updated.RefreshToken = t.RefreshToken
		updated.TokenType = t.TokenType
		updated.Expiry = t.Expiry
		if err := p.connections.SaveConnection(ctx, updated); err != nil {
			return fmt.Errorf("persist refreshed token: %w", err)
		}
		p.logger.Printf("refreshed token (user=%s)", conn.UserID)
		return nil
	})

	after := since
	if !after.IsZero() {
		after = after.Add(-syncOverlap)
	}
	client := NewClient(oauth2.NewClient(ctx, source), p.limiter, p.baseURL)
	activities, err := client.GetAllActivities(ctx, after)
	if err != nil {
		return nil, err
	}

	items := make([]domain.ImportItem, 0, len(activities))
	for _, a := range activities {
		items = append(items, ToImportItem(a))
	}
	short, daily := p.limiter.Status()
	p.logger.Printf("fetched %d activities (user=%s, remaining short=%d daily=%d)", len(items), conn.UserID, short, daily)
	return items, nil
}

func (p *Provider) withHTTPClient(ctx context.Context) context.Context {
	if p.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}
