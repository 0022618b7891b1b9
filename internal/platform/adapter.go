package platform

import (
	"context"
	"time"
)

// TokenSet is the ephemeral result of an OAuth exchange or refresh. It is
// folded into an integration's credential config immediately and never
// persisted on its own.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// AppCredentials are the per-platform application credentials (OAuth client)
// owned by the operator, as opposed to per-tenant tokens.
type AppCredentials struct {
	ClientID     string
	ClientSecret string
}

// DateRange bounds a metrics pull. Both ends are inclusive dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Campaign is one advertising campaign in the cross-platform shape.
type Campaign struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Channel   string `json:"channel"`
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
}

// Insight is one day of normalized performance metrics. A platform that cannot
// supply a metric leaves it nil; adapters never fabricate zeros because absent
// and zero aggregate differently downstream.
type Insight struct {
	Date            time.Time `json:"date"`
	Impressions     *int64    `json:"impressions,omitempty"`
	Clicks          *int64    `json:"clicks,omitempty"`
	CostMicros      *int64    `json:"costMicros,omitempty"`
	CTR             *float64  `json:"ctr,omitempty"`
	AverageCPC      *float64  `json:"averageCpc,omitempty"`
	Conversions     *float64  `json:"conversions,omitempty"`
	ConversionValue *float64  `json:"conversionValue,omitempty"`
}

// Adapter is the capability contract every platform implements. Callers are
// polymorphic over this interface; concrete platform types never leak past it.
type Adapter interface {
	Platform() Platform

	// ValidateCredentials performs a cheap live probe. Invalid credentials
	// return false with a nil error; only transport failures return an error.
	ValidateCredentials(ctx context.Context, cfg Config) (bool, error)

	// AuthorizationURL builds the provider consent URL. Pure string
	// construction; state is embedded unmodified for later CSRF verification.
	AuthorizationURL(clientID, redirectURI, state string) (string, error)

	// ExchangeCode trades a single-use authorization code for tokens.
	// Returns *OAuthExchangeError on provider rejection and *TransportError on
	// network failure. Never retried: providers consume the code either way.
	ExchangeCode(ctx context.Context, code string, app AppCredentials, redirectURI string) (TokenSet, error)

	// RefreshToken obtains a fresh access token. When the provider rotates
	// refresh tokens the returned set carries the new one and the caller must
	// persist it. Returns *TokenExpiredError when the refresh token is dead.
	RefreshToken(ctx context.Context, cfg Config) (TokenSet, error)

	// FetchCampaigns and FetchInsights are read-only pulls, safe to repeat.
	FetchCampaigns(ctx context.Context, cfg Config, dateRange *DateRange) ([]Campaign, error)
	FetchInsights(ctx context.Context, cfg Config, dateRange *DateRange) ([]Insight, error)

	// SupportsWebhooks reports whether the platform delivers inbound events.
	SupportsWebhooks() bool

	// WebhookSecret extracts the signing secret from a tenant config, or ""
	// when the platform does not sign events.
	WebhookSecret(cfg Config) string

	// ValidateWebhookSignature verifies an inbound payload against its
	// signature header using constant-time comparison. Pure and deterministic.
	ValidateWebhookSignature(payload []byte, signature, secret string) bool
}

// Registry maps the closed platform set to adapter instances. Adding a
// platform means adding an enum variant and a constructor here, checked at
// compile time rather than by string matching.
type Registry struct {
	adapters map[Platform]Adapter
}

// NewRegistry builds the static adapter registry.
func NewRegistry(client *Client) *Registry {
	return &Registry{adapters: map[Platform]Adapter{
		SocialAds:     NewFacebookAdapter(client),
		SearchAds:     NewGoogleAdsAdapter(client),
		Messaging:     NewLineAdapter(client),
		ShortVideoAds: NewTikTokAdapter(client),
		Marketplace:   NewShopeeAdapter(client),
	}}
}

// NewRegistryOf builds a registry from explicit adapters. Used by tests and
// by callers that substitute individual adapters.
func NewRegistryOf(adapters ...Adapter) *Registry {
	byPlatform := make(map[Platform]Adapter, len(adapters))
	for _, adapter := range adapters {
		byPlatform[adapter.Platform()] = adapter
	}
	return &Registry{adapters: byPlatform}
}

// Adapter resolves the adapter for a platform.
func (r *Registry) Adapter(p Platform) (Adapter, error) {
	adapter, ok := r.adapters[p]
	if !ok {
		return nil, ErrUnsupportedPlatform
	}
	return adapter, nil
}
