package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	googleAuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL = "https://oauth2.googleapis.com/token"
	googleAdsURL   = "https://googleads.googleapis.com/v17"
	googleAdsScope = "https://www.googleapis.com/auth/adwords"
)

// GoogleAdsAdapter integrates the Google Ads API (search-ads).
type GoogleAdsAdapter struct {
	client   *Client
	authURL  string
	tokenURL string
	apiURL   string
}

// NewGoogleAdsAdapter constructs the search-ads adapter.
func NewGoogleAdsAdapter(client *Client) *GoogleAdsAdapter {
	return &GoogleAdsAdapter{client: client, authURL: googleAuthURL, tokenURL: googleTokenURL, apiURL: googleAdsURL}
}

var _ Adapter = (*GoogleAdsAdapter)(nil)

func (a *GoogleAdsAdapter) Platform() Platform { return SearchAds }

func (a *GoogleAdsAdapter) config(cfg Config) (GoogleAdsConfig, error) {
	ga, ok := cfg.(GoogleAdsConfig)
	if !ok {
		return GoogleAdsConfig{}, fmt.Errorf("%w: expected search-ads config, got %s", ErrUnsupportedPlatform, cfg.Platform())
	}
	return ga, nil
}

// ValidateCredentials probes the refresh token by requesting an access token.
func (a *GoogleAdsAdapter) ValidateCredentials(ctx context.Context, cfg Config) (bool, error) {
	ga, err := a.config(cfg)
	if err != nil {
		return false, err
	}

	_, err = a.refreshAccessToken(ctx, ga)
	if err == nil {
		return true, nil
	}
	if IsTransient(err) {
		return false, err
	}
	return false, nil
}

// AuthorizationURL builds the Google consent URL. access_type=offline plus
// prompt=consent forces a refresh token on every grant.
func (a *GoogleAdsAdapter) AuthorizationURL(clientID, redirectURI, state string) (string, error) {
	query := url.Values{}
	query.Set("client_id", clientID)
	query.Set("redirect_uri", redirectURI)
	query.Set("scope", googleAdsScope)
	query.Set("response_type", "code")
	query.Set("access_type", "offline")
	query.Set("prompt", "consent")
	query.Set("state", state)
	return a.authURL + "?" + query.Encode(), nil
}

// ExchangeCode trades the authorization code for access and refresh tokens.
func (a *GoogleAdsAdapter) ExchangeCode(ctx context.Context, code string, app AppCredentials, redirectURI string) (TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", app.ClientID)
	form.Set("client_secret", app.ClientSecret)
	form.Set("redirect_uri", redirectURI)

	var out googleTokenResponse
	err := a.client.postForm(ctx, SearchAds, "exchange code", a.tokenURL, form, &out)
	if err != nil {
		if status, ok := asRejection(err); ok {
			return TokenSet{}, &OAuthExchangeError{Platform: SearchAds, Reason: status.Body}
		}
		return TokenSet{}, err
	}
	return out.tokenSet(), nil
}

// RefreshToken requests a fresh access token from the stored refresh token.
// Google keeps the refresh token stable, so only the access token rotates.
func (a *GoogleAdsAdapter) RefreshToken(ctx context.Context, cfg Config) (TokenSet, error) {
	ga, err := a.config(cfg)
	if err != nil {
		return TokenSet{}, err
	}
	return a.refreshAccessToken(ctx, ga)
}

func (a *GoogleAdsAdapter) refreshAccessToken(ctx context.Context, ga GoogleAdsConfig) (TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", ga.RefreshToken)
	form.Set("client_id", ga.ClientID)
	form.Set("client_secret", ga.ClientSecret)

	var out googleTokenResponse
	err := a.client.postForm(ctx, SearchAds, "refresh token", a.tokenURL, form, &out)
	if err != nil {
		if status, ok := asRejection(err); ok {
			return TokenSet{}, &TokenExpiredError{Platform: SearchAds, Reason: status.Body}
		}
		return TokenSet{}, err
	}
	set := out.tokenSet()
	set.RefreshToken = ga.RefreshToken
	return set, nil
}

// FetchCampaigns runs a GAQL campaign query against the customer account.
func (a *GoogleAdsAdapter) FetchCampaigns(ctx context.Context, cfg Config, dateRange *DateRange) ([]Campaign, error) {
	ga, err := a.config(cfg)
	if err != nil {
		return nil, err
	}

	gaql := "SELECT campaign.id, campaign.name, campaign.status, campaign.advertising_channel_type, " +
		"campaign.start_date, campaign.end_date FROM campaign"
	rows, err := a.search(ctx, ga, "fetch campaigns", gaql)
	if err != nil {
		return nil, err
	}

	campaigns := make([]Campaign, 0, len(rows))
	for _, row := range rows {
		campaigns = append(campaigns, Campaign{
			ID:        row.Campaign.ID,
			Name:      row.Campaign.Name,
			Status:    row.Campaign.Status,
			Channel:   row.Campaign.AdvertisingChannelType,
			StartDate: row.Campaign.StartDate,
			EndDate:   row.Campaign.EndDate,
		})
	}
	return campaigns, nil
}

// FetchInsights pulls per-day account metrics. Google reports cost in micros
// natively, so the normalized schema is fully populated.
func (a *GoogleAdsAdapter) FetchInsights(ctx context.Context, cfg Config, dateRange *DateRange) ([]Insight, error) {
	ga, err := a.config(cfg)
	if err != nil {
		return nil, err
	}

	gaql := "SELECT segments.date, metrics.impressions, metrics.clicks, metrics.cost_micros, " +
		"metrics.ctr, metrics.average_cpc, metrics.conversions, metrics.conversions_value FROM customer"
	if dateRange != nil {
		gaql += fmt.Sprintf(" WHERE segments.date BETWEEN '%s' AND '%s'",
			dateRange.Start.Format(time.DateOnly), dateRange.End.Format(time.DateOnly))
	}

	rows, err := a.search(ctx, ga, "fetch insights", gaql)
	if err != nil {
		return nil, err
	}

	insights := make([]Insight, 0, len(rows))
	for _, row := range rows {
		date, err := time.Parse(time.DateOnly, row.Segments.Date)
		if err != nil {
			continue
		}
		metrics := row.Metrics
		insights = append(insights, Insight{
			Date:            date,
			Impressions:     &metrics.Impressions,
			Clicks:          &metrics.Clicks,
			CostMicros:      &metrics.CostMicros,
			CTR:             &metrics.CTR,
			AverageCPC:      &metrics.AverageCPC,
			Conversions:     &metrics.Conversions,
			ConversionValue: &metrics.ConversionsValue,
		})
	}
	return insights, nil
}

type googleAdsRow struct {
	Campaign struct {
		ID                     string `json:"id"`
		Name                   string `json:"name"`
		Status                 string `json:"status"`
		AdvertisingChannelType string `json:"advertisingChannelType"`
		StartDate              string `json:"startDate"`
		EndDate                string `json:"endDate"`
	} `json:"campaign"`
	Segments struct {
		Date string `json:"date"`
	} `json:"segments"`
	Metrics struct {
		Impressions      int64   `json:"impressions,string"`
		Clicks           int64   `json:"clicks,string"`
		CostMicros       int64   `json:"costMicros,string"`
		CTR              float64 `json:"ctr"`
		AverageCPC       float64 `json:"averageCpc"`
		Conversions      float64 `json:"conversions"`
		ConversionsValue float64 `json:"conversionsValue"`
	} `json:"metrics"`
}

func (a *GoogleAdsAdapter) search(ctx context.Context, ga GoogleAdsConfig, op, gaql string) ([]googleAdsRow, error) {
	endpoint := fmt.Sprintf("%s/customers/%s/googleAds:search", a.apiURL, url.PathEscape(ga.CustomerID))
	header := http.Header{}
	header.Set("Authorization", "Bearer "+ga.AccessToken)
	header.Set("developer-token", ga.DeveloperToken)

	var out struct {
		Results []googleAdsRow `json:"results"`
	}
	err := a.client.postJSON(ctx, SearchAds, op, endpoint, map[string]string{"query": gaql}, header, &out)
	if err != nil {
		if status, ok := asRejection(err); ok && status.Status == http.StatusUnauthorized {
			return nil, fmt.Errorf("%s: %s: %w", SearchAds, op, ErrAuthExpired)
		}
		return nil, err
	}
	return out.Results, nil
}

// SupportsWebhooks is false: Google Ads pushes no inbound events.
func (a *GoogleAdsAdapter) SupportsWebhooks() bool { return false }

func (a *GoogleAdsAdapter) WebhookSecret(Config) string { return "" }

// ValidateWebhookSignature always fails: there is no validator to trust.
func (a *GoogleAdsAdapter) ValidateWebhookSignature([]byte, string, string) bool { return false }

type googleTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
}

func (r googleTokenResponse) tokenSet() TokenSet {
	set := TokenSet{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken}
	if r.ExpiresIn > 0 {
		set.Expiry = time.Now().Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	return set
}
