package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	lineAuthorizeURL = "https://access.line.me/oauth2/v2.1/authorize"
	lineTokenURL     = "https://api.line.me/oauth2/v2.1/token"
	lineAPIURL       = "https://api.line.me/v2/bot"
	lineScope        = "profile openid"

	// LineSignatureHeader carries the webhook payload signature.
	LineSignatureHeader = "X-Line-Signature"
)

// LineAdapter integrates the LINE Messaging API (messaging). LINE has no
// campaign concept; it contributes delivery statistics to the insight feed.
type LineAdapter struct {
	client       *Client
	authorizeURL string
	tokenURL     string
	apiURL       string
}

// NewLineAdapter constructs the messaging adapter.
func NewLineAdapter(client *Client) *LineAdapter {
	return &LineAdapter{client: client, authorizeURL: lineAuthorizeURL, tokenURL: lineTokenURL, apiURL: lineAPIURL}
}

var _ Adapter = (*LineAdapter)(nil)

func (a *LineAdapter) Platform() Platform { return Messaging }

func (a *LineAdapter) config(cfg Config) (LineConfig, error) {
	line, ok := cfg.(LineConfig)
	if !ok {
		return LineConfig{}, fmt.Errorf("%w: expected messaging config, got %s", ErrUnsupportedPlatform, cfg.Platform())
	}
	return line, nil
}

// ValidateCredentials probes the channel token against the bot info endpoint.
func (a *LineAdapter) ValidateCredentials(ctx context.Context, cfg Config) (bool, error) {
	line, err := a.config(cfg)
	if err != nil {
		return false, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+line.AccessToken)
	var out struct {
		UserID string `json:"userId"`
	}
	if err := a.client.getJSON(ctx, Messaging, "validate credentials", a.apiURL+"/info", header, &out); err != nil {
		if _, ok := asRejection(err); ok {
			return false, nil
		}
		return false, err
	}
	return out.UserID != "", nil
}

// AuthorizationURL builds the LINE Login consent URL.
func (a *LineAdapter) AuthorizationURL(clientID, redirectURI, state string) (string, error) {
	query := url.Values{}
	query.Set("response_type", "code")
	query.Set("client_id", clientID)
	query.Set("redirect_uri", redirectURI)
	query.Set("state", state)
	query.Set("scope", lineScope)
	return a.authorizeURL + "?" + query.Encode(), nil
}

// ExchangeCode trades the login code for channel tokens.
func (a *LineAdapter) ExchangeCode(ctx context.Context, code string, app AppCredentials, redirectURI string) (TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("client_id", app.ClientID)
	form.Set("client_secret", app.ClientSecret)

	var out lineTokenResponse
	err := a.client.postForm(ctx, Messaging, "exchange code", a.tokenURL, form, &out)
	if err != nil {
		if status, ok := asRejection(err); ok {
			return TokenSet{}, &OAuthExchangeError{Platform: Messaging, Reason: status.Body}
		}
		return TokenSet{}, err
	}
	return out.tokenSet(), nil
}

// RefreshToken rotates the channel access token. LINE rotates the refresh
// token with it, so the caller must persist the returned set.
func (a *LineAdapter) RefreshToken(ctx context.Context, cfg Config) (TokenSet, error) {
	line, err := a.config(cfg)
	if err != nil {
		return TokenSet{}, err
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", line.ChannelID)
	form.Set("client_secret", line.ChannelSecret)

	var out lineTokenResponse
	err = a.client.postForm(ctx, Messaging, "refresh token", a.tokenURL, form, &out)
	if err != nil {
		if status, ok := asRejection(err); ok {
			return TokenSet{}, &TokenExpiredError{Platform: Messaging, Reason: status.Body}
		}
		return TokenSet{}, err
	}
	return out.tokenSet(), nil
}

// FetchCampaigns returns an empty list: LINE messaging has no campaigns.
func (a *LineAdapter) FetchCampaigns(ctx context.Context, cfg Config, dateRange *DateRange) ([]Campaign, error) {
	if _, err := a.config(cfg); err != nil {
		return nil, err
	}
	return []Campaign{}, nil
}

// FetchInsights pulls per-day message delivery counts. Only impressions map
// onto the normalized schema; the remaining metrics stay absent.
func (a *LineAdapter) FetchInsights(ctx context.Context, cfg Config, dateRange *DateRange) ([]Insight, error) {
	line, err := a.config(cfg)
	if err != nil {
		return nil, err
	}

	days := insightDays(dateRange)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+line.AccessToken)

	insights := make([]Insight, 0, len(days))
	for _, day := range days {
		endpoint := fmt.Sprintf("%s/insight/message/delivery?date=%s", a.apiURL, day.Format("20060102"))
		var out struct {
			Status    string `json:"status"`
			Broadcast int64  `json:"broadcast"`
			Targeting int64  `json:"targeting"`
			APIPush   int64  `json:"apiPush"`
		}
		if err := a.client.getJSON(ctx, Messaging, "fetch insights", endpoint, header, &out); err != nil {
			if status, ok := asRejection(err); ok && status.Status == http.StatusUnauthorized {
				return nil, fmt.Errorf("%s: fetch insights: %w", Messaging, ErrAuthExpired)
			}
			return nil, err
		}
		if out.Status != "ready" {
			continue
		}
		delivered := out.Broadcast + out.Targeting + out.APIPush
		insights = append(insights, Insight{Date: day, Impressions: &delivered})
	}
	return insights, nil
}

// insightDays expands a date range into individual days; LINE reports one day
// per request. Defaults to the previous seven days.
func insightDays(dateRange *DateRange) []time.Time {
	end := time.Now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -7)
	if dateRange != nil {
		start = dateRange.Start.UTC().Truncate(24 * time.Hour)
		end = dateRange.End.UTC().Truncate(24 * time.Hour)
	}
	if end.Before(start) {
		return nil
	}
	days := make([]time.Time, 0, int(end.Sub(start).Hours()/24)+1)
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		days = append(days, day)
	}
	return days
}

func (a *LineAdapter) SupportsWebhooks() bool { return true }

// WebhookSecret returns the channel secret used for X-Line-Signature.
func (a *LineAdapter) WebhookSecret(cfg Config) string {
	line, err := a.config(cfg)
	if err != nil {
		return ""
	}
	return line.ChannelSecret
}

// ValidateWebhookSignature checks the base64 HMAC header LINE sends.
func (a *LineAdapter) ValidateWebhookSignature(payload []byte, signature, secret string) bool {
	if secret == "" {
		return false
	}
	return equalSignatures(strings.TrimSpace(signature), hmacSHA256Base64(payload, secret))
}

type lineTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

func (r lineTokenResponse) tokenSet() TokenSet {
	set := TokenSet{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken}
	if r.ExpiresIn > 0 {
		set.Expiry = time.Now().Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	return set
}
