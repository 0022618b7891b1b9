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
	tiktokPortalURL = "https://business-api.tiktok.com/portal/auth"
	tiktokAPIURL    = "https://business-api.tiktok.com/open_api/v1.3"

	// TikTokSignatureHeader carries the webhook payload signature.
	TikTokSignatureHeader = "X-TikTok-Signature"

	tiktokCodeOK           = 0
	tiktokCodeAuthExpired  = 40105
	tiktokCodeTokenInvalid = 40104
)

// TikTokAdapter integrates the TikTok Business API (short-video-ads). TikTok
// wraps every response in a code/message envelope instead of HTTP statuses.
type TikTokAdapter struct {
	client    *Client
	portalURL string
	apiURL    string
}

// NewTikTokAdapter constructs the short-video-ads adapter.
func NewTikTokAdapter(client *Client) *TikTokAdapter {
	return &TikTokAdapter{client: client, portalURL: tiktokPortalURL, apiURL: tiktokAPIURL}
}

var _ Adapter = (*TikTokAdapter)(nil)

func (a *TikTokAdapter) Platform() Platform { return ShortVideoAds }

func (a *TikTokAdapter) config(cfg Config) (TikTokConfig, error) {
	tt, ok := cfg.(TikTokConfig)
	if !ok {
		return TikTokConfig{}, fmt.Errorf("%w: expected short-video-ads config, got %s", ErrUnsupportedPlatform, cfg.Platform())
	}
	return tt, nil
}

type tiktokEnvelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ValidateCredentials probes the token against the advertiser info endpoint.
func (a *TikTokAdapter) ValidateCredentials(ctx context.Context, cfg Config) (bool, error) {
	tt, err := a.config(cfg)
	if err != nil {
		return false, err
	}

	header := http.Header{}
	header.Set("Access-Token", tt.AccessToken)
	var out tiktokEnvelope
	endpoint := a.apiURL + "/oauth2/advertiser/get/?app_id=" + url.QueryEscape(tt.AppID) + "&secret=" + url.QueryEscape(tt.AppSecret)
	if err := a.client.getJSON(ctx, ShortVideoAds, "validate credentials", endpoint, header, &out); err != nil {
		if IsTransient(err) {
			return false, err
		}
		return false, nil
	}
	return out.Code == tiktokCodeOK, nil
}

// AuthorizationURL builds the TikTok Business portal consent URL.
func (a *TikTokAdapter) AuthorizationURL(clientID, redirectURI, state string) (string, error) {
	query := url.Values{}
	query.Set("app_id", clientID)
	query.Set("redirect_uri", redirectURI)
	query.Set("state", state)
	return a.portalURL + "?" + query.Encode(), nil
}

// ExchangeCode trades the portal auth code for a long-lived access token.
// TikTok ignores the redirect URI at exchange time.
func (a *TikTokAdapter) ExchangeCode(ctx context.Context, code string, app AppCredentials, redirectURI string) (TokenSet, error) {
	payload := map[string]string{
		"app_id":    app.ClientID,
		"secret":    app.ClientSecret,
		"auth_code": code,
	}

	var out struct {
		tiktokEnvelope
		Data struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	if err := a.client.postJSON(ctx, ShortVideoAds, "exchange code", a.apiURL+"/oauth2/access_token/", payload, nil, &out); err != nil {
		return TokenSet{}, err
	}
	if out.Code != tiktokCodeOK {
		return TokenSet{}, &OAuthExchangeError{Platform: ShortVideoAds, Reason: out.Message}
	}
	return TokenSet{AccessToken: out.Data.AccessToken}, nil
}

// RefreshToken is a reauthorization signal for TikTok: long-lived tokens are
// not refreshable, so a dead token always requires a new grant.
func (a *TikTokAdapter) RefreshToken(ctx context.Context, cfg Config) (TokenSet, error) {
	tt, err := a.config(cfg)
	if err != nil {
		return TokenSet{}, err
	}
	if tt.RefreshToken == "" {
		return TokenSet{}, &TokenExpiredError{Platform: ShortVideoAds, Reason: "no refresh token issued for this grant"}
	}

	payload := map[string]string{
		"app_id":        tt.AppID,
		"secret":        tt.AppSecret,
		"refresh_token": tt.RefreshToken,
	}
	var out struct {
		tiktokEnvelope
		Data struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
			ExpiresIn    int64  `json:"expires_in"`
		} `json:"data"`
	}
	if err := a.client.postJSON(ctx, ShortVideoAds, "refresh token", a.apiURL+"/oauth2/refresh_token/", payload, nil, &out); err != nil {
		return TokenSet{}, err
	}
	if out.Code != tiktokCodeOK {
		return TokenSet{}, &TokenExpiredError{Platform: ShortVideoAds, Reason: out.Message}
	}
	set := TokenSet{AccessToken: out.Data.AccessToken, RefreshToken: out.Data.RefreshToken}
	if out.Data.ExpiresIn > 0 {
		set.Expiry = time.Now().Add(time.Duration(out.Data.ExpiresIn) * time.Second)
	}
	return set, nil
}

// FetchCampaigns lists the advertiser's campaigns.
func (a *TikTokAdapter) FetchCampaigns(ctx context.Context, cfg Config, dateRange *DateRange) ([]Campaign, error) {
	tt, err := a.config(cfg)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Access-Token", tt.AccessToken)
	endpoint := a.apiURL + "/campaign/get/?advertiser_id=" + url.QueryEscape(tt.AdvertiserID)

	var out struct {
		tiktokEnvelope
		Data struct {
			List []struct {
				CampaignID      string `json:"campaign_id"`
				CampaignName    string `json:"campaign_name"`
				OperationStatus string `json:"operation_status"`
				ObjectiveType   string `json:"objective_type"`
				CreateTime      string `json:"create_time"`
			} `json:"list"`
		} `json:"data"`
	}
	if err := a.client.getJSON(ctx, ShortVideoAds, "fetch campaigns", endpoint, header, &out); err != nil {
		return nil, err
	}
	if err := a.envelopeError("fetch campaigns", out.tiktokEnvelope); err != nil {
		return nil, err
	}

	campaigns := make([]Campaign, 0, len(out.Data.List))
	for _, row := range out.Data.List {
		campaigns = append(campaigns, Campaign{
			ID:        row.CampaignID,
			Name:      row.CampaignName,
			Status:    row.OperationStatus,
			Channel:   row.ObjectiveType,
			StartDate: row.CreateTime,
		})
	}
	return campaigns, nil
}

// FetchInsights pulls the integrated daily report. Spend arrives in currency
// units and is converted to micros.
func (a *TikTokAdapter) FetchInsights(ctx context.Context, cfg Config, dateRange *DateRange) ([]Insight, error) {
	tt, err := a.config(cfg)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("advertiser_id", tt.AdvertiserID)
	query.Set("report_type", "BASIC")
	query.Set("data_level", "AUCTION_ADVERTISER")
	query.Set("dimensions", `["stat_time_day"]`)
	query.Set("metrics", `["spend","impressions","clicks","ctr","cpc","conversion"]`)
	if dateRange != nil {
		query.Set("start_date", dateRange.Start.Format(time.DateOnly))
		query.Set("end_date", dateRange.End.Format(time.DateOnly))
	}

	header := http.Header{}
	header.Set("Access-Token", tt.AccessToken)

	var out struct {
		tiktokEnvelope
		Data struct {
			List []struct {
				Dimensions struct {
					StatTimeDay string `json:"stat_time_day"`
				} `json:"dimensions"`
				Metrics struct {
					Spend       string `json:"spend"`
					Impressions string `json:"impressions"`
					Clicks      string `json:"clicks"`
					CTR         string `json:"ctr"`
					CPC         string `json:"cpc"`
					Conversion  string `json:"conversion"`
				} `json:"metrics"`
			} `json:"list"`
		} `json:"data"`
	}
	if err := a.client.getJSON(ctx, ShortVideoAds, "fetch insights", a.apiURL+"/report/integrated/get/?"+query.Encode(), header, &out); err != nil {
		return nil, err
	}
	if err := a.envelopeError("fetch insights", out.tiktokEnvelope); err != nil {
		return nil, err
	}

	insights := make([]Insight, 0, len(out.Data.List))
	for _, row := range out.Data.List {
		date, err := time.Parse("2006-01-02 15:04:05", row.Dimensions.StatTimeDay)
		if err != nil {
			if date, err = time.Parse(time.DateOnly, row.Dimensions.StatTimeDay); err != nil {
				continue
			}
		}
		conversions := parseRatio(row.Metrics.Conversion)
		insights = append(insights, Insight{
			Date:        date,
			Impressions: parseCount(row.Metrics.Impressions),
			Clicks:      parseCount(row.Metrics.Clicks),
			CostMicros:  parseCurrencyMicros(row.Metrics.Spend),
			CTR:         parseRatio(row.Metrics.CTR),
			AverageCPC:  parseRatio(row.Metrics.CPC),
			Conversions: conversions,
		})
	}
	return insights, nil
}

func (a *TikTokAdapter) envelopeError(op string, envelope tiktokEnvelope) error {
	switch envelope.Code {
	case tiktokCodeOK:
		return nil
	case tiktokCodeAuthExpired, tiktokCodeTokenInvalid:
		return fmt.Errorf("%s: %s: %w", ShortVideoAds, op, ErrAuthExpired)
	default:
		return fmt.Errorf("%s: %s: vendor code %d: %s", ShortVideoAds, op, envelope.Code, envelope.Message)
	}
}

func (a *TikTokAdapter) SupportsWebhooks() bool { return true }

// WebhookSecret returns the app secret TikTok signs event pushes with.
func (a *TikTokAdapter) WebhookSecret(cfg Config) string {
	tt, err := a.config(cfg)
	if err != nil {
		return ""
	}
	return tt.AppSecret
}

// ValidateWebhookSignature checks the hex HMAC header TikTok sends.
func (a *TikTokAdapter) ValidateWebhookSignature(payload []byte, signature, secret string) bool {
	if secret == "" {
		return false
	}
	return equalSignatures(strings.ToLower(strings.TrimSpace(signature)), hmacSHA256Hex(payload, secret))
}
