package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	facebookDialogURL = "https://www.facebook.com/v19.0/dialog/oauth"
	facebookGraphURL  = "https://graph.facebook.com/v19.0"
	facebookScope     = "ads_read"

	// FacebookSignatureHeader carries the Graph webhook payload signature.
	FacebookSignatureHeader = "X-Hub-Signature-256"
)

// FacebookAdapter integrates the Facebook Marketing API (social-ads).
type FacebookAdapter struct {
	client    *Client
	dialogURL string
	graphURL  string
}

// NewFacebookAdapter constructs the social-ads adapter.
func NewFacebookAdapter(client *Client) *FacebookAdapter {
	return &FacebookAdapter{client: client, dialogURL: facebookDialogURL, graphURL: facebookGraphURL}
}

var _ Adapter = (*FacebookAdapter)(nil)

func (a *FacebookAdapter) Platform() Platform { return SocialAds }

func (a *FacebookAdapter) config(cfg Config) (FacebookConfig, error) {
	fb, ok := cfg.(FacebookConfig)
	if !ok {
		return FacebookConfig{}, fmt.Errorf("%w: expected social-ads config, got %s", ErrUnsupportedPlatform, cfg.Platform())
	}
	return fb, nil
}

// ValidateCredentials probes the token against the /me endpoint.
func (a *FacebookAdapter) ValidateCredentials(ctx context.Context, cfg Config) (bool, error) {
	fb, err := a.config(cfg)
	if err != nil {
		return false, err
	}

	probe := fmt.Sprintf("%s/me?access_token=%s", a.graphURL, url.QueryEscape(fb.AccessToken))
	var out struct {
		ID string `json:"id"`
	}
	if err := a.client.getJSON(ctx, SocialAds, "validate credentials", probe, nil, &out); err != nil {
		if _, ok := asRejection(err); ok {
			return false, nil
		}
		return false, err
	}
	return out.ID != "", nil
}

// AuthorizationURL builds the Facebook login dialog URL.
func (a *FacebookAdapter) AuthorizationURL(clientID, redirectURI, state string) (string, error) {
	query := url.Values{}
	query.Set("client_id", clientID)
	query.Set("redirect_uri", redirectURI)
	query.Set("state", state)
	query.Set("scope", facebookScope)
	query.Set("response_type", "code")
	return a.dialogURL + "?" + query.Encode(), nil
}

// ExchangeCode trades the dialog code for a user access token. Facebook does
// not issue refresh tokens; token extension happens via fb_exchange_token.
func (a *FacebookAdapter) ExchangeCode(ctx context.Context, code string, app AppCredentials, redirectURI string) (TokenSet, error) {
	query := url.Values{}
	query.Set("client_id", app.ClientID)
	query.Set("client_secret", app.ClientSecret)
	query.Set("redirect_uri", redirectURI)
	query.Set("code", code)

	var out facebookTokenResponse
	err := a.client.getJSON(ctx, SocialAds, "exchange code", a.graphURL+"/oauth/access_token?"+query.Encode(), nil, &out)
	if err != nil {
		if status, ok := asRejection(err); ok {
			return TokenSet{}, &OAuthExchangeError{Platform: SocialAds, Reason: status.Body}
		}
		return TokenSet{}, err
	}
	return out.tokenSet(), nil
}

// RefreshToken exchanges the current token for a fresh long-lived one.
func (a *FacebookAdapter) RefreshToken(ctx context.Context, cfg Config) (TokenSet, error) {
	fb, err := a.config(cfg)
	if err != nil {
		return TokenSet{}, err
	}

	query := url.Values{}
	query.Set("grant_type", "fb_exchange_token")
	query.Set("client_id", fb.AppID)
	query.Set("client_secret", fb.AppSecret)
	query.Set("fb_exchange_token", fb.AccessToken)

	var out facebookTokenResponse
	err = a.client.getJSON(ctx, SocialAds, "refresh token", a.graphURL+"/oauth/access_token?"+query.Encode(), nil, &out)
	if err != nil {
		if status, ok := asRejection(err); ok {
			return TokenSet{}, &TokenExpiredError{Platform: SocialAds, Reason: status.Body}
		}
		return TokenSet{}, err
	}
	return out.tokenSet(), nil
}

// FetchCampaigns lists the ad account's campaigns.
func (a *FacebookAdapter) FetchCampaigns(ctx context.Context, cfg Config, dateRange *DateRange) ([]Campaign, error) {
	fb, err := a.config(cfg)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("fields", "id,name,status,objective,start_time,stop_time")
	query.Set("access_token", fb.AccessToken)
	endpoint := fmt.Sprintf("%s/act_%s/campaigns?%s", a.graphURL, url.PathEscape(fb.AccountID), query.Encode())

	var out struct {
		Data []struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			Status    string `json:"status"`
			Objective string `json:"objective"`
			StartTime string `json:"start_time"`
			StopTime  string `json:"stop_time"`
		} `json:"data"`
	}
	if err := a.fetch(ctx, "fetch campaigns", endpoint, &out); err != nil {
		return nil, err
	}

	campaigns := make([]Campaign, 0, len(out.Data))
	for _, row := range out.Data {
		campaigns = append(campaigns, Campaign{
			ID:        row.ID,
			Name:      row.Name,
			Status:    row.Status,
			Channel:   row.Objective,
			StartDate: row.StartTime,
			EndDate:   row.StopTime,
		})
	}
	return campaigns, nil
}

// FetchInsights pulls daily account insights and flattens them into the
// normalized schema. Facebook reports spend in currency units, converted here
// to micros; conversion metrics are not requested and stay absent.
func (a *FacebookAdapter) FetchInsights(ctx context.Context, cfg Config, dateRange *DateRange) ([]Insight, error) {
	fb, err := a.config(cfg)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("fields", "impressions,clicks,spend,ctr,cpc")
	query.Set("time_increment", "1")
	query.Set("access_token", fb.AccessToken)
	if dateRange != nil {
		query.Set("time_range", fmt.Sprintf(`{"since":"%s","until":"%s"}`,
			dateRange.Start.Format(time.DateOnly), dateRange.End.Format(time.DateOnly)))
	}
	endpoint := fmt.Sprintf("%s/act_%s/insights?%s", a.graphURL, url.PathEscape(fb.AccountID), query.Encode())

	var out struct {
		Data []struct {
			Impressions string `json:"impressions"`
			Clicks      string `json:"clicks"`
			Spend       string `json:"spend"`
			CTR         string `json:"ctr"`
			CPC         string `json:"cpc"`
			DateStart   string `json:"date_start"`
		} `json:"data"`
	}
	if err := a.fetch(ctx, "fetch insights", endpoint, &out); err != nil {
		return nil, err
	}

	insights := make([]Insight, 0, len(out.Data))
	for _, row := range out.Data {
		date, err := time.Parse(time.DateOnly, row.DateStart)
		if err != nil {
			continue
		}
		insights = append(insights, Insight{
			Date:        date,
			Impressions: parseCount(row.Impressions),
			Clicks:      parseCount(row.Clicks),
			CostMicros:  parseCurrencyMicros(row.Spend),
			CTR:         parseRatio(row.CTR),
			AverageCPC:  parseRatio(row.CPC),
		})
	}
	return insights, nil
}

func (a *FacebookAdapter) fetch(ctx context.Context, op, endpoint string, out any) error {
	err := a.client.getJSON(ctx, SocialAds, op, endpoint, nil, out)
	if err == nil {
		return nil
	}
	if status, ok := asRejection(err); ok && (status.Status == http.StatusUnauthorized || isFacebookAuthError(status)) {
		return fmt.Errorf("%s: %s: %w", SocialAds, op, ErrAuthExpired)
	}
	return err
}

// Graph returns 400 with an OAuthException body for expired tokens.
func isFacebookAuthError(status *statusError) bool {
	return status.Status == http.StatusBadRequest && strings.Contains(status.Body, "OAuthException")
}

func (a *FacebookAdapter) SupportsWebhooks() bool { return true }

// WebhookSecret returns the app secret used for X-Hub-Signature-256.
func (a *FacebookAdapter) WebhookSecret(cfg Config) string {
	fb, err := a.config(cfg)
	if err != nil {
		return ""
	}
	return fb.AppSecret
}

// ValidateWebhookSignature checks the sha256= HMAC header Facebook sends.
func (a *FacebookAdapter) ValidateWebhookSignature(payload []byte, signature, secret string) bool {
	if secret == "" {
		return false
	}
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	return equalSignatures(signature, hmacSHA256Hex(payload, secret))
}

type facebookTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (r facebookTokenResponse) tokenSet() TokenSet {
	set := TokenSet{AccessToken: r.AccessToken}
	if r.ExpiresIn > 0 {
		set.Expiry = time.Now().Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	return set
}

func parseCount(value string) *int64 {
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil
	}
	return &parsed
}

func parseRatio(value string) *float64 {
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil
	}
	return &parsed
}

func parseCurrencyMicros(value string) *int64 {
	ratio := parseRatio(value)
	if ratio == nil {
		return nil
	}
	micros := int64(*ratio * 1_000_000)
	return &micros
}
