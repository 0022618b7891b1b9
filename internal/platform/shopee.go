package platform

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	shopeePartnerURL = "https://partner.shopeemobile.com"
	shopeeAuthPath   = "/api/v2/shop/auth_partner"

	// ShopeeSignatureHeader carries the webhook push signature.
	ShopeeSignatureHeader = "Authorization"

	shopeeErrInvalidToken = "error_auth"
)

// ShopeeAdapter integrates the Shopee Open Platform (marketplace). Shopee has
// no ad campaigns here; completed orders are flattened into the insight feed
// as conversions and conversion value.
type ShopeeAdapter struct {
	client  *Client
	baseURL string
	now     func() time.Time
}

// NewShopeeAdapter constructs the marketplace adapter.
func NewShopeeAdapter(client *Client) *ShopeeAdapter {
	return &ShopeeAdapter{client: client, baseURL: shopeePartnerURL, now: time.Now}
}

var _ Adapter = (*ShopeeAdapter)(nil)

func (a *ShopeeAdapter) Platform() Platform { return Marketplace }

func (a *ShopeeAdapter) config(cfg Config) (ShopeeConfig, error) {
	sp, ok := cfg.(ShopeeConfig)
	if !ok {
		return ShopeeConfig{}, fmt.Errorf("%w: expected marketplace config, got %s", ErrUnsupportedPlatform, cfg.Platform())
	}
	return sp, nil
}

// signedURL builds a Shopee v2 API URL with the partner signature. The sign
// base is partner_id + path + timestamp + access_token + shop_id.
func (a *ShopeeAdapter) signedURL(sp ShopeeConfig, path string, extra url.Values) string {
	timestamp := strconv.FormatInt(a.now().Unix(), 10)
	partnerID := strconv.FormatInt(sp.PartnerID, 10)
	shopID := strconv.FormatInt(sp.ShopID, 10)
	base := partnerID + path + timestamp + sp.AccessToken + shopID
	sign := hmacSHA256Hex([]byte(base), sp.PartnerKey)

	query := url.Values{}
	query.Set("partner_id", partnerID)
	query.Set("timestamp", timestamp)
	query.Set("access_token", sp.AccessToken)
	query.Set("shop_id", shopID)
	query.Set("sign", sign)
	for key, values := range extra {
		for _, value := range values {
			query.Add(key, value)
		}
	}
	return a.baseURL + path + "?" + query.Encode()
}

type shopeeEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *ShopeeAdapter) envelopeError(op string, envelope shopeeEnvelope) error {
	switch {
	case envelope.Error == "":
		return nil
	case strings.HasPrefix(envelope.Error, shopeeErrInvalidToken):
		return fmt.Errorf("%s: %s: %w", Marketplace, op, ErrAuthExpired)
	default:
		return fmt.Errorf("%s: %s: vendor error %s: %s", Marketplace, op, envelope.Error, envelope.Message)
	}
}

// ValidateCredentials probes the token against the shop info endpoint.
func (a *ShopeeAdapter) ValidateCredentials(ctx context.Context, cfg Config) (bool, error) {
	sp, err := a.config(cfg)
	if err != nil {
		return false, err
	}

	var out shopeeEnvelope
	if err := a.client.getJSON(ctx, Marketplace, "validate credentials", a.signedURL(sp, "/api/v2/shop/get_shop_info", nil), nil, &out); err != nil {
		if IsTransient(err) {
			return false, err
		}
		return false, nil
	}
	return out.Error == "", nil
}

// AuthorizationURL builds the shop authorization URL. Shopee has no state
// parameter, so state rides on the redirect URI and round-trips through it.
func (a *ShopeeAdapter) AuthorizationURL(clientID, redirectURI, state string) (string, error) {
	redirect, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("%s: invalid redirect uri: %w", Marketplace, err)
	}
	redirectQuery := redirect.Query()
	redirectQuery.Set("state", state)
	redirect.RawQuery = redirectQuery.Encode()

	query := url.Values{}
	query.Set("partner_id", clientID)
	query.Set("redirect", redirect.String())
	return a.baseURL + shopeeAuthPath + "?" + query.Encode(), nil
}

// ExchangeCode trades the shop authorization code for token pair. The shop id
// arrives on the redirect alongside the code as "<code>:<shop_id>".
func (a *ShopeeAdapter) ExchangeCode(ctx context.Context, code string, app AppCredentials, redirectURI string) (TokenSet, error) {
	rawCode, shopID := splitShopeeCode(code)
	partnerID, err := strconv.ParseInt(app.ClientID, 10, 64)
	if err != nil {
		return TokenSet{}, &OAuthExchangeError{Platform: Marketplace, Reason: "partner id must be numeric"}
	}

	const path = "/api/v2/auth/token/get"
	timestamp := strconv.FormatInt(a.now().Unix(), 10)
	base := app.ClientID + path + timestamp
	sign := hmacSHA256Hex([]byte(base), app.ClientSecret)

	endpoint := fmt.Sprintf("%s%s?partner_id=%s&timestamp=%s&sign=%s", a.baseURL, path, app.ClientID, timestamp, sign)
	payload := map[string]any{
		"code":       rawCode,
		"partner_id": partnerID,
		"shop_id":    shopID,
	}

	var out struct {
		shopeeEnvelope
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpireIn     int64  `json:"expire_in"`
	}
	if err := a.client.postJSON(ctx, Marketplace, "exchange code", endpoint, payload, nil, &out); err != nil {
		if status, ok := asRejection(err); ok {
			return TokenSet{}, &OAuthExchangeError{Platform: Marketplace, Reason: status.Body}
		}
		return TokenSet{}, err
	}
	if out.Error != "" {
		return TokenSet{}, &OAuthExchangeError{Platform: Marketplace, Reason: out.Error + ": " + out.Message}
	}

	set := TokenSet{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken}
	if out.ExpireIn > 0 {
		set.Expiry = a.now().Add(time.Duration(out.ExpireIn) * time.Second)
	}
	return set, nil
}

// RefreshToken rotates the token pair. Shopee rotates the refresh token on
// every refresh, so the returned set must be persisted.
func (a *ShopeeAdapter) RefreshToken(ctx context.Context, cfg Config) (TokenSet, error) {
	sp, err := a.config(cfg)
	if err != nil {
		return TokenSet{}, err
	}

	const path = "/api/v2/auth/access_token/get"
	partnerID := strconv.FormatInt(sp.PartnerID, 10)
	timestamp := strconv.FormatInt(a.now().Unix(), 10)
	sign := hmacSHA256Hex([]byte(partnerID+path+timestamp), sp.PartnerKey)

	endpoint := fmt.Sprintf("%s%s?partner_id=%s&timestamp=%s&sign=%s", a.baseURL, path, partnerID, timestamp, sign)
	payload := map[string]any{
		"refresh_token": sp.RefreshToken,
		"partner_id":    sp.PartnerID,
		"shop_id":       sp.ShopID,
	}

	var out struct {
		shopeeEnvelope
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpireIn     int64  `json:"expire_in"`
	}
	if err := a.client.postJSON(ctx, Marketplace, "refresh token", endpoint, payload, nil, &out); err != nil {
		if status, ok := asRejection(err); ok {
			return TokenSet{}, &TokenExpiredError{Platform: Marketplace, Reason: status.Body}
		}
		return TokenSet{}, err
	}
	if out.Error != "" {
		return TokenSet{}, &TokenExpiredError{Platform: Marketplace, Reason: out.Error + ": " + out.Message}
	}

	set := TokenSet{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken}
	if out.ExpireIn > 0 {
		set.Expiry = a.now().Add(time.Duration(out.ExpireIn) * time.Second)
	}
	return set, nil
}

// FetchCampaigns returns an empty list: the marketplace feed carries no
// advertising campaigns.
func (a *ShopeeAdapter) FetchCampaigns(ctx context.Context, cfg Config, dateRange *DateRange) ([]Campaign, error) {
	if _, err := a.config(cfg); err != nil {
		return nil, err
	}
	return []Campaign{}, nil
}

// FetchInsights aggregates completed orders per day into conversions and
// conversion value. Ad metrics do not exist for a shop and stay absent.
func (a *ShopeeAdapter) FetchInsights(ctx context.Context, cfg Config, dateRange *DateRange) ([]Insight, error) {
	sp, err := a.config(cfg)
	if err != nil {
		return nil, err
	}

	end := a.now().UTC()
	start := end.AddDate(0, 0, -7)
	if dateRange != nil {
		start = dateRange.Start.UTC()
		end = dateRange.End.UTC().AddDate(0, 0, 1)
	}

	extra := url.Values{}
	extra.Set("time_range_field", "create_time")
	extra.Set("time_from", strconv.FormatInt(start.Unix(), 10))
	extra.Set("time_to", strconv.FormatInt(end.Unix(), 10))
	extra.Set("page_size", "100")
	extra.Set("order_status", "COMPLETED")
	extra.Set("response_optional_fields", "order_status,total_amount,create_time")

	var out struct {
		shopeeEnvelope
		Response struct {
			OrderList []struct {
				OrderSN     string  `json:"order_sn"`
				CreateTime  int64   `json:"create_time"`
				TotalAmount float64 `json:"total_amount"`
			} `json:"order_list"`
		} `json:"response"`
	}
	if err := a.client.getJSON(ctx, Marketplace, "fetch insights", a.signedURL(sp, "/api/v2/order/get_order_list", extra), nil, &out); err != nil {
		return nil, err
	}
	if err := a.envelopeError("fetch insights", out.shopeeEnvelope); err != nil {
		return nil, err
	}

	type dayTotals struct {
		orders int64
		value  float64
	}
	byDay := make(map[time.Time]*dayTotals)
	for _, order := range out.Response.OrderList {
		day := time.Unix(order.CreateTime, 0).UTC().Truncate(24 * time.Hour)
		totals, ok := byDay[day]
		if !ok {
			totals = &dayTotals{}
			byDay[day] = totals
		}
		totals.orders++
		totals.value += order.TotalAmount
	}

	days := make([]time.Time, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	insights := make([]Insight, 0, len(days))
	for _, day := range days {
		totals := byDay[day]
		conversions := float64(totals.orders)
		value := totals.value
		insights = append(insights, Insight{
			Date:            day,
			Conversions:     &conversions,
			ConversionValue: &value,
		})
	}
	return insights, nil
}

func (a *ShopeeAdapter) SupportsWebhooks() bool { return true }

// WebhookSecret returns the partner key Shopee signs pushes with.
func (a *ShopeeAdapter) WebhookSecret(cfg Config) string {
	sp, err := a.config(cfg)
	if err != nil {
		return ""
	}
	return sp.PartnerKey
}

// ValidateWebhookSignature checks the hex HMAC Shopee sends in the
// Authorization header.
func (a *ShopeeAdapter) ValidateWebhookSignature(payload []byte, signature, secret string) bool {
	if secret == "" {
		return false
	}
	return equalSignatures(strings.ToLower(strings.TrimSpace(signature)), hmacSHA256Hex(payload, secret))
}

// splitShopeeCode separates the authorization code from the shop id suffix.
func splitShopeeCode(code string) (string, int64) {
	raw, suffix, ok := strings.Cut(code, ":")
	if !ok {
		return code, 0
	}
	shopID, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil {
		return code, 0
	}
	return raw, shopID
}
