package platform

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestAuthorizationURLEmbedsStateUnmodified(t *testing.T) {
	t.Parallel()

	const state = "state-Txq_9=weird&value"
	registry := NewRegistry(NewClient(0))

	for _, p := range []Platform{SocialAds, SearchAds, Messaging, ShortVideoAds} {
		adapter, err := registry.Adapter(p)
		if err != nil {
			t.Fatalf("resolve %s: %v", p, err)
		}
		rawURL, err := adapter.AuthorizationURL("client-1", "https://app.example.com/cb", state)
		if err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		parsed, err := url.Parse(rawURL)
		if err != nil {
			t.Fatalf("%s: parse %q: %v", p, rawURL, err)
		}
		if got := parsed.Query().Get("state"); got != state {
			t.Fatalf("%s: state altered: got %q", p, got)
		}
	}
}

func TestShopeeAuthorizationURLCarriesStateOnRedirect(t *testing.T) {
	t.Parallel()

	adapter := NewShopeeAdapter(NewClient(0))
	rawURL, err := adapter.AuthorizationURL("840044", "https://app.example.com/cb", "st-123")
	if err != nil {
		t.Fatalf("authorization url: %v", err)
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	redirect, err := url.Parse(parsed.Query().Get("redirect"))
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	if got := redirect.Query().Get("state"); got != "st-123" {
		t.Fatalf("state not carried on redirect: got %q", got)
	}
}

func TestAuthorizationURLIsDeterministic(t *testing.T) {
	t.Parallel()

	adapter := NewGoogleAdsAdapter(NewClient(0))
	first, _ := adapter.AuthorizationURL("c", "https://cb", "s")
	second, _ := adapter.AuthorizationURL("c", "https://cb", "s")
	if first != second {
		t.Fatalf("authorization url not deterministic:\n%s\n%s", first, second)
	}
}

func TestWebhookSignatureValidation(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"events":[{"type":"message"}]}`)
	const secret = "signing-secret"

	cases := []struct {
		name      string
		adapter   Adapter
		signature string
	}{
		{"facebook hex with prefix", NewFacebookAdapter(NewClient(0)), "sha256=" + hmacSHA256Hex(payload, secret)},
		{"line base64", NewLineAdapter(NewClient(0)), hmacSHA256Base64(payload, secret)},
		{"tiktok hex", NewTikTokAdapter(NewClient(0)), hmacSHA256Hex(payload, secret)},
		{"shopee hex", NewShopeeAdapter(NewClient(0)), hmacSHA256Hex(payload, secret)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if !tc.adapter.ValidateWebhookSignature(payload, tc.signature, secret) {
				t.Fatal("valid signature rejected")
			}
			if tc.adapter.ValidateWebhookSignature(payload, tc.signature, "other-secret") {
				t.Fatal("signature accepted with wrong secret")
			}
			if tc.adapter.ValidateWebhookSignature(append(payload, '!'), tc.signature, secret) {
				t.Fatal("signature accepted for tampered payload")
			}
			if tc.adapter.ValidateWebhookSignature(payload, tc.signature, "") {
				t.Fatal("signature accepted with empty secret")
			}
			// Repeated calls must agree: validation is pure.
			first := tc.adapter.ValidateWebhookSignature(payload, tc.signature, secret)
			second := tc.adapter.ValidateWebhookSignature(payload, tc.signature, secret)
			if first != second {
				t.Fatal("signature validation not deterministic")
			}
		})
	}
}

func TestGoogleAdsSearchAdsHasNoWebhookTrust(t *testing.T) {
	t.Parallel()

	adapter := NewGoogleAdsAdapter(NewClient(0))
	if adapter.SupportsWebhooks() {
		t.Fatal("search-ads must not claim webhook support")
	}
	if adapter.ValidateWebhookSignature([]byte("x"), "sig", "secret") {
		t.Fatal("missing validator must never validate")
	}
}

func TestGoogleAdsExchangeCodeMapsProviderRejection(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	t.Cleanup(server.Close)

	adapter := NewGoogleAdsAdapter(NewClient(0))
	adapter.tokenURL = server.URL

	_, err := adapter.ExchangeCode(context.Background(), "used-code", AppCredentials{ClientID: "c", ClientSecret: "s"}, "https://cb")
	var exchange *OAuthExchangeError
	if !errors.As(err, &exchange) {
		t.Fatalf("expected OAuthExchangeError, got %v", err)
	}
}

func TestGoogleAdsRefreshDeadTokenRequiresReauth(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	t.Cleanup(server.Close)

	adapter := NewGoogleAdsAdapter(NewClient(0))
	adapter.tokenURL = server.URL

	cfg := GoogleAdsConfig{
		ClientID: "c", ClientSecret: "s", RefreshToken: "dead",
		DeveloperToken: "dev", CustomerID: "123",
	}
	_, err := adapter.RefreshToken(context.Background(), cfg)
	if !IsReauthRequired(err) {
		t.Fatalf("expected reauthorization-required error, got %v", err)
	}
}

func TestGoogleAdsRefreshKeepsStableRefreshToken(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("unexpected grant type %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh","expires_in":3600,"token_type":"Bearer"}`))
	}))
	t.Cleanup(server.Close)

	adapter := NewGoogleAdsAdapter(NewClient(0))
	adapter.tokenURL = server.URL

	cfg := GoogleAdsConfig{
		ClientID: "c", ClientSecret: "s", RefreshToken: "stable-refresh",
		DeveloperToken: "dev", CustomerID: "123",
	}
	set, err := adapter.RefreshToken(context.Background(), cfg)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if set.AccessToken != "fresh" {
		t.Fatalf("unexpected access token %q", set.AccessToken)
	}
	if set.RefreshToken != "stable-refresh" {
		t.Fatalf("refresh token must stay stable, got %q", set.RefreshToken)
	}
	if set.Expiry.IsZero() {
		t.Fatal("expiry not set")
	}
}

func TestTikTokEnvelopeAuthCodesMapToAuthExpired(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":40105,"message":"access token expired"}`))
	}))
	t.Cleanup(server.Close)

	adapter := NewTikTokAdapter(NewClient(0))
	adapter.apiURL = server.URL

	cfg := TikTokConfig{AppID: "app", AppSecret: "sec", AccessToken: "tok", AdvertiserID: "adv"}
	_, err := adapter.FetchCampaigns(context.Background(), cfg, nil)
	if !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
}

func TestFacebookFetchMapsOAuthExceptionToAuthExpired(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"type":"OAuthException","message":"expired"}}`, http.StatusBadRequest)
	}))
	t.Cleanup(server.Close)

	adapter := NewFacebookAdapter(NewClient(0))
	adapter.graphURL = server.URL

	cfg := FacebookConfig{AccessToken: "tok", AccountID: "42", AppID: "app", AppSecret: "sec"}
	_, err := adapter.FetchInsights(context.Background(), cfg, nil)
	if !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
}

func TestClientRetriesOnceOnServerError(t *testing.T) {
	t.Parallel()

	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "flaky", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"me-1"}`))
	}))
	t.Cleanup(server.Close)

	adapter := NewFacebookAdapter(NewClient(0))
	adapter.graphURL = server.URL

	cfg := FacebookConfig{AccessToken: "tok", AccountID: "42", AppID: "app", AppSecret: "sec"}
	ok, err := adapter.ValidateCredentials(context.Background(), cfg)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !ok {
		t.Fatal("expected credentials to validate after retry")
	}
	if calls != 2 {
		t.Fatalf("expected exactly one retry, saw %d calls", calls)
	}
}

func TestClientSurfacesTransportErrorAfterRetry(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	adapter := NewLineAdapter(NewClient(0))
	adapter.apiURL = server.URL

	cfg := LineConfig{ChannelID: "ch", ChannelSecret: "cs", AccessToken: "tok"}
	_, err := adapter.ValidateCredentials(context.Background(), cfg)
	if !IsTransient(err) {
		t.Fatalf("expected transient transport error, got %v", err)
	}
}

func TestSplitShopeeCode(t *testing.T) {
	t.Parallel()

	code, shopID := splitShopeeCode("abc123:22001")
	if code != "abc123" || shopID != 22001 {
		t.Fatalf("unexpected split: %q %d", code, shopID)
	}
	code, shopID = splitShopeeCode("plain-code")
	if code != "plain-code" || shopID != 0 {
		t.Fatalf("unexpected split: %q %d", code, shopID)
	}
}

func TestLineInsightDays(t *testing.T) {
	t.Parallel()

	start, _ := time.Parse(time.DateOnly, "2026-03-01")
	end, _ := time.Parse(time.DateOnly, "2026-03-03")
	days := insightDays(&DateRange{Start: start, End: end})
	if len(days) != 3 {
		t.Fatalf("expected 3 days, got %d", len(days))
	}
	if !strings.HasPrefix(days[0].Format("2006-01-02"), "2026-03-01") {
		t.Fatalf("unexpected first day %v", days[0])
	}

	days = insightDays(&DateRange{Start: end, End: start})
	if len(days) != 0 {
		t.Fatalf("inverted range must yield no days, got %d", len(days))
	}
}
