package platform

import (
	"errors"
	"testing"
)

func TestParseAcceptsEverySupportedPlatform(t *testing.T) {
	t.Parallel()

	for _, p := range All() {
		parsed, err := Parse(p.String())
		if err != nil {
			t.Fatalf("parse %q: %v", p, err)
		}
		if parsed != p {
			t.Fatalf("parse %q: got %q", p, parsed)
		}
	}
}

func TestParseRejectsUnknownPlatform(t *testing.T) {
	t.Parallel()

	if _, err := Parse("carrier-pigeon"); !errors.Is(err, ErrUnsupportedPlatform) {
		t.Fatalf("expected ErrUnsupportedPlatform, got %v", err)
	}
}

func TestDecodeConfigSelectsTypedVariant(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"channelId":"ch-1","channelSecret":"sec-1","accessToken":"tok-1"}`)
	cfg, err := DecodeConfig(Messaging, raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	line, ok := cfg.(LineConfig)
	if !ok {
		t.Fatalf("expected LineConfig, got %T", cfg)
	}
	if line.ChannelSecret != "sec-1" {
		t.Fatalf("unexpected channel secret: %q", line.ChannelSecret)
	}
}

func TestDecodeConfigRejectsMissingRequiredFields(t *testing.T) {
	t.Parallel()

	if _, err := DecodeConfig(SearchAds, []byte(`{"clientId":"id-only"}`)); err == nil {
		t.Fatal("expected validation error for incomplete config")
	}
}

func TestDecodeConfigRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"accessToken":"t","accountId":"a","appId":"i","appSecret":"s","surprise":true}`)
	if _, err := DecodeConfig(SocialAds, raw); err == nil {
		t.Fatal("expected unknown-field rejection")
	}
}

func TestDecodeConfigRoundTripsThroughEncode(t *testing.T) {
	t.Parallel()

	original := ShopeeConfig{
		PartnerID:    840044,
		PartnerKey:   "partner-key",
		ShopID:       22001,
		AccessToken:  "tok",
		RefreshToken: "ref",
	}
	raw, err := EncodeConfig(original)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeConfig(Marketplace, raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.(ShopeeConfig) != original {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestRegistryResolvesEveryPlatform(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(NewClient(0))
	for _, p := range All() {
		adapter, err := registry.Adapter(p)
		if err != nil {
			t.Fatalf("resolve %s: %v", p, err)
		}
		if adapter.Platform() != p {
			t.Fatalf("adapter for %s reports %s", p, adapter.Platform())
		}
	}
	if _, err := registry.Adapter(Platform("bogus")); !errors.Is(err, ErrUnsupportedPlatform) {
		t.Fatalf("expected ErrUnsupportedPlatform, got %v", err)
	}
}
