package platform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is one platform's per-tenant credential configuration. The concrete
// shape is selected by the platform tag; no untyped blobs cross the registry
// boundary.
type Config interface {
	Platform() Platform
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// FacebookConfig holds Facebook Marketing API credentials.
type FacebookConfig struct {
	AccessToken string    `json:"accessToken" validate:"required"`
	AccountID   string    `json:"accountId" validate:"required"`
	AppID       string    `json:"appId" validate:"required"`
	AppSecret   string    `json:"appSecret" validate:"required"`
	Expiry      time.Time `json:"expiry,omitzero"`
}

func (FacebookConfig) Platform() Platform { return SocialAds }

// GoogleAdsConfig holds Google Ads API credentials.
type GoogleAdsConfig struct {
	ClientID       string    `json:"clientId" validate:"required"`
	ClientSecret   string    `json:"clientSecret" validate:"required"`
	RefreshToken   string    `json:"refreshToken" validate:"required"`
	DeveloperToken string    `json:"developerToken" validate:"required"`
	CustomerID     string    `json:"customerId" validate:"required"`
	AccessToken    string    `json:"accessToken,omitempty"`
	Expiry         time.Time `json:"expiry,omitzero"`
}

func (GoogleAdsConfig) Platform() Platform { return SearchAds }

// LineConfig holds LINE Messaging API credentials. ChannelSecret doubles as
// the webhook signing secret.
type LineConfig struct {
	ChannelID     string    `json:"channelId" validate:"required"`
	ChannelSecret string    `json:"channelSecret" validate:"required"`
	AccessToken   string    `json:"accessToken" validate:"required"`
	Expiry        time.Time `json:"expiry,omitzero"`
}

func (LineConfig) Platform() Platform { return Messaging }

// TikTokConfig holds TikTok Business API credentials.
type TikTokConfig struct {
	AppID        string    `json:"appId" validate:"required"`
	AppSecret    string    `json:"appSecret" validate:"required"`
	AccessToken  string    `json:"accessToken" validate:"required"`
	AdvertiserID string    `json:"advertiserId,omitempty"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	Expiry       time.Time `json:"expiry,omitzero"`
}

func (TikTokConfig) Platform() Platform { return ShortVideoAds }

// ShopeeConfig holds Shopee Open Platform credentials. PartnerKey doubles as
// the webhook signing secret.
type ShopeeConfig struct {
	PartnerID    int64     `json:"partnerId" validate:"required"`
	PartnerKey   string    `json:"partnerKey" validate:"required"`
	ShopID       int64     `json:"shopId" validate:"required"`
	AccessToken  string    `json:"accessToken" validate:"required"`
	RefreshToken string    `json:"refreshToken" validate:"required"`
	Expiry       time.Time `json:"expiry,omitzero"`
}

func (ShopeeConfig) Platform() Platform { return Marketplace }

// DecodeConfig unmarshals a raw credential blob into the typed variant for the
// platform and validates required fields.
func DecodeConfig(p Platform, raw []byte) (Config, error) {
	var cfg Config
	var err error
	switch p {
	case SocialAds:
		cfg, err = decodeInto[FacebookConfig](raw)
	case SearchAds:
		cfg, err = decodeInto[GoogleAdsConfig](raw)
	case Messaging:
		cfg, err = decodeInto[LineConfig](raw)
	case ShortVideoAds:
		cfg, err = decodeInto[TikTokConfig](raw)
	case Marketplace:
		cfg, err = decodeInto[ShopeeConfig](raw)
	default:
		return nil, ErrUnsupportedPlatform
	}
	if err != nil {
		return nil, fmt.Errorf("%s config: %w", p, err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%s config: %w", p, err)
	}
	return cfg, nil
}

// EncodeConfig serializes a typed config back into a storable blob.
func EncodeConfig(cfg Config) ([]byte, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s config: %w", cfg.Platform(), err)
	}
	return raw, nil
}

func decodeInto[T Config](raw []byte) (Config, error) {
	var cfg T
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
