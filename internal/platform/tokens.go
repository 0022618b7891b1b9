package platform

import "fmt"

// ApplyTokenSet folds a freshly issued token set into the typed config,
// keeping the existing refresh token when the provider did not rotate it.
func ApplyTokenSet(cfg Config, set TokenSet) (Config, error) {
	switch c := cfg.(type) {
	case FacebookConfig:
		c.AccessToken = set.AccessToken
		c.Expiry = set.Expiry
		return c, nil
	case GoogleAdsConfig:
		c.AccessToken = set.AccessToken
		if set.RefreshToken != "" {
			c.RefreshToken = set.RefreshToken
		}
		c.Expiry = set.Expiry
		return c, nil
	case LineConfig:
		c.AccessToken = set.AccessToken
		c.Expiry = set.Expiry
		return c, nil
	case TikTokConfig:
		c.AccessToken = set.AccessToken
		if set.RefreshToken != "" {
			c.RefreshToken = set.RefreshToken
		}
		c.Expiry = set.Expiry
		return c, nil
	case ShopeeConfig:
		c.AccessToken = set.AccessToken
		if set.RefreshToken != "" {
			c.RefreshToken = set.RefreshToken
		}
		c.Expiry = set.Expiry
		return c, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedPlatform, cfg)
	}
}
