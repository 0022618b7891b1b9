package platform

import "fmt"

// Platform identifies one supported external advertising or commerce platform.
type Platform string

const (
	// SocialAds is the social network advertising platform (Facebook Marketing API).
	SocialAds Platform = "social-ads"
	// SearchAds is the search advertising platform (Google Ads API).
	SearchAds Platform = "search-ads"
	// Messaging is the messaging-bot platform (LINE Messaging API).
	Messaging Platform = "messaging"
	// ShortVideoAds is the short-video advertising platform (TikTok Business API).
	ShortVideoAds Platform = "short-video-ads"
	// Marketplace is the e-commerce marketplace platform (Shopee Open Platform).
	Marketplace Platform = "marketplace"
)

// All returns every supported platform in stable order.
func All() []Platform {
	return []Platform{SocialAds, SearchAds, Messaging, ShortVideoAds, Marketplace}
}

// Parse converts a wire name into a Platform.
func Parse(name string) (Platform, error) {
	switch Platform(name) {
	case SocialAds, SearchAds, Messaging, ShortVideoAds, Marketplace:
		return Platform(name), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedPlatform, name)
	}
}

func (p Platform) String() string {
	return string(p)
}
