package platform

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedPlatform indicates a platform name outside the closed set.
	// Hitting this at runtime means the integration registry is inconsistent.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	// ErrAuthExpired indicates a vendor call was rejected because the access
	// credential is no longer valid. The caller may attempt one token refresh.
	ErrAuthExpired = errors.New("authorization expired")
	// ErrNoWebhookValidator indicates the platform has no signature validator
	// configured. Ingestion treats this as a configuration error, not trust.
	ErrNoWebhookValidator = errors.New("no webhook validator configured")
)

// TransportError wraps a network-level failure talking to a vendor API.
// Transport failures are transient and eligible for retry with backoff.
type TransportError struct {
	Platform Platform
	Op       string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Platform, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// OAuthExchangeError indicates the provider rejected an authorization code
// exchange. Codes are single-use, so the flow must be restarted, never retried.
type OAuthExchangeError struct {
	Platform Platform
	Reason   string
}

func (e *OAuthExchangeError) Error() string {
	return fmt.Sprintf("%s: oauth code exchange rejected: %s", e.Platform, e.Reason)
}

// TokenExpiredError indicates the stored refresh token is no longer valid.
// The integration requires re-authorization by the tenant; this is not a
// transient failure.
type TokenExpiredError struct {
	Platform Platform
	Reason   string
}

func (e *TokenExpiredError) Error() string {
	return fmt.Sprintf("%s: refresh token expired: %s", e.Platform, e.Reason)
}

// IsReauthRequired reports whether err means the integration can only be
// recovered by the tenant going through the authorization flow again.
func IsReauthRequired(err error) bool {
	var expired *TokenExpiredError
	return errors.As(err, &expired)
}

// IsTransient reports whether err is a retryable transport-level failure.
func IsTransient(err error) bool {
	var transport *TransportError
	return errors.As(err, &transport)
}
