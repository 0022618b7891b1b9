// Package integration is the encrypted registry of tenant platform
// credentials. It owns the (tenant, platform) key space: every read hands out
// a freshly decrypted config, every write re-encrypts, and read-modify-write
// sequences are serialized per key.
package integration

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/admesh/admesh/internal/platform"
	"github.com/admesh/admesh/internal/ports"
)

// Registry stores and retrieves tenant integrations with credentials
// encrypted at rest.
type Registry struct {
	store  ports.IntegrationStore
	cipher *blobCipher
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRegistry builds the registry. key is the 32-byte at-rest encryption key.
func NewRegistry(store ports.IntegrationStore, key []byte, logger *slog.Logger) (*Registry, error) {
	cipher, err := newBlobCipher(key)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  store,
		cipher: cipher,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// keyLock returns the mutex serializing writes for one (tenant, platform).
func (r *Registry) keyLock(tenantID string, p platform.Platform) *sync.Mutex {
	key := tenantID + "/" + p.String()
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[key] = lock
	}
	return lock
}

// UpsertInput carries one integration write. Config must already be the typed
// variant for Platform.
type UpsertInput struct {
	TenantID      string
	Platform      platform.Platform
	Config        platform.Config
	Active        bool
	SyncFrequency time.Duration
}

// Upsert validates, encrypts and persists the integration. A second upsert
// for the same (tenant, platform) replaces the stored row in place.
func (r *Registry) Upsert(ctx context.Context, input UpsertInput) (ports.Integration, error) {
	if input.Config.Platform() != input.Platform {
		return ports.Integration{}, fmt.Errorf("%w: config is for %s", platform.ErrUnsupportedPlatform, input.Config.Platform())
	}
	raw, err := platform.EncodeConfig(input.Config)
	if err != nil {
		return ports.Integration{}, err
	}
	// Round-trip through DecodeConfig so every write passes the same
	// validation as reads.
	if _, err := platform.DecodeConfig(input.Platform, raw); err != nil {
		return ports.Integration{}, err
	}
	blob, err := r.cipher.seal(raw)
	if err != nil {
		return ports.Integration{}, err
	}

	lock := r.keyLock(input.TenantID, input.Platform)
	lock.Lock()
	defer lock.Unlock()

	stored, err := r.store.UpsertIntegration(ctx, ports.UpsertIntegrationInput{
		TenantID:      input.TenantID,
		Platform:      input.Platform,
		Credentials:   blob,
		Active:        input.Active,
		SyncFrequency: input.SyncFrequency,
	})
	if err != nil {
		return ports.Integration{}, err
	}
	r.logger.InfoContext(ctx, "integration upserted",
		slog.String("tenant_id", input.TenantID),
		slog.String("platform", input.Platform.String()),
		slog.Bool("active", input.Active))
	return stored, nil
}

// Get returns the integration row and its decrypted typed config.
func (r *Registry) Get(ctx context.Context, tenantID string, p platform.Platform) (ports.Integration, platform.Config, error) {
	stored, err := r.store.GetIntegration(ctx, tenantID, p)
	if err != nil {
		return ports.Integration{}, nil, err
	}
	cfg, err := r.decode(stored)
	if err != nil {
		return ports.Integration{}, nil, err
	}
	return stored, cfg, nil
}

// ListActive returns the tenant's active integrations without decrypting.
func (r *Registry) ListActive(ctx context.Context, tenantID string) ([]ports.Integration, error) {
	return r.store.ListActiveIntegrations(ctx, tenantID)
}

// ListActiveByPlatform returns every tenant's active integration for one
// platform, without decrypting.
func (r *Registry) ListActiveByPlatform(ctx context.Context, p platform.Platform) ([]ports.Integration, error) {
	return r.store.ListActiveIntegrationsByPlatform(ctx, p)
}

// Config decrypts and decodes the credential blob of a loaded integration.
func (r *Registry) Config(stored ports.Integration) (platform.Config, error) {
	return r.decode(stored)
}

// UpdateConfig applies a read-modify-write on the stored config under the key
// lock. mutate receives the current decrypted config and returns the
// replacement to persist. Token rotation goes through here so a concurrent
// upsert cannot interleave.
func (r *Registry) UpdateConfig(ctx context.Context, tenantID string, p platform.Platform, mutate func(platform.Config) (platform.Config, error)) (platform.Config, error) {
	lock := r.keyLock(tenantID, p)
	lock.Lock()
	defer lock.Unlock()

	stored, err := r.store.GetIntegration(ctx, tenantID, p)
	if err != nil {
		return nil, err
	}
	current, err := r.decode(stored)
	if err != nil {
		return nil, err
	}
	next, err := mutate(current)
	if err != nil {
		return nil, err
	}
	if next.Platform() != p {
		return nil, fmt.Errorf("%w: mutated config is for %s", platform.ErrUnsupportedPlatform, next.Platform())
	}

	raw, err := platform.EncodeConfig(next)
	if err != nil {
		return nil, err
	}
	blob, err := r.cipher.seal(raw)
	if err != nil {
		return nil, err
	}
	if err := r.store.UpdateIntegrationCredentials(ctx, tenantID, p, blob); err != nil {
		return nil, err
	}
	return next, nil
}

// MarkInactive tombstones the integration. Credentials stay stored so the
// tenant can re-activate after re-authorization.
func (r *Registry) MarkInactive(ctx context.Context, tenantID string, p platform.Platform) error {
	lock := r.keyLock(tenantID, p)
	lock.Lock()
	defer lock.Unlock()

	if err := r.store.SetIntegrationActive(ctx, tenantID, p, false); err != nil {
		return err
	}
	r.logger.WarnContext(ctx, "integration deactivated",
		slog.String("tenant_id", tenantID),
		slog.String("platform", p.String()))
	return nil
}

// TouchSync stamps the integration's last successful sync time.
func (r *Registry) TouchSync(ctx context.Context, tenantID string, p platform.Platform, at time.Time) error {
	return r.store.TouchIntegrationSync(ctx, tenantID, p, at)
}

// Activate flips a tombstoned integration back to active, typically after a
// completed re-authorization.
func (r *Registry) Activate(ctx context.Context, tenantID string, p platform.Platform) error {
	lock := r.keyLock(tenantID, p)
	lock.Lock()
	defer lock.Unlock()

	return r.store.SetIntegrationActive(ctx, tenantID, p, true)
}

// Purge hard-deletes the integration and its credentials.
func (r *Registry) Purge(ctx context.Context, tenantID string, p platform.Platform) error {
	lock := r.keyLock(tenantID, p)
	lock.Lock()
	defer lock.Unlock()

	return r.store.DeleteIntegration(ctx, tenantID, p)
}

func (r *Registry) decode(stored ports.Integration) (platform.Config, error) {
	raw, err := r.cipher.open(stored.Credentials)
	if err != nil {
		return nil, fmt.Errorf("integration %s/%s: %w", stored.TenantID, stored.Platform, err)
	}
	return platform.DecodeConfig(stored.Platform, raw)
}
