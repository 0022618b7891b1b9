package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/admesh/admesh/internal/platform"
	"github.com/admesh/admesh/internal/ports"
)

type integrationRow struct {
	ID               int64      `db:"id"`
	TenantID         string     `db:"tenant_id"`
	Platform         string     `db:"platform"`
	Credentials      []byte     `db:"credentials"`
	Active           int64      `db:"active"`
	SyncFrequencySec int64      `db:"sync_frequency_seconds"`
	LastSyncAt       *time.Time `db:"last_sync_at"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

func (r integrationRow) toPort() (ports.Integration, error) {
	p, err := platform.Parse(r.Platform)
	if err != nil {
		return ports.Integration{}, fmt.Errorf("stored integration %d: %w", r.ID, err)
	}
	return ports.Integration{
		ID:            r.ID,
		TenantID:      r.TenantID,
		Platform:      p,
		Credentials:   r.Credentials,
		Active:        r.Active != 0,
		SyncFrequency: time.Duration(r.SyncFrequencySec) * time.Second,
		LastSyncAt:    r.LastSyncAt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}, nil
}

// GetIntegration fetches the single authoritative row for (tenant, platform).
func (s *Store) GetIntegration(ctx context.Context, tenantID string, p platform.Platform) (ports.Integration, error) {
	ctx, done := s.db.Track(ctx, "GetIntegration", "query")
	var row integrationRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM integrations WHERE tenant_id = ? AND platform = ?`, tenantID, p.String())
	done(err)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.Integration{}, ports.ErrNotFound
	}
	if err != nil {
		return ports.Integration{}, err
	}
	return row.toPort()
}

// ListActiveIntegrations returns the tenant's active integrations.
func (s *Store) ListActiveIntegrations(ctx context.Context, tenantID string) ([]ports.Integration, error) {
	ctx, done := s.db.Track(ctx, "ListActiveIntegrations", "query")
	var rows []integrationRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM integrations WHERE tenant_id = ? AND active = 1 ORDER BY platform`, tenantID)
	done(err)
	if err != nil {
		return nil, err
	}
	return toPorts(rows)
}

// ListActiveIntegrationsByPlatform returns every tenant's active integration
// for one platform. Webhook ingestion uses it to resolve the owning tenant
// when the delivery carries no tenant hint.
func (s *Store) ListActiveIntegrationsByPlatform(ctx context.Context, p platform.Platform) ([]ports.Integration, error) {
	ctx, done := s.db.Track(ctx, "ListActiveIntegrationsByPlatform", "query")
	var rows []integrationRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM integrations WHERE platform = ? AND active = 1 ORDER BY tenant_id`, p.String())
	done(err)
	if err != nil {
		return nil, err
	}
	return toPorts(rows)
}

// ListDueIntegrations returns active scheduled integrations whose frequency
// window has elapsed. The elapsed check happens here rather than in SQL so the
// comparison uses one clock.
func (s *Store) ListDueIntegrations(ctx context.Context, now time.Time) ([]ports.Integration, error) {
	ctx, done := s.db.Track(ctx, "ListDueIntegrations", "query")
	var rows []integrationRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM integrations WHERE active = 1 AND sync_frequency_seconds > 0 ORDER BY tenant_id, platform`)
	done(err)
	if err != nil {
		return nil, err
	}

	due := make([]ports.Integration, 0, len(rows))
	for _, row := range rows {
		integration, err := row.toPort()
		if err != nil {
			return nil, err
		}
		if integration.LastSyncAt != nil && now.Sub(*integration.LastSyncAt) < integration.SyncFrequency {
			continue
		}
		due = append(due, integration)
	}
	return due, nil
}

// UpsertIntegration creates or replaces the (tenant, platform) row in place.
func (s *Store) UpsertIntegration(ctx context.Context, input ports.UpsertIntegrationInput) (ports.Integration, error) {
	ctx, done := s.db.Track(ctx, "UpsertIntegration", "exec")
	active := int64(0)
	if input.Active {
		active = 1
	}
	var row integrationRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO integrations (tenant_id, platform, credentials, active, sync_frequency_seconds)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, platform) DO UPDATE SET
			credentials = excluded.credentials,
			active = excluded.active,
			sync_frequency_seconds = excluded.sync_frequency_seconds,
			updated_at = CURRENT_TIMESTAMP
		RETURNING *`,
		input.TenantID, input.Platform.String(), input.Credentials, active, int64(input.SyncFrequency/time.Second))
	done(err)
	if err != nil {
		return ports.Integration{}, err
	}
	return row.toPort()
}

// UpdateIntegrationCredentials replaces only the encrypted credential blob.
func (s *Store) UpdateIntegrationCredentials(ctx context.Context, tenantID string, p platform.Platform, credentials []byte) error {
	ctx, done := s.db.Track(ctx, "UpdateIntegrationCredentials", "exec")
	result, err := s.db.ExecContext(ctx,
		`UPDATE integrations SET credentials = ?, updated_at = CURRENT_TIMESTAMP WHERE tenant_id = ? AND platform = ?`,
		credentials, tenantID, p.String())
	done(err)
	return rowsAffectedErr(result, err)
}

// SetIntegrationActive flips the active flag without touching credentials.
func (s *Store) SetIntegrationActive(ctx context.Context, tenantID string, p platform.Platform, active bool) error {
	ctx, done := s.db.Track(ctx, "SetIntegrationActive", "exec")
	value := int64(0)
	if active {
		value = 1
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE integrations SET active = ?, updated_at = CURRENT_TIMESTAMP WHERE tenant_id = ? AND platform = ?`,
		value, tenantID, p.String())
	done(err)
	return rowsAffectedErr(result, err)
}

// TouchIntegrationSync stamps the last successful sync time.
func (s *Store) TouchIntegrationSync(ctx context.Context, tenantID string, p platform.Platform, at time.Time) error {
	ctx, done := s.db.Track(ctx, "TouchIntegrationSync", "exec")
	result, err := s.db.ExecContext(ctx,
		`UPDATE integrations SET last_sync_at = ? WHERE tenant_id = ? AND platform = ?`,
		at.UTC(), tenantID, p.String())
	done(err)
	return rowsAffectedErr(result, err)
}

// DeleteIntegration hard-deletes the row. Tombstoning goes through
// SetIntegrationActive instead.
func (s *Store) DeleteIntegration(ctx context.Context, tenantID string, p platform.Platform) error {
	ctx, done := s.db.Track(ctx, "DeleteIntegration", "exec")
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM integrations WHERE tenant_id = ? AND platform = ?`, tenantID, p.String())
	done(err)
	return rowsAffectedErr(result, err)
}

func toPorts(rows []integrationRow) ([]ports.Integration, error) {
	out := make([]ports.Integration, 0, len(rows))
	for _, row := range rows {
		integration, err := row.toPort()
		if err != nil {
			return nil, err
		}
		out = append(out, integration)
	}
	return out, nil
}

func rowsAffectedErr(result sql.Result, err error) error {
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ports.ErrNotFound
	}
	return nil
}
