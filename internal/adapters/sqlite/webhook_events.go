package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/admesh/admesh/internal/platform"
	"github.com/admesh/admesh/internal/ports"
)

type webhookEventRow struct {
	ID         string    `db:"id"`
	TenantID   string    `db:"tenant_id"`
	Platform   string    `db:"platform"`
	Payload    []byte    `db:"payload"`
	Signature  string    `db:"signature"`
	Status     string    `db:"status"`
	Detail     string    `db:"detail"`
	ReceivedAt time.Time `db:"received_at"`
}

// AppendWebhookEvent persists one raw delivery. Re-delivery of an id already
// stored is a no-op so vendor retries stay idempotent.
func (s *Store) AppendWebhookEvent(ctx context.Context, event ports.WebhookEvent) error {
	ctx, done := s.db.Track(ctx, "AppendWebhookEvent", "exec")
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (id, tenant_id, platform, payload, signature, status, detail, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		event.ID, event.TenantID, event.Platform.String(), event.Payload,
		event.Signature, event.Status, event.Detail, event.ReceivedAt.UTC())
	done(err)
	return err
}

// SetWebhookEventStatus records a lifecycle transition on a stored event.
func (s *Store) SetWebhookEventStatus(ctx context.Context, id, status, detail string) error {
	ctx, done := s.db.Track(ctx, "SetWebhookEventStatus", "exec")
	result, err := s.db.ExecContext(ctx,
		`UPDATE webhook_events SET status = ?, detail = ? WHERE id = ?`, status, detail, id)
	done(err)
	return rowsAffectedErr(result, err)
}

// ListWebhookEvents returns the tenant's most recent events, newest first.
func (s *Store) ListWebhookEvents(ctx context.Context, tenantID string, limit int) ([]ports.WebhookEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, done := s.db.Track(ctx, "ListWebhookEvents", "query")
	var rows []webhookEventRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM webhook_events WHERE tenant_id = ? ORDER BY received_at DESC, id DESC LIMIT ?`,
		tenantID, limit)
	done(err)
	if err != nil {
		return nil, err
	}

	out := make([]ports.WebhookEvent, 0, len(rows))
	for _, row := range rows {
		p, err := platform.Parse(row.Platform)
		if err != nil {
			return nil, fmt.Errorf("stored webhook event %s: %w", row.ID, err)
		}
		out = append(out, ports.WebhookEvent{
			ID:         row.ID,
			TenantID:   row.TenantID,
			Platform:   p,
			Payload:    row.Payload,
			Signature:  row.Signature,
			Status:     row.Status,
			Detail:     row.Detail,
			ReceivedAt: row.ReceivedAt,
		})
	}
	return out, nil
}
