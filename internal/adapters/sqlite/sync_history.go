package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/admesh/admesh/internal/platform"
	"github.com/admesh/admesh/internal/ports"
)

type syncHistoryRow struct {
	ID           int64     `db:"id"`
	TenantID     string    `db:"tenant_id"`
	Platform     string    `db:"platform"`
	Status       string    `db:"status"`
	CampaignRows int64     `db:"campaign_rows"`
	InsightRows  int64     `db:"insight_rows"`
	Error        string    `db:"error"`
	StartedAt    time.Time `db:"started_at"`
	FinishedAt   time.Time `db:"finished_at"`
}

// AppendSyncHistory stores one attempt record. The table is append-only.
func (s *Store) AppendSyncHistory(ctx context.Context, record ports.SyncHistory) error {
	ctx, done := s.db.Track(ctx, "AppendSyncHistory", "exec")
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_history (tenant_id, platform, status, campaign_rows, insight_rows, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.TenantID, record.Platform.String(), record.Status,
		record.CampaignRows, record.InsightRows, record.Error,
		record.StartedAt.UTC(), record.FinishedAt.UTC())
	done(err)
	return err
}

// ListSyncHistory returns the tenant's most recent attempts, newest first.
func (s *Store) ListSyncHistory(ctx context.Context, tenantID string, limit int) ([]ports.SyncHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, done := s.db.Track(ctx, "ListSyncHistory", "query")
	var rows []syncHistoryRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM sync_history WHERE tenant_id = ? ORDER BY started_at DESC, id DESC LIMIT ?`,
		tenantID, limit)
	done(err)
	if err != nil {
		return nil, err
	}

	out := make([]ports.SyncHistory, 0, len(rows))
	for _, row := range rows {
		p, err := platform.Parse(row.Platform)
		if err != nil {
			return nil, fmt.Errorf("stored sync history %d: %w", row.ID, err)
		}
		out = append(out, ports.SyncHistory{
			ID:           row.ID,
			TenantID:     row.TenantID,
			Platform:     p,
			Status:       row.Status,
			CampaignRows: int(row.CampaignRows),
			InsightRows:  int(row.InsightRows),
			Error:        row.Error,
			StartedAt:    row.StartedAt,
			FinishedAt:   row.FinishedAt,
		})
	}
	return out, nil
}
