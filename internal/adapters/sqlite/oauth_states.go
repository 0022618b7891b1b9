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

type oauthStateRow struct {
	Token       string    `db:"token"`
	TenantID    string    `db:"tenant_id"`
	Platform    string    `db:"platform"`
	RedirectURI string    `db:"redirect_uri"`
	ExpiresAt   time.Time `db:"expires_at"`
	CreatedAt   time.Time `db:"created_at"`
}

// PutOAuthState persists a fresh single-use authorization state token.
func (s *Store) PutOAuthState(ctx context.Context, state ports.OAuthState) error {
	ctx, done := s.db.Track(ctx, "PutOAuthState", "exec")
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_states (token, tenant_id, platform, redirect_uri, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		state.Token, state.TenantID, state.Platform.String(), state.RedirectURI, state.ExpiresAt.UTC())
	done(err)
	return err
}

// ConsumeOAuthState atomically removes and returns the state. A second consume
// of the same token, including a concurrent one, gets ErrNotFound.
func (s *Store) ConsumeOAuthState(ctx context.Context, token string) (ports.OAuthState, error) {
	ctx, done := s.db.Track(ctx, "ConsumeOAuthState", "exec")
	var row oauthStateRow
	err := s.db.GetContext(ctx, &row,
		`DELETE FROM oauth_states WHERE token = ? RETURNING *`, token)
	done(err)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.OAuthState{}, ports.ErrNotFound
	}
	if err != nil {
		return ports.OAuthState{}, err
	}

	p, err := platform.Parse(row.Platform)
	if err != nil {
		return ports.OAuthState{}, fmt.Errorf("stored oauth state: %w", err)
	}
	return ports.OAuthState{
		Token:       row.Token,
		TenantID:    row.TenantID,
		Platform:    p,
		RedirectURI: row.RedirectURI,
		ExpiresAt:   row.ExpiresAt,
		CreatedAt:   row.CreatedAt,
	}, nil
}

// DeleteExpiredOAuthStates removes abandoned tokens past their TTL.
func (s *Store) DeleteExpiredOAuthStates(ctx context.Context, now time.Time) (int64, error) {
	ctx, done := s.db.Track(ctx, "DeleteExpiredOAuthStates", "exec")
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM oauth_states WHERE expires_at < ?`, now.UTC())
	done(err)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
