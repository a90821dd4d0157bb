package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"portero.org/internal/auth"
)

// SaveChallenge replaces the outstanding challenge of the identity.
func (s *Store) SaveChallenge(ctx context.Context, ch auth.MFAChallenge) error {
	_, err := s.db.ExecContext(ctx, `
		insert into mfa_challenges(identity_id, code_hash, issued_at, expires_at, consumed)
		values ($1,$2,$3,$4,$5)
		on conflict (identity_id) do update
		set code_hash = excluded.code_hash,
			issued_at = excluded.issued_at,
			expires_at = excluded.expires_at,
			consumed = excluded.consumed
	`, ch.IdentityID, ch.CodeHash, ch.IssuedAt, ch.ExpiresAt, ch.Consumed)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return notFound("identity", ch.IdentityID)
	}
	return err
}

func (s *Store) GetChallenge(ctx context.Context, identityID string) (auth.MFAChallenge, error) {
	var ch auth.MFAChallenge
	err := s.db.QueryRowContext(ctx, `
		select identity_id, code_hash, issued_at, expires_at, consumed
		from mfa_challenges where identity_id = $1
	`, identityID).Scan(&ch.IdentityID, &ch.CodeHash, &ch.IssuedAt, &ch.ExpiresAt, &ch.Consumed)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.MFAChallenge{}, notFound("mfa challenge", identityID)
	}
	return ch, err
}

// ConsumeChallenge flips the consumed flag only for the challenge issued at
// issuedAt, so a replaced or already used code cannot be consumed twice.
func (s *Store) ConsumeChallenge(ctx context.Context, identityID string, issuedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update mfa_challenges set consumed = true
		where identity_id = $1 and issued_at = $2 and not consumed
	`, identityID, issuedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
