package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"portero.org/internal/auth"
)

const identityColumns = `id, display_name, email, password_hash, role, active, last_login_at,
	failed_login_attempts, locked_until, password_changed_at, password_expired, mfa_enabled,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (auth.Identity, error) {
	var (
		i         auth.Identity
		lastLogin sql.NullTime
		locked    sql.NullTime
	)
	err := row.Scan(&i.ID, &i.DisplayName, &i.Email, &i.PasswordHash, &i.Role, &i.Active, &lastLogin,
		&i.FailedLoginAttempts, &locked, &i.PasswordChangedAt, &i.PasswordExpired, &i.MFAEnabled,
		&i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return auth.Identity{}, err
	}
	i.LastLoginAt = timePtr(lastLogin)
	i.LockedUntil = timePtr(locked)
	return i, nil
}

// CreateIdentity inserts the identity and seeds its password history.
func (s *Store) CreateIdentity(ctx context.Context, identity *auth.Identity) error {
	if identity == nil || identity.ID == "" || identity.PasswordHash == "" {
		return fmt.Errorf("%w: identity needs id and password hash", auth.ErrInvalidInput)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		insert into identities(id, display_name, email, password_hash, role, active,
			password_changed_at, password_expired, mfa_enabled, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, identity.ID, identity.DisplayName, strings.TrimSpace(identity.Email), identity.PasswordHash, identity.Role,
		identity.Active, identity.PasswordChangedAt, identity.PasswordExpired, identity.MFAEnabled,
		identity.CreatedAt, identity.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: email already registered", auth.ErrConflict)
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into password_history(identity_id, password_hash, changed_at) values ($1,$2,$3)
	`, identity.ID, identity.PasswordHash, identity.PasswordChangedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetIdentity(ctx context.Context, id string) (auth.Identity, error) {
	row := s.db.QueryRowContext(ctx, `select `+identityColumns+` from identities where id = $1`, id)
	identity, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Identity{}, notFound("identity", id)
	}
	return identity, err
}

func (s *Store) GetIdentityByEmail(ctx context.Context, email string) (auth.Identity, error) {
	row := s.db.QueryRowContext(ctx, `select `+identityColumns+` from identities where lower(email) = lower($1)`,
		strings.TrimSpace(email))
	identity, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Identity{}, notFound("identity", email)
	}
	return identity, err
}

func (s *Store) UpdateIdentity(ctx context.Context, id string, upd auth.IdentityUpdate) (auth.Identity, error) {
	row := s.db.QueryRowContext(ctx, `
		update identities set
			display_name = coalesce($2, display_name),
			role = coalesce($3, role),
			active = coalesce($4, active),
			mfa_enabled = coalesce($5, mfa_enabled),
			updated_at = now()
		where id = $1
		returning `+identityColumns,
		id, optString(upd.DisplayName), optString(upd.Role), optBool(upd.Active), optBool(upd.MFAEnabled))
	identity, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Identity{}, notFound("identity", id)
	}
	return identity, err
}

func (s *Store) CountIdentitiesWithRole(ctx context.Context, role string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from identities where role = $1`, role).Scan(&n)
	return n, err
}

// IncrementFailedAttempts runs as a single statement so concurrent failures
// each count once.
func (s *Store) IncrementFailedAttempts(ctx context.Context, id string, threshold int, lockedUntil, now time.Time) (int, *time.Time, error) {
	var (
		attempts int
		locked   sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		update identities set
			failed_login_attempts = failed_login_attempts + 1,
			locked_until = case
				when failed_login_attempts + 1 >= $2 and (locked_until is null or locked_until <= $4) then $3
				else locked_until
			end,
			updated_at = $4
		where id = $1
		returning failed_login_attempts, locked_until
	`, id, threshold, lockedUntil, now).Scan(&attempts, &locked)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, notFound("identity", id)
	}
	if err != nil {
		return 0, nil, err
	}
	return attempts, timePtr(locked), nil
}

func (s *Store) ResetFailedAttempts(ctx context.Context, id string, loginAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update identities set
			failed_login_attempts = 0,
			locked_until = null,
			last_login_at = coalesce($2, last_login_at),
			updated_at = now()
		where id = $1
	`, id, nullTime(loginAt))
	if err != nil {
		return err
	}
	return requireRow(res, "identity", id)
}

func (s *Store) SetPassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error {
	if passwordHash == "" {
		return fmt.Errorf("%w: empty password hash", auth.ErrInvalidInput)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update identities set
			password_hash = $2,
			password_changed_at = $3,
			password_expired = false,
			updated_at = $3
		where id = $1
	`, id, passwordHash, changedAt)
	if err != nil {
		return err
	}
	if err := requireRow(res, "identity", id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into password_history(identity_id, password_hash, changed_at) values ($1,$2,$3)
	`, id, passwordHash, changedAt); err != nil {
		return err
	}
	return tx.Commit()
}

// PasswordHistory returns the newest entries first.
func (s *Store) PasswordHistory(ctx context.Context, id string, limit int) ([]auth.PasswordHistoryEntry, error) {
	query := `select identity_id, password_hash, changed_at from password_history
		where identity_id = $1 order by changed_at desc, id desc`
	args := []any{id}
	if limit > 0 {
		query += ` limit $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []auth.PasswordHistoryEntry
	for rows.Next() {
		var e auth.PasswordHistoryEntry
		if err := rows.Scan(&e.IdentityID, &e.PasswordHash, &e.ChangedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) ListExpiryCandidates(ctx context.Context) ([]auth.Identity, error) {
	rows, err := s.db.QueryContext(ctx, `select `+identityColumns+` from identities
		where active and not password_expired order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []auth.Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, identity)
	}
	return out, rows.Err()
}

func (s *Store) MarkPasswordExpired(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update identities set password_expired = true, updated_at = now()
		where id = $1 and not password_expired
	`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(kind, id)
	}
	return nil
}

func optString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func optBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}
