// Package pg implements the identity stores on PostgreSQL via pgxpool.
package pg

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/gatehouse/internal/identity"
)

// Store wraps a pgx pool. Users() and Links() expose the store contracts.
type Store struct{ pool *pgxpool.Pool }

// Config tunes the pool. Zero values fall back to pgx defaults.
type Config struct {
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
}

func New(ctx context.Context, dsn string, cfg Config) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}
	if cfg.ConnMaxLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Users() identity.UserStore { return userStore{s.pool} }
func (s *Store) Links() identity.LinkStore { return linkStore{s.pool} }

// uniqueViolation is SQLSTATE 23505.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type userStore struct{ pool *pgxpool.Pool }

func (us userStore) Create(ctx context.Context, u *identity.User) error {
	const q = `
		INSERT INTO users (username, email, display_name, password_hash, metadata, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $6)
		RETURNING id`
	err := us.pool.QueryRow(ctx, q, u.Username, u.Email, u.DisplayName, u.PasswordHash, metadataJSON(u.Metadata), u.CreatedAt).Scan(&u.ID)
	if isUniqueViolation(err) {
		return identity.ErrConflict
	}
	return err
}

const userCols = `id, username, COALESCE(email, ''), display_name, password_hash, metadata, created_at, updated_at`

// metadataJSON renders the claims map for a jsonb column; nil maps become
// the empty object.
func metadataJSON(m map[string]any) []byte {
	if len(m) == 0 {
		return []byte(`{}`)
	}
	b, err := json.Marshal(m)
	if err != nil {
		return []byte(`{}`)
	}
	return b
}

func scanUser(row pgx.Row) (*identity.User, error) {
	var u identity.User
	var meta []byte
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.DisplayName, &u.PasswordHash, &meta, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 && string(meta) != "{}" {
		_ = json.Unmarshal(meta, &u.Metadata)
	}
	return &u, nil
}

func (us userStore) ByID(ctx context.Context, id string) (*identity.User, error) {
	return scanUser(us.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (us userStore) ByUsername(ctx context.Context, username string) (*identity.User, error) {
	return scanUser(us.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE lower(username) = lower($1)`, username))
}

func (us userStore) ByEmail(ctx context.Context, email string) (*identity.User, error) {
	return scanUser(us.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE lower(email) = lower($1)`, email))
}

func (us userStore) Update(ctx context.Context, u *identity.User) error {
	const q = `
		UPDATE users
		SET username = $2, email = NULLIF($3, ''), display_name = $4,
		    password_hash = $5, metadata = $6, updated_at = now()
		WHERE id = $1`
	tag, err := us.pool.Exec(ctx, q, u.ID, u.Username, u.Email, u.DisplayName, u.PasswordHash, metadataJSON(u.Metadata))
	if isUniqueViolation(err) {
		return identity.ErrConflict
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrNotFound
	}
	return nil
}

type linkStore struct{ pool *pgxpool.Pool }

func (ls linkStore) Create(ctx context.Context, l *identity.Link) error {
	const q = `
		INSERT INTO identity_links (user_id, provider, subject, email, name, picture, created_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := ls.pool.Exec(ctx, q,
		l.UserID, l.Provider, l.Subject, l.Email, l.Name, l.Picture, l.CreatedAt, l.LastLoginAt)
	if isUniqueViolation(err) {
		return identity.ErrConflict
	}
	return err
}

const linkCols = `user_id, provider, subject, email, name, picture, created_at, last_login_at`

func scanLink(row pgx.Row) (*identity.Link, error) {
	var l identity.Link
	err := row.Scan(&l.UserID, &l.Provider, &l.Subject, &l.Email, &l.Name, &l.Picture, &l.CreatedAt, &l.LastLoginAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (ls linkStore) ByProviderSubject(ctx context.Context, provider, subject string) (*identity.Link, error) {
	return scanLink(ls.pool.QueryRow(ctx,
		`SELECT `+linkCols+` FROM identity_links WHERE provider = $1 AND subject = $2`, provider, subject))
}

func (ls linkStore) ByUser(ctx context.Context, userID, provider string) (*identity.Link, error) {
	return scanLink(ls.pool.QueryRow(ctx,
		`SELECT `+linkCols+` FROM identity_links WHERE user_id = $1 AND provider = $2`, userID, provider))
}

func (ls linkStore) Update(ctx context.Context, l *identity.Link) error {
	const q = `
		UPDATE identity_links
		SET email = $3, name = $4, picture = $5
		WHERE provider = $1 AND subject = $2`
	tag, err := ls.pool.Exec(ctx, q, l.Provider, l.Subject, l.Email, l.Name, l.Picture)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (ls linkStore) Touch(ctx context.Context, provider, subject string, at time.Time) error {
	tag, err := ls.pool.Exec(ctx,
		`UPDATE identity_links SET last_login_at = $3 WHERE provider = $1 AND subject = $2`,
		provider, subject, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (ls linkStore) Delete(ctx context.Context, provider, subject string) error {
	tag, err := ls.pool.Exec(ctx,
		`DELETE FROM identity_links WHERE provider = $1 AND subject = $2`, provider, subject)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (ls linkStore) DeleteStale(ctx context.Context, before time.Time) (int, error) {
	tag, err := ls.pool.Exec(ctx,
		`DELETE FROM identity_links WHERE last_login_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
