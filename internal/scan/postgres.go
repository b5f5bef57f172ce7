package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zombor/invoice-scanner/internal/auth"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS scans (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	image_url      TEXT NOT NULL,
	extracted_text TEXT NOT NULL,
	cnpj           TEXT,
	data           TEXT,
	total          DOUBLE PRECISION,
	confidence     DOUBLE PRECISION NOT NULL DEFAULT 0,
	enhanced       BOOLEAN NOT NULL DEFAULT FALSE,
	filename       TEXT NOT NULL,
	content_type   TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS scans_user_created_idx ON scans (user_id, created_at DESC);
`

const scanColumns = `id, user_id, image_url, extracted_text, cnpj, data, total, confidence, enhanced, filename, content_type, created_at`

// PostgresDB implements the DB interface on a pgx connection pool
type PostgresDB struct {
	pool *pgxpool.Pool
}

// NewPostgresDB connects to dsn and creates the schema if needed
func NewPostgresDB(ctx context.Context, dsn string) (*PostgresDB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	cfg.ConnConfig.RuntimeParams["application_name"] = "invoice-scanner"

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

// SaveScan inserts or replaces a scan
func (p *PostgresDB) SaveScan(ctx context.Context, scan *Scan) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO scans (`+scanColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			extracted_text = EXCLUDED.extracted_text,
			cnpj = EXCLUDED.cnpj,
			data = EXCLUDED.data,
			total = EXCLUDED.total,
			confidence = EXCLUDED.confidence`,
		scan.ID, scan.UserID, scan.ImageURL, scan.ExtractedText,
		scan.TaxID, scan.Date, scan.Total, scan.Confidence, scan.Enhanced,
		scan.Filename, scan.ContentType, scan.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting scan: %w", err)
	}
	return nil
}

// GetScan retrieves a scan by ID
func (p *PostgresDB) GetScan(ctx context.Context, id string) (*Scan, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+scanColumns+` FROM scans WHERE id = $1`, id)
	scan, err := scanRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("selecting scan: %w", err)
	}
	return scan, nil
}

// ListScans returns the scans matching filter, newest first
func (p *PostgresDB) ListScans(ctx context.Context, filter Filter) ([]*Scan, error) {
	var (
		where []string
		args  []any
	)
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		args = append(args, "%"+escapeLike(q)+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(cnpj ILIKE $%d OR data ILIKE $%d OR extracted_text ILIKE $%d)", n, n, n))
	}

	query := `SELECT ` + scanColumns + ` FROM scans`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting scans: %w", err)
	}
	defer rows.Close()

	scans := make([]*Scan, 0)
	for rows.Next() {
		scan, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("reading scan row: %w", err)
		}
		scans = append(scans, scan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scans: %w", err)
	}
	return scans, nil
}

// DeleteScan removes a scan
func (p *PostgresDB) DeleteScan(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM scans WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting scan: %w", err)
	}
	return nil
}

// CreateUser inserts a user, returning auth.ErrUserExists on a duplicate email
func (p *PostgresDB) CreateUser(ctx context.Context, user *auth.User) error {
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO NOTHING`,
		user.ID, user.Email, user.PasswordHash, user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrUserExists
	}
	return nil
}

// GetUserByEmail retrieves a user by email
func (p *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	var user auth.User
	err := p.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = $1`, email,
	).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrUserNotFound
		}
		return nil, fmt.Errorf("selecting user: %w", err)
	}
	return &user, nil
}

// Close closes the pool
func (p *PostgresDB) Close() error {
	p.pool.Close()
	return nil
}

func scanRow(row pgx.Row) (*Scan, error) {
	var s Scan
	err := row.Scan(
		&s.ID, &s.UserID, &s.ImageURL, &s.ExtractedText,
		&s.TaxID, &s.Date, &s.Total, &s.Confidence, &s.Enhanced,
		&s.Filename, &s.ContentType, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// escapeLike escapes the ILIKE wildcards so the query is a literal substring
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
