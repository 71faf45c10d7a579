package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresObjectsTableName = "board_objects"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresGateway keeps every object as a row in a single table keyed by
// path. The backing database is the source of truth, so ReadFresh and Read
// are the same query.
type PostgresGateway struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresGateway(dsn string) (*PostgresGateway, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	return &PostgresGateway{
		dsn:       dsn,
		tableName: postgresObjectsTableName,
		openDB:    sql.Open,
	}, nil
}

func (g *PostgresGateway) Read(ctx context.Context, path string) ([]byte, error) {
	return g.ReadFresh(ctx, path)
}

func (g *PostgresGateway) ReadFresh(ctx context.Context, path string) ([]byte, error) {
	path, err := CleanPath(path)
	if err != nil {
		return nil, err
	}
	if err := g.ensureReady(); err != nil {
		return nil, classifyPostgresError(err)
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT content FROM %s WHERE path = $1", postgresQuoteIdentifier(g.tableName))
	var content []byte
	err = g.db.QueryRowContext(ctx, query, path).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, classifyPostgresError(err)
	}
	return content, nil
}

func (g *PostgresGateway) CreateIfAbsent(ctx context.Context, path string, data []byte) error {
	path, err := CleanPath(path)
	if err != nil {
		return err
	}
	if err := g.ensureReady(); err != nil {
		return classifyPostgresError(err)
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (path, content, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (path) DO NOTHING`, postgresQuoteIdentifier(g.tableName))
	result, err := g.db.ExecContext(ctx, query, path, data)
	if err != nil {
		return classifyPostgresError(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return classifyPostgresError(err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrExists, path)
	}
	return nil
}

func (g *PostgresGateway) Replace(ctx context.Context, path string, data []byte) error {
	path, err := CleanPath(path)
	if err != nil {
		return err
	}
	if err := g.ensureReady(); err != nil {
		return classifyPostgresError(err)
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("UPDATE %s SET content = $2, updated_at = NOW() WHERE path = $1", postgresQuoteIdentifier(g.tableName))
	result, err := g.db.ExecContext(ctx, query, path, data)
	if err != nil {
		return classifyPostgresError(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return classifyPostgresError(err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return nil
}

func (g *PostgresGateway) Delete(ctx context.Context, path string) error {
	path, err := CleanPath(path)
	if err != nil {
		return err
	}
	if err := g.ensureReady(); err != nil {
		return classifyPostgresError(err)
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("DELETE FROM %s WHERE path = $1", postgresQuoteIdentifier(g.tableName))
	result, err := g.db.ExecContext(ctx, query, path)
	if err != nil {
		return classifyPostgresError(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return classifyPostgresError(err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return nil
}

func (g *PostgresGateway) List(ctx context.Context, prefix string, opts ListOptions) ([]Entry, error) {
	prefix = strings.TrimPrefix(strings.TrimSpace(prefix), "/")
	if err := g.ensureReady(); err != nil {
		return nil, classifyPostgresError(err)
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	order := "path ASC"
	if opts.NewestFirst {
		order = "updated_at DESC, path ASC"
	}
	query := fmt.Sprintf("SELECT path, updated_at FROM %s WHERE path LIKE $1 ORDER BY %s", postgresQuoteIdentifier(g.tableName), order)
	args := []any{escapeLikePrefix(prefix) + "%"}
	if opts.Limit > 0 {
		query += " LIMIT $2"
		args = append(args, opts.Limit)
	}
	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyPostgresError(err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.Name, &entry.LastModified); err != nil {
			return nil, classifyPostgresError(err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPostgresError(err)
	}
	return entries, nil
}

func (g *PostgresGateway) SignedReadURL(context.Context, string, time.Duration) (string, error) {
	return "", ErrNotSupported
}

func (g *PostgresGateway) Close() error {
	if g.db == nil {
		return nil
	}
	return g.db.Close()
}

func (g *PostgresGateway) ensureReady() error {
	g.initOnce.Do(func() {
		db, err := g.openDB("postgres", g.dsn)
		if err != nil {
			g.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				path TEXT PRIMARY KEY,
				content BYTEA NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresQuoteIdentifier(g.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			g.initErr = err
			return
		}
		g.db = db
	})
	return g.initErr
}

func classifyPostgresError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) {
		return &TransientError{Err: err}
	}
	msg := err.Error()
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") {
		return &TransientError{Err: err}
	}
	if strings.Contains(msg, "permission denied") {
		return fmt.Errorf("%w: %v", ErrForbidden, err)
	}
	return err
}

func postgresQuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func escapeLikePrefix(prefix string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(prefix)
}
