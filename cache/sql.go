package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// DefaultSQLTable is the table used by SQLStore.
const DefaultSQLTable = "http_cache"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLStore keeps entries in a database table:
//
//	CREATE TABLE http_cache (
//	    cache_key   VARCHAR(2048) PRIMARY KEY,
//	    status_code INTEGER NOT NULL,
//	    header      TEXT NOT NULL,
//	    body        BLOB,
//	    stored_at   BIGINT NOT NULL,
//	    expires_at  BIGINT NOT NULL
//	)
//
// Timestamps are Unix nanoseconds. Writes replace the row for a key inside
// a transaction, so readers see either the old entry or the new one.
type SQLStore struct {
	db       *sqlx.DB
	table    string
	tracer   trace.Tracer
	dbSystem string
}

// Compile-time interface check.
var _ Store = (*SQLStore)(nil)

type sqlRow struct {
	StatusCode int    `db:"status_code"`
	Header     string `db:"header"`
	Body       []byte `db:"body"`
	StoredAt   int64  `db:"stored_at"`
	ExpiresAt  int64  `db:"expires_at"`
}

// NewSQLStore returns a store on db using table. An empty table selects
// DefaultSQLTable.
func NewSQLStore(db *sqlx.DB, table string, opts ...SQLOption) (*SQLStore, error) {
	if table == "" {
		table = DefaultSQLTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("cache: invalid table name %q", table)
	}
	s := &SQLStore{
		db:     db,
		table:  table,
		tracer: otel.GetTracerProvider().Tracer(tracerScope),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Schema returns the CREATE TABLE statement for the store's table.
func (s *SQLStore) Schema() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    cache_key   VARCHAR(2048) PRIMARY KEY,
    status_code INTEGER NOT NULL,
    header      TEXT NOT NULL,
    body        BLOB,
    stored_at   BIGINT NOT NULL,
    expires_at  BIGINT NOT NULL
)`, s.table)
}

// CreateTable creates the store's table if it does not exist.
func (s *SQLStore) CreateTable(ctx context.Context) error {
	if _, err := s.exec(ctx, s.db, s.Schema()); err != nil {
		return fmt.Errorf("cache: create table: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	query := s.db.Rebind(fmt.Sprintf(
		"SELECT status_code, header, body, stored_at, expires_at FROM %s WHERE cache_key = ?", s.table))

	var row sqlRow
	spanCtx, span := s.startSpan(ctx, query)
	err := s.db.GetContext(spanCtx, &row, query, key)
	endSpan(span, err)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache: select entry: %w", err)
	}

	var header http.Header
	if row.Header != "" {
		if err := json.Unmarshal([]byte(row.Header), &header); err != nil {
			return Entry{}, false, fmt.Errorf("cache: decode header: %w", err)
		}
	}

	return Entry{
		StatusCode: row.StatusCode,
		Header:     header,
		Body:       row.Body,
		StoredAt:   fromUnixNano(row.StoredAt),
		ExpiresAt:  fromUnixNano(row.ExpiresAt),
	}, true, nil
}

// Put implements Store.
func (s *SQLStore) Put(ctx context.Context, key string, entry Entry) (err error) {
	header, err := json.Marshal(entry.Header)
	if err != nil {
		return fmt.Errorf("cache: encode header: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = s.exec(ctx, tx, s.deleteQuery(tx.Rebind), key); err != nil {
		return fmt.Errorf("cache: replace entry: %w", err)
	}

	insert := tx.Rebind(fmt.Sprintf(
		"INSERT INTO %s (cache_key, status_code, header, body, stored_at, expires_at) VALUES (?, ?, ?, ?, ?, ?)",
		s.table))
	if _, err = s.exec(ctx, tx, insert,
		key,
		entry.StatusCode,
		string(header),
		entry.Body,
		unixNano(entry.StoredAt),
		unixNano(entry.ExpiresAt),
	); err != nil {
		return fmt.Errorf("cache: insert entry: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("cache: commit: %w", err)
	}
	return nil
}

// Remove implements Store.
func (s *SQLStore) Remove(ctx context.Context, key string) error {
	if _, err := s.exec(ctx, s.db, s.deleteQuery(s.db.Rebind), key); err != nil {
		return fmt.Errorf("cache: delete entry: %w", err)
	}
	return nil
}

// exec runs query on db or a transaction inside a span.
func (s *SQLStore) exec(ctx context.Context, e sqlx.ExecerContext, query string, args ...any) (sql.Result, error) {
	ctx, span := s.startSpan(ctx, query)
	res, err := e.ExecContext(ctx, query, args...)
	endSpan(span, err)
	return res, err
}

func (s *SQLStore) deleteQuery(rebind func(string) string) string {
	return rebind(fmt.Sprintf("DELETE FROM %s WHERE cache_key = ?", s.table))
}

// unixNano stores the zero time as 0.
func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
