package source

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"   // PostgreSQL driver
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const defaultQueryTimeout = 30 * time.Second

// querySource runs a fixed read query and returns the rows as objects.
type querySource struct {
	name  string
	kind  string
	query string
	addr  string
	db    *sql.DB
}

func (s *querySource) Name() string { return s.name }

func (s *querySource) Fetch(ctx context.Context) (any, error) {
	queryCtx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(queryCtx, s.query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if strings.Contains(err.Error(), "connect") || strings.Contains(err.Error(), "unable to open") {
			return nil, &ConnectionError{Source: s.name, Address: s.addr, Err: err}
		}
		return nil, &SourceError{Source: s.name, Operation: s.kind + " query", Err: err}
	}
	defer rows.Close()

	records, err := scanRows(rows)
	if err != nil {
		return nil, &SourceError{Source: s.name, Operation: "scan", Err: err}
	}
	return records, nil
}

func (s *querySource) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// scanRows converts result rows into []any of map[string]any, turning byte
// slices into strings so they survive JSON encoding and formatting.
func scanRows(rows *sql.Rows) ([]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	records := []any{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		records = append(records, row)
	}
	return records, rows.Err()
}

// NewSQLiteSource opens dbPath read-only. The query runs on every fetch.
func NewSQLiteSource(name, dbPath, query, baseDir string) (Source, error) {
	if query == "" {
		return nil, &ValidationError{Source: name, Field: "query", Reason: "query is required"}
	}
	if dbPath == "" {
		dbPath = "blockdown.db"
	}
	dbPath = resolvePath(baseDir, dbPath)

	db, err := sql.Open("sqlite", "file:"+dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("sqlite source %q: failed to open database: %w", name, err)
	}
	return &querySource{name: name, kind: "sqlite", query: query, addr: dbPath, db: db}, nil
}

// NewPostgresSource connects lazily using dsn, options["dsn"] or $DATABASE_URL.
func NewPostgresSource(name, dsn, query string, options map[string]string) (Source, error) {
	if query == "" {
		return nil, &ValidationError{Source: name, Field: "query", Reason: "query is required"}
	}
	if dsn == "" {
		dsn = options["dsn"]
	}
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, &ValidationError{Source: name, Field: "dsn", Reason: "set dsn or DATABASE_URL"}
	}
	dsn = os.ExpandEnv(dsn)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pg source %q: failed to open database: %w", name, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &querySource{name: name, kind: "pg", query: query, addr: "postgres", db: db}, nil
}
