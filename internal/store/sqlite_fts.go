package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	relerrors "github.com/Aman-CERP/relindex/internal/errors"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteTransport implements Transport using SQLite FTS5.
// Each index is one FTS5 virtual table; the document id is the table rowid.
// WAL mode allows a reader process to search while another rebuilds.
type SQLiteTransport struct {
	mu      sync.Mutex
	db      *sql.DB
	closed  bool
	schemas map[string]Schema
}

// Verify interface implementation at compile time
var _ Transport = (*SQLiteTransport)(nil)

// validateSQLiteIntegrity checks an existing database file before opening.
// Returns nil when the file is absent or healthy.
func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// NewSQLiteTransport opens (or creates) the FTS5 database at path.
// If path is empty, the database lives in memory.
//
// A database that fails the integrity check is removed; its indexes then
// report unknown-index and are recreated by the next rebuild.
func NewSQLiteTransport(path string) (*SQLiteTransport, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
		}

		if validErr := validateSQLiteIntegrity(path); validErr != nil {
			slog.Warn("index_db_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, relerrors.New(relerrors.ErrCodeCorruptIndex,
					fmt.Sprintf("index database corrupted at %s and cannot be removed", path), removeErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")

			slog.Info("index_db_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, run rebuild"))
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection: one writer, and the in-memory database stays alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores most DSN params; set pragmas explicitly.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	// index_fields remembers each index's column order and types; FTS5
	// does not expose UNINDEXED through table_info.
	const meta = `
	CREATE TABLE IF NOT EXISTS index_fields (
		index_name TEXT NOT NULL,
		position   INTEGER NOT NULL,
		field      TEXT NOT NULL,
		field_type TEXT NOT NULL,
		PRIMARY KEY (index_name, position)
	);`
	if _, err := db.Exec(meta); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteTransport{
		db:      db,
		schemas: make(map[string]Schema),
	}, nil
}

// quoteIdent quotes a validated index or column name for SQL.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// schema returns the cached schema of index, loading it on first use.
// Caller must hold s.mu.
func (s *SQLiteTransport) schema(ctx context.Context, index string) (Schema, error) {
	if sc, ok := s.schemas[index]; ok {
		return sc, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT field, field_type FROM index_fields WHERE index_name = ? ORDER BY position`, index)
	if err != nil {
		return nil, transportErr("load schema", index, err)
	}
	defer rows.Close()

	var sc Schema
	for rows.Next() {
		var f Field
		if err := rows.Scan(&f.Name, &f.Type); err != nil {
			return nil, transportErr("load schema", index, err)
		}
		sc = append(sc, f)
	}
	if err := rows.Err(); err != nil {
		return nil, transportErr("load schema", index, err)
	}
	if len(sc) == 0 {
		return nil, relerrors.UnknownIndexError(index)
	}

	s.schemas[index] = sc
	return sc, nil
}

// open validates state and name and returns the index schema. Caller must hold s.mu.
func (s *SQLiteTransport) open(ctx context.Context, index string) (Schema, error) {
	if s.closed {
		return nil, relerrors.TransportError("index transport is closed", nil)
	}
	if err := checkIndexName(index); err != nil {
		return nil, err
	}
	return s.schema(ctx, index)
}

// Upsert replaces the row with doc.ID. FTS5 has no REPLACE, so the old row
// is deleted first inside the same transaction.
func (s *SQLiteTransport) Upsert(ctx context.Context, index string, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, err := s.open(ctx, index)
	if err != nil {
		return err
	}
	for name := range doc.Fields {
		if _, ok := sc.Lookup(name); !ok {
			return relerrors.ValidationError(fmt.Sprintf("unknown field %q for index %s", name, index), nil)
		}
	}

	cols := make([]string, 0, len(sc)+1)
	marks := make([]string, 0, len(sc)+1)
	args := make([]any, 0, len(sc)+1)
	cols = append(cols, "rowid")
	marks = append(marks, "?")
	args = append(args, doc.ID)
	for _, f := range sc {
		cols = append(cols, quoteIdent(f.Name))
		marks = append(marks, "?")
		args = append(args, doc.Fields[f.Name])
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return transportErr("upsert", index, err)
	}
	defer func() { _ = tx.Rollback() }()

	table := quoteIdent(index)
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE rowid = ?`, doc.ID); err != nil {
		return transportErr("upsert", index, err)
	}
	insert := fmt.Sprintf(`INSERT INTO %s(%s) VALUES (%s)`, table, strings.Join(cols, ", "), strings.Join(marks, ", "))
	if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
		return transportErr("upsert", index, err)
	}
	return transportErr("upsert", index, tx.Commit())
}

// Delete removes the row with id.
func (s *SQLiteTransport) Delete(ctx context.Context, index string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.open(ctx, index); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM `+quoteIdent(index)+` WHERE rowid = ?`, id)
	return transportErr("delete", index, err)
}

// Truncate removes every row of index, keeping its schema.
func (s *SQLiteTransport) Truncate(ctx context.Context, index string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.open(ctx, index); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM `+quoteIdent(index))
	return transportErr("truncate", index, err)
}

// CreateSchema creates the FTS5 table for index. Integer fields are stored
// UNINDEXED. An index that already exists is left unchanged.
func (s *SQLiteTransport) CreateSchema(ctx context.Context, index string, schema Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return relerrors.TransportError("index transport is closed", nil)
	}
	if err := checkIndexName(index); err != nil {
		return err
	}
	if len(schema) == 0 {
		return relerrors.ValidationError("schema has no fields", nil).WithDetail("index", index)
	}

	cols := make([]string, 0, len(schema)+1)
	for _, f := range schema {
		if err := checkIndexName(f.Name); err != nil {
			return err
		}
		switch f.Type {
		case FieldString:
			cols = append(cols, quoteIdent(f.Name))
		case FieldInteger:
			cols = append(cols, quoteIdent(f.Name)+" UNINDEXED")
		default:
			return relerrors.ValidationError(fmt.Sprintf("unsupported field type %q", f.Type), nil)
		}
	}
	cols = append(cols, "tokenize='unicode61'")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return transportErr("create", index, err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM index_fields WHERE index_name = ?`, index).Scan(&existing); err != nil {
		return transportErr("create", index, err)
	}
	if existing > 0 {
		return nil
	}

	create := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING fts5(%s)`, quoteIdent(index), strings.Join(cols, ", "))
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return transportErr("create", index, err)
	}
	for i, f := range schema {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO index_fields(index_name, position, field, field_type) VALUES (?, ?, ?, ?)`,
			index, i, f.Name, string(f.Type)); err != nil {
			return transportErr("create", index, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return transportErr("create", index, err)
	}

	s.schemas[index] = append(Schema(nil), schema...)
	slog.Debug("index_schema_created", slog.String("index", index), slog.Int("fields", len(schema)))
	return nil
}

// Optimize merges the FTS5 b-tree segments of index.
func (s *SQLiteTransport) Optimize(ctx context.Context, index string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.open(ctx, index); err != nil {
		return err
	}
	table := quoteIdent(index)
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s(%s) VALUES ('optimize')`, table, table))
	return transportErr("optimize", index, err)
}

// Flush checkpoints the WAL so every committed write is in the main file.
func (s *SQLiteTransport) Flush(ctx context.Context, index string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.open(ctx, index); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return transportErr("flush", index, err)
}

// matchExpression builds the FTS5 MATCH expression for q. Each term is
// quoted so FTS5 operators in user text are literal. Returns "" when no
// clause carries a searchable term. phrases holds one phrase expression per
// clause with two or more terms.
func matchExpression(q Query, sc Schema) (expr string, phrases []string, err error) {
	var parts []string
	for _, m := range q.Matches {
		tokens := queryTokens(m.Text)
		if len(tokens) == 0 {
			continue
		}
		quoted := make([]string, len(tokens))
		for i, t := range tokens {
			quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
		}
		terms := "(" + strings.Join(quoted, " ") + ")"
		phrase := "(" + strings.Join(quoted, " + ") + ")"

		if len(m.Fields) > 0 {
			for _, name := range m.Fields {
				f, ok := sc.Lookup(name)
				if !ok || f.Type != FieldString {
					return "", nil, relerrors.ValidationError(fmt.Sprintf("no searchable field %q", name), nil)
				}
			}
			filter := "{" + strings.Join(m.Fields, " ") + "} : "
			terms = filter + terms
			phrase = filter + phrase
		}
		parts = append(parts, "("+terms+")")
		if len(tokens) > 1 {
			phrases = append(phrases, phrase)
		}
	}
	return strings.Join(parts, " AND "), phrases, nil
}

// Search returns matching ids ordered by id descending. bm25() is negative
// with lower meaning better, so Rank starts from the negated value.
func (s *SQLiteTransport) Search(ctx context.Context, index string, q Query) (Hits, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, err := s.open(ctx, index)
	if err != nil {
		return nil, err
	}
	proximity, err := q.Ranker.proximity()
	if err != nil {
		return nil, err
	}
	expr, phrases, err := matchExpression(q, sc)
	if err != nil {
		return nil, err
	}
	if expr == "" {
		return hitsFrom(nil), nil
	}
	if !proximity {
		phrases = nil
	}

	// rank = bm25 + PhraseBoost per clause whose terms match as a phrase
	table := quoteIdent(index)
	rank := fmt.Sprintf("-bm25(%s)", table)
	args := make([]any, 0, len(phrases)+2)
	for _, p := range phrases {
		rank += fmt.Sprintf(" + %g * (rowid IN (SELECT rowid FROM %s WHERE %s MATCH ?))", PhraseBoost, table, table)
		args = append(args, p)
	}
	args = append(args, expr, effectiveLimit(q))

	query := fmt.Sprintf(`SELECT rowid, %s FROM %s WHERE %s MATCH ? ORDER BY rowid DESC LIMIT ?`, rank, table, table)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, transportErr("search", index, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ID, &h.Rank); err != nil {
			return nil, transportErr("search", index, err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, transportErr("search", index, err)
	}
	return hitsFrom(hits), nil
}

// IDs pages through the rowids of index in ascending order.
func (s *SQLiteTransport) IDs(ctx context.Context, index string, afterID int64, limit int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.open(ctx, index); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT rowid FROM `+quoteIdent(index)+` WHERE rowid > ? ORDER BY rowid LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, transportErr("ids", index, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, transportErr("ids", index, err)
		}
		ids = append(ids, id)
	}
	return ids, transportErr("ids", index, rows.Err())
}

// Count returns the number of rows in index.
func (s *SQLiteTransport) Count(ctx context.Context, index string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.open(ctx, index); err != nil {
		return 0, err
	}
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+quoteIdent(index)).Scan(&n)
	return n, transportErr("count", index, err)
}

// Close checkpoints and closes the database. Close is idempotent.
func (s *SQLiteTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}
