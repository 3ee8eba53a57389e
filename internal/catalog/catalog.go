// Package catalog is the canonical relational store of releases, predb
// entries and binary blacklists. The full-text indexes are projections of
// its rows; the catalog is always the source of truth.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	relerrors "github.com/Aman-CERP/relindex/internal/errors"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// ErrNotFound reports that no row has the requested id or key.
var ErrNotFound = errors.New("catalog: not found")

// Blacklist column selectors (binaryblacklist.msgcol).
const (
	ColumnSubject   = 1
	ColumnPoster    = 2
	ColumnMessageID = 3
)

// Release is one catalog record with the metadata the quality rules read.
type Release struct {
	ID         int64
	GUID       string
	Name       string
	SearchName string
	FromName   string
	CategoryID int
	Size       int64
	FileCount  int
	AddDate    time.Time
	Files      []string
}

// Projection is the release row joined with its file names, as indexed.
type Projection struct {
	ID         int64
	Name       string
	SearchName string
	FromName   string
	CategoryID int
	// FileNames is the space-joined file list, empty when there are none.
	FileNames string
}

// Predb is one pre-database entry.
type Predb struct {
	ID       int64
	Title    string
	Filename string
	Source   string
}

// BlacklistPattern is an active black-list regex and the column it targets.
type BlacklistPattern struct {
	ID     int64
	Regex  string
	Column int
}

// Store is the SQLite-backed catalog.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the catalog at path and applies pending
// migrations. An empty path opens a private in-memory catalog.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if _, err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func readErr(op string, err error) error {
	return relerrors.New(relerrors.ErrCodeCatalogRead, "catalog "+op+" failed", err)
}

func writeErr(op string, err error) error {
	return relerrors.New(relerrors.ErrCodeCatalogWrite, "catalog "+op+" failed", err)
}

// ResolveGUID returns the id of the release with guid, or ErrNotFound.
func (s *Store) ResolveGUID(ctx context.Context, guid string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM releases WHERE guid = ?`, guid).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, readErr("resolve guid", err)
	}
	return id, nil
}

// FetchProjection returns the indexed projection of release id, or ErrNotFound.
func (s *Store) FetchProjection(ctx context.Context, id int64) (Projection, error) {
	const q = `
	SELECT r.id, r.name, r.searchname, r.fromname, r.categories_id,
	       IFNULL((SELECT GROUP_CONCAT(name, ' ')
	               FROM (SELECT name FROM release_files WHERE releases_id = r.id ORDER BY id)), '')
	FROM releases r
	WHERE r.id = ?`

	var p Projection
	err := s.db.QueryRowContext(ctx, q, id).Scan(&p.ID, &p.Name, &p.SearchName, &p.FromName, &p.CategoryID, &p.FileNames)
	if errors.Is(err, sql.ErrNoRows) {
		return Projection{}, ErrNotFound
	}
	if err != nil {
		return Projection{}, readErr("fetch projection", err)
	}
	return p, nil
}

// FetchPredb returns predb entry id, or ErrNotFound.
func (s *Store) FetchPredb(ctx context.Context, id int64) (Predb, error) {
	var p Predb
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, filename, source FROM predb WHERE id = ?`, id).
		Scan(&p.ID, &p.Title, &p.Filename, &p.Source)
	if errors.Is(err, sql.ErrNoRows) {
		return Predb{}, ErrNotFound
	}
	if err != nil {
		return Predb{}, readErr("fetch predb", err)
	}
	return p, nil
}

// Delete removes release id and its files. Deleting a missing id reports
// false without error.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, writeErr("delete", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM release_files WHERE releases_id = ?`, id); err != nil {
		return false, writeErr("delete", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM releases WHERE id = ?`, id)
	if err != nil {
		return false, writeErr("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, writeErr("delete", err)
	}
	if err := tx.Commit(); err != nil {
		return false, writeErr("delete", err)
	}
	return n > 0, nil
}

// ScanBatch returns up to limit releases with id greater than afterID in
// ascending id order, each with its file names. A non-zero since keeps only
// releases added after it.
func (s *Store) ScanBatch(ctx context.Context, afterID int64, since time.Time, limit int) ([]Release, error) {
	q := `SELECT id, guid, name, searchname, fromname, categories_id, size, totalpart, adddate
	      FROM releases WHERE id > ?`
	args := []any{afterID}
	if !since.IsZero() {
		q += ` AND adddate > ?`
		args = append(args, since.Unix())
	}
	q += ` ORDER BY id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, readErr("scan", err)
	}

	var out []Release
	for rows.Next() {
		var r Release
		var added int64
		if err := rows.Scan(&r.ID, &r.GUID, &r.Name, &r.SearchName, &r.FromName,
			&r.CategoryID, &r.Size, &r.FileCount, &added); err != nil {
			rows.Close()
			return nil, readErr("scan", err)
		}
		r.AddDate = time.Unix(added, 0).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, readErr("scan", err)
	}
	rows.Close()

	if len(out) == 0 {
		return nil, nil
	}
	if err := s.attachFiles(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// attachFiles loads the file names of every release in batch.
func (s *Store) attachFiles(ctx context.Context, batch []Release) error {
	pos := make(map[int64]int, len(batch))
	marks := make([]string, len(batch))
	args := make([]any, len(batch))
	for i, r := range batch {
		pos[r.ID] = i
		marks[i] = "?"
		args[i] = r.ID
	}

	q := fmt.Sprintf(`SELECT releases_id, name FROM release_files
	                  WHERE releases_id IN (%s) ORDER BY releases_id, id`, strings.Join(marks, ","))
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return readErr("scan files", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return readErr("scan files", err)
		}
		i := pos[id]
		batch[i].Files = append(batch[i].Files, name)
	}
	if err := rows.Err(); err != nil {
		return readErr("scan files", err)
	}
	return nil
}

// Blacklists returns the active black-list patterns in id order.
func (s *Store) Blacklists(ctx context.Context) ([]BlacklistPattern, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, regex, msgcol FROM binaryblacklist WHERE status = 1 AND optype = 1 ORDER BY id`)
	if err != nil {
		return nil, readErr("blacklists", err)
	}
	defer rows.Close()

	var out []BlacklistPattern
	for rows.Next() {
		var p BlacklistPattern
		if err := rows.Scan(&p.ID, &p.Regex, &p.Column); err != nil {
			return nil, readErr("blacklists", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, readErr("blacklists", err)
	}
	return out, nil
}

// InsertRelease stores r with its files and returns the new id. A missing
// GUID is generated; a zero AddDate means now.
func (s *Store) InsertRelease(ctx context.Context, r Release) (int64, error) {
	if r.GUID == "" {
		r.GUID = uuid.NewString()
	}
	if r.AddDate.IsZero() {
		r.AddDate = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, writeErr("insert release", err)
	}
	defer func() { _ = tx.Rollback() }()

	var res sql.Result
	if r.ID > 0 {
		res, err = tx.ExecContext(ctx, `
		INSERT INTO releases (id, guid, name, searchname, fromname, categories_id, size, totalpart, adddate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.GUID, r.Name, r.SearchName, r.FromName, r.CategoryID, r.Size, r.FileCount, r.AddDate.Unix())
	} else {
		res, err = tx.ExecContext(ctx, `
		INSERT INTO releases (guid, name, searchname, fromname, categories_id, size, totalpart, adddate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.GUID, r.Name, r.SearchName, r.FromName, r.CategoryID, r.Size, r.FileCount, r.AddDate.Unix())
	}
	if err != nil {
		return 0, writeErr("insert release", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, writeErr("insert release", err)
	}

	for _, f := range r.Files {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO release_files (releases_id, name) VALUES (?, ?)`, id, f); err != nil {
			return 0, writeErr("insert release file", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, writeErr("insert release", err)
	}
	return id, nil
}

// InsertPredb stores p and returns the new id.
func (s *Store) InsertPredb(ctx context.Context, p Predb) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if p.ID > 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO predb (id, title, filename, source) VALUES (?, ?, ?, ?)`, p.ID, p.Title, p.Filename, p.Source)
	} else {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO predb (title, filename, source) VALUES (?, ?, ?)`, p.Title, p.Filename, p.Source)
	}
	if err != nil {
		return 0, writeErr("insert predb", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, writeErr("insert predb", err)
	}
	return id, nil
}

// InsertBlacklist stores an active black-list pattern for column.
func (s *Store) InsertBlacklist(ctx context.Context, regex string, column int, description string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO binaryblacklist (regex, msgcol, optype, status, description) VALUES (?, ?, 1, 1, ?)`,
		regex, column, description)
	if err != nil {
		return 0, writeErr("insert blacklist", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, writeErr("insert blacklist", err)
	}
	return id, nil
}

// Counts holds row counts per catalog table.
type Counts struct {
	Releases   int64
	Files      int64
	Predb      int64
	Blacklists int64
}

// Count returns the number of rows in each catalog table.
func (s *Store) Count(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx, `
	SELECT (SELECT COUNT(*) FROM releases),
	       (SELECT COUNT(*) FROM release_files),
	       (SELECT COUNT(*) FROM predb),
	       (SELECT COUNT(*) FROM binaryblacklist WHERE status = 1)`).
		Scan(&c.Releases, &c.Files, &c.Predb, &c.Blacklists)
	if err != nil {
		return Counts{}, readErr("count", err)
	}
	return c, nil
}
