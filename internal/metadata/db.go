package metadata

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"net/url"
	"strings"
	"time"

	"pithos/pkg/metadata"

	_ "github.com/mattn/go-sqlite3"
)

var (
	//go:embed migrations
	migrationsFS embed.FS
)

// SQLiteStore is a metadata.Store backed by a SQLite database. Transactions
// are opened with BEGIN IMMEDIATE, so writers are serialized for the whole
// transaction and a locking lookup needs no extra statement.
type SQLiteStore struct {
	Db *sql.DB
}

var _ metadata.Store = (*SQLiteStore)(nil)

// initSchema initializes the metadata database schema by applying all
// SQL files in the embedded migrations in lexicographical order.
func initSchema(ctx context.Context, db *sql.DB) error {
	return fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		content, readError := migrationsFS.ReadFile(path)
		if readError != nil {
			return fmt.Errorf("error reading SQL file: %w", readError)
		}

		slog.Info("Running migration", "path", path)
		if _, execError := db.ExecContext(ctx, string(content)); execError != nil {
			return fmt.Errorf("migration %s: %w", path, execError)
		}
		return nil
	})
}

// Open opens (creating if needed) the SQLite database at dbPath and applies
// the schema.
func Open(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	params := url.Values{}
	params.Set("_txlock", "immediate")
	params.Set("_busy_timeout", "10000")
	params.Set("_foreign_keys", "on")
	params.Set("_journal_mode", "WAL")

	db, err := sql.Open("sqlite3", "file:"+dbPath+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{Db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.Db.Close()
}

// Begin starts a metadata transaction.
func (s *SQLiteStore) Begin(ctx context.Context) (metadata.Tx, error) {
	tx, err := s.Db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("error beginning transaction: %w", err)
	}
	return &sqliteTx{tx: tx}, nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Nodes() metadata.NodeStore {
	return &nodeStore{tx: t.tx}
}

func (t *sqliteTx) Permissions() metadata.PermissionStore {
	return &permissionStore{tx: t.tx}
}

func (t *sqliteTx) Serials() metadata.SerialStore {
	return &serialStore{tx: t.tx}
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// toNanos converts a cutoff time to the stored representation. The zero
// time stands for "no cutoff".
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return math.MaxInt64
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// prefixMatch is a case-sensitive "column starts with ?" condition. The
// argument must be bound twice.
func prefixMatch(column string) string {
	return "substr(" + column + ", 1, length(?)) = ?"
}

// placeholders returns "?, ?, ..." with n entries.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func int64Args(values []int64) []any {
	args := make([]any, 0, len(values))
	for _, v := range values {
		args = append(args, v)
	}
	return args
}

func stringArgs(values []string) []any {
	args := make([]any, 0, len(values))
	for _, v := range values {
		args = append(args, v)
	}
	return args
}
