package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure Go driver, no CGO

	memerrors "github.com/specmem/specmem/internal/errors"
)

// StoreConfig tunes the Adapter's connection pool and page cache.
type StoreConfig struct {
	// CacheSizeMB is the SQLite page cache size in megabytes.
	CacheSizeMB int
}

// DefaultStoreConfig returns the default Adapter configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{CacheSizeMB: 64}
}

// Adapter is the Store Adapter (C2): a pooled connection over SQLite with
// WAL pragmas, a Transaction helper, and schema/extension bootstrap. SQLite
// has no native vector column or ANN index type, so approximate
// nearest-neighbor search over the embedding columns and trigram/full-text
// search are realized by the sibling VectorStore
// (coder/hnsw, in hnsw.go) and LexicalIndex (FTS5/bleve, in sqlite_bm25.go
// and bm25.go) implementations rather than database-side extensions —
// the declared vector dimension itself is tracked as adapter state (see
// GetTableDimension) since there is no column type to introspect.
//
// Grounded on sqlite_bm25.go's NewSQLiteBM25Index pragma block.
type Adapter struct {
	db *sql.DB
}

// NewAdapter opens (creating if absent) a SQLite database at path, applies
// WAL pragmas, and bootstraps the schema. An empty path opens an in-memory
// database, used by tests.
func NewAdapter(path string, cfg StoreConfig) (*Adapter, error) {
	if cfg.CacheSizeMB <= 0 {
		cfg.CacheSizeMB = DefaultStoreConfig().CacheSizeMB
	}

	dsn := ":memory:"
	if path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, memerrors.StoreErr(memerrors.StoreOther, "create data directory", err)
			}
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open(driverName(), dsn)
	if err != nil {
		return nil, memerrors.StoreErr(memerrors.StoreConnection, "open database", err)
	}

	// Single writer: SQLite serializes writers anyway, and a single
	// connection avoids "database is locked" churn under WAL.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = -%d", cfg.CacheSizeMB*1024),
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, memerrors.StoreErr(memerrors.StoreOther, "apply pragma "+p, err)
		}
	}

	a := &Adapter{db: db}
	if err := a.bootstrap(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

// bootstrap creates every table/index in schema.go if not already present.
func (a *Adapter) bootstrap(ctx context.Context) error {
	return a.Transaction(ctx, func(tx *sql.Tx) error {
		for _, stmt := range schemaStatements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return memerrors.StoreErr(memerrors.StoreOther, "bootstrap schema", err)
			}
		}
		return nil
	})
}

// Transaction runs fn within BEGIN/COMMIT; any error from fn (or a panic,
// re-thrown after rollback) triggers ROLLBACK. Batch ingests use this so
// that "either all rows committed or none" holds, per the C2 contract.
func (a *Adapter) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return memerrors.StoreErr(memerrors.StoreConnection, "begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return memerrors.StoreErr(memerrors.StoreOther, "commit transaction", err)
	}
	return nil
}

// DB returns the underlying *sql.DB for callers (e.g. LexicalIndex
// factories) that need to share the connection.
func (a *Adapter) DB() *sql.DB {
	return a.db
}

// GetTableDimension is the C1 Dimension Service's discovery primitive: the
// "store's declared dimension" for a given table, persisted as adapter
// state under StateKeyVectorDimension (SQLite has no vector column type to
// introspect directly, see Adapter's doc comment). Returns (0, nil) if
// never set — callers interpret a zero result as "undiscovered", not an
// error, and fall through to the embedding-provider/probe fallback tiers.
func (a *Adapter) GetTableDimension(ctx context.Context, table string) (int, error) {
	key := table + "." + StateKeyVectorDimension
	var value string
	row := a.db.QueryRowContext(ctx, `SELECT value FROM kv_state WHERE key = ?`, key)
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, memerrors.StoreErr(memerrors.StoreOther, "read table dimension", err)
	}
	var dim int
	if _, err := fmt.Sscanf(value, "%d", &dim); err != nil {
		return 0, memerrors.StoreErr(memerrors.StoreOther, "parse table dimension", err)
	}
	return dim, nil
}

// SetTableDimension records the declared dimension for table, invalidating
// any previously-projected assumptions once it changes (S3 dimension
// switch: callers must detect the change and invalidate caches themselves,
// the adapter only persists the new value).
func (a *Adapter) SetTableDimension(ctx context.Context, table string, dim int) error {
	key := table + "." + StateKeyVectorDimension
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO kv_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, fmt.Sprintf("%d", dim))
	if err != nil {
		return memerrors.StoreErr(memerrors.StoreOther, "write table dimension", err)
	}
	return nil
}

// Close releases the underlying connection.
func (a *Adapter) Close() error {
	return a.db.Close()
}
