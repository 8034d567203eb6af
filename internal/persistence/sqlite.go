package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/vampirenirmal/taletwo/internal/storymodel"
)

// SQLite is the production Adapter: one table holding each book as a JSON
// blob, with atomic read-filter-write cycles done inside a
// "BEGIN IMMEDIATE" transaction so two processes racing to claim the same
// branch-cache slot never both win (spec.md §6's CAS contract, without an
// actual MongoDB driver anywhere in the available stack).
type SQLite struct {
	conn   *sqlx.DB
	table  string
	logger *slog.Logger
}

// OpenSQLite opens (creating if absent) a SQLite-backed adapter at path,
// storing documents in a table named tablePrefix+"_books".
func OpenSQLite(path, tablePrefix string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("persistence: open sqlite: %w", err)
	}
	table := tablePrefix + "_books"
	db := &SQLite{conn: conn, table: table, logger: logger}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("persistence: migrate: %w", err)
	}
	return db, nil
}

var _ Adapter = (*SQLite)(nil)

func (db *SQLite) migrate() error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		doc TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0
	);
	`, db.table)
	_, err := db.conn.Exec(schema)
	return err
}

func (db *SQLite) Close() error { return db.conn.Close() }

func (db *SQLite) InsertOne(ctx context.Context, book *storymodel.Book) error {
	raw, err := json.Marshal(book)
	if err != nil {
		return fmt.Errorf("persistence: encode book: %w", err)
	}
	query := fmt.Sprintf("INSERT INTO %s (id, doc, version) VALUES (?, ?, 0)", db.table)
	_, err = db.conn.ExecContext(ctx, query, book.ID.String(), string(raw))
	if err != nil {
		return fmt.Errorf("persistence: insert book %s: %w", book.ID, err)
	}
	return nil
}

func (db *SQLite) FindOne(ctx context.Context, id string) (*storymodel.Book, error) {
	var raw string
	query := fmt.Sprintf("SELECT doc FROM %s WHERE id = ?", db.table)
	err := db.conn.GetContext(ctx, &raw, query, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("persistence: find book %s: %w", id, err)
	}
	var book storymodel.Book
	if err := json.Unmarshal([]byte(raw), &book); err != nil {
		return nil, fmt.Errorf("persistence: decode book %s: %w", id, err)
	}
	return &book, nil
}

// UpdateOne performs the compare-and-set: it opens an immediate write
// transaction (the connection is opened with _txlock=immediate, so every
// BeginTxx issues BEGIN IMMEDIATE and SQLite takes the RESERVED lock up front rather than on
// first write, closing the classic read-then-upgrade race window), re-reads
// the current document inside that transaction, checks filter against it,
// and only then applies update and commits. A losing racer gets
// ErrNotFound and must re-read and retry, exactly like the in-memory
// adapter (internal/persistence/memory.go) used in tests.
func (db *SQLite) UpdateOne(ctx context.Context, id string, filter Filter, update Update) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persistence: begin tx: %w", err)
	}
	defer tx.Rollback()

	var raw string
	query := fmt.Sprintf("SELECT doc FROM %s WHERE id = ?", db.table)
	if err := tx.GetContext(ctx, &raw, query, id); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("persistence: read for update %s: %w", id, err)
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("persistence: decode doc tree %s: %w", id, err)
	}
	if !filter.matches(doc) {
		return ErrNotFound
	}

	update.apply(doc)
	updated, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("persistence: encode updated doc %s: %w", id, err)
	}

	exec := fmt.Sprintf("UPDATE %s SET doc = ?, version = version + 1 WHERE id = ?", db.table)
	if _, err := tx.ExecContext(ctx, exec, string(updated), id); err != nil {
		return fmt.Errorf("persistence: write update %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("persistence: commit update %s: %w", id, err)
	}
	return nil
}
