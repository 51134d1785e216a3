package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the journal in a local file for benches without a
// CouchDB server.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS jobs (
		id      TEXT PRIMARY KEY,
		rev     INTEGER NOT NULL,
		doc     TEXT NOT NULL,
		updated TEXT NOT NULL
	);`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, id string, doc *Doc) (string, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	var rev int64
	err = s.db.QueryRowContext(ctx, `
	INSERT INTO jobs (id, rev, doc, updated) VALUES (?, 1, ?, ?)
	ON CONFLICT(id) DO UPDATE SET rev = rev + 1, doc = excluded.doc, updated = excluded.updated
	RETURNING rev`, id, string(body), time.Now().UTC().Format(time.RFC3339Nano)).Scan(&rev)
	if err != nil {
		return "", fmt.Errorf("put %s: %w", id, err)
	}
	return strconv.FormatInt(rev, 10), nil
}

// Get returns the stored document for id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Doc, error) {
	var body string
	var rev int64
	err := s.db.QueryRowContext(ctx, `SELECT rev, doc FROM jobs WHERE id = ?`, id).Scan(&rev, &body)
	if err != nil {
		return nil, err
	}
	var doc Doc
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, err
	}
	doc.Rev = strconv.FormatInt(rev, 10)
	return &doc, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
