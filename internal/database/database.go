// Package database provides SQLite storage for cached feed windows.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bryan-buckman/feedwindow/internal/model"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB

	mu      sync.Mutex
	pending []op
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

type opKind int

const (
	opInsert opKind = iota
	opDelete
)

type op struct {
	kind  opKind
	item  model.CachedFeedItem
	match Predicate
}

// New opens or creates an SQLite database at the given path.
func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases from splitting across connections.
	conn.SetMaxOpenConns(1)
	// Enable WAL mode for better concurrency.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cached_items (
		scope TEXT NOT NULL,
		id TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		ts INTEGER NOT NULL,
		likes INTEGER NOT NULL DEFAULT 0,
		comments INTEGER NOT NULL DEFAULT 0,
		media TEXT NOT NULL DEFAULT '[]',
		author_name TEXT,
		author_avatar TEXT,
		PRIMARY KEY (scope, id)
	);
	CREATE INDEX IF NOT EXISTS idx_cached_items_scope_ts ON cached_items(scope, ts DESC, id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// Insert stages an upsert.
func (db *DB) Insert(item model.CachedFeedItem) {
	db.mu.Lock()
	db.pending = append(db.pending, op{kind: opInsert, item: item})
	db.mu.Unlock()
}

// Delete stages a predicate delete.
func (db *DB) Delete(p Predicate) {
	db.mu.Lock()
	db.pending = append(db.pending, op{kind: opDelete, match: p})
	db.mu.Unlock()
}

// Pending reports how many operations are staged.
func (db *DB) Pending() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.pending)
}

// Save applies staged operations in order inside one transaction.
func (db *DB) Save(ctx context.Context) error {
	db.mu.Lock()
	ops := db.pending
	db.pending = nil
	db.mu.Unlock()
	if len(ops) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cached_items (scope, id, owner_id, text, ts, likes, comments, media, author_name, author_avatar)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope, id) DO UPDATE SET
			owner_id = excluded.owner_id,
			text = excluded.text,
			ts = excluded.ts,
			likes = excluded.likes,
			comments = excluded.comments,
			media = excluded.media,
			author_name = excluded.author_name,
			author_avatar = excluded.author_avatar`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range ops {
		switch o.kind {
		case opInsert:
			if err := execInsert(ctx, stmt, o.item); err != nil {
				tx.Rollback()
				return fmt.Errorf("insert %s/%s: %w", o.item.ScopeKey, o.item.ID, err)
			}
		case opDelete:
			where, args := o.match.where()
			if _, err := tx.ExecContext(ctx, "DELETE FROM cached_items"+where, args...); err != nil {
				tx.Rollback()
				return fmt.Errorf("delete: %w", err)
			}
		}
	}
	return tx.Commit()
}

func execInsert(ctx context.Context, stmt *sql.Stmt, it model.CachedFeedItem) error {
	media, err := json.Marshal(it.MediaRefs)
	if err != nil {
		return err
	}
	if it.MediaRefs == nil {
		media = []byte("[]")
	}
	var name, avatar sql.NullString
	if it.Author != nil {
		name = sql.NullString{String: it.Author.DisplayName, Valid: true}
		avatar = sql.NullString{String: it.Author.AvatarURL, Valid: true}
	}
	_, err = stmt.ExecContext(ctx,
		it.ScopeKey, it.ID, it.OwnerID, it.Text, it.Timestamp.UnixNano(),
		it.Counters.Likes, it.Counters.Comments, string(media), name, avatar)
	return err
}

func (p Predicate) where() (string, []interface{}) {
	var clauses []string
	var args []interface{}
	if p.Scope != "" {
		clauses = append(clauses, "scope = ?")
		args = append(args, p.Scope)
	}
	if len(p.IDs) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?,", len(p.IDs)), ",")
		clauses = append(clauses, "id IN ("+marks+")")
		for _, id := range p.IDs {
			args = append(args, id)
		}
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// Fetch returns committed items matching p.
func (db *DB) Fetch(ctx context.Context, p Predicate, sort Sort, limit int) ([]model.CachedFeedItem, error) {
	where, args := p.where()
	query := "SELECT scope, id, owner_id, text, ts, likes, comments, media, author_name, author_avatar FROM cached_items" + where
	if sort == OldestFirst {
		query += " ORDER BY ts ASC, id DESC"
	} else {
		query += " ORDER BY ts DESC, id ASC"
	}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

func scanItems(rows *sql.Rows) ([]model.CachedFeedItem, error) {
	var items []model.CachedFeedItem
	for rows.Next() {
		var it model.CachedFeedItem
		var ts int64
		var media string
		var name, avatar sql.NullString
		if err := rows.Scan(&it.ScopeKey, &it.ID, &it.OwnerID, &it.Text, &ts,
			&it.Counters.Likes, &it.Counters.Comments, &media, &name, &avatar); err != nil {
			return nil, err
		}
		it.Timestamp = time.Unix(0, ts).UTC()
		if err := json.Unmarshal([]byte(media), &it.MediaRefs); err != nil {
			return nil, fmt.Errorf("media for %s: %w", it.ID, err)
		}
		if len(it.MediaRefs) == 0 {
			it.MediaRefs = nil
		}
		if name.Valid {
			it.Author = &model.AuthorSnapshot{DisplayName: name.String, AvatarURL: avatar.String}
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Scopes lists scopes that have committed items.
func (db *DB) Scopes(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT DISTINCT scope FROM cached_items ORDER BY scope")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var scopes []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		scopes = append(scopes, s)
	}
	return scopes, rows.Err()
}
