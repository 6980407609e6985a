package db

import (
	"context"
	"database/sql"
	"fmt"

	"peerchat/models"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	conn *sql.DB
}

func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			login TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS friends (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner TEXT NOT NULL,
			friend TEXT NOT NULL,
			UNIQUE(owner, friend)
		)`,
		`CREATE TABLE IF NOT EXISTS requests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			target TEXT NOT NULL,
			requester TEXT NOT NULL,
			UNIQUE(target, requester)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_friends_owner ON friends(owner)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_target ON requests(target)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// Load reads all three tables. List order follows insertion (id) order.
func (db *DB) Load(ctx context.Context) (models.Snapshot, error) {
	snap := models.NewSnapshot()

	rows, err := db.conn.QueryContext(ctx, "SELECT login, password FROM users ORDER BY id")
	if err != nil {
		return snap, err
	}
	for rows.Next() {
		var login, password string
		if err := rows.Scan(&login, &password); err != nil {
			rows.Close()
			return snap, err
		}
		snap.Passwords[login] = password
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, err
	}

	if err := db.loadAdjacency(ctx, "SELECT owner, friend FROM friends ORDER BY id", snap.Friends); err != nil {
		return snap, err
	}
	if err := db.loadAdjacency(ctx, "SELECT target, requester FROM requests ORDER BY id", snap.Requests); err != nil {
		return snap, err
	}

	return snap, nil
}

func (db *DB) loadAdjacency(ctx context.Context, query string, into map[string][]string) error {
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		into[key] = append(into[key], value)
	}

	return rows.Err()
}

// Save rewrites every table inside one transaction.
func (db *DB) Save(ctx context.Context, snap models.Snapshot) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"users", "friends", "requests"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, login := range sortedKeys(snap.Passwords) {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO users (login, password) VALUES (?, ?)",
			login, snap.Passwords[login],
		); err != nil {
			return fmt.Errorf("insert user %s: %w", login, err)
		}
	}

	if err := insertAdjacency(ctx, tx, "INSERT OR IGNORE INTO friends (owner, friend) VALUES (?, ?)", snap.Friends); err != nil {
		return err
	}
	if err := insertAdjacency(ctx, tx, "INSERT OR IGNORE INTO requests (target, requester) VALUES (?, ?)", snap.Requests); err != nil {
		return err
	}

	return tx.Commit()
}

func insertAdjacency(ctx context.Context, tx *sql.Tx, query string, adj map[string][]string) error {
	for _, key := range sortedKeys(adj) {
		for _, value := range adj[key] {
			if _, err := tx.ExecContext(ctx, query, key, value); err != nil {
				return fmt.Errorf("insert %s -> %s: %w", key, value, err)
			}
		}
	}
	return nil
}
