// ABOUTME: Media database contract and Postgres-backed implementation
// ABOUTME: Resolves queries and ids to file metadata for the source queue
package mediadb

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// FileMeta is the metadata the transcoder setup step needs.
type FileMeta struct {
	ID       uint32 `db:"id"`
	Path     string `db:"path"`
	Title    string `db:"title"`
	Album    string `db:"album"`
	Artist   string `db:"artist"`
	Disabled bool   `db:"disabled"`
}

// Iterator walks rows matched by a query, one file id at a time.
type Iterator interface {
	Next() (id uint32, ok bool, err error)
	Close() error
}

// DB is the external collaborator contract from spec.md §6: file metadata
// by numeric id, plus query iteration. The persisted config KV
// (db_config_fetch_int/save_int in player.c) is a separate, local concern
// handled by internal/config rather than this (possibly remote) media
// catalog connection.
type DB interface {
	QueryStart(ctx context.Context, filter Filter) (Iterator, error)
	FetchByID(ctx context.Context, id uint32) (FileMeta, error)
}

// Postgres is a DB backed by a Postgres media library, grounded on
// himanshub16-crowd-radio's sqlx-based repository.
type Postgres struct {
	db *sqlx.DB
}

// Open connects to the media database at dsn.
func Open(dsn string) (*Postgres, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("mediadb: open: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

type pgIterator struct {
	rows *sqlx.Rows
}

func (it *pgIterator) Next() (uint32, bool, error) {
	if !it.rows.Next() {
		return 0, false, it.rows.Err()
	}
	var id uint32
	if err := it.rows.Scan(&id); err != nil {
		return 0, false, fmt.Errorf("mediadb: scan row: %w", err)
	}
	return id, true, nil
}

func (it *pgIterator) Close() error { return it.rows.Close() }

// QueryStart runs filter's SQL against the files table and returns a
// streaming iterator of ids.
func (p *Postgres) QueryStart(ctx context.Context, filter Filter) (Iterator, error) {
	query := fmt.Sprintf("SELECT id FROM files WHERE %s ORDER BY %s", filter.Where, filter.OrderBy)
	rows, err := p.db.QueryxContext(ctx, query, filter.Args...)
	if err != nil {
		return nil, fmt.Errorf("mediadb: query: %w", err)
	}
	return &pgIterator{rows: rows}, nil
}

// FetchByID resolves a single file's metadata.
func (p *Postgres) FetchByID(ctx context.Context, id uint32) (FileMeta, error) {
	var m FileMeta
	err := p.db.GetContext(ctx, &m,
		`SELECT id, path, title, album, artist, disabled FROM files WHERE id = $1`, id)
	if err != nil {
		return FileMeta{}, fmt.Errorf("mediadb: fetch id %d: %w", id, err)
	}
	return m, nil
}
