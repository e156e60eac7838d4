// Package dumpindex catalogs captured memory dumps (spec §6.2's artifact,
// expanded by SPEC_FULL.md §6.2a) in a local SQLite database so an offline
// diagnosis session can query past captures by ground-truth tag instead
// of grepping JSON sidecars. Grounded on the teacher's internal/persistence
// SQLiteRepository: open, migrate once, expose typed query methods.
package dumpindex

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/apmlabs/memscan-core/internal/dump"
)

// Repository is a handle onto the dump catalog database.
type Repository struct {
	db *sql.DB
}

// Open opens (creating if necessary) the catalog database at dbPath and
// brings its schema up to date.
func Open(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open dumpindex database")
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

// Close releases the underlying database handle.
func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Entry is one cataloged dump file.
type Entry struct {
	Path         string
	CaptureID    string
	CapturedAt   time.Time
	ProcessName  string
	HeroHandle   string
	GTHandID     uint64
	GTHeroCards  string
	GTBufferAddr uint64
	IngestedAt   time.Time
}

// Ingest reads path's sidecar metadata and upserts a catalog row for it.
// Re-ingesting a known path refreshes its row rather than erroring, so a
// directory watcher (internal/dumpwatch) can call it unconditionally.
func (r *Repository) Ingest(ctx context.Context, path string) error {
	meta, err := dump.ReadSidecar(path)
	if err != nil {
		return errors.Wrapf(err, "read sidecar for %s", path)
	}

	const stmt = `INSERT INTO dumps(
		path, capture_id, captured_at, process_name, hero_handle,
		gt_hand_id, gt_hero_cards, gt_buffer_addr, ingested_at
	) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(path) DO UPDATE SET
		capture_id=excluded.capture_id,
		captured_at=excluded.captured_at,
		process_name=excluded.process_name,
		hero_handle=excluded.hero_handle,
		gt_hand_id=excluded.gt_hand_id,
		gt_hero_cards=excluded.gt_hero_cards,
		gt_buffer_addr=excluded.gt_buffer_addr,
		ingested_at=excluded.ingested_at`

	capturedAt := time.Unix(meta.CapturedAtUnix, 0).UTC()
	_, err = r.db.ExecContext(ctx, stmt,
		path,
		meta.CaptureID,
		capturedAt.Format(time.RFC3339Nano),
		meta.ProcessName,
		meta.HeroHandle,
		meta.GTHandID,
		meta.GTHeroCards,
		meta.GTBufferAddr,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return errors.Wrapf(err, "upsert dump catalog row for %s", path)
	}
	return nil
}

// Filter narrows ListDumps results.
type Filter struct {
	HandID uint64 // zero means "any"
}

// ListDumps returns cataloged dumps matching f, newest-captured first.
func (r *Repository) ListDumps(ctx context.Context, f Filter) ([]Entry, error) {
	query := `SELECT path, capture_id, captured_at, process_name, hero_handle,
		gt_hand_id, gt_hero_cards, gt_buffer_addr, ingested_at
		FROM dumps WHERE 1=1`
	args := make([]any, 0, 1)
	if f.HandID != 0 {
		query += ` AND gt_hand_id = ?`
		args = append(args, f.HandID)
	}
	query += ` ORDER BY captured_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query dump catalog")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var capturedAt, ingestedAt string
		if err := rows.Scan(
			&e.Path, &e.CaptureID, &capturedAt, &e.ProcessName, &e.HeroHandle,
			&e.GTHandID, &e.GTHeroCards, &e.GTBufferAddr, &ingestedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan dump catalog row")
		}
		e.CapturedAt, _ = time.Parse(time.RFC3339Nano, capturedAt)
		e.IngestedAt, _ = time.Parse(time.RFC3339Nano, ingestedAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate dump catalog rows")
	}
	return out, nil
}
