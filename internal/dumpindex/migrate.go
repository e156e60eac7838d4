package dumpindex

import (
	"database/sql"
	"embed"
	"sync"

	"github.com/pressly/goose/v3"
	"github.com/pkg/errors"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

var migrationSetupOnce sync.Once

// runMigrations applies every pending migration, grounded on the
// teacher's persistence.runMigrations: goose against an embedded FS,
// dialect set exactly once regardless of how many catalogs are opened in
// one process.
func runMigrations(db *sql.DB) error {
	var setupErr error
	migrationSetupOnce.Do(func() {
		goose.SetBaseFS(migrationFS)
		setupErr = goose.SetDialect("sqlite3")
	})
	if setupErr != nil {
		return errors.Wrap(setupErr, "setup goose dialect")
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return errors.Wrap(err, "run dumpindex migrations")
	}
	return nil
}
