package resultcache

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE result(
			id INTEGER PRIMARY KEY,
			key TEXT NOT NULL,
			kind TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at INT NOT NULL
		);

		CREATE UNIQUE INDEX idx_result_key ON result (key);
		CREATE INDEX idx_result_created_at ON result (created_at);
	`))

	return migs
}
