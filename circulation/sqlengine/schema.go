package sqlengine

import (
	"context"
	"fmt"
)

// CreateSchema creates the engine's tables and indexes if they do not
// exist yet. It is safe to call on every startup.
//
// Dates are stored as ISO-8601 text columns so the same schema shape works
// on PostgreSQL and SQLite; the engine performs all date arithmetic itself.
func (e Engine) CreateSchema(ctx context.Context) error {
	for _, stmt := range e.schemaStatements() {
		if _, err := e.db.Exec(ctx, stmt); err != nil {
			e.logError(logMsgDBExecFailed, err)
			return err
		}
	}

	return nil
}

func (e Engine) schemaStatements() []string {
	idColumn := "BIGSERIAL PRIMARY KEY"
	realType := "DOUBLE PRECISION"

	if e.dialect == DialectSQLite {
		idColumn = "INTEGER PRIMARY KEY AUTOINCREMENT"
		realType = "REAL"
	}

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			code TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			author TEXT NOT NULL DEFAULT '',
			publisher TEXT NOT NULL DEFAULT '',
			publish_date TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			price %s NOT NULL DEFAULT 0,
			description TEXT NOT NULL DEFAULT '',
			total_copies INTEGER NOT NULL,
			available_copies INTEGER NOT NULL,
			CHECK (available_copies >= 0),
			CHECK (available_copies <= total_copies)
		)`, e.itemsTable(), realType),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			code TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			gender TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			registered_on TEXT NOT NULL DEFAULT '',
			standing TEXT NOT NULL DEFAULT 'normal'
		)`, e.membersTable()),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id %s,
			item_code TEXT NOT NULL,
			member_code TEXT NOT NULL,
			borrowed_on TEXT NOT NULL,
			due_on TEXT NOT NULL,
			returned_on TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			fine_amount %s NOT NULL DEFAULT 0
		)`, e.loansTable(), idColumn, realType),

		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_item_code_idx ON %s (item_code)`,
			e.loansTable(), e.loansTable()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_member_code_idx ON %s (member_code)`,
			e.loansTable(), e.loansTable()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_status_idx ON %s (status)`,
			e.loansTable(), e.loansTable()),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq %s,
			event_id TEXT NOT NULL UNIQUE,
			event_type TEXT NOT NULL,
			occurred_at TEXT NOT NULL,
			payload TEXT NOT NULL
		)`, e.journalTable(), idColumn),
	}
}
