package sqlengine_test

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite" // driver import

	"github.com/openshelf/circulation-go/circulation"
	"github.com/openshelf/circulation-go/circulation/sqlengine"
	"github.com/openshelf/circulation-go/testutil/enginetest"
)

func Test_Engine_PassesConformanceSuite_OnSQLite(t *testing.T) {
	enginetest.Run(t, func(t *testing.T, clock *enginetest.Clock) enginetest.Engine {
		engine, _ := newSQLiteEngine(t, clock)

		return engine
	})
}

func Test_Engine_PassesConformanceSuite_OnSQLite_WithTablePrefix(t *testing.T) {
	enginetest.Run(t, func(t *testing.T, clock *enginetest.Clock) enginetest.Engine {
		db := openSQLiteDB(t)

		engine, err := sqlengine.NewEngineFromSQLDB(db,
			sqlengine.WithDialect(sqlengine.DialectSQLite),
			sqlengine.WithTablePrefix("branch1_"),
			sqlengine.WithClock(clock.Now),
		)
		require.NoError(t, err)
		require.NoError(t, engine.CreateSchema(context.Background()))

		return engine
	})
}

func Test_NewEngine_Fails_WithNilConnection(t *testing.T) {
	_, err := sqlengine.NewEngineFromPGXPool(nil)
	assert.ErrorIs(t, err, circulation.ErrNilDatabaseConnection)

	_, err = sqlengine.NewEngineFromSQLDB(nil)
	assert.ErrorIs(t, err, circulation.ErrNilDatabaseConnection)

	_, err = sqlengine.NewEngineFromSQLX(nil)
	assert.ErrorIs(t, err, circulation.ErrNilDatabaseConnection)
}

func Test_NewEngine_Fails_WithUnknownDialect(t *testing.T) {
	db := openSQLiteDB(t)

	_, err := sqlengine.NewEngineFromSQLDB(db, sqlengine.WithDialect("oracle"))

	assert.ErrorIs(t, err, circulation.ErrInvalidDialect)
}

func Test_NewEngine_Fails_WithMalformedTablePrefix(t *testing.T) {
	db := openSQLiteDB(t)

	_, err := sqlengine.NewEngineFromSQLDB(db, sqlengine.WithTablePrefix("drop table; --"))

	assert.ErrorIs(t, err, circulation.ErrInvalidTablePrefix)
}

func Test_ReturnLoan_Succeeds_AndReportsCorruption_WhenCounterAlreadyFull(t *testing.T) {
	// arrange
	engine, db := newSQLiteEngine(t, enginetest.NewClock(suiteStart()))
	ctx := context.Background()

	_, err := engine.AddItem(ctx, circulation.CatalogueItem{Code: "978-0134190440", Title: "The Go Programming Language", TotalCopies: 2})
	require.NoError(t, err)
	_, err = engine.RegisterMember(ctx, circulation.Member{Code: "M-001", Name: "Ada Lovelace"})
	require.NoError(t, err)
	loan, err := engine.Borrow(ctx, "978-0134190440", "M-001", 0)
	require.NoError(t, err)

	// simulate an operator fixing counters by hand while the loan is out
	_, err = db.ExecContext(ctx, `UPDATE catalogue_items SET available_copies = total_copies WHERE code = '978-0134190440'`)
	require.NoError(t, err)

	// act
	closed, err := engine.ReturnLoan(ctx, loan.ID)

	// assert: the return itself goes through
	require.NoError(t, err)
	assert.Equal(t, circulation.StatusReturned, closed.Status)

	// assert: the counter is left untouched
	item, err := engine.GetItem(ctx, "978-0134190440")
	require.NoError(t, err)
	assert.Equal(t, item.TotalCopies, item.AvailableCopies)

	// assert: the corruption is journaled
	entries, err := engine.RecentEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, circulation.InventoryCorruptionDetectedEventType, entries[0].EventType)
}

func Test_Statistics_SnapshotsAreConsistent_UnderConcurrentWrites(t *testing.T) {
	// arrange
	engine, _ := newSQLiteEngine(t, enginetest.NewClock(suiteStart()))
	ctx := context.Background()

	_, err := engine.AddItem(ctx, circulation.CatalogueItem{Code: "978-0134190440", Title: "The Go Programming Language", TotalCopies: 20})
	require.NoError(t, err)
	_, err = engine.RegisterMember(ctx, circulation.Member{Code: "M-001", Name: "Ada Lovelace"})
	require.NoError(t, err)

	// act: interleave borrow/return pairs with statistics reads
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		for i := 0; i < 20; i++ {
			loan, borrowErr := engine.Borrow(groupCtx, "978-0134190440", "M-001", 30)
			if borrowErr != nil {
				return borrowErr
			}

			if _, returnErr := engine.ReturnLoan(groupCtx, loan.ID); returnErr != nil {
				return returnErr
			}
		}

		return nil
	})

	group.Go(func() error {
		for i := 0; i < 20; i++ {
			stats, statsErr := engine.Statistics(groupCtx)
			if statsErr != nil {
				return statsErr
			}

			// assert: both totals come from the same snapshot
			if stats.TotalLoansEver != stats.ActiveLoans+stats.ReturnedLoans {
				return fmt.Errorf("inconsistent snapshot: %d loans ever, %d active, %d returned",
					stats.TotalLoansEver, stats.ActiveLoans, stats.ReturnedLoans)
			}
		}

		return nil
	})

	require.NoError(t, group.Wait())
}

func Test_Engine_JournalSurvivesAcrossEngineValues(t *testing.T) {
	// arrange: two engine values over the same database
	clock := enginetest.NewClock(suiteStart())
	engine, db := newSQLiteEngine(t, clock)
	ctx := context.Background()

	_, err := engine.AddItem(ctx, circulation.CatalogueItem{Code: "978-0134190440", Title: "The Go Programming Language", TotalCopies: 1})
	require.NoError(t, err)

	second, err := sqlengine.NewEngineFromSQLDB(db,
		sqlengine.WithDialect(sqlengine.DialectSQLite),
		sqlengine.WithClock(clock.Now),
	)
	require.NoError(t, err)

	// act
	entries, err := second.RecentEvents(ctx, 0)

	// assert
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, circulation.ItemAddedToCatalogueEventType, entries[0].EventType)
}

/***** helpers *****/

func suiteStart() time.Time {
	return time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
}

func openSQLiteDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "circulation.db"))
	require.NoError(t, err)

	// modernc sqlite serializes writers; one pooled connection avoids
	// SQLITE_BUSY noise under the conformance suite
	db.SetMaxOpenConns(1)

	t.Cleanup(func() { _ = db.Close() })

	return db
}

func newSQLiteEngine(t *testing.T, clock *enginetest.Clock) (sqlengine.Engine, *sql.DB) {
	t.Helper()

	db := openSQLiteDB(t)

	engine, err := sqlengine.NewEngineFromSQLDB(db,
		sqlengine.WithDialect(sqlengine.DialectSQLite),
		sqlengine.WithClock(clock.Now),
	)
	require.NoError(t, err)
	require.NoError(t, engine.CreateSchema(context.Background()))

	return engine, db
}
