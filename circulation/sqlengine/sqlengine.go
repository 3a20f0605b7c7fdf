package sqlengine

import (
	"context"
	"database/sql"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect import
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect import
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/openshelf/circulation-go/circulation"
	"github.com/openshelf/circulation-go/circulation/sqlengine/internal/adapters"
)

// Dialect selects the SQL flavor the engine renders.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

const (
	tableItems   = "catalogue_items"
	tableMembers = "members"
	tableLoans   = "loans"
	tableJournal = "journal"

	colCode            = "code"
	colTitle           = "title"
	colAuthor          = "author"
	colPublisher       = "publisher"
	colPublishDate     = "publish_date"
	colCategory        = "category"
	colPrice           = "price"
	colDescription     = "description"
	colTotalCopies     = "total_copies"
	colAvailableCopies = "available_copies"

	colName         = "name"
	colGender       = "gender"
	colPhone        = "phone"
	colEmail        = "email"
	colAddress      = "address"
	colRegisteredOn = "registered_on"
	colStanding     = "standing"

	colLoanID     = "id"
	colItemCode   = "item_code"
	colMemberCode = "member_code"
	colBorrowedOn = "borrowed_on"
	colDueOn      = "due_on"
	colReturnedOn = "returned_on"
	colStatus     = "status"
	colFineAmount = "fine_amount"

	colSeq        = "seq"
	colEventID    = "event_id"
	colEventType  = "event_type"
	colOccurredAt = "occurred_at"
	colPayload    = "payload"

	logMsgBuildQueryFailed    = "failed to build query"
	logMsgDBQueryFailed       = "database query execution failed"
	logMsgDBExecFailed        = "database execution failed"
	logMsgBeginTxFailed       = "failed to begin transaction"
	logMsgCommitTxFailed      = "failed to commit transaction"
	logMsgCloseRowsFailed     = "failed to close database rows"
	logMsgScanRowFailed       = "failed to scan database row"
	logMsgRowsAffectedFailed  = "failed to get rows affected count"
	logMsgInventoryCorruption = "inventory corruption detected during return"
	logMsgOperation           = "circulation operation: "

	logAttrError        = "error"
	logAttrItemCode     = "item_code"
	logAttrMemberCode   = "member_code"
	logAttrLoanID       = "loan_id"
	logAttrFineAmount   = "fine_amount"
	logAttrTransitioned = "transitioned"
)

const (
	metricCommandsTotal          = "circulation_commands_total"
	metricCommandDurationSeconds = "circulation_command_duration_seconds"
	labelCommand                 = "command"
	labelOutcome                 = "outcome"
	outcomeSuccess               = "success"
	outcomeError                 = "error"
	spanNamePrefix               = "circulation."
)

// Engine is the SQL-backed circulation engine. It is a value type holding
// only configuration and the database adapter; all state lives in the
// database.
type Engine struct {
	db          adapters.DBAdapter
	dialect     Dialect
	tablePrefix string
	logger      circulation.Logger
	ctxLogger   circulation.ContextualLogger
	metrics     circulation.MetricsCollector
	tracing     circulation.TracingCollector

	now            circulation.Clock
	loanPeriodDays int
	dailyFineRate  float64
}

// NewEngineFromPGXPool creates a new Engine using a pgx Pool with optional
// configuration. The dialect is always postgres.
func NewEngineFromPGXPool(db *pgxpool.Pool, options ...Option) (Engine, error) {
	if db == nil {
		return Engine{}, circulation.ErrNilDatabaseConnection
	}

	return newEngine(adapters.NewPGXAdapter(db), DialectPostgres, options...)
}

// NewEngineFromSQLDB creates a new Engine using a sql.DB with optional
// configuration. The dialect defaults to postgres; pass
// WithDialect(DialectSQLite) for SQLite connections.
func NewEngineFromSQLDB(db *sql.DB, options ...Option) (Engine, error) {
	if db == nil {
		return Engine{}, circulation.ErrNilDatabaseConnection
	}

	return newEngine(adapters.NewSQLAdapter(db), DialectPostgres, options...)
}

// NewEngineFromSQLX creates a new Engine using a sqlx.DB with optional
// configuration. The dialect defaults to postgres.
func NewEngineFromSQLX(db *sqlx.DB, options ...Option) (Engine, error) {
	if db == nil {
		return Engine{}, circulation.ErrNilDatabaseConnection
	}

	return newEngine(adapters.NewSQLXAdapter(db), DialectPostgres, options...)
}

func newEngine(db adapters.DBAdapter, dialect Dialect, options ...Option) (Engine, error) {
	e := Engine{
		db:             db,
		dialect:        dialect,
		now:            time.Now,
		loanPeriodDays: circulation.DefaultLoanPeriodDays,
		dailyFineRate:  circulation.DefaultDailyFineRate,
	}

	for _, option := range options {
		if err := option(&e); err != nil {
			return Engine{}, err
		}
	}

	return e, nil
}

/***** shared helpers *****/

// rowQuerier is the read surface shared by the adapter and its transactions.
type rowQuerier interface {
	Query(ctx context.Context, query string) (adapters.DBRows, error)
}

func (e Engine) closeRows(rows adapters.DBRows) {
	if err := rows.Close(); err != nil && e.logger != nil {
		e.logger.Warn(logMsgCloseRowsFailed, logAttrError, err.Error())
	}
}

func (e Engine) builder() goqu.DialectWrapper {
	return goqu.Dialect(string(e.dialect))
}

func (e Engine) itemsTable() string   { return e.tablePrefix + tableItems }
func (e Engine) membersTable() string { return e.tablePrefix + tableMembers }
func (e Engine) loansTable() string   { return e.tablePrefix + tableLoans }
func (e Engine) journalTable() string { return e.tablePrefix + tableJournal }

func (e Engine) beginTx(ctx context.Context) (adapters.DBTx, error) {
	tx, err := e.db.BeginTx(ctx)
	if err != nil {
		e.logError(logMsgBeginTxFailed, err)
		return nil, err
	}

	return tx, nil
}

func (e Engine) commitTx(tx adapters.DBTx) error {
	if err := tx.Commit(); err != nil {
		e.logError(logMsgCommitTxFailed, err)
		return err
	}

	return nil
}

// execTx renders and executes a statement inside the transaction and
// returns the number of affected rows.
func (e Engine) execTx(ctx context.Context, tx adapters.DBTx, sqlQuery string) (int64, error) {
	result, execErr := tx.Exec(ctx, sqlQuery)
	if execErr != nil {
		e.logError(logMsgDBExecFailed, execErr)
		return 0, execErr
	}

	affected, affectedErr := result.RowsAffected()
	if affectedErr != nil {
		e.logError(logMsgRowsAffectedFailed, affectedErr)
		return 0, affectedErr
	}

	return affected, nil
}

// journalTx appends a journal entry inside the transaction, so that the
// journal always matches the committed mutations.
func (e Engine) journalTx(ctx context.Context, tx adapters.DBTx, event circulation.JournalEvent) error {
	entry, buildErr := circulation.BuildJournalEntry(event)
	if buildErr != nil {
		return buildErr
	}

	sqlQuery, _, toSQLErr := e.builder().
		Insert(e.journalTable()).
		Rows(goqu.Record{
			colEventID:    entry.EventID,
			colEventType:  entry.EventType,
			colOccurredAt: entry.OccurredAt.UTC().Format(time.RFC3339Nano),
			colPayload:    string(entry.Payload),
		}).
		ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr)
		return toSQLErr
	}

	_, execErr := tx.Exec(ctx, sqlQuery)
	if execErr != nil {
		e.logError(logMsgDBExecFailed, execErr)
		return execErr
	}

	return nil
}

func (e Engine) logError(msg string, err error) {
	if e.logger != nil {
		e.logger.Error(msg, logAttrError, err.Error())
	}
}

// logOperation logs a committed operation at info level. The contextual
// logger wins when both are configured, so trace correlation is kept.
func (e Engine) logOperation(ctx context.Context, action string, args ...any) {
	if e.ctxLogger != nil {
		e.ctxLogger.InfoContext(ctx, logMsgOperation+action, args...)
		return
	}

	if e.logger != nil {
		e.logger.Info(logMsgOperation+action, args...)
	}
}

// logErrorContext logs a failure tied to a request context, preferring the
// contextual logger like logOperation does.
func (e Engine) logErrorContext(ctx context.Context, msg string, args ...any) {
	if e.ctxLogger != nil {
		e.ctxLogger.ErrorContext(ctx, msg, args...)
		return
	}

	if e.logger != nil {
		e.logger.Error(msg, args...)
	}
}

func (e Engine) recordCommand(command string, start time.Time, err error) {
	if e.metrics == nil {
		return
	}

	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeError
	}

	e.metrics.IncrementCounter(metricCommandsTotal, map[string]string{labelCommand: command, labelOutcome: outcome})
	e.metrics.RecordDuration(metricCommandDurationSeconds, time.Since(start), map[string]string{labelCommand: command})
}

func (e Engine) startCommandSpan(ctx context.Context, command string) (context.Context, circulation.SpanContext) {
	if e.tracing == nil {
		return ctx, nil
	}

	return e.tracing.StartSpan(ctx, spanNamePrefix+command, map[string]string{labelCommand: command})
}

func (e Engine) finishCommandSpan(span circulation.SpanContext, err error) {
	if e.tracing == nil || span == nil {
		return
	}

	if err != nil {
		e.tracing.FinishSpan(span, outcomeError, map[string]string{logAttrError: err.Error()})
		return
	}

	e.tracing.FinishSpan(span, outcomeSuccess, nil)
}

// formatNullableDate renders a date column value, using the empty string
// for the zero time (a loan not yet returned).
func formatNullableDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return circulation.FormatDate(t)
}

// parseNullableDate is the inverse of formatNullableDate.
func parseNullableDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}

	return circulation.ParseDate(s)
}
