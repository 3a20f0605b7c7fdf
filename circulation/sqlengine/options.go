package sqlengine

import (
	"regexp"

	"github.com/openshelf/circulation-go/circulation"
)

// Option defines a functional option for configuring an Engine.
type Option func(*Engine) error

var tablePrefixPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// WithDialect selects the SQL flavor the engine renders. The pgx
// constructor always uses postgres; sql.DB and sqlx connections default to
// postgres and must opt into sqlite3 explicitly.
func WithDialect(dialect Dialect) Option {
	return func(e *Engine) error {
		if dialect != DialectPostgres && dialect != DialectSQLite {
			return circulation.ErrInvalidDialect
		}

		e.dialect = dialect

		return nil
	}
}

// WithTablePrefix prepends a prefix to every table name the engine touches,
// so multiple deployments can share a database. The prefix must be a plain
// identifier; it is interpolated into DDL and queries unquoted.
func WithTablePrefix(prefix string) Option {
	return func(e *Engine) error {
		if !tablePrefixPattern.MatchString(prefix) {
			return circulation.ErrInvalidTablePrefix
		}

		e.tablePrefix = prefix

		return nil
	}
}

// WithLogger sets the logger for the engine.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Info level: operation outcomes (production-safe)
// Warn level: non-critical issues like journaling failures
// Error level: critical failures that cause operation failures.
func WithLogger(logger circulation.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithContextualLogger sets a context-aware logger for the engine.
// Operation and corruption logs then carry the request context, so a
// bridge like oteladapters.SlogBridgeLogger correlates them with the
// active trace. It takes precedence over WithLogger for those messages.
func WithContextualLogger(logger circulation.ContextualLogger) Option {
	return func(e *Engine) error {
		e.ctxLogger = logger
		return nil
	}
}

// WithTracingCollector sets the tracing collector for the engine. Command
// operations run inside a span named after the command.
func WithTracingCollector(tracing circulation.TracingCollector) Option {
	return func(e *Engine) error {
		e.tracing = tracing
		return nil
	}
}

// WithMetricsCollector sets the metrics collector for the engine.
func WithMetricsCollector(metrics circulation.MetricsCollector) Option {
	return func(e *Engine) error {
		e.metrics = metrics
		return nil
	}
}

// WithClock replaces the engine's time source. Tests use this to drive
// due dates, fines and overdue sweeps deterministically.
func WithClock(clock circulation.Clock) Option {
	return func(e *Engine) error {
		e.now = clock
		return nil
	}
}

// WithDefaultLoanPeriod sets the loan period applied when a borrow request
// does not specify one.
func WithDefaultLoanPeriod(days int) Option {
	return func(e *Engine) error {
		if days <= 0 {
			return circulation.ErrInvalidLoanPeriod
		}

		e.loanPeriodDays = days

		return nil
	}
}

// WithDailyFineRate sets the fine charged per day a return is late.
func WithDailyFineRate(rate float64) Option {
	return func(e *Engine) error {
		if rate < 0 {
			return circulation.ErrInvalidFineRate
		}

		e.dailyFineRate = rate

		return nil
	}
}
