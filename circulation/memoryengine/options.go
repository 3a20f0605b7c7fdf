package memoryengine

import (
	"time"

	"github.com/openshelf/circulation-go/circulation"
)

// Option defines a functional option for configuring an Engine.
type Option func(*Engine) error

// WithLogger sets the logger for the engine.
//
// Debug level: per-command details (development use)
// Info level: committed operations (production-safe)
// Error level: inventory corruption reports.
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

// WithMetricsCollector sets the metrics collector for the engine.
func WithMetricsCollector(metrics circulation.MetricsCollector) Option {
	return func(e *Engine) error {
		e.metrics = metrics
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

// WithClock replaces the engine's time source. Tests use this to drive
// due dates, overdue sweeps and fines deterministically.
func WithClock(clock circulation.Clock) Option {
	return func(e *Engine) error {
		e.now = clock
		return nil
	}
}

// WithDefaultLoanPeriod sets the loan period applied when a borrow command
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

// WithLockTimeout bounds how long any operation waits for the engine lock
// before failing with circulation.ErrLockTimeout. Zero means wait until
// the caller's context is done.
func WithLockTimeout(timeout time.Duration) Option {
	return func(e *Engine) error {
		e.lockTimeout = timeout
		return nil
	}
}
