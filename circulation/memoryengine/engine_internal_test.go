package memoryengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openshelf/circulation-go/circulation"
)

// Inventory corruption cannot be produced through the public API, so these
// tests reach into the engine's state to simulate an operator fixing
// counters by hand between a borrow and its return.

func Test_ReturnLoan_Succeeds_AndReportsCorruption_WhenCounterAlreadyFull(t *testing.T) {
	// arrange
	engine, ctx, loan := engineWithOpenLoan(t)

	engine.items["978-0134190440"].AvailableCopies = engine.items["978-0134190440"].TotalCopies

	// act
	closed, err := engine.ReturnLoan(ctx, loan.ID)

	// assert: the return itself goes through
	require.NoError(t, err)
	assert.Equal(t, circulation.StatusReturned, closed.Status)

	// assert: the counter is left untouched
	item, err := engine.GetItem(ctx, "978-0134190440")
	require.NoError(t, err)
	assert.Equal(t, item.TotalCopies, item.AvailableCopies)

	assertCorruptionJournaled(t, engine, ctx)
}

func Test_ReturnLoan_Succeeds_AndReportsCorruption_WhenItemVanished(t *testing.T) {
	// arrange
	engine, ctx, loan := engineWithOpenLoan(t)

	delete(engine.items, "978-0134190440")

	// act
	closed, err := engine.ReturnLoan(ctx, loan.ID)

	// assert
	require.NoError(t, err)
	assert.Equal(t, circulation.StatusReturned, closed.Status)

	assertCorruptionJournaled(t, engine, ctx)
}

func Test_ReturnLoan_LogsCorruptionAsSentinelError(t *testing.T) {
	// arrange
	engine, ctx, loan := engineWithOpenLoan(t)
	logger := &sentinelCapturingLogger{}
	engine.ctxLogger = logger

	delete(engine.items, "978-0134190440")

	// act
	_, err := engine.ReturnLoan(ctx, loan.ID)

	// assert
	require.NoError(t, err)
	require.Len(t, logger.errorArgs, 1)
	assert.Contains(t, argString(t, logger.errorArgs[0], logAttrError), circulation.ErrCorruptedInventory.Error())
}

func engineWithOpenLoan(t *testing.T) (*Engine, context.Context, circulation.Loan) {
	t.Helper()

	engine, err := NewEngine()
	require.NoError(t, err)

	ctx := context.Background()

	_, err = engine.AddItem(ctx, circulation.CatalogueItem{Code: "978-0134190440", Title: "The Go Programming Language", TotalCopies: 2})
	require.NoError(t, err)

	_, err = engine.RegisterMember(ctx, circulation.Member{Code: "M-001", Name: "Ada Lovelace"})
	require.NoError(t, err)

	loan, err := engine.Borrow(ctx, "978-0134190440", "M-001", 0)
	require.NoError(t, err)

	return engine, ctx, loan
}

func assertCorruptionJournaled(t *testing.T, engine *Engine, ctx context.Context) {
	t.Helper()

	entries, err := engine.RecentEvents(ctx, 0)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	last := entries[len(entries)-1]
	assert.Equal(t, circulation.InventoryCorruptionDetectedEventType, last.EventType)
}

// sentinelCapturingLogger records the key/value args of every error log.
type sentinelCapturingLogger struct {
	errorArgs [][]any
}

func (l *sentinelCapturingLogger) DebugContext(_ context.Context, _ string, _ ...any) {}
func (l *sentinelCapturingLogger) InfoContext(_ context.Context, _ string, _ ...any)  {}
func (l *sentinelCapturingLogger) WarnContext(_ context.Context, _ string, _ ...any)  {}

func (l *sentinelCapturingLogger) ErrorContext(_ context.Context, _ string, args ...any) {
	l.errorArgs = append(l.errorArgs, args)
}

func argString(t *testing.T, args []any, key string) string {
	t.Helper()

	for i := 0; i+1 < len(args); i += 2 {
		if args[i] == key {
			value, ok := args[i+1].(string)
			require.True(t, ok, "value for %s should be a string", key)

			return value
		}
	}

	t.Fatalf("arg %s not found", key)
	return ""
}
