package memoryengine_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openshelf/circulation-go/circulation"
	"github.com/openshelf/circulation-go/circulation/memoryengine"
	"github.com/openshelf/circulation-go/testutil/enginetest"
)

func Test_Engine_PassesConformanceSuite(t *testing.T) {
	enginetest.Run(t, func(t *testing.T, clock *enginetest.Clock) enginetest.Engine {
		engine, err := memoryengine.NewEngine(
			memoryengine.WithClock(clock.Now),
			memoryengine.WithDefaultLoanPeriod(circulation.DefaultLoanPeriodDays),
			memoryengine.WithDailyFineRate(circulation.DefaultDailyFineRate),
		)
		require.NoError(t, err)

		return engine
	})
}

func Test_NewEngine_Fails_WithNonPositiveLoanPeriod(t *testing.T) {
	_, err := memoryengine.NewEngine(memoryengine.WithDefaultLoanPeriod(0))

	assert.ErrorIs(t, err, circulation.ErrInvalidLoanPeriod)
}

func Test_NewEngine_Fails_WithNegativeFineRate(t *testing.T) {
	_, err := memoryengine.NewEngine(memoryengine.WithDailyFineRate(-0.5))

	assert.ErrorIs(t, err, circulation.ErrInvalidFineRate)
}

func Test_Engine_ConcurrentBorrows_NeverOverdrawInventory(t *testing.T) {
	// arrange
	const copies = 10
	const borrowers = 50

	engine, err := memoryengine.NewEngine()
	require.NoError(t, err)

	ctx := context.Background()
	_, err = engine.AddItem(ctx, circulation.CatalogueItem{Code: "978-0134190440", Title: "The Go Programming Language", TotalCopies: copies})
	require.NoError(t, err)

	for i := 0; i < borrowers; i++ {
		_, err = engine.RegisterMember(ctx, circulation.Member{Code: memberCode(i), Name: "Borrower"})
		require.NoError(t, err)
	}

	// act: all borrowers race for the same item
	var succeeded atomic.Int32
	var refused atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < borrowers; i++ {
		wg.Add(1)
		go func(member string) {
			defer wg.Done()

			_, borrowErr := engine.Borrow(ctx, "978-0134190440", member, 0)
			switch {
			case borrowErr == nil:
				succeeded.Add(1)
			case assert.ErrorIs(t, borrowErr, circulation.ErrNoCopiesAvailable):
				refused.Add(1)
			}
		}(memberCode(i))
	}
	wg.Wait()

	// assert: exactly the stocked copies went out, the counter hit zero exactly
	assert.Equal(t, int32(copies), succeeded.Load())
	assert.Equal(t, int32(borrowers-copies), refused.Load())

	item, err := engine.GetItem(ctx, "978-0134190440")
	require.NoError(t, err)
	assert.Equal(t, 0, item.AvailableCopies)

	stats, err := engine.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, copies, stats.ActiveLoans)
}

func Test_Engine_ReturnsLockTimeout_WhenWriterHoldsTheLock(t *testing.T) {
	// arrange: a clock that can be parked while the borrow holds the write lock
	block := make(chan struct{})
	var parked atomic.Bool

	clock := func() time.Time {
		if parked.Load() {
			<-block
		}

		return time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	}

	engine, err := memoryengine.NewEngine(
		memoryengine.WithClock(clock),
		memoryengine.WithLockTimeout(50*time.Millisecond),
	)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = engine.AddItem(ctx, circulation.CatalogueItem{Code: "978-0134190440", Title: "The Go Programming Language", TotalCopies: 1})
	require.NoError(t, err)
	_, err = engine.RegisterMember(ctx, circulation.Member{Code: "M-001", Name: "Ada Lovelace"})
	require.NoError(t, err)

	parked.Store(true)

	borrowDone := make(chan struct{})
	go func() {
		defer close(borrowDone)

		_, _ = engine.Borrow(ctx, "978-0134190440", "M-001", 0)
	}()

	// the borrow goroutine reaches the clock only once it holds the write lock
	require.Eventually(t, func() bool {
		readCtx, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
		defer cancel()
		_, readErr := engine.GetItem(readCtx, "978-0134190440")

		return readErr != nil
	}, time.Second, 5*time.Millisecond)

	// act
	_, err = engine.GetItem(ctx, "978-0134190440")

	// assert
	assert.ErrorIs(t, err, circulation.ErrLockTimeout)

	// cleanup: unpark the clock and let the borrow finish
	parked.Store(false)
	close(block)
	<-borrowDone
}

func memberCode(i int) string {
	return "M-" + string(rune('A'+i/26)) + string(rune('A'+i%26))
}

func Test_Engine_EmitsSpansForCommands(t *testing.T) {
	// arrange
	collector := &capturingTracingCollector{}
	engine, err := memoryengine.NewEngine(memoryengine.WithTracingCollector(collector))
	require.NoError(t, err)

	ctx := t.Context()

	// act
	_, addErr := engine.AddItem(ctx, circulation.CatalogueItem{Code: "978-0134190440", Title: "The Go Programming Language", TotalCopies: 1})
	_, borrowErr := engine.Borrow(ctx, "978-0134190440", "nobody", 0)

	// assert
	require.NoError(t, addErr)
	require.Error(t, borrowErr)

	require.Len(t, collector.finished, 2)
	assert.Equal(t, "circulation.add_item", collector.finished[0].name)
	assert.Equal(t, "success", collector.finished[0].status)
	assert.Equal(t, "circulation.borrow", collector.finished[1].name)
	assert.Equal(t, "error", collector.finished[1].status)
}

func Test_Engine_InstrumentsEveryCommand(t *testing.T) {
	// arrange
	collector := &capturingTracingCollector{}
	engine, err := memoryengine.NewEngine(memoryengine.WithTracingCollector(collector))
	require.NoError(t, err)

	ctx := t.Context()

	// act: run each command once
	item := circulation.CatalogueItem{Code: "978-0134190440", Title: "The Go Programming Language", TotalCopies: 1}
	_, err = engine.AddItem(ctx, item)
	require.NoError(t, err)
	item.Title = "The Go Programming Language, 2nd Edition"
	_, err = engine.UpdateItem(ctx, item)
	require.NoError(t, err)
	_, err = engine.RegisterMember(ctx, circulation.Member{Code: "M-001", Name: "Ada Lovelace"})
	require.NoError(t, err)
	require.NoError(t, engine.SetMemberStanding(ctx, "M-001", circulation.StandingNormal))

	loan, err := engine.Borrow(ctx, "978-0134190440", "M-001", 0)
	require.NoError(t, err)
	_, err = engine.ReturnLoan(ctx, loan.ID)
	require.NoError(t, err)
	_, err = engine.SweepOverdue(ctx, time.Now())
	require.NoError(t, err)

	require.NoError(t, engine.RemoveMember(ctx, "M-001"))
	require.NoError(t, engine.RemoveItem(ctx, "978-0134190440"))

	// assert: every command produced a span
	require.Len(t, collector.finished, 9)

	names := make([]string, 0, len(collector.finished))
	for _, span := range collector.finished {
		assert.Equal(t, "success", span.status)
		names = append(names, span.name)
	}

	assert.Equal(t, []string{
		"circulation.add_item",
		"circulation.update_item",
		"circulation.register_member",
		"circulation.set_member_standing",
		"circulation.borrow",
		"circulation.return_loan",
		"circulation.sweep_overdue",
		"circulation.remove_member",
		"circulation.remove_item",
	}, names)
}

func Test_Engine_RoutesOperationLogsThroughContextualLogger(t *testing.T) {
	// arrange
	logger := &capturingContextualLogger{}
	engine, err := memoryengine.NewEngine(memoryengine.WithContextualLogger(logger))
	require.NoError(t, err)

	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "request-7")

	// act
	_, err = engine.AddItem(ctx, circulation.CatalogueItem{Code: "978-0134190440", Title: "The Go Programming Language", TotalCopies: 1})
	require.NoError(t, err)
	_, err = engine.RegisterMember(ctx, circulation.Member{Code: "M-001", Name: "Ada Lovelace"})
	require.NoError(t, err)
	loan, err := engine.Borrow(ctx, "978-0134190440", "M-001", 0)
	require.NoError(t, err)
	_, err = engine.ReturnLoan(ctx, loan.ID)
	require.NoError(t, err)

	// assert: each committed operation was logged with the caller's context
	require.Len(t, logger.infos, 4)
	assert.Equal(t, "circulation operation: item added", logger.infos[0].msg)
	assert.Equal(t, "circulation operation: member registered", logger.infos[1].msg)
	assert.Equal(t, "circulation operation: loan opened", logger.infos[2].msg)
	assert.Equal(t, "circulation operation: loan returned", logger.infos[3].msg)

	for _, entry := range logger.infos {
		assert.Equal(t, "request-7", entry.ctx.Value(ctxKey{}))
	}
}

type capturedSpan struct {
	name   string
	status string
}

type capturingTracingCollector struct {
	mu       sync.Mutex
	finished []capturedSpan
}

func (c *capturingTracingCollector) StartSpan(
	ctx context.Context, name string, _ map[string]string,
) (context.Context, circulation.SpanContext) {
	return ctx, &capturedSpan{name: name}
}

func (c *capturingTracingCollector) FinishSpan(spanCtx circulation.SpanContext, status string, _ map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	span := spanCtx.(*capturedSpan)
	span.status = status
	c.finished = append(c.finished, *span)
}

func (s *capturedSpan) SetStatus(status string) { s.status = status }

func (s *capturedSpan) AddAttribute(_ string, _ string) {}

type capturedLog struct {
	ctx context.Context
	msg string
}

type capturingContextualLogger struct {
	mu     sync.Mutex
	infos  []capturedLog
	errors []capturedLog
}

func (l *capturingContextualLogger) DebugContext(_ context.Context, _ string, _ ...any) {}

func (l *capturingContextualLogger) InfoContext(ctx context.Context, msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.infos = append(l.infos, capturedLog{ctx: ctx, msg: msg})
}

func (l *capturingContextualLogger) WarnContext(_ context.Context, _ string, _ ...any) {}

func (l *capturingContextualLogger) ErrorContext(ctx context.Context, msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.errors = append(l.errors, capturedLog{ctx: ctx, msg: msg})
}
