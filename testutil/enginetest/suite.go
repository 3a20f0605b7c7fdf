package enginetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openshelf/circulation-go/circulation"
)

// Engine is the method set the conformance suite exercises. Both the
// in-memory engine and the SQL engine satisfy it implicitly.
type Engine interface {
	AddItem(ctx context.Context, item circulation.CatalogueItem) (circulation.CatalogueItem, error)
	UpdateItem(ctx context.Context, item circulation.CatalogueItem) (circulation.CatalogueItem, error)
	RemoveItem(ctx context.Context, code string) error
	GetItem(ctx context.Context, code string) (circulation.CatalogueItem, error)

	RegisterMember(ctx context.Context, member circulation.Member) (circulation.Member, error)
	SetMemberStanding(ctx context.Context, code string, standing circulation.Standing) error
	RemoveMember(ctx context.Context, code string) error
	GetMember(ctx context.Context, code string) (circulation.Member, error)

	Borrow(ctx context.Context, itemCode string, memberCode string, loanPeriodDays int) (circulation.Loan, error)
	ReturnLoan(ctx context.Context, id circulation.LoanID) (circulation.Loan, error)
	PreviewFine(ctx context.Context, id circulation.LoanID, asOf time.Time) (float64, error)
	SweepOverdue(ctx context.Context, asOf time.Time) (int, error)

	GetLoan(ctx context.Context, id circulation.LoanID) (circulation.Loan, error)
	SearchItems(ctx context.Context, filter circulation.ItemFilter) ([]circulation.CatalogueItem, error)
	SearchMembers(ctx context.Context, filter circulation.MemberFilter) ([]circulation.Member, error)
	SearchLoans(ctx context.Context, filter circulation.LoanFilter) ([]circulation.Loan, error)
	ListOverdueLoans(ctx context.Context) ([]circulation.OverdueLoan, error)
	Statistics(ctx context.Context) (circulation.Statistics, error)
	RecentEvents(ctx context.Context, limit int) ([]circulation.JournalEntry, error)
}

// EngineFactory builds a fresh engine wired to the supplied clock and
// configured with a daily fine rate of 0.5 and a default loan period of
// 30 days.
type EngineFactory func(t *testing.T, clock *Clock) Engine

// startOfSuite is the instant every suite clock starts at.
var startOfSuite = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

// Run executes the full conformance suite against engines built by the factory.
func Run(t *testing.T, newEngine EngineFactory) {
	t.Helper()

	t.Run("Catalogue", func(t *testing.T) {
		runCatalogueTests(t, newEngine)
	})

	t.Run("Members", func(t *testing.T) {
		runMemberTests(t, newEngine)
	})

	t.Run("Ledger", func(t *testing.T) {
		runLedgerTests(t, newEngine)
	})

	t.Run("OverdueSweep", func(t *testing.T) {
		runSweepTests(t, newEngine)
	})

	t.Run("Queries", func(t *testing.T) {
		runQueryTests(t, newEngine)
	})
}

/***** catalogue *****/

func runCatalogueTests(t *testing.T, newEngine EngineFactory) {
	t.Run("AddItem_StartsWithAllCopiesAvailable", func(t *testing.T) {
		// arrange
		engine, ctx := freshEngine(t, newEngine)

		// act
		stored, err := engine.AddItem(ctx, catalogueItem("978-0134190440", 3))

		// assert
		require.NoError(t, err)
		assert.Equal(t, 3, stored.TotalCopies)
		assert.Equal(t, 3, stored.AvailableCopies)
	})

	t.Run("AddItem_IgnoresSuppliedAvailableCount", func(t *testing.T) {
		// arrange
		engine, ctx := freshEngine(t, newEngine)
		item := catalogueItem("978-0134190440", 3)
		item.AvailableCopies = 99

		// act
		stored, err := engine.AddItem(ctx, item)

		// assert
		require.NoError(t, err)
		assert.Equal(t, 3, stored.AvailableCopies)
	})

	t.Run("AddItem_Fails_WithEmptyCode", func(t *testing.T) {
		engine, ctx := freshEngine(t, newEngine)

		_, err := engine.AddItem(ctx, catalogueItem("", 1))

		assert.ErrorIs(t, err, circulation.ErrEmptyItemCode)
	})

	t.Run("AddItem_Fails_WithNonPositiveCopyCount", func(t *testing.T) {
		engine, ctx := freshEngine(t, newEngine)

		_, err := engine.AddItem(ctx, catalogueItem("978-0134190440", 0))

		assert.ErrorIs(t, err, circulation.ErrInvalidCopyCount)
	})

	t.Run("AddItem_Fails_WithDuplicateCode", func(t *testing.T) {
		// arrange
		engine, ctx := freshEngine(t, newEngine)
		mustAddItem(t, engine, "978-0134190440", 1)

		// act
		_, err := engine.AddItem(ctx, catalogueItem("978-0134190440", 2))

		// assert
		assert.ErrorIs(t, err, circulation.ErrDuplicateItemCode)
	})

	t.Run("GetItem_Fails_WhenUnknown", func(t *testing.T) {
		engine, ctx := freshEngine(t, newEngine)

		_, err := engine.GetItem(ctx, "no-such-item")

		assert.ErrorIs(t, err, circulation.ErrItemNotFound)
	})

	t.Run("UpdateItem_PreservesOutstandingCopies", func(t *testing.T) {
		// arrange
		engine, ctx := freshEngine(t, newEngine)
		mustAddItem(t, engine, "978-0134190440", 3)
		mustRegisterMember(t, engine, "M-001")
		mustBorrow(t, engine, "978-0134190440", "M-001")

		updated := catalogueItem("978-0134190440", 5)
		updated.Title = "The Go Programming Language, 2nd Edition"

		// act
		stored, err := engine.UpdateItem(ctx, updated)

		// assert
		require.NoError(t, err)
		assert.Equal(t, 5, stored.TotalCopies)
		assert.Equal(t, 4, stored.AvailableCopies)

		fetched, err := engine.GetItem(ctx, "978-0134190440")
		require.NoError(t, err)
		assert.Equal(t, "The Go Programming Language, 2nd Edition", fetched.Title)
		assert.Equal(t, 4, fetched.AvailableCopies)
	})

	t.Run("UpdateItem_Fails_WhenTotalBelowOutstanding", func(t *testing.T) {
		// arrange
		engine, ctx := freshEngine(t, newEngine)
		mustAddItem(t, engine, "978-0134190440", 2)
		mustRegisterMember(t, engine, "M-001")
		mustRegisterMember(t, engine, "M-002")
		mustBorrow(t, engine, "978-0134190440", "M-001")
		mustBorrow(t, engine, "978-0134190440", "M-002")

		// act
		_, err := engine.UpdateItem(ctx, catalogueItem("978-0134190440", 1))

		// assert
		assert.ErrorIs(t, err, circulation.ErrInvalidCopyCount)
	})

	t.Run("UpdateItem_Fails_WhenUnknown", func(t *testing.T) {
		engine, ctx := freshEngine(t, newEngine)

		_, err := engine.UpdateItem(ctx, catalogueItem("no-such-item", 1))

		assert.ErrorIs(t, err, circulation.ErrItemNotFound)
	})

	t.Run("RemoveItem_Fails_WithActiveLoan", func(t *testing.T) {
		// arrange
		engine, ctx := freshEngine(t, newEngine)
		mustAddItem(t, engine, "978-0134190440", 1)
		mustRegisterMember(t, engine, "M-001")
		loan := mustBorrow(t, engine, "978-0134190440", "M-001")

		// act
		err := engine.RemoveItem(ctx, "978-0134190440")

		// assert
		assert.ErrorIs(t, err, circulation.ErrItemHasActiveLoans)

		// act again after the loan is closed
		_, err = engine.ReturnLoan(ctx, loan.ID)
		require.NoError(t, err)

		err = engine.RemoveItem(ctx, "978-0134190440")

		// assert
		require.NoError(t, err)
		_, err = engine.GetItem(ctx, "978-0134190440")
		assert.ErrorIs(t, err, circulation.ErrItemNotFound)
	})
}

/***** members *****/

func runMemberTests(t *testing.T, newEngine EngineFactory) {
	t.Run("RegisterMember_DefaultsToNormalStanding", func(t *testing.T) {
		// arrange
		engine, ctx := freshEngine(t, newEngine)
		member := libraryMember("M-001")
		member.Standing = ""

		// act
		stored, err := engine.RegisterMember(ctx, member)

		// assert
		require.NoError(t, err)
		assert.Equal(t, circulation.StandingNormal, stored.Standing)
	})

	t.Run("RegisterMember_Fails_WithEmptyCode", func(t *testing.T) {
		engine, ctx := freshEngine(t, newEngine)

		_, err := engine.RegisterMember(ctx, libraryMember(""))

		assert.ErrorIs(t, err, circulation.ErrEmptyMemberCode)
	})

	t.Run("RegisterMember_Fails_WithDuplicateCode", func(t *testing.T) {
		// arrange
		engine, ctx := freshEngine(t, newEngine)
		mustRegisterMember(t, engine, "M-001")

		// act
		_, err := engine.RegisterMember(ctx, libraryMember("M-001"))

		// assert
		assert.ErrorIs(t, err, circulation.ErrDuplicateMemberCode)
	})

	t.Run("RegisterMember_Fails_WithUnknownStanding", func(t *testing.T) {
		engine, ctx := freshEngine(t, newEngine)
		member := libraryMember("M-001")
		member.Standing = "banned"

		_, err := engine.RegisterMember(ctx, member)

		assert.ErrorIs(t, err, circulation.ErrInvalidStanding)
	})

	t.Run("SetMemberStanding_SuspendsAndReinstates", func(t *testing.T) {
		// arrange
		engine, ctx := freshEngine(t, newEngine)
		mustAddItem(t, engine, "978-0134190440", 2)
		mustRegisterMember(t, engine, "M-001")

		// act: suspend
		err := engine.SetMemberStanding(ctx, "M-001", circulation.StandingSuspended)
		require.NoError(t, err)

		// assert: borrowing is refused
		_, err = engine.Borrow(ctx, "978-0134190440", "M-001", 0)
		assert.ErrorIs(t, err, circulation.ErrMemberSuspended)

		// act: reinstate
		err = engine.SetMemberStanding(ctx, "M-001", circulation.StandingNormal)
		require.NoError(t, err)

		// assert: borrowing works again
		_, err = engine.Borrow(ctx, "978-0134190440", "M-001", 0)
		assert.NoError(t, err)
	})

	t.Run("SetMemberStanding_Fails_WithUnknownStanding", func(t *testing.T) {
		engine, ctx := freshEngine(t, newEngine)
		mustRegisterMember(t, engine, "M-001")

		err := engine.SetMemberStanding(ctx, "M-001", "banned")

		assert.ErrorIs(t, err, circulation.ErrInvalidStanding)
	})

	t.Run("RemoveMember_Fails_WithActiveLoan", func(t *testing.T) {
		// arrange
		engine, ctx := freshEngine(t, newEngine)
		mustAddItem(t, engine, "978-0134190440", 1)
		mustRegisterMember(t, engine, "M-001")
		loan := mustBorrow(t, engine, "978-0134190440", "M-001")

		// act
		err := engine.RemoveMember(ctx, "M-001")

		// assert
		assert.ErrorIs(t, err, circulation.ErrMemberHasActiveLoans)

		// act again after the loan is closed
		_, err = engine.ReturnLoan(ctx, loan.ID)
		require.NoError(t, err)

		err = engine.RemoveMember(ctx, "M-001")

		// assert
		require.NoError(t, err)
		_, err = engine.GetMember(ctx, "M-001")
		assert.ErrorIs(t, err, circulation.ErrMemberNotFound)
	})

	t.Run("GetMember_Fails_WhenUnknown", func(t *testing.T) {
		engine, ctx := freshEngine(t, newEngine)

		_, err := engine.GetMember(ctx, "no-such-member")

		assert.ErrorIs(t, err, circulation.ErrMemberNotFound)
	})
}

/***** ledger *****/

func runLedgerTests(t *testing.T, newEngine EngineFactory) {
	t.Run("Borrow_AppliesDefaultLoanPeriod", func(t *testing.T) {
		// arrange
		engine, ctx := freshEngine(t, newEngine)
		mustAddItem(t, engine, "978-0134190440", 1)
		mustRegisterMember(t, engine, "M-001")

		// act
		loan, err := engine.Borrow(ctx, "978-0134190440", "M-001", 0)

		// assert
		require.NoError(t, err)
		assert.Equal(t, circulation.StatusOnLoan, loan.Status)
		assert.Equal(t, circulation.DateOf(startOfSuite), loan.BorrowedOn)
		assert.Equal(t, circulation.DateOf(startOfSuite).AddDate(0, 0, 30), loan.DueOn)
		assert.Positive(t, loan.ID)
	})

	t.Run("Borrow_AppliesExplicitLoanPeriod", func(t *testing.T) {
		// arrange
		engine, ctx := freshEngine(t, newEngine)
		mustAddItem(t, engine, "978-0134190440", 1)
		mustRegisterMember(t, engine, "M-001")

		// act
		loan, err := engine.Borrow(ctx, "978-0134190440", "M-001", 7)

		// assert
		require.NoError(t, err)
		assert.Equal(t, circulation.DateOf(startOfSuite).AddDate(0, 0, 7), loan.DueOn)
	})

	t.Run("Borrow_Fails_WithNegativeLoanPeriod", func(t *testing.T) {
		engine, ctx := freshEngine(t, newEngine)
		mustAddItem(t, engine, "978-0134190440", 1)
		mustRegisterMember(t, engine, "M-001")

		_, err := engine.Borrow(ctx, "978-0134190440", "M-001", -1)

		assert.ErrorIs(t, err, circulation.ErrInvalidLoanPeriod)
	})

	t.Run("Borrow_ChecksItemBeforeMember", func(t *testing.T) {
		engine, ctx := freshEngine(t, newEngine)

		_, err := engine.Borrow(ctx, "no-such-item", "no-such-member", 0)

		assert.ErrorIs(t, err, circulation.ErrItemNotFound)
	})

	t.Run("Borrow_Fails_WhenMemberUnknown", func(t *testing.T) {
		engine, ctx := freshEngine(t, newEngine)
		mustAddItem(t, engine, "978-0134190440", 1)

		_, err := engine.Borrow(ctx, "978-0134190440", "no-such-member", 0)

		assert.ErrorIs(t, err, circulation.ErrMemberNotFound)
	})

	t.Run("Borrow_ExhaustsInventoryCopyByCopy", func(t *testing.T) {
		// arrange
		engine, ctx := freshEngine(t, newEngine)
		mustAddItem(t, engine, "978-0134190440", 2)
		mustRegisterMember(t, engine, "M-001")
		mustRegisterMember(t, engine, "M-002")
		mustRegisterMember(t, engine, "M-003")

		// act + assert, copy by copy
		_, err := engine.Borrow(ctx, "978-0134190440", "M-001", 30)
		require.NoError(t, err)
		assertAvailable(t, engine, "978-0134190440", 1)

		_, err = engine.Borrow(ctx, "978-0134190440", "M-002", 30)
		require.NoError(t, err)
		assertAvailable(t, engine, "978-0134190440", 0)

		_, err = engine.Borrow(ctx, "978-0134190440", "M-003", 30)
		assert.ErrorIs(t, err, circulation.ErrNoCopiesAvailable)
		assertAvailable(t, engine, "978-0134190440", 0)
	})

	t.Run("Borrow_DoesNotMutateInventory_WhenPreconditionFails", func(t *testing.T) {
		// arrange
		engine, ctx := freshEngine(t, newEngine)
		mustAddItem(t, engine, "978-0134190440", 2)
		mustRegisterMember(t, engine, "M-001")
		require.NoError(t, engine.SetMemberStanding(ctx, "M-001", circulation.StandingSuspended))

		// act
		_, err := engine.Borrow(ctx, "978-0134190440", "M-001", 0)

		// assert
		assert.ErrorIs(t, err, circulation.ErrMemberSuspended)
		assertAvailable(t, engine, "978-0134190440", 2)

		loans, err := engine.SearchLoans(ctx, circulation.LoanFilter{})
		require.NoError(t, err)
		assert.Empty(t, loans)
	})

	t.Run("ReturnLoan_SameDay_ChargesNoFine_AndRestoresAvailability", func(t *testing.T) {
		// arrange
		engine, ctx := freshEngine(t, newEngine)
		mustAddItem(t, engine, "978-0134190440", 2)
		mustRegisterMember(t, engine, "M-001")
		loan := mustBorrow(t, engine, "978-0134190440", "M-001")
		assertAvailable(t, engine, "978-0134190440", 1)

		// act
		closed, err := engine.ReturnLoan(ctx, loan.ID)

		// assert
		require.NoError(t, err)
		assert.Equal(t, circulation.StatusReturned, closed.Status)
		assert.Zero(t, closed.FineAmount)
		assert.Equal(t, circulation.DateOf(startOfSuite), closed.ReturnedOn)
		assertAvailable(t, engine, "978-0134190440", 2)
	})

	t.Run("ReturnLoan_ChargesFinePerOverdueDay", func(t *testing.T) {
		// arrange: a 10-day loan returned 15 days later is 5 days late
		engine, clock, ctx := freshEngineWithClock(t, newEngine)
		mustAddItem(t, engine, "978-0134190440", 1)
		mustRegisterMember(t, engine, "M-001")
		loan, err := engine.Borrow(ctx, "978-0134190440", "M-001", 10)
		require.NoError(t, err)

		clock.AdvanceDays(15)

		// act
		closed, err := engine.ReturnLoan(ctx, loan.ID)

		// assert: 5 days late at 0.5 per day
		require.NoError(t, err)
		assert.InDelta(t, 2.5, closed.FineAmount, 0.0001)
	})

	t.Run("ReturnLoan_Fails_WhenUnknown", func(t *testing.T) {
		engine, ctx := freshEngine(t, newEngine)

		_, err := engine.ReturnLoan(ctx, 12345)

		assert.ErrorIs(t, err, circulation.ErrLoanNotFound)
	})

	t.Run("ReturnLoan_Fails_WhenAlreadyReturned", func(t *testing.T) {
		// arrange
		engine, ctx := freshEngine(t, newEngine)
		mustAddItem(t, engine, "978-0134190440", 1)
		mustRegisterMember(t, engine, "M-001")
		loan := mustBorrow(t, engine, "978-0134190440", "M-001")
		_, err := engine.ReturnLoan(ctx, loan.ID)
		require.NoError(t, err)

		// act
		_, err = engine.ReturnLoan(ctx, loan.ID)

		// assert: and the copy is not released twice
		assert.ErrorIs(t, err, circulation.ErrLoanAlreadyReturned)
		assertAvailable(t, engine, "978-0134190440", 1)
	})

	t.Run("PreviewFine_IsMonotonicAndFrozenAfterReturn", func(t *testing.T) {
		// arrange
		engine, clock, ctx := freshEngineWithClock(t, newEngine)
		mustAddItem(t, engine, "978-0134190440", 1)
		mustRegisterMember(t, engine, "M-001")
		loan, err := engine.Borrow(ctx, "978-0134190440", "M-001", 10)
		require.NoError(t, err)

		// assert: zero up to and including the due date
		fine, err := engine.PreviewFine(ctx, loan.ID, loan.DueOn)
		require.NoError(t, err)
		assert.Zero(t, fine)

		// assert: non-decreasing as the as-of date advances
		previous := 0.0
		for day := 1; day <= 4; day++ {
			fine, err = engine.PreviewFine(ctx, loan.ID, loan.DueOn.AddDate(0, 0, day))
			require.NoError(t, err)
			assert.GreaterOrEqual(t, fine, previous)
			previous = fine
		}
		assert.InDelta(t, 2.0, previous, 0.0001)

		// act: return 12 days in, freezing the fine at 1.0
		clock.AdvanceDays(12)
		closed, err := engine.ReturnLoan(ctx, loan.ID)
		require.NoError(t, err)
		require.InDelta(t, 1.0, closed.FineAmount, 0.0001)

		// assert: later as-of dates no longer change the answer
		fine, err = engine.PreviewFine(ctx, loan.ID, loan.DueOn.AddDate(0, 0, 100))
		require.NoError(t, err)
		assert.InDelta(t, 1.0, fine, 0.0001)
	})

	t.Run("PreviewFine_Fails_WhenLoanUnknown", func(t *testing.T) {
		engine, ctx := freshEngine(t, newEngine)

		_, err := engine.PreviewFine(ctx, 12345, startOfSuite)

		assert.ErrorIs(t, err, circulation.ErrLoanNotFound)
	})
}

/***** overdue sweep *****/

func runSweepTests(t *testing.T, newEngine EngineFactory) {
	t.Run("SweepOverdue_MarksPastDueLoans_AndIsIdempotent", func(t *testing.T) {
		// arrange: one loan past due, one still current
		engine, clock, ctx := freshEngineWithClock(t, newEngine)
		mustAddItem(t, engine, "978-0134190440", 1)
		mustAddItem(t, engine, "978-0201616224", 1)
		mustRegisterMember(t, engine, "M-001")

		pastDue, err := engine.Borrow(ctx, "978-0134190440", "M-001", 5)
		require.NoError(t, err)
		current, err := engine.Borrow(ctx, "978-0201616224", "M-001", 60)
		require.NoError(t, err)

		clock.AdvanceDays(10)

		// act
		transitioned, err := engine.SweepOverdue(ctx, clock.Now())

		// assert
		require.NoError(t, err)
		assert.Equal(t, 1, transitioned)
		assertLoanStatus(t, engine, pastDue.ID, circulation.StatusOverdue)
		assertLoanStatus(t, engine, current.ID, circulation.StatusOnLoan)

		// act: the second sweep with the same as-of date flips nothing
		transitioned, err = engine.SweepOverdue(ctx, clock.Now())

		// assert
		require.NoError(t, err)
		assert.Zero(t, transitioned)

		// act: returning the overdue loan still works
		closed, err := engine.ReturnLoan(ctx, pastDue.ID)

		// assert
		require.NoError(t, err)
		assert.Equal(t, circulation.StatusReturned, closed.Status)
		assert.InDelta(t, 2.5, closed.FineAmount, 0.0001)
	})

	t.Run("SweepOverdue_JournalsExactlyTheFlippedLoans", func(t *testing.T) {
		// arrange: three past-due loans, one of which gets returned first
		engine, clock, ctx := freshEngineWithClock(t, newEngine)
		mustAddItem(t, engine, "978-0134190440", 3)
		mustRegisterMember(t, engine, "M-001")
		mustRegisterMember(t, engine, "M-002")
		mustRegisterMember(t, engine, "M-003")

		var loans []circulation.Loan
		for _, memberCode := range []string{"M-001", "M-002", "M-003"} {
			loan, err := engine.Borrow(ctx, "978-0134190440", memberCode, 5)
			require.NoError(t, err)
			loans = append(loans, loan)
		}

		clock.AdvanceDays(10)
		_, err := engine.ReturnLoan(ctx, loans[0].ID)
		require.NoError(t, err)

		// act
		transitioned, err := engine.SweepOverdue(ctx, clock.Now())

		// assert
		require.NoError(t, err)
		assert.Equal(t, 2, transitioned)

		entries, err := engine.RecentEvents(ctx, 0)
		require.NoError(t, err)

		marked := 0
		for _, entry := range entries {
			if entry.EventType == circulation.LoanMarkedOverdueEventType {
				marked++
			}
		}
		assert.Equal(t, 2, marked)

		assertLoanStatus(t, engine, loans[0].ID, circulation.StatusReturned)
		assertLoanStatus(t, engine, loans[1].ID, circulation.StatusOverdue)
		assertLoanStatus(t, engine, loans[2].ID, circulation.StatusOverdue)
	})

	t.Run("SweepOverdue_LeavesLoanDueToday", func(t *testing.T) {
		// arrange: due today is not overdue yet
		engine, clock, ctx := freshEngineWithClock(t, newEngine)
		mustAddItem(t, engine, "978-0134190440", 1)
		mustRegisterMember(t, engine, "M-001")
		loan, err := engine.Borrow(ctx, "978-0134190440", "M-001", 5)
		require.NoError(t, err)

		clock.AdvanceDays(5)

		// act
		transitioned, err := engine.SweepOverdue(ctx, clock.Now())

		// assert
		require.NoError(t, err)
		assert.Zero(t, transitioned)
		assertLoanStatus(t, engine, loan.ID, circulation.StatusOnLoan)
	})
}

/***** queries *****/

func runQueryTests(t *testing.T, newEngine EngineFactory) {
	t.Run("SearchItems_FiltersCaseInsensitively_AndOrdersByCode", func(t *testing.T) {
		// arrange
		engine, ctx := freshEngine(t, newEngine)

		programming := catalogueItem("978-0134190440", 1)
		programming.Title = "The Go Programming Language"
		pragmatic := catalogueItem("978-0201616224", 1)
		pragmatic.Title = "The Pragmatic Programmer"
		sicp := catalogueItem("978-0262510875", 1)
		sicp.Title = "Structure and Interpretation of Computer Programs"

		for _, item := range []circulation.CatalogueItem{pragmatic, sicp, programming} {
			_, err := engine.AddItem(ctx, item)
			require.NoError(t, err)
		}

		// act
		matches, err := engine.SearchItems(ctx, circulation.BuildItemFilter().TitleContains("PROGRAM").Finalize())

		// assert
		require.NoError(t, err)
		require.Len(t, matches, 3)
		assert.Equal(t, "978-0134190440", matches[0].Code)
		assert.Equal(t, "978-0201616224", matches[1].Code)
		assert.Equal(t, "978-0262510875", matches[2].Code)

		// act: narrower filter
		matches, err = engine.SearchItems(ctx, circulation.BuildItemFilter().TitleContains("pragmatic").Finalize())

		// assert
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "978-0201616224", matches[0].Code)
	})

	t.Run("SearchItems_TreatsWildcardCharactersLiterally", func(t *testing.T) {
		// arrange: titles that only differ around % and _
		engine, ctx := freshEngine(t, newEngine)

		cotton := catalogueItem("978-0000000001", 1)
		cotton.Title = "100% Cotton"
		thousand := catalogueItem("978-0000000002", 1)
		thousand.Title = "1000 Cotton Mills"
		snake := catalogueItem("978-0000000003", 1)
		snake.Title = "snake_case for Humans"
		spaced := catalogueItem("978-0000000004", 1)
		spaced.Title = "snakeXcase for Humans"

		for _, item := range []circulation.CatalogueItem{cotton, thousand, snake, spaced} {
			_, err := engine.AddItem(ctx, item)
			require.NoError(t, err)
		}

		// act: % must not match arbitrary characters
		matches, err := engine.SearchItems(ctx, circulation.BuildItemFilter().TitleContains("100%").Finalize())

		// assert
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "978-0000000001", matches[0].Code)

		// act: _ must not match a single arbitrary character
		matches, err = engine.SearchItems(ctx, circulation.BuildItemFilter().TitleContains("snake_case").Finalize())

		// assert
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "978-0000000003", matches[0].Code)
	})

	t.Run("SearchItems_EmptyFilterReturnsEverything", func(t *testing.T) {
		engine, ctx := freshEngine(t, newEngine)
		mustAddItem(t, engine, "978-0134190440", 1)
		mustAddItem(t, engine, "978-0201616224", 1)

		matches, err := engine.SearchItems(ctx, circulation.ItemFilter{})

		require.NoError(t, err)
		assert.Len(t, matches, 2)
	})

	t.Run("SearchMembers_FiltersByNameFragment", func(t *testing.T) {
		// arrange
		engine, ctx := freshEngine(t, newEngine)
		ada := libraryMember("M-001")
		ada.Name = "Ada Lovelace"
		grace := libraryMember("M-002")
		grace.Name = "Grace Hopper"
		_, err := engine.RegisterMember(ctx, ada)
		require.NoError(t, err)
		_, err = engine.RegisterMember(ctx, grace)
		require.NoError(t, err)

		// act
		matches, err := engine.SearchMembers(ctx, circulation.BuildMemberFilter().NameContains("grace").Finalize())

		// assert
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "M-002", matches[0].Code)
	})

	t.Run("SearchLoans_FiltersByMemberAndStatus", func(t *testing.T) {
		// arrange
		engine, ctx := freshEngine(t, newEngine)
		mustAddItem(t, engine, "978-0134190440", 2)
		mustRegisterMember(t, engine, "M-001")
		mustRegisterMember(t, engine, "M-002")
		first := mustBorrow(t, engine, "978-0134190440", "M-001")
		mustBorrow(t, engine, "978-0134190440", "M-002")
		_, err := engine.ReturnLoan(ctx, first.ID)
		require.NoError(t, err)

		// act
		returned, err := engine.SearchLoans(ctx, circulation.BuildLoanFilter().WithStatus(circulation.StatusReturned).Finalize())

		// assert
		require.NoError(t, err)
		require.Len(t, returned, 1)
		assert.Equal(t, first.ID, returned[0].ID)

		// act
		byMember, err := engine.SearchLoans(ctx, circulation.BuildLoanFilter().MemberCodeContains("M-002").Finalize())

		// assert
		require.NoError(t, err)
		require.Len(t, byMember, 1)
		assert.Equal(t, "M-002", byMember[0].MemberCode)
	})

	t.Run("ListOverdueLoans_JoinsItemAndMemberFields", func(t *testing.T) {
		// arrange
		engine, clock, ctx := freshEngineWithClock(t, newEngine)
		item := catalogueItem("978-0134190440", 1)
		item.Title = "The Go Programming Language"
		_, err := engine.AddItem(ctx, item)
		require.NoError(t, err)

		member := libraryMember("M-001")
		member.Name = "Ada Lovelace"
		member.Phone = "555-0100"
		_, err = engine.RegisterMember(ctx, member)
		require.NoError(t, err)

		loan, err := engine.Borrow(ctx, "978-0134190440", "M-001", 5)
		require.NoError(t, err)

		clock.AdvanceDays(10)
		_, err = engine.SweepOverdue(ctx, clock.Now())
		require.NoError(t, err)

		// act
		overdue, err := engine.ListOverdueLoans(ctx)

		// assert
		require.NoError(t, err)
		require.Len(t, overdue, 1)
		assert.Equal(t, loan.ID, overdue[0].Loan.ID)
		assert.Equal(t, circulation.StatusOverdue, overdue[0].Loan.Status)
		assert.Equal(t, "The Go Programming Language", overdue[0].ItemTitle)
		assert.Equal(t, "Ada Lovelace", overdue[0].MemberName)
		assert.Equal(t, "555-0100", overdue[0].MemberPhone)
	})

	t.Run("Statistics_CountsCataloguesAndLoanStates", func(t *testing.T) {
		// arrange: one returned, one overdue, one still on loan
		engine, clock, ctx := freshEngineWithClock(t, newEngine)
		mustAddItem(t, engine, "978-0134190440", 3)
		mustAddItem(t, engine, "978-0201616224", 2)
		mustRegisterMember(t, engine, "M-001")

		returnedLoan, err := engine.Borrow(ctx, "978-0134190440", "M-001", 30)
		require.NoError(t, err)
		_, err = engine.ReturnLoan(ctx, returnedLoan.ID)
		require.NoError(t, err)

		_, err = engine.Borrow(ctx, "978-0134190440", "M-001", 5)
		require.NoError(t, err)
		clock.AdvanceDays(10)
		_, err = engine.SweepOverdue(ctx, clock.Now())
		require.NoError(t, err)

		_, err = engine.Borrow(ctx, "978-0201616224", "M-001", 30)
		require.NoError(t, err)

		// act
		stats, err := engine.Statistics(ctx)

		// assert
		require.NoError(t, err)
		assert.Equal(t, 2, stats.TotalItems)
		assert.Equal(t, 5, stats.TotalCopies)
		assert.Equal(t, 3, stats.TotalLoansEver)
		assert.Equal(t, 2, stats.ActiveLoans)
		assert.Equal(t, 1, stats.OverdueLoans)
		assert.Equal(t, 1, stats.ReturnedLoans)
	})

	t.Run("RecentEvents_ReturnsNewestEntriesInOrder", func(t *testing.T) {
		// arrange
		engine, ctx := freshEngine(t, newEngine)
		mustAddItem(t, engine, "978-0134190440", 1)
		mustRegisterMember(t, engine, "M-001")
		loan := mustBorrow(t, engine, "978-0134190440", "M-001")
		_, err := engine.ReturnLoan(ctx, loan.ID)
		require.NoError(t, err)

		// act
		entries, err := engine.RecentEvents(ctx, 2)

		// assert: the two newest of the four journaled events
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, circulation.LoanOpenedEventType, entries[0].EventType)
		assert.Equal(t, circulation.LoanReturnedEventType, entries[1].EventType)

		// act: a non-positive limit returns everything
		entries, err = engine.RecentEvents(ctx, 0)

		// assert
		require.NoError(t, err)
		assert.Len(t, entries, 4)
	})
}

/***** helpers *****/

func freshEngine(t *testing.T, newEngine EngineFactory) (Engine, context.Context) {
	t.Helper()

	engine, _, ctx := freshEngineWithClock(t, newEngine)

	return engine, ctx
}

func freshEngineWithClock(t *testing.T, newEngine EngineFactory) (Engine, *Clock, context.Context) {
	t.Helper()

	clock := NewClock(startOfSuite)

	return newEngine(t, clock), clock, context.Background()
}

func catalogueItem(code string, copies int) circulation.CatalogueItem {
	return circulation.CatalogueItem{
		Code:        code,
		Title:       "The Go Programming Language",
		Author:      "Alan A. A. Donovan",
		Publisher:   "Addison-Wesley",
		PublishDate: "2015-10-26",
		Category:    "Programming",
		Price:       39.99,
		TotalCopies: copies,
	}
}

func libraryMember(code string) circulation.Member {
	return circulation.Member{
		Code:         code,
		Name:         "Ada Lovelace",
		Gender:       "female",
		Phone:        "555-0100",
		Email:        "ada@example.com",
		Address:      "12 St James's Square, London",
		RegisteredOn: startOfSuite,
		Standing:     circulation.StandingNormal,
	}
}

func mustAddItem(t *testing.T, engine Engine, code string, copies int) circulation.CatalogueItem {
	t.Helper()

	item, err := engine.AddItem(context.Background(), catalogueItem(code, copies))
	require.NoError(t, err)

	return item
}

func mustRegisterMember(t *testing.T, engine Engine, code string) circulation.Member {
	t.Helper()

	member, err := engine.RegisterMember(context.Background(), libraryMember(code))
	require.NoError(t, err)

	return member
}

func mustBorrow(t *testing.T, engine Engine, itemCode string, memberCode string) circulation.Loan {
	t.Helper()

	loan, err := engine.Borrow(context.Background(), itemCode, memberCode, 0)
	require.NoError(t, err)

	return loan
}

func assertAvailable(t *testing.T, engine Engine, code string, want int) {
	t.Helper()

	item, err := engine.GetItem(context.Background(), code)
	require.NoError(t, err)
	assert.Equal(t, want, item.AvailableCopies)
}

func assertLoanStatus(t *testing.T, engine Engine, id circulation.LoanID, want circulation.LoanStatus) {
	t.Helper()

	loan, err := engine.GetLoan(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, want, loan.Status)
}
