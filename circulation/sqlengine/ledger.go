package sqlengine

import (
	"context"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/openshelf/circulation-go/circulation"
	"github.com/openshelf/circulation-go/circulation/sqlengine/internal/adapters"
)

var activeStatuses = []string{string(circulation.StatusOnLoan), string(circulation.StatusOverdue)}

// Borrow lends one copy of an item to a member and opens a loan. The
// preconditions are checked in order: the item must exist and have at
// least one available copy, then the member must exist and not be
// suspended. The inventory decrement is guarded, so two concurrent
// borrows can never take the same last copy. A failed precondition rolls
// the transaction back without any mutation.
// A loanPeriodDays of 0 applies the engine's default period.
func (e Engine) Borrow(ctx context.Context, itemCode string, memberCode string, loanPeriodDays int) (circulation.Loan, error) {
	start := time.Now()
	ctx, span := e.startCommandSpan(ctx, "borrow")

	loan, err := e.borrow(ctx, itemCode, memberCode, loanPeriodDays)
	e.recordCommand("borrow", start, err)
	e.finishCommandSpan(span, err)

	return loan, err
}

func (e Engine) borrow(ctx context.Context, itemCode string, memberCode string, loanPeriodDays int) (circulation.Loan, error) {
	var empty circulation.Loan

	if loanPeriodDays == 0 {
		loanPeriodDays = e.loanPeriodDays
	}

	if loanPeriodDays < 0 {
		return empty, circulation.ErrInvalidLoanPeriod
	}

	tx, txErr := e.beginTx(ctx)
	if txErr != nil {
		return empty, txErr
	}
	defer func() { _ = tx.Rollback() }()

	item, getItemErr := e.getItemTx(ctx, tx, itemCode)
	if getItemErr != nil {
		return empty, getItemErr
	}

	if item.AvailableCopies < 1 {
		return empty, circulation.ErrNoCopiesAvailable
	}

	member, getMemberErr := e.getMemberTx(ctx, tx, memberCode)
	if getMemberErr != nil {
		return empty, getMemberErr
	}

	if !member.Eligible() {
		return empty, circulation.ErrMemberSuspended
	}

	reserveQuery, _, toSQLErr := e.builder().
		Update(e.itemsTable()).
		Set(goqu.Record{colAvailableCopies: goqu.L(colAvailableCopies + " - 1")}).
		Where(goqu.C(colCode).Eq(itemCode), goqu.C(colAvailableCopies).Gt(0)).
		ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr)
		return empty, toSQLErr
	}

	affected, execErr := e.execTx(ctx, tx, reserveQuery)
	if execErr != nil {
		return empty, execErr
	}

	if affected == 0 {
		return empty, circulation.ErrNoCopiesAvailable
	}

	now := e.now()
	borrowedOn := circulation.DateOf(now)

	loan := circulation.Loan{
		ItemCode:   itemCode,
		MemberCode: memberCode,
		BorrowedOn: borrowedOn,
		DueOn:      borrowedOn.AddDate(0, 0, loanPeriodDays),
		Status:     circulation.StatusOnLoan,
	}

	loanID, insertErr := e.insertLoanTx(ctx, tx, loan)
	if insertErr != nil {
		return empty, insertErr
	}

	loan.ID = loanID

	if journalErr := e.journalTx(ctx, tx, circulation.BuildLoanOpened(loan, now)); journalErr != nil {
		return empty, journalErr
	}

	if commitErr := e.commitTx(tx); commitErr != nil {
		return empty, commitErr
	}

	e.logOperation(ctx, "loan opened",
		logAttrLoanID, loan.ID,
		logAttrItemCode, itemCode,
		logAttrMemberCode, memberCode)

	return loan, nil
}

// ReturnLoan closes a loan, computes the fine from the actual elapsed
// overdue days at the current clock, and releases the copy back into the
// catalogue with a guarded increment. A detected inventory inconsistency
// is reported loudly but never blocks the return itself.
func (e Engine) ReturnLoan(ctx context.Context, id circulation.LoanID) (circulation.Loan, error) {
	start := time.Now()
	ctx, span := e.startCommandSpan(ctx, "return_loan")

	loan, err := e.returnLoan(ctx, id)
	e.recordCommand("return_loan", start, err)
	e.finishCommandSpan(span, err)

	return loan, err
}

func (e Engine) returnLoan(ctx context.Context, id circulation.LoanID) (circulation.Loan, error) {
	var empty circulation.Loan

	tx, txErr := e.beginTx(ctx)
	if txErr != nil {
		return empty, txErr
	}
	defer func() { _ = tx.Rollback() }()

	loan, getErr := e.getLoanTx(ctx, tx, id)
	if getErr != nil {
		return empty, getErr
	}

	if !loan.Status.CanTransitionTo(circulation.StatusReturned) {
		return empty, circulation.ErrLoanAlreadyReturned
	}

	now := e.now()
	closed := loan
	closed.ReturnedOn = circulation.DateOf(now)
	closed.Status = circulation.StatusReturned
	closed.FineAmount = circulation.FineFor(loan.DueOn, now, e.dailyFineRate)

	closeQuery, _, toSQLErr := e.builder().
		Update(e.loansTable()).
		Set(goqu.Record{
			colReturnedOn: formatNullableDate(closed.ReturnedOn),
			colStatus:     string(closed.Status),
			colFineAmount: closed.FineAmount,
		}).
		Where(goqu.C(colLoanID).Eq(id), goqu.C(colStatus).In(activeStatuses)).
		ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr)
		return empty, toSQLErr
	}

	affected, execErr := e.execTx(ctx, tx, closeQuery)
	if execErr != nil {
		return empty, execErr
	}

	if affected == 0 {
		return empty, circulation.ErrLoanAlreadyReturned
	}

	if journalErr := e.journalTx(ctx, tx, circulation.BuildLoanReturned(closed, now)); journalErr != nil {
		return empty, journalErr
	}

	if releaseErr := e.releaseCopyTx(ctx, tx, closed, now); releaseErr != nil {
		return empty, releaseErr
	}

	if commitErr := e.commitTx(tx); commitErr != nil {
		return empty, commitErr
	}

	e.logOperation(ctx, "loan returned",
		logAttrLoanID, closed.ID,
		logAttrItemCode, closed.ItemCode,
		logAttrFineAmount, closed.FineAmount)

	return closed, nil
}

// releaseCopyTx puts the returned copy back into the catalogue. A missing
// item row or a counter already at the total signals corrupted inventory:
// the counter is left untouched and the bug is journaled and logged, but
// the surrounding return still commits.
func (e Engine) releaseCopyTx(ctx context.Context, tx adapters.DBTx, loan circulation.Loan, now time.Time) error {
	releaseQuery, _, toSQLErr := e.builder().
		Update(e.itemsTable()).
		Set(goqu.Record{colAvailableCopies: goqu.L(colAvailableCopies + " + 1")}).
		Where(
			goqu.C(colCode).Eq(loan.ItemCode),
			goqu.C(colAvailableCopies).Lt(goqu.C(colTotalCopies)),
		).
		ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr)
		return toSQLErr
	}

	affected, execErr := e.execTx(ctx, tx, releaseQuery)
	if execErr != nil {
		return execErr
	}

	if affected > 0 {
		return nil
	}

	exists, existsErr := e.itemExistsTx(ctx, tx, loan.ItemCode)
	if existsErr != nil {
		return existsErr
	}

	detail := "release would push available copies above total copies"
	if !exists {
		detail = "item is no longer catalogued"
	}

	corruptionErr := errors.Join(circulation.ErrCorruptedInventory, errors.New(detail))
	e.logErrorContext(ctx, logMsgInventoryCorruption,
		logAttrItemCode, loan.ItemCode,
		logAttrLoanID, loan.ID,
		logAttrError, corruptionErr.Error())

	corruption := circulation.BuildInventoryCorruptionDetected(loan.ItemCode, loan.ID, detail, now)
	if journalErr := e.journalTx(ctx, tx, corruption); journalErr != nil && e.logger != nil {
		e.logger.Warn("failed to journal inventory corruption", logAttrError, journalErr.Error())
	}

	return nil
}

// PreviewFine computes the fine a loan would incur if returned as of the
// given date, without mutating anything. For an already-returned loan it
// reports the recorded fine, frozen at return time.
func (e Engine) PreviewFine(ctx context.Context, id circulation.LoanID, asOf time.Time) (float64, error) {
	loan, getErr := e.getLoanTx(ctx, e.db, id)
	if getErr != nil {
		return 0, getErr
	}

	if loan.Status == circulation.StatusReturned {
		return loan.FineAmount, nil
	}

	return circulation.FineFor(loan.DueOn, asOf, e.dailyFineRate), nil
}

// SweepOverdue reclassifies every on-loan record whose due date lies
// before asOf as overdue and returns the number of loans transitioned.
// The sweep is idempotent: a second run with the same asOf flips nothing.
func (e Engine) SweepOverdue(ctx context.Context, asOf time.Time) (int, error) {
	start := time.Now()
	ctx, span := e.startCommandSpan(ctx, "sweep_overdue")

	count, err := e.sweepOverdue(ctx, asOf)
	e.recordCommand("sweep_overdue", start, err)
	e.finishCommandSpan(span, err)

	return count, err
}

func (e Engine) sweepOverdue(ctx context.Context, asOf time.Time) (int, error) {
	asOfDate := circulation.FormatDate(circulation.DateOf(asOf))

	tx, txErr := e.beginTx(ctx)
	if txErr != nil {
		return 0, txErr
	}
	defer func() { _ = tx.Rollback() }()

	// ISO dates compare correctly as strings
	dueCondition := []exp.Expression{
		goqu.C(colStatus).Eq(string(circulation.StatusOnLoan)),
		goqu.C(colDueOn).Lt(asOfDate),
	}

	candidates, queryErr := e.queryLoans(ctx, tx, e.selectLoans().Where(dueCondition...))
	if queryErr != nil {
		return 0, queryErr
	}

	// flip each candidate with its own guarded update, so a loan returned
	// concurrently since the select is neither flipped nor journaled
	transitioned := 0
	now := e.now()

	for _, loan := range candidates {
		flipQuery, _, toSQLErr := e.builder().
			Update(e.loansTable()).
			Set(goqu.Record{colStatus: string(circulation.StatusOverdue)}).
			Where(
				goqu.C(colLoanID).Eq(loan.ID),
				goqu.C(colStatus).Eq(string(circulation.StatusOnLoan)),
			).
			ToSQL()
		if toSQLErr != nil {
			e.logError(logMsgBuildQueryFailed, toSQLErr)
			return 0, toSQLErr
		}

		affected, execErr := e.execTx(ctx, tx, flipQuery)
		if execErr != nil {
			return 0, execErr
		}

		if affected == 0 {
			continue
		}

		loan.Status = circulation.StatusOverdue

		if journalErr := e.journalTx(ctx, tx, circulation.BuildLoanMarkedOverdue(loan, now)); journalErr != nil {
			return 0, journalErr
		}

		transitioned++
	}

	if commitErr := e.commitTx(tx); commitErr != nil {
		return 0, commitErr
	}

	if transitioned > 0 {
		e.logOperation(ctx, "overdue sweep", logAttrTransitioned, transitioned)
	}

	return transitioned, nil
}

/***** internals *****/

func (e Engine) insertLoanTx(ctx context.Context, tx adapters.DBTx, loan circulation.Loan) (circulation.LoanID, error) {
	record := goqu.Record{
		colItemCode:   loan.ItemCode,
		colMemberCode: loan.MemberCode,
		colBorrowedOn: circulation.FormatDate(loan.BorrowedOn),
		colDueOn:      circulation.FormatDate(loan.DueOn),
		colReturnedOn: "",
		colStatus:     string(loan.Status),
		colFineAmount: loan.FineAmount,
	}

	insert := e.builder().Insert(e.loansTable()).Rows(record)

	// The sqlite3 dialect cannot render RETURNING, so the fresh id is read
	// back with last_insert_rowid inside the same transaction.
	if e.dialect == DialectSQLite {
		sqlQuery, _, toSQLErr := insert.ToSQL()
		if toSQLErr != nil {
			e.logError(logMsgBuildQueryFailed, toSQLErr)
			return 0, toSQLErr
		}

		if _, execErr := e.execTx(ctx, tx, sqlQuery); execErr != nil {
			return 0, execErr
		}

		return e.queryInt64(ctx, tx, "SELECT last_insert_rowid()")
	}

	sqlQuery, _, toSQLErr := insert.Returning(goqu.C(colLoanID)).ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr)
		return 0, toSQLErr
	}

	return e.queryInt64(ctx, tx, sqlQuery)
}

// queryInt64 runs a query expected to yield a single integer value.
func (e Engine) queryInt64(ctx context.Context, q rowQuerier, sqlQuery string) (int64, error) {
	rows, queryErr := q.Query(ctx, sqlQuery)
	if queryErr != nil {
		e.logError(logMsgDBQueryFailed, queryErr)
		return 0, queryErr
	}
	defer e.closeRows(rows)

	var value int64

	if rows.Next() {
		if scanErr := rows.Scan(&value); scanErr != nil {
			e.logError(logMsgScanRowFailed, scanErr)
			return 0, scanErr
		}
	}

	return value, nil
}

func (e Engine) countActiveLoansTx(ctx context.Context, tx rowQuerier, condition exp.Expression) (int64, error) {
	sqlQuery, _, toSQLErr := e.builder().
		From(e.loansTable()).
		Select(goqu.COUNT(goqu.Star())).
		Where(condition, goqu.C(colStatus).In(activeStatuses)).
		ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr)
		return 0, toSQLErr
	}

	return e.queryInt64(ctx, tx, sqlQuery)
}

func (e Engine) selectLoans() *goqu.SelectDataset {
	return e.builder().
		From(e.loansTable()).
		Select(colLoanID, colItemCode, colMemberCode, colBorrowedOn,
			colDueOn, colReturnedOn, colStatus, colFineAmount).
		Order(goqu.C(colLoanID).Asc())
}

func (e Engine) queryLoans(ctx context.Context, q rowQuerier, dataset *goqu.SelectDataset) ([]circulation.Loan, error) {
	sqlQuery, _, toSQLErr := dataset.ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr)
		return nil, toSQLErr
	}

	rows, queryErr := q.Query(ctx, sqlQuery)
	if queryErr != nil {
		e.logError(logMsgDBQueryFailed, queryErr)
		return nil, queryErr
	}
	defer e.closeRows(rows)

	loans := make([]circulation.Loan, 0)

	for rows.Next() {
		loan, scanErr := e.scanLoan(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		loans = append(loans, loan)
	}

	return loans, nil
}

func (e Engine) scanLoan(rows adapters.DBRows) (circulation.Loan, error) {
	var empty circulation.Loan
	var loan circulation.Loan
	var borrowedOn, dueOn, returnedOn, status string

	scanErr := rows.Scan(
		&loan.ID, &loan.ItemCode, &loan.MemberCode, &borrowedOn,
		&dueOn, &returnedOn, &status, &loan.FineAmount)
	if scanErr != nil {
		e.logError(logMsgScanRowFailed, scanErr)
		return empty, scanErr
	}

	var parseErr error

	if loan.BorrowedOn, parseErr = circulation.ParseDate(borrowedOn); parseErr != nil {
		e.logError(logMsgScanRowFailed, parseErr)
		return empty, parseErr
	}

	if loan.DueOn, parseErr = circulation.ParseDate(dueOn); parseErr != nil {
		e.logError(logMsgScanRowFailed, parseErr)
		return empty, parseErr
	}

	if loan.ReturnedOn, parseErr = parseNullableDate(returnedOn); parseErr != nil {
		e.logError(logMsgScanRowFailed, parseErr)
		return empty, parseErr
	}

	loan.Status = circulation.LoanStatus(status)

	return loan, nil
}

func (e Engine) getLoanTx(ctx context.Context, q rowQuerier, id circulation.LoanID) (circulation.Loan, error) {
	loans, queryErr := e.queryLoans(ctx, q, e.selectLoans().Where(goqu.C(colLoanID).Eq(id)))
	if queryErr != nil {
		return circulation.Loan{}, queryErr
	}

	if len(loans) == 0 {
		return circulation.Loan{}, circulation.ErrLoanNotFound
	}

	return loans[0], nil
}
