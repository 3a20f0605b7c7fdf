package sqlengine

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/openshelf/circulation-go/circulation"
	"github.com/openshelf/circulation-go/circulation/sqlengine/internal/adapters"
)

// GetLoan returns a single loan by its id.
func (e Engine) GetLoan(ctx context.Context, id circulation.LoanID) (circulation.Loan, error) {
	return e.getLoanTx(ctx, e.db, id)
}

// SearchItems returns all catalogue items matching the filter, ordered by code.
func (e Engine) SearchItems(ctx context.Context, filter circulation.ItemFilter) ([]circulation.CatalogueItem, error) {
	dataset := e.selectItems()

	if !filter.IsEmpty() {
		conditions := make([]exp.Expression, 0)

		appendLikeCondition(&conditions, colCode, filter.Code())
		appendLikeCondition(&conditions, colTitle, filter.Title())
		appendLikeCondition(&conditions, colAuthor, filter.Author())
		appendLikeCondition(&conditions, colCategory, filter.Category())

		dataset = dataset.Where(conditions...)
	}

	return e.queryItems(ctx, e.db, dataset)
}

// SearchMembers returns all members matching the filter, ordered by code.
func (e Engine) SearchMembers(ctx context.Context, filter circulation.MemberFilter) ([]circulation.Member, error) {
	dataset := e.selectMembers()

	if !filter.IsEmpty() {
		conditions := make([]exp.Expression, 0)

		appendLikeCondition(&conditions, colCode, filter.Code())
		appendLikeCondition(&conditions, colName, filter.Name())
		appendLikeCondition(&conditions, colPhone, filter.Phone())

		dataset = dataset.Where(conditions...)
	}

	return e.queryMembers(ctx, e.db, dataset)
}

// SearchLoans returns all loan records matching the filter, ordered by id.
func (e Engine) SearchLoans(ctx context.Context, filter circulation.LoanFilter) ([]circulation.Loan, error) {
	dataset := e.selectLoans()

	if !filter.IsEmpty() {
		conditions := make([]exp.Expression, 0)

		appendLikeCondition(&conditions, colItemCode, filter.ItemCode())
		appendLikeCondition(&conditions, colMemberCode, filter.MemberCode())

		if filter.Status() != "" {
			conditions = append(conditions, goqu.C(colStatus).Eq(string(filter.Status())))
		}

		dataset = dataset.Where(conditions...)
	}

	return e.queryLoans(ctx, e.db, dataset)
}

// ListOverdueLoans returns every loan the sweep has marked overdue, joined
// with the item and member display fields, ordered by due date then id.
func (e Engine) ListOverdueLoans(ctx context.Context) ([]circulation.OverdueLoan, error) {
	loans := goqu.T(e.loansTable())
	items := goqu.T(e.itemsTable())
	members := goqu.T(e.membersTable())

	dataset := e.builder().
		From(loans).
		LeftJoin(items, goqu.On(loans.Col(colItemCode).Eq(items.Col(colCode)))).
		LeftJoin(members, goqu.On(loans.Col(colMemberCode).Eq(members.Col(colCode)))).
		Select(
			loans.Col(colLoanID), loans.Col(colItemCode), loans.Col(colMemberCode),
			loans.Col(colBorrowedOn), loans.Col(colDueOn), loans.Col(colReturnedOn),
			loans.Col(colStatus), loans.Col(colFineAmount),
			goqu.COALESCE(items.Col(colTitle), "").As("item_title"),
			goqu.COALESCE(members.Col(colName), "").As("member_name"),
			goqu.COALESCE(members.Col(colPhone), "").As("member_phone"),
		).
		Where(loans.Col(colStatus).Eq(string(circulation.StatusOverdue))).
		Order(loans.Col(colDueOn).Asc(), loans.Col(colLoanID).Asc())

	sqlQuery, _, toSQLErr := dataset.ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr)
		return nil, toSQLErr
	}

	rows, queryErr := e.db.Query(ctx, sqlQuery)
	if queryErr != nil {
		e.logError(logMsgDBQueryFailed, queryErr)
		return nil, queryErr
	}
	defer e.closeRows(rows)

	overdue := make([]circulation.OverdueLoan, 0)

	for rows.Next() {
		var row circulation.OverdueLoan
		var borrowedOn, dueOn, returnedOn, status string

		scanErr := rows.Scan(
			&row.Loan.ID, &row.Loan.ItemCode, &row.Loan.MemberCode,
			&borrowedOn, &dueOn, &returnedOn, &status, &row.Loan.FineAmount,
			&row.ItemTitle, &row.MemberName, &row.MemberPhone)
		if scanErr != nil {
			e.logError(logMsgScanRowFailed, scanErr)
			return nil, scanErr
		}

		var parseErr error

		if row.Loan.BorrowedOn, parseErr = circulation.ParseDate(borrowedOn); parseErr != nil {
			e.logError(logMsgScanRowFailed, parseErr)
			return nil, parseErr
		}

		if row.Loan.DueOn, parseErr = circulation.ParseDate(dueOn); parseErr != nil {
			e.logError(logMsgScanRowFailed, parseErr)
			return nil, parseErr
		}

		if row.Loan.ReturnedOn, parseErr = parseNullableDate(returnedOn); parseErr != nil {
			e.logError(logMsgScanRowFailed, parseErr)
			return nil, parseErr
		}

		row.Loan.Status = circulation.LoanStatus(status)
		overdue = append(overdue, row)
	}

	return overdue, nil
}

// Statistics returns the aggregate counts over the catalogue and ledger.
// Both aggregates run inside one transaction so the counts come from a
// single snapshot even while commands commit concurrently.
func (e Engine) Statistics(ctx context.Context) (circulation.Statistics, error) {
	var empty circulation.Statistics
	var stats circulation.Statistics

	tx, txErr := e.beginTx(ctx)
	if txErr != nil {
		return empty, txErr
	}
	defer func() { _ = tx.Rollback() }()

	if err := e.catalogueTotalsTx(ctx, tx, &stats); err != nil {
		return empty, err
	}

	if err := e.ledgerTotalsTx(ctx, tx, &stats); err != nil {
		return empty, err
	}

	if commitErr := e.commitTx(tx); commitErr != nil {
		return empty, commitErr
	}

	return stats, nil
}

func (e Engine) catalogueTotalsTx(ctx context.Context, tx adapters.DBTx, stats *circulation.Statistics) error {
	itemsQuery, _, toSQLErr := e.builder().
		From(e.itemsTable()).
		Select(goqu.COUNT(goqu.Star()), goqu.COALESCE(goqu.SUM(goqu.C(colTotalCopies)), 0)).
		ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr)
		return toSQLErr
	}

	rows, queryErr := tx.Query(ctx, itemsQuery)
	if queryErr != nil {
		e.logError(logMsgDBQueryFailed, queryErr)
		return queryErr
	}
	defer e.closeRows(rows)

	if rows.Next() {
		if scanErr := rows.Scan(&stats.TotalItems, &stats.TotalCopies); scanErr != nil {
			e.logError(logMsgScanRowFailed, scanErr)
			return scanErr
		}
	}

	return nil
}

func (e Engine) ledgerTotalsTx(ctx context.Context, tx adapters.DBTx, stats *circulation.Statistics) error {
	loansQuery, _, toSQLErr := e.builder().
		From(e.loansTable()).
		Select(goqu.C(colStatus), goqu.COUNT(goqu.Star())).
		GroupBy(goqu.C(colStatus)).
		ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr)
		return toSQLErr
	}

	rows, queryErr := tx.Query(ctx, loansQuery)
	if queryErr != nil {
		e.logError(logMsgDBQueryFailed, queryErr)
		return queryErr
	}
	defer e.closeRows(rows)

	for rows.Next() {
		var status string
		var count int

		if scanErr := rows.Scan(&status, &count); scanErr != nil {
			e.logError(logMsgScanRowFailed, scanErr)
			return scanErr
		}

		stats.TotalLoansEver += count

		switch circulation.LoanStatus(status) {
		case circulation.StatusOnLoan:
			stats.ActiveLoans += count
		case circulation.StatusOverdue:
			stats.ActiveLoans += count
			stats.OverdueLoans += count
		case circulation.StatusReturned:
			stats.ReturnedLoans += count
		}
	}

	return nil
}

// RecentEvents returns up to limit of the most recent journal entries in
// chronological order. A non-positive limit returns the whole journal.
func (e Engine) RecentEvents(ctx context.Context, limit int) ([]circulation.JournalEntry, error) {
	dataset := e.builder().
		From(e.journalTable()).
		Select(colEventID, colEventType, colOccurredAt, colPayload)

	if limit > 0 {
		dataset = dataset.Order(goqu.C(colSeq).Desc()).Limit(uint(limit))
	} else {
		dataset = dataset.Order(goqu.C(colSeq).Asc())
	}

	sqlQuery, _, toSQLErr := dataset.ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr)
		return nil, toSQLErr
	}

	rows, queryErr := e.db.Query(ctx, sqlQuery)
	if queryErr != nil {
		e.logError(logMsgDBQueryFailed, queryErr)
		return nil, queryErr
	}
	defer e.closeRows(rows)

	entries := make([]circulation.JournalEntry, 0)

	for rows.Next() {
		var entry circulation.JournalEntry
		var occurredAt, payload string

		if scanErr := rows.Scan(&entry.EventID, &entry.EventType, &occurredAt, &payload); scanErr != nil {
			e.logError(logMsgScanRowFailed, scanErr)
			return nil, scanErr
		}

		parsed, parseErr := time.Parse(time.RFC3339Nano, occurredAt)
		if parseErr != nil {
			e.logError(logMsgScanRowFailed, parseErr)
			return nil, parseErr
		}

		entry.OccurredAt = parsed
		entry.Payload = []byte(payload)
		entries = append(entries, entry)
	}

	// a positive limit reads newest first, so restore chronological order
	if limit > 0 {
		slices.Reverse(entries)
	}

	return entries, nil
}

// likeEscaper protects LIKE metacharacters so a search term is always a
// literal substring, never a wildcard.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// appendLikeCondition adds a case-insensitive substring condition for a
// non-empty term. Lowercasing both sides and escaping metacharacters
// keeps the behavior identical on PostgreSQL and SQLite.
func appendLikeCondition(conditions *[]exp.Expression, col string, term string) {
	if term == "" {
		return
	}

	pattern := "%" + likeEscaper.Replace(strings.ToLower(term)) + "%"
	*conditions = append(*conditions, goqu.L(`lower(?) LIKE ? ESCAPE '\'`, goqu.C(col), pattern))
}
