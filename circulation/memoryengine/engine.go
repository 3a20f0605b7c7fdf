package memoryengine

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/openshelf/circulation-go/circulation"
)

const (
	logMsgOperation              = "circulation operation: "
	logMsgInventoryCorruption    = "inventory corruption detected during return"
	logAttrItemCode              = "item_code"
	logAttrMemberCode            = "member_code"
	logAttrLoanID                = "loan_id"
	logAttrFineAmount            = "fine_amount"
	logAttrTransitioned          = "transitioned"
	logAttrError                 = "error"
	metricCommandsTotal          = "circulation_commands_total"
	metricCommandDurationSeconds = "circulation_command_duration_seconds"
	labelCommand                 = "command"
	labelOutcome                 = "outcome"
	outcomeSuccess               = "success"
	outcomeError                 = "error"
	spanNamePrefix               = "circulation."
)

// Engine is the in-memory circulation engine. It holds the catalogue, the
// member registry, the loan ledger and the journal behind a single
// bounded-wait reader/writer lock.
type Engine struct {
	mu        *rwLock
	logger    circulation.Logger
	ctxLogger circulation.ContextualLogger
	metrics   circulation.MetricsCollector
	tracing   circulation.TracingCollector

	now            circulation.Clock
	loanPeriodDays int
	dailyFineRate  float64
	lockTimeout    time.Duration

	items      map[string]*circulation.CatalogueItem
	members    map[string]*circulation.Member
	loans      map[circulation.LoanID]*circulation.Loan
	nextLoanID circulation.LoanID
	journal    []circulation.JournalEntry
}

// NewEngine creates an empty in-memory engine with optional configuration.
func NewEngine(options ...Option) (*Engine, error) {
	e := &Engine{
		now:            time.Now,
		loanPeriodDays: circulation.DefaultLoanPeriodDays,
		dailyFineRate:  circulation.DefaultDailyFineRate,
		items:          make(map[string]*circulation.CatalogueItem),
		members:        make(map[string]*circulation.Member),
		loans:          make(map[circulation.LoanID]*circulation.Loan),
	}

	for _, option := range options {
		if err := option(e); err != nil {
			return nil, err
		}
	}

	e.mu = newRWLock(e.lockTimeout)

	return e, nil
}

/***** Catalogue management *****/

// AddItem catalogues a new item. The available count always starts equal
// to the total count; callers cannot inject a different value.
func (e *Engine) AddItem(ctx context.Context, item circulation.CatalogueItem) (circulation.CatalogueItem, error) {
	start := time.Now()
	ctx, span := e.startCommandSpan(ctx, "add_item")

	stored, err := e.addItem(ctx, item)
	e.recordCommand("add_item", start, err)
	e.finishCommandSpan(span, err)

	return stored, err
}

func (e *Engine) addItem(ctx context.Context, item circulation.CatalogueItem) (circulation.CatalogueItem, error) {
	var empty circulation.CatalogueItem

	if item.Code == "" {
		return empty, circulation.ErrEmptyItemCode
	}

	if item.TotalCopies < 1 {
		return empty, circulation.ErrInvalidCopyCount
	}

	if lockErr := e.mu.Lock(ctx); lockErr != nil {
		return empty, lockErr
	}
	defer e.mu.Unlock()

	if _, exists := e.items[item.Code]; exists {
		return empty, circulation.ErrDuplicateItemCode
	}

	item.AvailableCopies = item.TotalCopies

	if journalErr := e.appendJournal(circulation.BuildItemAddedToCatalogue(item, e.now())); journalErr != nil {
		return empty, journalErr
	}

	e.items[item.Code] = &item
	e.logOperation(ctx, "item added", logAttrItemCode, item.Code)

	return item, nil
}

// UpdateItem replaces an item's descriptive metadata and, optionally, its
// total copy count. Lowering the total below the number of copies
// currently out on loan is refused, since it would corrupt the inventory
// invariant. The available count is derived, never taken from the input.
func (e *Engine) UpdateItem(ctx context.Context, item circulation.CatalogueItem) (circulation.CatalogueItem, error) {
	start := time.Now()
	ctx, span := e.startCommandSpan(ctx, "update_item")

	stored, err := e.updateItem(ctx, item)
	e.recordCommand("update_item", start, err)
	e.finishCommandSpan(span, err)

	return stored, err
}

func (e *Engine) updateItem(ctx context.Context, item circulation.CatalogueItem) (circulation.CatalogueItem, error) {
	var empty circulation.CatalogueItem

	if item.TotalCopies < 1 {
		return empty, circulation.ErrInvalidCopyCount
	}

	if lockErr := e.mu.Lock(ctx); lockErr != nil {
		return empty, lockErr
	}
	defer e.mu.Unlock()

	existing, found := e.items[item.Code]
	if !found {
		return empty, circulation.ErrItemNotFound
	}

	outstanding := existing.TotalCopies - existing.AvailableCopies
	if item.TotalCopies < outstanding {
		return empty, circulation.ErrInvalidCopyCount
	}

	item.AvailableCopies = item.TotalCopies - outstanding
	e.items[item.Code] = &item

	return item, nil
}

// RemoveItem deletes an item from the catalogue. Removal is refused while
// any loan against the item is still active.
func (e *Engine) RemoveItem(ctx context.Context, code string) error {
	start := time.Now()
	ctx, span := e.startCommandSpan(ctx, "remove_item")

	err := e.removeItem(ctx, code)
	e.recordCommand("remove_item", start, err)
	e.finishCommandSpan(span, err)

	return err
}

func (e *Engine) removeItem(ctx context.Context, code string) error {
	if lockErr := e.mu.Lock(ctx); lockErr != nil {
		return lockErr
	}
	defer e.mu.Unlock()

	if _, found := e.items[code]; !found {
		return circulation.ErrItemNotFound
	}

	for _, loan := range e.loans {
		if loan.ItemCode == code && loan.IsActive() {
			return circulation.ErrItemHasActiveLoans
		}
	}

	if journalErr := e.appendJournal(circulation.BuildItemRemovedFromCatalogue(code, e.now())); journalErr != nil {
		return journalErr
	}

	delete(e.items, code)
	e.logOperation(ctx, "item removed", logAttrItemCode, code)

	return nil
}

// GetItem returns a single item by its exact code.
func (e *Engine) GetItem(ctx context.Context, code string) (circulation.CatalogueItem, error) {
	var empty circulation.CatalogueItem

	if lockErr := e.mu.RLock(ctx); lockErr != nil {
		return empty, lockErr
	}
	defer e.mu.RUnlock()

	item, found := e.items[code]
	if !found {
		return empty, circulation.ErrItemNotFound
	}

	return *item, nil
}

/***** Member registry *****/

// RegisterMember adds a new member. An empty standing defaults to normal.
func (e *Engine) RegisterMember(ctx context.Context, member circulation.Member) (circulation.Member, error) {
	start := time.Now()
	ctx, span := e.startCommandSpan(ctx, "register_member")

	stored, err := e.registerMember(ctx, member)
	e.recordCommand("register_member", start, err)
	e.finishCommandSpan(span, err)

	return stored, err
}

func (e *Engine) registerMember(ctx context.Context, member circulation.Member) (circulation.Member, error) {
	var empty circulation.Member

	if member.Code == "" {
		return empty, circulation.ErrEmptyMemberCode
	}

	if member.Standing == "" {
		member.Standing = circulation.StandingNormal
	}

	if member.Standing != circulation.StandingNormal && member.Standing != circulation.StandingSuspended {
		return empty, circulation.ErrInvalidStanding
	}

	if lockErr := e.mu.Lock(ctx); lockErr != nil {
		return empty, lockErr
	}
	defer e.mu.Unlock()

	if _, exists := e.members[member.Code]; exists {
		return empty, circulation.ErrDuplicateMemberCode
	}

	if journalErr := e.appendJournal(circulation.BuildMemberRegistered(member, e.now())); journalErr != nil {
		return empty, journalErr
	}

	e.members[member.Code] = &member
	e.logOperation(ctx, "member registered", logAttrMemberCode, member.Code)

	return member, nil
}

// SetMemberStanding changes a member's standing (normal/suspended).
func (e *Engine) SetMemberStanding(ctx context.Context, code string, standing circulation.Standing) error {
	start := time.Now()
	ctx, span := e.startCommandSpan(ctx, "set_member_standing")

	err := e.setMemberStanding(ctx, code, standing)
	e.recordCommand("set_member_standing", start, err)
	e.finishCommandSpan(span, err)

	return err
}

func (e *Engine) setMemberStanding(ctx context.Context, code string, standing circulation.Standing) error {
	if standing != circulation.StandingNormal && standing != circulation.StandingSuspended {
		return circulation.ErrInvalidStanding
	}

	if lockErr := e.mu.Lock(ctx); lockErr != nil {
		return lockErr
	}
	defer e.mu.Unlock()

	member, found := e.members[code]
	if !found {
		return circulation.ErrMemberNotFound
	}

	member.Standing = standing

	return nil
}

// RemoveMember deletes a member. Removal is refused while the member has
// any active loan.
func (e *Engine) RemoveMember(ctx context.Context, code string) error {
	start := time.Now()
	ctx, span := e.startCommandSpan(ctx, "remove_member")

	err := e.removeMember(ctx, code)
	e.recordCommand("remove_member", start, err)
	e.finishCommandSpan(span, err)

	return err
}

func (e *Engine) removeMember(ctx context.Context, code string) error {
	if lockErr := e.mu.Lock(ctx); lockErr != nil {
		return lockErr
	}
	defer e.mu.Unlock()

	if _, found := e.members[code]; !found {
		return circulation.ErrMemberNotFound
	}

	for _, loan := range e.loans {
		if loan.MemberCode == code && loan.IsActive() {
			return circulation.ErrMemberHasActiveLoans
		}
	}

	if journalErr := e.appendJournal(circulation.BuildMemberRemoved(code, e.now())); journalErr != nil {
		return journalErr
	}

	delete(e.members, code)
	e.logOperation(ctx, "member removed", logAttrMemberCode, code)

	return nil
}

// GetMember returns a single member by their exact code.
func (e *Engine) GetMember(ctx context.Context, code string) (circulation.Member, error) {
	var empty circulation.Member

	if lockErr := e.mu.RLock(ctx); lockErr != nil {
		return empty, lockErr
	}
	defer e.mu.RUnlock()

	member, found := e.members[code]
	if !found {
		return empty, circulation.ErrMemberNotFound
	}

	return *member, nil
}

/***** Circulation ledger *****/

// Borrow lends one copy of an item to a member and opens a loan. The
// preconditions are checked in order: the item must exist and have at
// least one available copy, then the member must exist and not be
// suspended. A failed precondition performs no mutation at all.
// A loanPeriodDays of 0 applies the engine's default period.
func (e *Engine) Borrow(ctx context.Context, itemCode string, memberCode string, loanPeriodDays int) (circulation.Loan, error) {
	start := time.Now()
	ctx, span := e.startCommandSpan(ctx, "borrow")

	loan, err := e.borrow(ctx, itemCode, memberCode, loanPeriodDays)
	e.recordCommand("borrow", start, err)
	e.finishCommandSpan(span, err)

	return loan, err
}

func (e *Engine) borrow(ctx context.Context, itemCode string, memberCode string, loanPeriodDays int) (circulation.Loan, error) {
	var empty circulation.Loan

	if loanPeriodDays == 0 {
		loanPeriodDays = e.loanPeriodDays
	}

	if loanPeriodDays < 0 {
		return empty, circulation.ErrInvalidLoanPeriod
	}

	if lockErr := e.mu.Lock(ctx); lockErr != nil {
		return empty, lockErr
	}
	defer e.mu.Unlock()

	item, found := e.items[itemCode]
	if !found {
		return empty, circulation.ErrItemNotFound
	}

	if item.AvailableCopies < 1 {
		return empty, circulation.ErrNoCopiesAvailable
	}

	member, found := e.members[memberCode]
	if !found {
		return empty, circulation.ErrMemberNotFound
	}

	if !member.Eligible() {
		return empty, circulation.ErrMemberSuspended
	}

	now := e.now()
	borrowedOn := circulation.DateOf(now)

	e.nextLoanID++
	loan := circulation.Loan{
		ID:         e.nextLoanID,
		ItemCode:   itemCode,
		MemberCode: memberCode,
		BorrowedOn: borrowedOn,
		DueOn:      borrowedOn.AddDate(0, 0, loanPeriodDays),
		Status:     circulation.StatusOnLoan,
	}

	if journalErr := e.appendJournal(circulation.BuildLoanOpened(loan, now)); journalErr != nil {
		e.nextLoanID--
		return empty, journalErr
	}

	item.AvailableCopies--
	e.loans[loan.ID] = &loan

	e.logOperation(ctx, "loan opened",
		logAttrLoanID, loan.ID,
		logAttrItemCode, itemCode,
		logAttrMemberCode, memberCode)

	return loan, nil
}

// ReturnLoan closes a loan, computes the fine from the actual elapsed
// overdue days at the current clock, and releases the copy back into the
// catalogue. A detected inventory inconsistency is reported loudly but
// never blocks the return itself.
func (e *Engine) ReturnLoan(ctx context.Context, id circulation.LoanID) (circulation.Loan, error) {
	start := time.Now()
	ctx, span := e.startCommandSpan(ctx, "return_loan")

	loan, err := e.returnLoan(ctx, id)
	e.recordCommand("return_loan", start, err)
	e.finishCommandSpan(span, err)

	return loan, err
}

func (e *Engine) returnLoan(ctx context.Context, id circulation.LoanID) (circulation.Loan, error) {
	var empty circulation.Loan

	if lockErr := e.mu.Lock(ctx); lockErr != nil {
		return empty, lockErr
	}
	defer e.mu.Unlock()

	loan, found := e.loans[id]
	if !found {
		return empty, circulation.ErrLoanNotFound
	}

	if !loan.Status.CanTransitionTo(circulation.StatusReturned) {
		return empty, circulation.ErrLoanAlreadyReturned
	}

	now := e.now()
	closed := *loan
	closed.ReturnedOn = circulation.DateOf(now)
	closed.Status = circulation.StatusReturned
	closed.FineAmount = circulation.FineFor(loan.DueOn, now, e.dailyFineRate)

	if journalErr := e.appendJournal(circulation.BuildLoanReturned(closed, now)); journalErr != nil {
		return empty, journalErr
	}

	*loan = closed

	e.releaseCopy(ctx, closed, now)

	e.logOperation(ctx, "loan returned",
		logAttrLoanID, closed.ID,
		logAttrItemCode, closed.ItemCode,
		logAttrFineAmount, closed.FineAmount)

	return closed, nil
}

// releaseCopy puts the returned copy back into the catalogue. A missing
// item row or a counter already at the total signals corrupted inventory:
// the counter is left untouched and the bug is journaled and logged.
func (e *Engine) releaseCopy(ctx context.Context, loan circulation.Loan, now time.Time) {
	item, found := e.items[loan.ItemCode]

	detail := ""
	switch {
	case !found:
		detail = "item is no longer catalogued"
	case item.AvailableCopies >= item.TotalCopies:
		detail = "release would push available copies above total copies"
	}

	if detail == "" {
		item.AvailableCopies++
		return
	}

	corruptionErr := errors.Join(circulation.ErrCorruptedInventory, errors.New(detail))
	e.logErrorContext(ctx, logMsgInventoryCorruption,
		logAttrItemCode, loan.ItemCode,
		logAttrLoanID, loan.ID,
		logAttrError, corruptionErr.Error())

	corruption := circulation.BuildInventoryCorruptionDetected(loan.ItemCode, loan.ID, detail, now)
	if journalErr := e.appendJournal(corruption); journalErr != nil && e.logger != nil {
		e.logger.Warn("failed to journal inventory corruption", "error", journalErr.Error())
	}
}

// PreviewFine computes the fine a loan would incur if returned as of the
// given date, without mutating anything. For an already-returned loan it
// reports the recorded fine, frozen at return time.
func (e *Engine) PreviewFine(ctx context.Context, id circulation.LoanID, asOf time.Time) (float64, error) {
	if lockErr := e.mu.RLock(ctx); lockErr != nil {
		return 0, lockErr
	}
	defer e.mu.RUnlock()

	loan, found := e.loans[id]
	if !found {
		return 0, circulation.ErrLoanNotFound
	}

	if loan.Status == circulation.StatusReturned {
		return loan.FineAmount, nil
	}

	return circulation.FineFor(loan.DueOn, asOf, e.dailyFineRate), nil
}

/***** Overdue scanner *****/

// SweepOverdue reclassifies every on-loan record whose due date lies
// before asOf as overdue and returns the number of loans transitioned.
// The sweep is idempotent: a second run with the same asOf flips nothing.
func (e *Engine) SweepOverdue(ctx context.Context, asOf time.Time) (int, error) {
	start := time.Now()
	ctx, span := e.startCommandSpan(ctx, "sweep_overdue")

	count, err := e.sweepOverdue(ctx, asOf)
	e.recordCommand("sweep_overdue", start, err)
	e.finishCommandSpan(span, err)

	return count, err
}

func (e *Engine) sweepOverdue(ctx context.Context, asOf time.Time) (int, error) {
	if lockErr := e.mu.Lock(ctx); lockErr != nil {
		return 0, lockErr
	}
	defer e.mu.Unlock()

	transitioned := 0

	for _, loan := range e.loans {
		if !loan.Status.CanTransitionTo(circulation.StatusOverdue) || !circulation.IsOverdue(loan.DueOn, asOf) {
			continue
		}

		loan.Status = circulation.StatusOverdue
		transitioned++

		if journalErr := e.appendJournal(circulation.BuildLoanMarkedOverdue(*loan, e.now())); journalErr != nil && e.logger != nil {
			e.logger.Warn("failed to journal overdue transition", "error", journalErr.Error())
		}
	}

	if transitioned > 0 {
		e.logOperation(ctx, "overdue sweep", logAttrTransitioned, transitioned)
	}

	return transitioned, nil
}

/***** Query layer *****/

// GetLoan returns a single loan by its id.
func (e *Engine) GetLoan(ctx context.Context, id circulation.LoanID) (circulation.Loan, error) {
	var empty circulation.Loan

	if lockErr := e.mu.RLock(ctx); lockErr != nil {
		return empty, lockErr
	}
	defer e.mu.RUnlock()

	loan, found := e.loans[id]
	if !found {
		return empty, circulation.ErrLoanNotFound
	}

	return *loan, nil
}

// SearchItems returns all catalogue items matching the filter, ordered by code.
func (e *Engine) SearchItems(ctx context.Context, filter circulation.ItemFilter) ([]circulation.CatalogueItem, error) {
	if lockErr := e.mu.RLock(ctx); lockErr != nil {
		return nil, lockErr
	}
	defer e.mu.RUnlock()

	matches := make([]circulation.CatalogueItem, 0)
	for _, item := range e.items {
		if filter.Matches(*item) {
			matches = append(matches, *item)
		}
	}

	slices.SortFunc(matches, func(a, b circulation.CatalogueItem) int {
		return strings.Compare(a.Code, b.Code)
	})

	return matches, nil
}

// SearchMembers returns all members matching the filter, ordered by code.
func (e *Engine) SearchMembers(ctx context.Context, filter circulation.MemberFilter) ([]circulation.Member, error) {
	if lockErr := e.mu.RLock(ctx); lockErr != nil {
		return nil, lockErr
	}
	defer e.mu.RUnlock()

	matches := make([]circulation.Member, 0)
	for _, member := range e.members {
		if filter.Matches(*member) {
			matches = append(matches, *member)
		}
	}

	slices.SortFunc(matches, func(a, b circulation.Member) int {
		return strings.Compare(a.Code, b.Code)
	})

	return matches, nil
}

// SearchLoans returns all loan records matching the filter, ordered by id.
func (e *Engine) SearchLoans(ctx context.Context, filter circulation.LoanFilter) ([]circulation.Loan, error) {
	if lockErr := e.mu.RLock(ctx); lockErr != nil {
		return nil, lockErr
	}
	defer e.mu.RUnlock()

	matches := make([]circulation.Loan, 0)
	for _, loan := range e.loans {
		if filter.Matches(*loan) {
			matches = append(matches, *loan)
		}
	}

	slices.SortFunc(matches, func(a, b circulation.Loan) int {
		return int(a.ID - b.ID)
	})

	return matches, nil
}

// ListOverdueLoans returns every loan the sweep has marked overdue, joined
// with the item and member display fields, ordered by due date then id.
func (e *Engine) ListOverdueLoans(ctx context.Context) ([]circulation.OverdueLoan, error) {
	if lockErr := e.mu.RLock(ctx); lockErr != nil {
		return nil, lockErr
	}
	defer e.mu.RUnlock()

	overdue := make([]circulation.OverdueLoan, 0)

	for _, loan := range e.loans {
		if loan.Status != circulation.StatusOverdue {
			continue
		}

		row := circulation.OverdueLoan{Loan: *loan}

		if item, found := e.items[loan.ItemCode]; found {
			row.ItemTitle = item.Title
		}

		if member, found := e.members[loan.MemberCode]; found {
			row.MemberName = member.Name
			row.MemberPhone = member.Phone
		}

		overdue = append(overdue, row)
	}

	slices.SortFunc(overdue, func(a, b circulation.OverdueLoan) int {
		if c := a.Loan.DueOn.Compare(b.Loan.DueOn); c != 0 {
			return c
		}

		return int(a.Loan.ID - b.Loan.ID)
	})

	return overdue, nil
}

// Statistics returns the aggregate counts over the catalogue and ledger.
func (e *Engine) Statistics(ctx context.Context) (circulation.Statistics, error) {
	var stats circulation.Statistics

	if lockErr := e.mu.RLock(ctx); lockErr != nil {
		return stats, lockErr
	}
	defer e.mu.RUnlock()

	stats.TotalItems = len(e.items)
	for _, item := range e.items {
		stats.TotalCopies += item.TotalCopies
	}

	stats.TotalLoansEver = len(e.loans)
	for _, loan := range e.loans {
		switch loan.Status {
		case circulation.StatusOnLoan:
			stats.ActiveLoans++
		case circulation.StatusOverdue:
			stats.ActiveLoans++
			stats.OverdueLoans++
		case circulation.StatusReturned:
			stats.ReturnedLoans++
		}
	}

	return stats, nil
}

// RecentEvents returns up to limit of the most recent journal entries in
// chronological order. A non-positive limit returns the whole journal.
func (e *Engine) RecentEvents(ctx context.Context, limit int) ([]circulation.JournalEntry, error) {
	if lockErr := e.mu.RLock(ctx); lockErr != nil {
		return nil, lockErr
	}
	defer e.mu.RUnlock()

	from := 0
	if limit > 0 && len(e.journal) > limit {
		from = len(e.journal) - limit
	}

	return slices.Clone(e.journal[from:]), nil
}

/***** helpers *****/

func (e *Engine) appendJournal(event circulation.JournalEvent) error {
	entry, err := circulation.BuildJournalEntry(event)
	if err != nil {
		return err
	}

	e.journal = append(e.journal, entry)

	return nil
}

// logOperation logs operational information at info level. A configured
// contextual logger takes precedence, so the entry carries the request
// context for trace correlation.
func (e *Engine) logOperation(ctx context.Context, action string, args ...any) {
	if e.ctxLogger != nil {
		e.ctxLogger.InfoContext(ctx, logMsgOperation+action, args...)
		return
	}

	if e.logger != nil {
		e.logger.Info(logMsgOperation+action, args...)
	}
}

func (e *Engine) logErrorContext(ctx context.Context, msg string, args ...any) {
	if e.ctxLogger != nil {
		e.ctxLogger.ErrorContext(ctx, msg, args...)
		return
	}

	if e.logger != nil {
		e.logger.Error(msg, args...)
	}
}

func (e *Engine) recordCommand(command string, start time.Time, err error) {
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

func (e *Engine) startCommandSpan(ctx context.Context, command string) (context.Context, circulation.SpanContext) {
	if e.tracing == nil {
		return ctx, nil
	}

	return e.tracing.StartSpan(ctx, spanNamePrefix+command, map[string]string{labelCommand: command})
}

func (e *Engine) finishCommandSpan(span circulation.SpanContext, err error) {
	if e.tracing == nil || span == nil {
		return
	}

	if err != nil {
		e.tracing.FinishSpan(span, outcomeError, map[string]string{"error": err.Error()})
		return
	}

	e.tracing.FinishSpan(span, outcomeSuccess, nil)
}
