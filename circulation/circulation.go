package circulation

import (
	"time"
)

// LoanID is a type alias for int64, the ledger-assigned loan identifier.
type LoanID = int64

// LoanStatus represents the state of a loan in the ledger's state machine.
type LoanStatus string

const (
	// StatusOnLoan is the initial state of every loan.
	StatusOnLoan LoanStatus = "on_loan"
	// StatusOverdue is set by the overdue sweep once the due date has passed.
	StatusOverdue LoanStatus = "overdue"
	// StatusReturned is the terminal state; a returned loan never changes again.
	StatusReturned LoanStatus = "returned"
)

// CanTransitionTo reports whether the state machine allows moving from s to next.
// Allowed transitions are on_loan -> overdue, on_loan -> returned and
// overdue -> returned; returned is terminal.
func (s LoanStatus) CanTransitionTo(next LoanStatus) bool {
	switch s {
	case StatusOnLoan:
		return next == StatusOverdue || next == StatusReturned
	case StatusOverdue:
		return next == StatusReturned
	default:
		return false
	}
}

// Standing represents a member's borrowing eligibility.
type Standing string

const (
	StandingNormal    Standing = "normal"
	StandingSuspended Standing = "suspended"
)

// Clock supplies the current time to an engine. Engines default to time.Now;
// tests inject a controllable clock to drive due dates and fines.
type Clock = func() time.Time

// CatalogueItem is a catalogued work identified by a unique external code
// (ISBN-like), with a total and currently-available copy count. The
// descriptive metadata is opaque to circulation logic and carried for
// display only.
type CatalogueItem struct {
	Code        string
	Title       string
	Author      string
	Publisher   string
	PublishDate string
	Category    string
	Price       float64
	Description string

	TotalCopies     int
	AvailableCopies int
}

// Member is a borrower identified by a unique member code. Members are
// referenced by loans, never owned by them.
type Member struct {
	Code         string
	Name         string
	Gender       string
	Phone        string
	Email        string
	Address      string
	RegisteredOn time.Time
	Standing     Standing
}

// Eligible reports whether the member may borrow.
func (m Member) Eligible() bool {
	return m.Standing != StandingSuspended
}

// Loan is a record of one copy of one item lent to one member. Loans are
// immutable audit records: they are created by the borrow operation,
// mutated only by the return operation or the overdue sweep, and never
// deleted.
type Loan struct {
	ID         LoanID
	ItemCode   string
	MemberCode string
	BorrowedOn time.Time
	DueOn      time.Time
	ReturnedOn time.Time // zero until the loan is returned
	Status     LoanStatus
	FineAmount float64
}

// IsActive reports whether the loan still holds a copy out of the catalogue.
func (l Loan) IsActive() bool {
	return l.Status == StatusOnLoan || l.Status == StatusOverdue
}

// OverdueLoan is a read-model row joining an overdue loan with the display
// fields of its item and member.
type OverdueLoan struct {
	Loan        Loan
	ItemTitle   string
	MemberName  string
	MemberPhone string
}

// Statistics are the aggregate counts over the catalogue and the ledger.
// ActiveLoans counts loans with status on_loan or overdue; OverdueLoans
// counts only loans the sweep has already reclassified.
type Statistics struct {
	TotalItems     int
	TotalCopies    int
	TotalLoansEver int
	ActiveLoans    int
	OverdueLoans   int
	ReturnedLoans  int
}
