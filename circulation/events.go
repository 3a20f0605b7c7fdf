package circulation

import (
	"errors"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// Journal event type identifiers.
const (
	LoanOpenedEventType                  = "LoanOpened"
	LoanReturnedEventType                = "LoanReturned"
	LoanMarkedOverdueEventType           = "LoanMarkedOverdue"
	ItemAddedToCatalogueEventType        = "ItemAddedToCatalogue"
	ItemRemovedFromCatalogueEventType    = "ItemRemovedFromCatalogue"
	MemberRegisteredEventType            = "MemberRegistered"
	MemberRemovedEventType               = "MemberRemoved"
	InventoryCorruptionDetectedEventType = "InventoryCorruptionDetected"
)

// ErrMarshalingJournalEventFailed is returned when a journal event cannot
// be serialized to its JSON payload.
var ErrMarshalingJournalEventFailed = errors.New("marshaling journal event failed")

// JournalEvent represents a committed mutation recorded in the engine's
// append-only journal.
type JournalEvent interface {
	// IsEventType returns the string identifier for this event type.
	IsEventType() string

	// HasOccurredAt returns when this event occurred.
	HasOccurredAt() time.Time

	// IsErrorEvent returns true if this event records a detected
	// inconsistency rather than a regular operation.
	IsErrorEvent() bool
}

// LoanOpened records a successful borrow.
type LoanOpened struct {
	EventType  string
	LoanID     LoanID
	ItemCode   string
	MemberCode string
	DueOn      string
	OccurredAt time.Time
}

// BuildLoanOpened creates a LoanOpened event from a freshly created loan.
func BuildLoanOpened(loan Loan, occurredAt time.Time) LoanOpened {
	return LoanOpened{
		EventType:  LoanOpenedEventType,
		LoanID:     loan.ID,
		ItemCode:   loan.ItemCode,
		MemberCode: loan.MemberCode,
		DueOn:      FormatDate(loan.DueOn),
		OccurredAt: occurredAt,
	}
}

func (e LoanOpened) IsEventType() string      { return LoanOpenedEventType }
func (e LoanOpened) HasOccurredAt() time.Time { return e.OccurredAt }
func (e LoanOpened) IsErrorEvent() bool       { return false }

// LoanReturned records a successful return including the computed fine.
type LoanReturned struct {
	EventType  string
	LoanID     LoanID
	ItemCode   string
	MemberCode string
	FineAmount float64
	OccurredAt time.Time
}

// BuildLoanReturned creates a LoanReturned event from a closed loan.
func BuildLoanReturned(loan Loan, occurredAt time.Time) LoanReturned {
	return LoanReturned{
		EventType:  LoanReturnedEventType,
		LoanID:     loan.ID,
		ItemCode:   loan.ItemCode,
		MemberCode: loan.MemberCode,
		FineAmount: loan.FineAmount,
		OccurredAt: occurredAt,
	}
}

func (e LoanReturned) IsEventType() string      { return LoanReturnedEventType }
func (e LoanReturned) HasOccurredAt() time.Time { return e.OccurredAt }
func (e LoanReturned) IsErrorEvent() bool       { return false }

// LoanMarkedOverdue records a status flip performed by the overdue sweep.
type LoanMarkedOverdue struct {
	EventType  string
	LoanID     LoanID
	ItemCode   string
	MemberCode string
	DueOn      string
	OccurredAt time.Time
}

// BuildLoanMarkedOverdue creates a LoanMarkedOverdue event.
func BuildLoanMarkedOverdue(loan Loan, occurredAt time.Time) LoanMarkedOverdue {
	return LoanMarkedOverdue{
		EventType:  LoanMarkedOverdueEventType,
		LoanID:     loan.ID,
		ItemCode:   loan.ItemCode,
		MemberCode: loan.MemberCode,
		DueOn:      FormatDate(loan.DueOn),
		OccurredAt: occurredAt,
	}
}

func (e LoanMarkedOverdue) IsEventType() string      { return LoanMarkedOverdueEventType }
func (e LoanMarkedOverdue) HasOccurredAt() time.Time { return e.OccurredAt }
func (e LoanMarkedOverdue) IsErrorEvent() bool       { return false }

// ItemAddedToCatalogue records a new catalogue item.
type ItemAddedToCatalogue struct {
	EventType   string
	ItemCode    string
	TotalCopies int
	OccurredAt  time.Time
}

// BuildItemAddedToCatalogue creates an ItemAddedToCatalogue event.
func BuildItemAddedToCatalogue(item CatalogueItem, occurredAt time.Time) ItemAddedToCatalogue {
	return ItemAddedToCatalogue{
		EventType:   ItemAddedToCatalogueEventType,
		ItemCode:    item.Code,
		TotalCopies: item.TotalCopies,
		OccurredAt:  occurredAt,
	}
}

func (e ItemAddedToCatalogue) IsEventType() string      { return ItemAddedToCatalogueEventType }
func (e ItemAddedToCatalogue) HasOccurredAt() time.Time { return e.OccurredAt }
func (e ItemAddedToCatalogue) IsErrorEvent() bool       { return false }

// ItemRemovedFromCatalogue records an item removal.
type ItemRemovedFromCatalogue struct {
	EventType  string
	ItemCode   string
	OccurredAt time.Time
}

// BuildItemRemovedFromCatalogue creates an ItemRemovedFromCatalogue event.
func BuildItemRemovedFromCatalogue(itemCode string, occurredAt time.Time) ItemRemovedFromCatalogue {
	return ItemRemovedFromCatalogue{
		EventType:  ItemRemovedFromCatalogueEventType,
		ItemCode:   itemCode,
		OccurredAt: occurredAt,
	}
}

func (e ItemRemovedFromCatalogue) IsEventType() string      { return ItemRemovedFromCatalogueEventType }
func (e ItemRemovedFromCatalogue) HasOccurredAt() time.Time { return e.OccurredAt }
func (e ItemRemovedFromCatalogue) IsErrorEvent() bool       { return false }

// MemberRegistered records a new member.
type MemberRegistered struct {
	EventType  string
	MemberCode string
	OccurredAt time.Time
}

// BuildMemberRegistered creates a MemberRegistered event.
func BuildMemberRegistered(member Member, occurredAt time.Time) MemberRegistered {
	return MemberRegistered{
		EventType:  MemberRegisteredEventType,
		MemberCode: member.Code,
		OccurredAt: occurredAt,
	}
}

func (e MemberRegistered) IsEventType() string      { return MemberRegisteredEventType }
func (e MemberRegistered) HasOccurredAt() time.Time { return e.OccurredAt }
func (e MemberRegistered) IsErrorEvent() bool       { return false }

// MemberRemoved records a member removal.
type MemberRemoved struct {
	EventType  string
	MemberCode string
	OccurredAt time.Time
}

// BuildMemberRemoved creates a MemberRemoved event.
func BuildMemberRemoved(memberCode string, occurredAt time.Time) MemberRemoved {
	return MemberRemoved{
		EventType:  MemberRemovedEventType,
		MemberCode: memberCode,
		OccurredAt: occurredAt,
	}
}

func (e MemberRemoved) IsEventType() string      { return MemberRemovedEventType }
func (e MemberRemoved) HasOccurredAt() time.Time { return e.OccurredAt }
func (e MemberRemoved) IsErrorEvent() bool       { return false }

// InventoryCorruptionDetected records an inventory invariant violation
// observed during a return: releasing the copy would have pushed the
// available count above the total, or the item row was missing entirely.
// The triggering return is still committed; this event is the loud report.
type InventoryCorruptionDetected struct {
	EventType  string
	ItemCode   string
	LoanID     LoanID
	Detail     string
	OccurredAt time.Time
}

// BuildInventoryCorruptionDetected creates an InventoryCorruptionDetected event.
func BuildInventoryCorruptionDetected(itemCode string, loanID LoanID, detail string, occurredAt time.Time) InventoryCorruptionDetected {
	return InventoryCorruptionDetected{
		EventType:  InventoryCorruptionDetectedEventType,
		ItemCode:   itemCode,
		LoanID:     loanID,
		Detail:     detail,
		OccurredAt: occurredAt,
	}
}

func (e InventoryCorruptionDetected) IsEventType() string {
	return InventoryCorruptionDetectedEventType
}
func (e InventoryCorruptionDetected) HasOccurredAt() time.Time { return e.OccurredAt }
func (e InventoryCorruptionDetected) IsErrorEvent() bool       { return true }

// JournalEntry is the stored form of a journal event: a unique event ID,
// the event type, the occurrence time, and the JSON-serialized payload.
//
// While its properties are exported, it should only be constructed with
// BuildJournalEntry.
type JournalEntry struct {
	EventID    string
	EventType  string
	OccurredAt time.Time
	Payload    []byte
}

// BuildJournalEntry serializes a JournalEvent into its stored form,
// assigning a fresh event ID.
func BuildJournalEntry(event JournalEvent) (JournalEntry, error) {
	payload, err := jsoniter.ConfigFastest.Marshal(event)
	if err != nil {
		return JournalEntry{}, errors.Join(ErrMarshalingJournalEventFailed, err)
	}

	return JournalEntry{
		EventID:    uuid.New().String(),
		EventType:  event.IsEventType(),
		OccurredAt: event.HasOccurredAt(),
		Payload:    payload,
	}, nil
}
