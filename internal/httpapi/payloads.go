package httpapi

import (
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/openshelf/circulation-go/circulation"
)

// itemPayload is the wire shape of a catalogue item. Copy counts are
// reported on reads; total_copies is accepted on writes while
// available_copies is always derived by the engine.
type itemPayload struct {
	Code        string  `json:"code"`
	Title       string  `json:"title"`
	Author      string  `json:"author"`
	Publisher   string  `json:"publisher,omitempty"`
	PublishDate string  `json:"publish_date,omitempty"`
	Category    string  `json:"category,omitempty"`
	Price       float64 `json:"price,omitempty"`
	Description string  `json:"description,omitempty"`

	TotalCopies     int `json:"total_copies"`
	AvailableCopies int `json:"available_copies"`
}

func (p itemPayload) toDomain() circulation.CatalogueItem {
	return circulation.CatalogueItem{
		Code:        p.Code,
		Title:       p.Title,
		Author:      p.Author,
		Publisher:   p.Publisher,
		PublishDate: p.PublishDate,
		Category:    p.Category,
		Price:       p.Price,
		Description: p.Description,
		TotalCopies: p.TotalCopies,
	}
}

func itemFromDomain(item circulation.CatalogueItem) itemPayload {
	return itemPayload{
		Code:            item.Code,
		Title:           item.Title,
		Author:          item.Author,
		Publisher:       item.Publisher,
		PublishDate:     item.PublishDate,
		Category:        item.Category,
		Price:           item.Price,
		Description:     item.Description,
		TotalCopies:     item.TotalCopies,
		AvailableCopies: item.AvailableCopies,
	}
}

// memberPayload is the wire shape of a member. registered_on is a
// YYYY-MM-DD date string; empty on writes means "today".
type memberPayload struct {
	Code         string `json:"code"`
	Name         string `json:"name"`
	Gender       string `json:"gender,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Email        string `json:"email,omitempty"`
	Address      string `json:"address,omitempty"`
	RegisteredOn string `json:"registered_on,omitempty"`
	Standing     string `json:"standing,omitempty"`
}

func (p memberPayload) toDomain() (circulation.Member, error) {
	var registeredOn time.Time
	if p.RegisteredOn != "" {
		parsed, err := circulation.ParseDate(p.RegisteredOn)
		if err != nil {
			return circulation.Member{}, err
		}

		registeredOn = parsed
	}

	return circulation.Member{
		Code:         p.Code,
		Name:         p.Name,
		Gender:       p.Gender,
		Phone:        p.Phone,
		Email:        p.Email,
		Address:      p.Address,
		RegisteredOn: registeredOn,
		Standing:     circulation.Standing(p.Standing),
	}, nil
}

func memberFromDomain(member circulation.Member) memberPayload {
	registeredOn := ""
	if !member.RegisteredOn.IsZero() {
		registeredOn = circulation.FormatDate(member.RegisteredOn)
	}

	return memberPayload{
		Code:         member.Code,
		Name:         member.Name,
		Gender:       member.Gender,
		Phone:        member.Phone,
		Email:        member.Email,
		Address:      member.Address,
		RegisteredOn: registeredOn,
		Standing:     string(member.Standing),
	}
}

// loanPayload is the wire shape of a loan. returned_on stays empty until
// the loan is returned; fine_amount is frozen once it is.
type loanPayload struct {
	ID         circulation.LoanID `json:"id"`
	ItemCode   string             `json:"item_code"`
	MemberCode string             `json:"member_code"`
	BorrowedOn string             `json:"borrowed_on"`
	DueOn      string             `json:"due_on"`
	ReturnedOn string             `json:"returned_on,omitempty"`
	Status     string             `json:"status"`
	FineAmount float64            `json:"fine_amount"`
}

func loanFromDomain(loan circulation.Loan) loanPayload {
	returnedOn := ""
	if !loan.ReturnedOn.IsZero() {
		returnedOn = circulation.FormatDate(loan.ReturnedOn)
	}

	return loanPayload{
		ID:         loan.ID,
		ItemCode:   loan.ItemCode,
		MemberCode: loan.MemberCode,
		BorrowedOn: circulation.FormatDate(loan.BorrowedOn),
		DueOn:      circulation.FormatDate(loan.DueOn),
		ReturnedOn: returnedOn,
		Status:     string(loan.Status),
		FineAmount: loan.FineAmount,
	}
}

type overduePayload struct {
	Loan        loanPayload `json:"loan"`
	ItemTitle   string      `json:"item_title"`
	MemberName  string      `json:"member_name"`
	MemberPhone string      `json:"member_phone"`
}

func overdueFromDomain(row circulation.OverdueLoan) overduePayload {
	return overduePayload{
		Loan:        loanFromDomain(row.Loan),
		ItemTitle:   row.ItemTitle,
		MemberName:  row.MemberName,
		MemberPhone: row.MemberPhone,
	}
}

type statisticsPayload struct {
	TotalItems     int `json:"total_items"`
	TotalCopies    int `json:"total_copies"`
	TotalLoansEver int `json:"total_loans_ever"`
	ActiveLoans    int `json:"active_loans"`
	OverdueLoans   int `json:"overdue_loans"`
	ReturnedLoans  int `json:"returned_loans"`
}

func statisticsFromDomain(stats circulation.Statistics) statisticsPayload {
	return statisticsPayload{
		TotalItems:     stats.TotalItems,
		TotalCopies:    stats.TotalCopies,
		TotalLoansEver: stats.TotalLoansEver,
		ActiveLoans:    stats.ActiveLoans,
		OverdueLoans:   stats.OverdueLoans,
		ReturnedLoans:  stats.ReturnedLoans,
	}
}

// eventPayload exposes a journal entry with its payload inlined as raw
// JSON instead of a base64 byte blob.
type eventPayload struct {
	EventID    string              `json:"event_id"`
	EventType  string              `json:"event_type"`
	OccurredAt string              `json:"occurred_at"`
	Payload    jsoniter.RawMessage `json:"payload"`
}

func eventFromDomain(entry circulation.JournalEntry) eventPayload {
	return eventPayload{
		EventID:    entry.EventID,
		EventType:  entry.EventType,
		OccurredAt: entry.OccurredAt.UTC().Format(time.RFC3339),
		Payload:    jsoniter.RawMessage(entry.Payload),
	}
}
