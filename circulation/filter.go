package circulation

import (
	"strings"
)

// The search filters support partial-match search over items, members and
// loan records by any subset of fields. All provided terms must match
// (AND); matching is case-insensitive substring matching. Filters are
// built with the fluent builders below and are immutable once finalized.

/***** ItemFilter *****/

// ItemFilter holds the search criteria for catalogue items.
type ItemFilter struct {
	code     string
	title    string
	author   string
	category string
}

func (f ItemFilter) Code() string     { return f.code }
func (f ItemFilter) Title() string    { return f.title }
func (f ItemFilter) Author() string   { return f.author }
func (f ItemFilter) Category() string { return f.category }

// IsEmpty reports whether the filter matches every item.
func (f ItemFilter) IsEmpty() bool {
	return f.code == "" && f.title == "" && f.author == "" && f.category == ""
}

// Matches reports whether the given item satisfies every term of the filter.
func (f ItemFilter) Matches(item CatalogueItem) bool {
	return containsFold(item.Code, f.code) &&
		containsFold(item.Title, f.title) &&
		containsFold(item.Author, f.author) &&
		containsFold(item.Category, f.category)
}

// ItemFilterBuilder builds an ItemFilter. Terms are sanitized: leading and
// trailing whitespace is removed, and empty terms are dropped.
type ItemFilterBuilder struct {
	filter ItemFilter
}

// BuildItemFilter creates an ItemFilterBuilder which must eventually be
// finalized with Finalize().
func BuildItemFilter() ItemFilterBuilder {
	return ItemFilterBuilder{}
}

// CodeContains adds a partial-match term on the item code.
func (b ItemFilterBuilder) CodeContains(term string) ItemFilterBuilder {
	b.filter.code = sanitizeTerm(term)
	return b
}

// TitleContains adds a partial-match term on the title.
func (b ItemFilterBuilder) TitleContains(term string) ItemFilterBuilder {
	b.filter.title = sanitizeTerm(term)
	return b
}

// AuthorContains adds a partial-match term on the author.
func (b ItemFilterBuilder) AuthorContains(term string) ItemFilterBuilder {
	b.filter.author = sanitizeTerm(term)
	return b
}

// CategoryContains adds a partial-match term on the category.
func (b ItemFilterBuilder) CategoryContains(term string) ItemFilterBuilder {
	b.filter.category = sanitizeTerm(term)
	return b
}

// Finalize returns the built ItemFilter.
func (b ItemFilterBuilder) Finalize() ItemFilter {
	return b.filter
}

/***** MemberFilter *****/

// MemberFilter holds the search criteria for members.
type MemberFilter struct {
	code  string
	name  string
	phone string
}

func (f MemberFilter) Code() string  { return f.code }
func (f MemberFilter) Name() string  { return f.name }
func (f MemberFilter) Phone() string { return f.phone }

// IsEmpty reports whether the filter matches every member.
func (f MemberFilter) IsEmpty() bool {
	return f.code == "" && f.name == "" && f.phone == ""
}

// Matches reports whether the given member satisfies every term of the filter.
func (f MemberFilter) Matches(member Member) bool {
	return containsFold(member.Code, f.code) &&
		containsFold(member.Name, f.name) &&
		containsFold(member.Phone, f.phone)
}

// MemberFilterBuilder builds a MemberFilter.
type MemberFilterBuilder struct {
	filter MemberFilter
}

// BuildMemberFilter creates a MemberFilterBuilder which must eventually be
// finalized with Finalize().
func BuildMemberFilter() MemberFilterBuilder {
	return MemberFilterBuilder{}
}

// CodeContains adds a partial-match term on the member code.
func (b MemberFilterBuilder) CodeContains(term string) MemberFilterBuilder {
	b.filter.code = sanitizeTerm(term)
	return b
}

// NameContains adds a partial-match term on the member name.
func (b MemberFilterBuilder) NameContains(term string) MemberFilterBuilder {
	b.filter.name = sanitizeTerm(term)
	return b
}

// PhoneContains adds a partial-match term on the phone number.
func (b MemberFilterBuilder) PhoneContains(term string) MemberFilterBuilder {
	b.filter.phone = sanitizeTerm(term)
	return b
}

// Finalize returns the built MemberFilter.
func (b MemberFilterBuilder) Finalize() MemberFilter {
	return b.filter
}

/***** LoanFilter *****/

// LoanFilter holds the search criteria for loan records: partial matches
// on the referenced item and member codes and an exact status.
type LoanFilter struct {
	itemCode   string
	memberCode string
	status     LoanStatus
}

func (f LoanFilter) ItemCode() string   { return f.itemCode }
func (f LoanFilter) MemberCode() string { return f.memberCode }
func (f LoanFilter) Status() LoanStatus { return f.status }

// IsEmpty reports whether the filter matches every loan.
func (f LoanFilter) IsEmpty() bool {
	return f.itemCode == "" && f.memberCode == "" && f.status == ""
}

// Matches reports whether the given loan satisfies every term of the filter.
func (f LoanFilter) Matches(loan Loan) bool {
	if f.status != "" && loan.Status != f.status {
		return false
	}

	return containsFold(loan.ItemCode, f.itemCode) &&
		containsFold(loan.MemberCode, f.memberCode)
}

// LoanFilterBuilder builds a LoanFilter.
type LoanFilterBuilder struct {
	filter LoanFilter
}

// BuildLoanFilter creates a LoanFilterBuilder which must eventually be
// finalized with Finalize().
func BuildLoanFilter() LoanFilterBuilder {
	return LoanFilterBuilder{}
}

// ItemCodeContains adds a partial-match term on the loan's item code.
func (b LoanFilterBuilder) ItemCodeContains(term string) LoanFilterBuilder {
	b.filter.itemCode = sanitizeTerm(term)
	return b
}

// MemberCodeContains adds a partial-match term on the loan's member code.
func (b LoanFilterBuilder) MemberCodeContains(term string) LoanFilterBuilder {
	b.filter.memberCode = sanitizeTerm(term)
	return b
}

// WithStatus restricts the filter to loans in the given status.
func (b LoanFilterBuilder) WithStatus(status LoanStatus) LoanFilterBuilder {
	b.filter.status = status
	return b
}

// Finalize returns the built LoanFilter.
func (b LoanFilterBuilder) Finalize() LoanFilter {
	return b.filter
}

func sanitizeTerm(term string) string {
	return strings.TrimSpace(term)
}

// containsFold reports whether value contains term case-insensitively.
// An empty term matches everything.
func containsFold(value string, term string) bool {
	if term == "" {
		return true
	}

	return strings.Contains(strings.ToLower(value), strings.ToLower(term))
}
