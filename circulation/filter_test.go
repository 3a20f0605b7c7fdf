package circulation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openshelf/circulation-go/circulation"
)

func Test_ItemFilter_Matches_CaseInsensitiveSubstrings(t *testing.T) {
	// arrange
	item := circulation.CatalogueItem{
		Code:     "978-1-098-10013-1",
		Title:    "Learning Domain-Driven Design",
		Author:   "Vlad Khononov",
		Category: "Software",
	}

	filter := circulation.BuildItemFilter().
		TitleContains("DOMAIN-driven").
		AuthorContains("khononov").
		Finalize()

	// act + assert
	assert.True(t, filter.Matches(item))
}

func Test_ItemFilter_Matches_AllTermsMustMatch(t *testing.T) {
	// arrange
	item := circulation.CatalogueItem{
		Code:  "978-1-098-10013-1",
		Title: "Learning Domain-Driven Design",
	}

	filter := circulation.BuildItemFilter().
		TitleContains("domain").
		CategoryContains("poetry").
		Finalize()

	// act + assert
	assert.False(t, filter.Matches(item))
}

func Test_ItemFilter_EmptyFilter_MatchesEverything(t *testing.T) {
	filter := circulation.BuildItemFilter().Finalize()

	assert.True(t, filter.IsEmpty())
	assert.True(t, filter.Matches(circulation.CatalogueItem{Code: "anything"}))
}

func Test_ItemFilter_SanitizesWhitespaceTerms(t *testing.T) {
	filter := circulation.BuildItemFilter().
		CodeContains("   ").
		TitleContains("  design  ").
		Finalize()

	assert.Equal(t, "", filter.Code())
	assert.Equal(t, "design", filter.Title())
}

func Test_MemberFilter_Matches_ByAnySubsetOfFields(t *testing.T) {
	// arrange
	member := circulation.Member{
		Code:  "R-1024",
		Name:  "Ada Lovelace",
		Phone: "555-0140",
	}

	// act + assert
	assert.True(t, circulation.BuildMemberFilter().NameContains("lovelace").Finalize().Matches(member))
	assert.True(t, circulation.BuildMemberFilter().CodeContains("1024").PhoneContains("0140").Finalize().Matches(member))
	assert.False(t, circulation.BuildMemberFilter().NameContains("grace").Finalize().Matches(member))
}

func Test_LoanFilter_Matches_StatusIsExact(t *testing.T) {
	// arrange
	loan := circulation.Loan{
		ItemCode:   "978-1-098-10013-1",
		MemberCode: "R-1024",
		Status:     circulation.StatusOverdue,
	}

	// act + assert
	assert.True(t, circulation.BuildLoanFilter().WithStatus(circulation.StatusOverdue).Finalize().Matches(loan))
	assert.False(t, circulation.BuildLoanFilter().WithStatus(circulation.StatusOnLoan).Finalize().Matches(loan))
	assert.True(t, circulation.BuildLoanFilter().ItemCodeContains("10013").MemberCodeContains("r-10").Finalize().Matches(loan))
}
