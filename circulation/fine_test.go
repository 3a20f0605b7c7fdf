package circulation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/openshelf/circulation-go/circulation"
)

func Test_FineFor_Zero_WhenReturnedOnDueDate(t *testing.T) {
	// arrange
	dueOn := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	// act
	fine := circulation.FineFor(dueOn, dueOn, circulation.DefaultDailyFineRate)

	// assert
	assert.Zero(t, fine, "Returning on the due date should not incur a fine")
}

func Test_FineFor_Zero_WhenReturnedBeforeDueDate(t *testing.T) {
	// arrange
	dueOn := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	returnedOn := dueOn.AddDate(0, 0, -10)

	// act
	fine := circulation.FineFor(dueOn, returnedOn, circulation.DefaultDailyFineRate)

	// assert
	assert.Zero(t, fine, "Returning before the due date should not incur a fine")
}

func Test_FineFor_FiveDaysLate_AtDefaultRate(t *testing.T) {
	// arrange
	dueOn := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	returnedOn := dueOn.AddDate(0, 0, 5)

	// act
	fine := circulation.FineFor(dueOn, returnedOn, 0.5)

	// assert
	assert.InDelta(t, 2.5, fine, 1e-9, "Five days late at 0.5 per day should be 2.5")
}

func Test_FineFor_IgnoresTimeOfDay(t *testing.T) {
	// arrange
	dueOn := time.Date(2026, 3, 15, 23, 59, 0, 0, time.UTC)
	returnedOn := time.Date(2026, 3, 16, 0, 1, 0, 0, time.UTC)

	// act
	fine := circulation.FineFor(dueOn, returnedOn, 1.0)

	// assert
	assert.InDelta(t, 1.0, fine, 1e-9, "One calendar day late should count as one day regardless of clock time")
}

func Test_DaysLate_Zero_OnDueDate(t *testing.T) {
	dueOn := time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC)

	assert.Zero(t, circulation.DaysLate(dueOn, dueOn))
}

func Test_IsOverdue_FalseOnDueDate_TrueTheDayAfter(t *testing.T) {
	dueOn := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	assert.False(t, circulation.IsOverdue(dueOn, dueOn))
	assert.True(t, circulation.IsOverdue(dueOn, dueOn.AddDate(0, 0, 1)))
}

func Test_ParseDate_RoundTripsWithFormatDate(t *testing.T) {
	// arrange
	original := time.Date(2026, 8, 29, 17, 30, 0, 0, time.FixedZone("CEST", 2*3600))

	// act
	parsed, err := circulation.ParseDate(circulation.FormatDate(original))

	// assert
	assert.NoError(t, err)
	assert.Equal(t, circulation.DateOf(original), parsed)
}

func Test_ParseDate_Error_OnGarbage(t *testing.T) {
	_, err := circulation.ParseDate("not-a-date")

	assert.Error(t, err)
}
