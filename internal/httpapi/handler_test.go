package httpapi_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openshelf/circulation-go/circulation/memoryengine"
	"github.com/openshelf/circulation-go/internal/httpapi"
	"github.com/openshelf/circulation-go/testutil/enginetest"
)

var json = jsoniter.ConfigFastest

func Test_Handler_CreatesAndFetchesItem(t *testing.T) {
	// arrange
	handler := newTestHandler(t, enginetest.NewClock(testStart()))

	// act
	created := doRequest(t, handler, http.MethodPost, "/items", map[string]any{
		"code":         "978-0134190440",
		"title":        "The Go Programming Language",
		"author":       "Donovan, Kernighan",
		"total_copies": 3,
	})
	fetched := doRequest(t, handler, http.MethodGet, "/items/978-0134190440", nil)

	// assert
	require.Equal(t, http.StatusCreated, created.Code)
	require.Equal(t, http.StatusOK, fetched.Code)

	var view map[string]any
	decodeBody(t, fetched, &view)
	assert.Equal(t, "The Go Programming Language", view["title"])
	assert.Equal(t, float64(3), view["total_copies"])
	assert.Equal(t, float64(3), view["available_copies"])
}

func Test_Handler_ReturnsNotFound_ForUnknownItem(t *testing.T) {
	// arrange
	handler := newTestHandler(t, enginetest.NewClock(testStart()))

	// act
	response := doRequest(t, handler, http.MethodGet, "/items/missing", nil)

	// assert
	assert.Equal(t, http.StatusNotFound, response.Code)
}

func Test_Handler_RejectsDuplicateItem_WithConflict(t *testing.T) {
	// arrange
	handler := newTestHandler(t, enginetest.NewClock(testStart()))
	payload := map[string]any{"code": "dup-1", "title": "Once", "total_copies": 1}
	doRequest(t, handler, http.MethodPost, "/items", payload)

	// act
	response := doRequest(t, handler, http.MethodPost, "/items", payload)

	// assert
	assert.Equal(t, http.StatusConflict, response.Code)
}

func Test_Handler_RejectsInvalidCopyCount_WithUnprocessableEntity(t *testing.T) {
	// arrange
	handler := newTestHandler(t, enginetest.NewClock(testStart()))

	// act
	response := doRequest(t, handler, http.MethodPost, "/items", map[string]any{
		"code":         "zero-copies",
		"title":        "Empty Shelf",
		"total_copies": 0,
	})

	// assert
	assert.Equal(t, http.StatusUnprocessableEntity, response.Code)
}

func Test_Handler_RejectsMalformedJSON_WithBadRequest(t *testing.T) {
	// arrange
	handler := newTestHandler(t, enginetest.NewClock(testStart()))
	request := httptest.NewRequest(http.MethodPost, "/items", bytes.NewBufferString("{not json"))
	response := httptest.NewRecorder()

	// act
	handler.ServeHTTP(response, request)

	// assert
	assert.Equal(t, http.StatusBadRequest, response.Code)
}

func Test_Handler_BorrowAndReturnFlow(t *testing.T) {
	// arrange
	handler := newTestHandler(t, enginetest.NewClock(testStart()))
	seedItemAndMember(t, handler, "book-1", "member-1")

	// act
	borrowed := doRequest(t, handler, http.MethodPost, "/loans", map[string]any{
		"item_code":   "book-1",
		"member_code": "member-1",
	})

	// assert
	require.Equal(t, http.StatusCreated, borrowed.Code)

	var loan map[string]any
	decodeBody(t, borrowed, &loan)
	assert.Equal(t, "on_loan", loan["status"])
	assert.Equal(t, "2024-03-01", loan["borrowed_on"])
	assert.Equal(t, "2024-03-31", loan["due_on"])

	item := doRequest(t, handler, http.MethodGet, "/items/book-1", nil)
	var itemView map[string]any
	decodeBody(t, item, &itemView)
	assert.Equal(t, float64(1), itemView["available_copies"])

	// act
	returned := doRequest(t, handler, http.MethodPost, "/loans/1/return", nil)

	// assert
	require.Equal(t, http.StatusOK, returned.Code)

	var closed map[string]any
	decodeBody(t, returned, &closed)
	assert.Equal(t, "returned", closed["status"])
	assert.Equal(t, "2024-03-01", closed["returned_on"])
	assert.Equal(t, float64(0), closed["fine_amount"])
}

func Test_Handler_ReturnsConflict_WhenLoanAlreadyReturned(t *testing.T) {
	// arrange
	handler := newTestHandler(t, enginetest.NewClock(testStart()))
	seedItemAndMember(t, handler, "book-1", "member-1")
	doRequest(t, handler, http.MethodPost, "/loans", map[string]any{"item_code": "book-1", "member_code": "member-1"})
	doRequest(t, handler, http.MethodPost, "/loans/1/return", nil)

	// act
	response := doRequest(t, handler, http.MethodPost, "/loans/1/return", nil)

	// assert
	assert.Equal(t, http.StatusConflict, response.Code)
}

func Test_Handler_RejectsNonNumericLoanID(t *testing.T) {
	// arrange
	handler := newTestHandler(t, enginetest.NewClock(testStart()))

	// act
	response := doRequest(t, handler, http.MethodGet, "/loans/abc", nil)

	// assert
	assert.Equal(t, http.StatusBadRequest, response.Code)
}

func Test_Handler_PreviewFine_HonoursAsOfQuery(t *testing.T) {
	// arrange
	handler := newTestHandler(t, enginetest.NewClock(testStart()))
	seedItemAndMember(t, handler, "book-1", "member-1")
	doRequest(t, handler, http.MethodPost, "/loans", map[string]any{"item_code": "book-1", "member_code": "member-1"})

	// act
	response := doRequest(t, handler, http.MethodGet, "/loans/1/fine?as_of=2024-04-05", nil)

	// assert
	require.Equal(t, http.StatusOK, response.Code)

	var preview map[string]any
	decodeBody(t, response, &preview)
	assert.Equal(t, "2024-04-05", preview["as_of"])
	assert.Equal(t, 2.5, preview["fine_amount"])
}

func Test_Handler_SweepMarksOverdueLoans(t *testing.T) {
	// arrange
	handler := newTestHandler(t, enginetest.NewClock(testStart()))
	seedItemAndMember(t, handler, "book-1", "member-1")
	doRequest(t, handler, http.MethodPost, "/loans", map[string]any{"item_code": "book-1", "member_code": "member-1"})

	// act
	swept := doRequest(t, handler, http.MethodPost, "/sweep?as_of=2024-04-01", nil)

	// assert
	require.Equal(t, http.StatusOK, swept.Code)

	var result map[string]any
	decodeBody(t, swept, &result)
	assert.Equal(t, float64(1), result["transitioned"])

	overdue := doRequest(t, handler, http.MethodGet, "/overdue", nil)
	var rows []map[string]any
	decodeBody(t, overdue, &rows)
	require.Len(t, rows, 1)
	assert.Equal(t, "A Borrowed Book", rows[0]["item_title"])
	assert.Equal(t, "Ada Reader", rows[0]["member_name"])
}

func Test_Handler_SuspendedMemberCannotBorrow(t *testing.T) {
	// arrange
	handler := newTestHandler(t, enginetest.NewClock(testStart()))
	seedItemAndMember(t, handler, "book-1", "member-1")

	suspended := doRequest(t, handler, http.MethodPut, "/members/member-1/standing", map[string]any{"standing": "suspended"})
	require.Equal(t, http.StatusNoContent, suspended.Code)

	// act
	response := doRequest(t, handler, http.MethodPost, "/loans", map[string]any{"item_code": "book-1", "member_code": "member-1"})

	// assert
	assert.Equal(t, http.StatusConflict, response.Code)
}

func Test_Handler_SearchFiltersLoansByStatus(t *testing.T) {
	// arrange
	handler := newTestHandler(t, enginetest.NewClock(testStart()))
	seedItemAndMember(t, handler, "book-1", "member-1")
	doRequest(t, handler, http.MethodPost, "/loans", map[string]any{"item_code": "book-1", "member_code": "member-1"})
	doRequest(t, handler, http.MethodPost, "/loans", map[string]any{"item_code": "book-1", "member_code": "member-1"})
	doRequest(t, handler, http.MethodPost, "/loans/1/return", nil)

	// act
	response := doRequest(t, handler, http.MethodGet, "/loans?status=on_loan", nil)

	// assert
	require.Equal(t, http.StatusOK, response.Code)

	var loans []map[string]any
	decodeBody(t, response, &loans)
	require.Len(t, loans, 1)
	assert.Equal(t, float64(2), loans[0]["id"])
}

func Test_Handler_StatisticsAndEvents(t *testing.T) {
	// arrange
	handler := newTestHandler(t, enginetest.NewClock(testStart()))
	seedItemAndMember(t, handler, "book-1", "member-1")
	doRequest(t, handler, http.MethodPost, "/loans", map[string]any{"item_code": "book-1", "member_code": "member-1"})

	// act
	stats := doRequest(t, handler, http.MethodGet, "/statistics", nil)
	events := doRequest(t, handler, http.MethodGet, "/events?limit=1", nil)

	// assert
	require.Equal(t, http.StatusOK, stats.Code)

	var statsView map[string]any
	decodeBody(t, stats, &statsView)
	assert.Equal(t, float64(1), statsView["total_items"])
	assert.Equal(t, float64(2), statsView["total_copies"])
	assert.Equal(t, float64(1), statsView["active_loans"])

	require.Equal(t, http.StatusOK, events.Code)

	var entries []map[string]any
	decodeBody(t, events, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "LoanOpened", entries[0]["event_type"])
}

/***** helpers *****/

func testStart() time.Time {
	return time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
}

func newTestHandler(t *testing.T, clock *enginetest.Clock) http.Handler {
	t.Helper()

	engine, err := memoryengine.NewEngine(memoryengine.WithClock(clock.Now))
	require.NoError(t, err)

	return httpapi.NewHandler(engine, nil, clock.Now).Router()
}

func seedItemAndMember(t *testing.T, handler http.Handler, itemCode string, memberCode string) {
	t.Helper()

	created := doRequest(t, handler, http.MethodPost, "/items", map[string]any{
		"code":         itemCode,
		"title":        "A Borrowed Book",
		"author":       "Ann Author",
		"total_copies": 2,
	})
	require.Equal(t, http.StatusCreated, created.Code)

	registered := doRequest(t, handler, http.MethodPost, "/members", map[string]any{
		"code":  memberCode,
		"name":  "Ada Reader",
		"phone": "555-0101",
	})
	require.Equal(t, http.StatusCreated, registered.Code)
}

func decodeBody(t *testing.T, response *httptest.ResponseRecorder, target any) {
	t.Helper()

	require.NoError(t, json.Unmarshal(response.Body.Bytes(), target))
}

func doRequest(t *testing.T, handler http.Handler, method string, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Buffer
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewBuffer(encoded)
	} else {
		reader = bytes.NewBuffer(nil)
	}

	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	response := httptest.NewRecorder()
	handler.ServeHTTP(response, request)

	return response
}
