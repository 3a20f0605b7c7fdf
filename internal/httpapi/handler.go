package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"

	"github.com/openshelf/circulation-go/circulation"
)

var json = jsoniter.ConfigFastest

// Service is the engine surface the API consumes. Both the in-memory and
// the SQL engine satisfy it.
type Service interface {
	AddItem(ctx context.Context, item circulation.CatalogueItem) (circulation.CatalogueItem, error)
	UpdateItem(ctx context.Context, item circulation.CatalogueItem) (circulation.CatalogueItem, error)
	RemoveItem(ctx context.Context, code string) error
	GetItem(ctx context.Context, code string) (circulation.CatalogueItem, error)

	RegisterMember(ctx context.Context, member circulation.Member) (circulation.Member, error)
	SetMemberStanding(ctx context.Context, code string, standing circulation.Standing) error
	RemoveMember(ctx context.Context, code string) error
	GetMember(ctx context.Context, code string) (circulation.Member, error)

	Borrow(ctx context.Context, itemCode string, memberCode string, loanPeriodDays int) (circulation.Loan, error)
	ReturnLoan(ctx context.Context, id circulation.LoanID) (circulation.Loan, error)
	PreviewFine(ctx context.Context, id circulation.LoanID, asOf time.Time) (float64, error)
	SweepOverdue(ctx context.Context, asOf time.Time) (int, error)

	GetLoan(ctx context.Context, id circulation.LoanID) (circulation.Loan, error)
	SearchItems(ctx context.Context, filter circulation.ItemFilter) ([]circulation.CatalogueItem, error)
	SearchMembers(ctx context.Context, filter circulation.MemberFilter) ([]circulation.Member, error)
	SearchLoans(ctx context.Context, filter circulation.LoanFilter) ([]circulation.Loan, error)
	ListOverdueLoans(ctx context.Context) ([]circulation.OverdueLoan, error)
	Statistics(ctx context.Context) (circulation.Statistics, error)
	RecentEvents(ctx context.Context, limit int) ([]circulation.JournalEntry, error)
}

// Handler serves the circulation HTTP API.
type Handler struct {
	service Service
	logger  circulation.Logger
	now     circulation.Clock
}

// NewHandler creates a Handler around the given service. The logger may
// be nil; the clock defaults to time.Now and is overridable for tests.
func NewHandler(service Service, logger circulation.Logger, clock circulation.Clock) *Handler {
	if clock == nil {
		clock = time.Now
	}

	return &Handler{service: service, logger: logger, now: clock}
}

// Router builds the chi router with all API routes mounted.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Route("/items", func(r chi.Router) {
		r.Post("/", h.handleAddItem)
		r.Get("/", h.handleSearchItems)
		r.Get("/{code}", h.handleGetItem)
		r.Put("/{code}", h.handleUpdateItem)
		r.Delete("/{code}", h.handleRemoveItem)
	})

	r.Route("/members", func(r chi.Router) {
		r.Post("/", h.handleRegisterMember)
		r.Get("/", h.handleSearchMembers)
		r.Get("/{code}", h.handleGetMember)
		r.Put("/{code}/standing", h.handleSetStanding)
		r.Delete("/{code}", h.handleRemoveMember)
	})

	r.Route("/loans", func(r chi.Router) {
		r.Post("/", h.handleBorrow)
		r.Get("/", h.handleSearchLoans)
		r.Get("/{id}", h.handleGetLoan)
		r.Post("/{id}/return", h.handleReturn)
		r.Get("/{id}/fine", h.handlePreviewFine)
	})

	r.Post("/sweep", h.handleSweep)
	r.Get("/overdue", h.handleListOverdue)
	r.Get("/statistics", h.handleStatistics)
	r.Get("/events", h.handleRecentEvents)
	r.Get("/healthz", h.handleHealth)

	return r
}

/***** catalogue *****/

func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var payload itemPayload
	if !h.decode(w, r, &payload) {
		return
	}

	item, err := h.service.AddItem(r.Context(), payload.toDomain())
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, itemFromDomain(item))
}

func (h *Handler) handleSearchItems(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := circulation.BuildItemFilter().
		CodeContains(query.Get("code")).
		TitleContains(query.Get("title")).
		AuthorContains(query.Get("author")).
		CategoryContains(query.Get("category")).
		Finalize()

	items, err := h.service.SearchItems(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	views := make([]itemPayload, 0, len(items))
	for _, item := range items {
		views = append(views, itemFromDomain(item))
	}

	h.writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.GetItem(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, itemFromDomain(item))
}

func (h *Handler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var payload itemPayload
	if !h.decode(w, r, &payload) {
		return
	}

	item := payload.toDomain()
	item.Code = chi.URLParam(r, "code")

	updated, err := h.service.UpdateItem(r.Context(), item)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, itemFromDomain(updated))
}

func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RemoveItem(r.Context(), chi.URLParam(r, "code")); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

/***** members *****/

func (h *Handler) handleRegisterMember(w http.ResponseWriter, r *http.Request) {
	var payload memberPayload
	if !h.decode(w, r, &payload) {
		return
	}

	member, convErr := payload.toDomain()
	if convErr != nil {
		h.writeStatus(w, http.StatusUnprocessableEntity, convErr)
		return
	}

	registered, err := h.service.RegisterMember(r.Context(), member)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, memberFromDomain(registered))
}

func (h *Handler) handleSearchMembers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := circulation.BuildMemberFilter().
		CodeContains(query.Get("code")).
		NameContains(query.Get("name")).
		PhoneContains(query.Get("phone")).
		Finalize()

	members, err := h.service.SearchMembers(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	views := make([]memberPayload, 0, len(members))
	for _, member := range members {
		views = append(views, memberFromDomain(member))
	}

	h.writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleGetMember(w http.ResponseWriter, r *http.Request) {
	member, err := h.service.GetMember(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, memberFromDomain(member))
}

func (h *Handler) handleSetStanding(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Standing string `json:"standing"`
	}
	if !h.decode(w, r, &payload) {
		return
	}

	err := h.service.SetMemberStanding(r.Context(), chi.URLParam(r, "code"), circulation.Standing(payload.Standing))
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RemoveMember(r.Context(), chi.URLParam(r, "code")); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

/***** circulation *****/

func (h *Handler) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ItemCode       string `json:"item_code"`
		MemberCode     string `json:"member_code"`
		LoanPeriodDays int    `json:"loan_period_days"`
	}
	if !h.decode(w, r, &payload) {
		return
	}

	loan, err := h.service.Borrow(r.Context(), payload.ItemCode, payload.MemberCode, payload.LoanPeriodDays)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, loanFromDomain(loan))
}

func (h *Handler) handleSearchLoans(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := circulation.BuildLoanFilter().
		ItemCodeContains(query.Get("item_code")).
		MemberCodeContains(query.Get("member_code")).
		WithStatus(circulation.LoanStatus(query.Get("status"))).
		Finalize()

	loans, err := h.service.SearchLoans(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	views := make([]loanPayload, 0, len(loans))
	for _, loan := range loans {
		views = append(views, loanFromDomain(loan))
	}

	h.writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := h.loanID(w, r)
	if !ok {
		return
	}

	loan, err := h.service.GetLoan(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, loanFromDomain(loan))
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := h.loanID(w, r)
	if !ok {
		return
	}

	loan, err := h.service.ReturnLoan(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, loanFromDomain(loan))
}

func (h *Handler) handlePreviewFine(w http.ResponseWriter, r *http.Request) {
	id, ok := h.loanID(w, r)
	if !ok {
		return
	}

	asOf := h.now()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, parseErr := circulation.ParseDate(raw)
		if parseErr != nil {
			h.writeStatus(w, http.StatusBadRequest, parseErr)
			return
		}

		asOf = parsed
	}

	fine, err := h.service.PreviewFine(r.Context(), id, asOf)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"loan_id":     id,
		"as_of":       circulation.FormatDate(circulation.DateOf(asOf)),
		"fine_amount": fine,
	})
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	asOf := h.now()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, parseErr := circulation.ParseDate(raw)
		if parseErr != nil {
			h.writeStatus(w, http.StatusBadRequest, parseErr)
			return
		}

		asOf = parsed
	}

	transitioned, err := h.service.SweepOverdue(r.Context(), asOf)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"transitioned": transitioned})
}

/***** queries *****/

func (h *Handler) handleListOverdue(w http.ResponseWriter, r *http.Request) {
	overdue, err := h.service.ListOverdueLoans(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	views := make([]overduePayload, 0, len(overdue))
	for _, row := range overdue {
		views = append(views, overdueFromDomain(row))
	}

	h.writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Statistics(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, statisticsFromDomain(stats))
}

func (h *Handler) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, parseErr := strconv.Atoi(raw)
		if parseErr != nil {
			h.writeStatus(w, http.StatusBadRequest, parseErr)
			return
		}

		limit = parsed
	}

	entries, err := h.service.RecentEvents(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}

	views := make([]eventPayload, 0, len(entries))
	for _, entry := range entries {
		views = append(views, eventFromDomain(entry))
	}

	h.writeJSON(w, http.StatusOK, views)
}

// handleHealth proves the engine is reachable by running the cheapest
// read it has.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := h.service.Statistics(r.Context()); err != nil {
		h.writeStatus(w, http.StatusServiceUnavailable, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

/***** plumbing *****/

func (h *Handler) loanID(w http.ResponseWriter, r *http.Request) (circulation.LoanID, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeStatus(w, http.StatusBadRequest, err)
		return 0, false
	}

	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		h.writeStatus(w, http.StatusBadRequest, err)
		return false
	}

	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil && h.logger != nil {
		h.logger.Warn("failed to encode response body", "error", err.Error())
	}
}

func (h *Handler) writeStatus(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeError maps engine validation errors onto HTTP status codes:
// missing entities are 404, business conflicts are 409, invalid input is
// 422, lock timeouts are 503, everything else is a 500.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, circulation.ErrItemNotFound),
		errors.Is(err, circulation.ErrMemberNotFound),
		errors.Is(err, circulation.ErrLoanNotFound):
		h.writeStatus(w, http.StatusNotFound, err)

	case errors.Is(err, circulation.ErrNoCopiesAvailable),
		errors.Is(err, circulation.ErrMemberSuspended),
		errors.Is(err, circulation.ErrLoanAlreadyReturned),
		errors.Is(err, circulation.ErrDuplicateItemCode),
		errors.Is(err, circulation.ErrDuplicateMemberCode),
		errors.Is(err, circulation.ErrItemHasActiveLoans),
		errors.Is(err, circulation.ErrMemberHasActiveLoans):
		h.writeStatus(w, http.StatusConflict, err)

	case errors.Is(err, circulation.ErrEmptyItemCode),
		errors.Is(err, circulation.ErrEmptyMemberCode),
		errors.Is(err, circulation.ErrInvalidCopyCount),
		errors.Is(err, circulation.ErrInvalidLoanPeriod),
		errors.Is(err, circulation.ErrInvalidStanding):
		h.writeStatus(w, http.StatusUnprocessableEntity, err)

	case errors.Is(err, circulation.ErrLockTimeout):
		h.writeStatus(w, http.StatusServiceUnavailable, err)

	default:
		if h.logger != nil {
			h.logger.Error("request failed", "error", err.Error())
		}

		h.writeStatus(w, http.StatusInternalServerError, err)
	}
}
