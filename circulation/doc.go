// Package circulation provides the core domain model for a library
// circulation engine: catalogue items with copy counts, members with a
// borrowing standing, and the loan ledger with its state machine
// (on loan -> overdue -> returned) and fine computation.
//
// This package defines the fundamental types, sentinel errors, search
// filters, and journal events used across the different engine
// implementations. It holds no state of its own; the engines in
// circulation/memoryengine and circulation/sqlengine implement the
// actual stores.
//
// Key types:
//   - CatalogueItem: a catalogued work with total and available copies
//   - Member: a borrower with a standing (normal/suspended)
//   - Loan: one copy of one item lent to one member for a bounded period
//   - ItemFilter / MemberFilter / LoanFilter: search criteria builders
//   - JournalEntry: an append-only audit record of a committed mutation
//
// Common usage pattern:
//
//	filter := circulation.BuildItemFilter().
//		TitleContains("domain-driven").
//		CategoryContains("software").
//		Finalize()
//
//	items, err := engine.SearchItems(ctx, filter)
//	if err != nil {
//		// handle error
//	}
package circulation
