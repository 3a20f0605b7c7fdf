// Package adapters provides database adapter implementations for the SQL
// circulation engine.
//
// This package implements the adapter pattern to support multiple database
// libraries: pgx.Pool, sql.DB, and sqlx.DB. All adapters provide equivalent
// functionality through a common DBAdapter interface, allowing the engine to
// work seamlessly with any supported database connection type.
//
// On top of plain query execution the adapters expose transactions, since
// the circulation ledger performs its guarded inventory updates and loan
// writes atomically.
package adapters
