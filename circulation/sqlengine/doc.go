// Package sqlengine provides a database-backed implementation of the
// circulation engine for PostgreSQL and SQLite.
//
// All commands run inside a transaction and enforce the inventory
// invariant with guarded updates: a borrow decrements the available count
// only while it is positive, and a return increments it only while it is
// below the total. A guarded update that affects zero rows means another
// transaction won the race, and the command reports the corresponding
// validation error instead of corrupting the counters.
//
// The engine supports three database libraries through an internal adapter
// layer: pgx pools (NewEngineFromPGXPool), database/sql
// (NewEngineFromSQLDB), and sqlx (NewEngineFromSQLX). The SQL itself is
// built with goqu, using the postgres or sqlite3 dialect selected at
// construction.
package sqlengine
