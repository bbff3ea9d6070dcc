// Package sqlite provides the SQLite-backed implementation of the
// document ledger.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation
// that requires no CGO, enabling easy cross-compilation. The ledger is
// the single writer of document status and history; both intake and
// status transitions commit inside transactions, with the fingerprint
// UNIQUE constraint and an optimistic status guard as the correctness
// anchors under concurrent workers.
//
// # Schema
//
// The database schema is managed through versioned migrations stored in
// the migrations/ directory. Full-text search over original names and
// extracted text is provided by an FTS5 shadow table maintained
// alongside the documents table.
//
// # Data Location
//
// By default, the database is stored at ~/.docdispatch/data/ledger.db
//
// # Thread Safety
//
// All operations are thread-safe. The store uses database-level locking
// provided by SQLite in WAL mode.
package sqlite
