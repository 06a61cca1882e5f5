// Package store provides SQLite-backed durable storage for mentat datoms.
//
// The store keeps facts as (entity, attribute, value, tx) rows and offers
// the two operations the vocabulary subsystem depends on:
//   - ReadVocabularies: a consistent snapshot of every committed vocabulary
//   - Transact: an atomic, all-or-nothing commit of a batch of facts
//
// # Critical Patterns
//
// Schema as data:
//   - Attributes are entities carrying :db/ident, :db/valueType, :db/cardinality
//   - Vocabularies are entities carrying :db/ident, :db.schema/version and
//     one :db.schema/attribute ref per declared attribute
//   - The bootstrap vocabulary :db.schema/core describes the store itself
//
// Atomic commits:
//   - Every Transact runs in one SQL transaction (BeginTx + deferred Rollback)
//   - Schema is re-read inside the transaction; the store keeps no cache
//   - Unique collisions and failed :db/cas checks abort with *ConflictError
//
// Deterministic reads:
//   - Vocabulary attributes are returned in installation (entid) order
//   - The transaction log is ordered by tx, then application order
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
