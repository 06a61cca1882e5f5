// Package vocabulary reconciles the vocabularies an application wants with
// the vocabularies a store actually holds, and installs or upgrades the
// difference in one atomic transaction.
//
// A vocabulary is a named, versioned set of attribute definitions. The
// application describes what it wants with a Source; the Manager reads the
// store once, builds a Status per source, lets each source decide through
// its Pre hook, applies the safety rail, assembles schema facts, commits
// every proceeding vocabulary together, then runs each source's Post hook.
//
// # Flow
//
//	ReadVocabularies ──► NewStatus ──► Pre ──► safety rail ──► facts
//	                                                             │
//	Outcomes ◄── Post (input order) ◄── single Transact ◄────────┘
//
// # Guarantees
//
//   - One snapshot per EnsureVocabularies call, shared by every source
//   - All proceeding vocabularies commit together or not at all
//   - Version bumps use :db/cas, so a concurrent installer loses cleanly
//     with a retryable ErrLostRace outcome
//   - Destructive definition changes need explicit acknowledgement
//   - Post hooks never unwind the committed schema transaction
//
// The package holds no state between calls.
package vocabulary
