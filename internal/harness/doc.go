// Package harness provides conformance testing for mentat vocabularies.
//
// A scenario opens a fresh in-memory store, runs a flow of ensure calls and
// plain transactions against it, and checks the reported outcomes and the
// final vocabularies.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	setup:
//	  - facts:
//	      - { e: alice, a: ":person/name", v: "Alice" }
//	flow:
//	  - ensure:
//	      - vocabulary: ":person/schema"
//	        version: 2
//	        decision: proceed
//	        acknowledge: [":person/email"]
//	        attributes:
//	          - { name: ":person/name", type: string, cardinality: one }
//	    expect:
//	      ":person/schema": { outcome: upgraded, from: 1, to: 2 }
//	  - transact:
//	      - { e: bob, a: ":person/name", v: "Bob" }
//	assertions:
//	  - type: vocabulary
//	    vocabulary: ":person/schema"
//	    version: 2
//	  - type: entity
//	    entity: alice
//	    expect: { ":person/name": "Alice" }
//
// Entities named by a plain string are tempids. Once a transaction resolves
// a tempid, later steps and assertions that use the same name refer to the
// resolved entity.
//
// # Assertion Types
//
//   - vocabulary: the vocabulary exists at a version, optionally with exact attributes
//   - vocabulary_absent: the vocabulary was never committed
//   - owner: an attribute belongs to a vocabulary
//   - entity: an entity holds the expected values (subset match)
//   - trace_contains: an outcome event for a vocabulary appears in the trace
//   - trace_count: matching outcome events appear exactly N times
//
// # Deterministic Testing
//
// Every scenario runs with testutil.DeterministicClock and
// testutil.FixedIDGenerator, so transaction instants and UUIDs are identical
// across runs and traces can be compared against golden files.
package harness
