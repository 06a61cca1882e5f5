// Package ir provides the canonical data types shared by the store and the
// vocabulary subsystem.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps schema types the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Attribute names are namespaced keywords (":ns/name")
//   - Definition equality is structural; Definitions are plain comparable values
//   - Vocabulary and Vocabularies are read-only snapshots of committed state
//   - Entity references are sealed (Entid, Keyword, TempID)
//   - Content hashes use canonical JSON; floats never take part in hashing
package ir
