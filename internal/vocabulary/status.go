package vocabulary

import (
	"maps"

	"github.com/qpdb/mentat/internal/ir"
)

// Comparison relates the wanted version to the observed one.
type Comparison int

const (
	// VersionAbsent means the vocabulary is not in the store.
	VersionAbsent Comparison = iota

	// VersionStale means the store holds an older version.
	VersionStale

	// VersionEqual means the store holds the wanted version.
	VersionEqual

	// VersionAhead means the store holds a newer version.
	VersionAhead
)

func (c Comparison) String() string {
	switch c {
	case VersionAbsent:
		return "absent"
	case VersionStale:
		return "stale"
	case VersionEqual:
		return "equal"
	case VersionAhead:
		return "ahead"
	default:
		return "unknown"
	}
}

// Status is the reconciliation of one wanted vocabulary against a store
// snapshot. It is built once per ensure call and handed to the source's
// Pre hook; it never changes afterwards.
type Status struct {
	name        ir.Keyword
	version     ir.Version
	definitions []ir.Definition
	checks      map[ir.Keyword]Check
	snapshot    ir.Vocabularies
}

// NewStatus runs CheckDefinition for every definition src wants.
func NewStatus(src Source, snapshot ir.Vocabularies) *Status {
	defs := src.Definitions()
	observed := snapshot.Get(src.Name())

	checks := make(map[ir.Keyword]Check, len(defs))
	for _, d := range defs {
		checks[d.Name] = CheckDefinition(d, observed)
	}

	return &Status{
		name:        src.Name(),
		version:     src.Version(),
		definitions: append([]ir.Definition(nil), defs...),
		checks:      checks,
		snapshot:    snapshot.Clone(),
	}
}

// Name returns the wanted vocabulary name.
func (s *Status) Name() ir.Keyword { return s.name }

// Version returns the wanted version.
func (s *Status) Version() ir.Version { return s.version }

// Definitions returns the wanted definitions in order.
func (s *Status) Definitions() []ir.Definition {
	return append([]ir.Definition(nil), s.definitions...)
}

// Observed returns a copy of the vocabulary as committed, or nil if absent.
func (s *Status) Observed() *ir.Vocabulary {
	return s.snapshot.Get(s.name)
}

// Comparison derives the version relationship from the snapshot.
func (s *Status) Comparison() Comparison {
	observed := s.Observed()
	switch {
	case observed == nil:
		return VersionAbsent
	case observed.Version < s.version:
		return VersionStale
	case observed.Version == s.version:
		return VersionEqual
	default:
		return VersionAhead
	}
}

// Check returns the reconciliation of one wanted attribute.
func (s *Status) Check(attr ir.Keyword) (Check, bool) {
	c, ok := s.checks[attr]
	return c, ok
}

// Checks returns every check keyed by attribute name.
func (s *Status) Checks() map[ir.Keyword]Check {
	return maps.Clone(s.checks)
}

// Differences lists attributes whose check is CheckDifferent, in wanted order.
func (s *Status) Differences() []ir.Keyword {
	return s.withKind(CheckDifferent)
}

// Missing lists attributes whose check is CheckAbsent, in wanted order.
func (s *Status) Missing() []ir.Keyword {
	return s.withKind(CheckAbsent)
}

// Identical reports whether the store holds the wanted version with every
// definition unchanged.
func (s *Status) Identical() bool {
	return s.Comparison() == VersionEqual &&
		len(s.Differences()) == 0 &&
		len(s.Missing()) == 0
}

// Vocabularies returns a copy of the full snapshot the status was built from.
func (s *Status) Vocabularies() ir.Vocabularies {
	return s.snapshot.Clone()
}

func (s *Status) withKind(kind CheckKind) []ir.Keyword {
	var out []ir.Keyword
	for _, d := range s.definitions {
		if s.checks[d.Name].Kind == kind {
			out = append(out, d.Name)
		}
	}
	return out
}
