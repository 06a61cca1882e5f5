package vocabulary

import (
	"github.com/qpdb/mentat/internal/ir"
)

// CheckKind classifies one wanted definition against the store.
type CheckKind int

const (
	// CheckAbsent means the vocabulary or the attribute within it is missing.
	CheckAbsent CheckKind = iota

	// CheckIdentical means every field matches.
	CheckIdentical

	// CheckDifferent means the attribute exists with a different definition.
	CheckDifferent
)

func (k CheckKind) String() string {
	switch k {
	case CheckAbsent:
		return "absent"
	case CheckIdentical:
		return "identical"
	case CheckDifferent:
		return "different"
	default:
		return "unknown"
	}
}

// Check is the result of reconciling one wanted Definition.
type Check struct {
	Kind CheckKind

	// Actual is the observed definition; set only for CheckDifferent.
	Actual ir.Definition
}

// CheckDefinition compares want against the attribute of the same name in
// observed. A nil observed vocabulary means the vocabulary is absent.
func CheckDefinition(want ir.Definition, observed *ir.Vocabulary) Check {
	actual, ok := observed.Attribute(want.Name)
	if !ok {
		return Check{Kind: CheckAbsent}
	}
	if actual.Equal(want) {
		return Check{Kind: CheckIdentical}
	}
	return Check{Kind: CheckDifferent, Actual: actual}
}
