package vocabulary

import (
	"strconv"

	"github.com/qpdb/mentat/internal/ir"
)

// Risk rates a single field change.
type Risk int

const (
	// RiskCompatible changes never invalidate existing data.
	RiskCompatible Risk = iota

	// RiskDataDependent changes are safe only if existing data allows them.
	RiskDataDependent

	// RiskDestructive changes may silently invalidate existing data.
	RiskDestructive
)

func (r Risk) String() string {
	switch r {
	case RiskCompatible:
		return "compatible"
	case RiskDataDependent:
		return "data-dependent"
	case RiskDestructive:
		return "destructive"
	default:
		return "unknown"
	}
}

// FieldChange is one differing field of a definition.
type FieldChange struct {
	Field string
	From  string
	To    string
	Risk  Risk
}

// Change is the set of field changes needed to turn Actual into Wanted.
type Change struct {
	Attribute ir.Keyword
	Wanted    ir.Definition
	Actual    ir.Definition
	Fields    []FieldChange
}

// Destructive reports whether any field change is destructive.
func (c Change) Destructive() bool {
	for _, f := range c.Fields {
		if f.Risk == RiskDestructive {
			return true
		}
	}
	return false
}

// Classify lists the field changes from actual to want and rates each one:
//   - value type change: destructive
//   - cardinality many → one: data-dependent (multi-valued entities)
//   - cardinality one → many: compatible
//   - uniqueness removed, or identity → value: destructive
//   - uniqueness added: data-dependent (duplicate values)
//   - value → identity, and flag toggles: compatible
//
// Classify is pure; the Manager resolves data-dependent risks against the
// store.
func Classify(want, actual ir.Definition) Change {
	c := Change{Attribute: want.Name, Wanted: want, Actual: actual}

	if want.ValueType != actual.ValueType {
		c.add("value_type", string(actual.ValueType), string(want.ValueType), RiskDestructive)
	}

	if want.Cardinality != actual.Cardinality {
		risk := RiskCompatible
		if want.Cardinality == ir.CardinalityOne {
			risk = RiskDataDependent
		}
		c.add("cardinality", string(actual.Cardinality), string(want.Cardinality), risk)
	}

	if want.Unique != actual.Unique {
		var risk Risk
		switch {
		case want.Unique == ir.UniqueNone:
			risk = RiskDestructive
		case actual.Unique == ir.UniqueIdentity:
			risk = RiskDestructive
		case actual.Unique == ir.UniqueNone:
			risk = RiskDataDependent
		default:
			risk = RiskCompatible
		}
		c.add("unique", actual.Unique.String(), want.Unique.String(), risk)
	}

	c.flag("index", actual.Index, want.Index)
	c.flag("fulltext", actual.Fulltext, want.Fulltext)
	c.flag("component", actual.Component, want.Component)
	c.flag("no_history", actual.NoHistory, want.NoHistory)
	return c
}

func (c *Change) add(field, from, to string, risk Risk) {
	c.Fields = append(c.Fields, FieldChange{Field: field, From: from, To: to, Risk: risk})
}

func (c *Change) flag(field string, from, to bool) {
	if from != to {
		c.add(field, strconv.FormatBool(from), strconv.FormatBool(to), RiskCompatible)
	}
}
