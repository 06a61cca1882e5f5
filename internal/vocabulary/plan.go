package vocabulary

import (
	"context"
	"fmt"
	"strings"

	"github.com/qpdb/mentat/internal/ir"
)

// plan is the reconciliation result for one source.
type plan struct {
	outcome    Outcome
	proceeding bool
	facts      []ir.Fact
	postErrs   []error
}

func (p *plan) fail(err error) {
	p.outcome.Kind = OutcomeError
	p.outcome.Err = err
	p.proceeding = false
	p.facts = nil
}

func (p *plan) incompatible(err error, changes []Change) {
	p.outcome.Kind = OutcomeIncompatible
	p.outcome.Err = err
	p.outcome.Changes = changes
}

// batch tracks attributes claimed by vocabularies earlier in the same call,
// so two vocabularies cannot both install one attribute.
type batch struct {
	claimed map[ir.Keyword]ir.Keyword
}

func newBatch() *batch {
	return &batch{claimed: make(map[ir.Keyword]ir.Keyword)}
}

// plan runs Pre, the version rules and the safety rail for src, and
// assembles its facts. Errors are store failures; vocabulary problems are
// recorded in the plan's outcome.
func (m *Manager) plan(ctx context.Context, src Source, snapshot ir.Vocabularies, b *batch) (*plan, error) {
	name, version := src.Name(), src.Version()
	observed := snapshot.Get(name)

	p := &plan{outcome: Outcome{Name: name, To: version}}
	if observed != nil {
		p.outcome.From = observed.Version
	}

	if err := validateSource(src); err != nil {
		p.fail(err)
		return p, nil
	}

	// A store ahead of the source can never be brought back by proceeding.
	if observed != nil && observed.Version > version {
		p.fail(fmt.Errorf("%w: %s is at version %d, wanted %d", ErrVersionRegression, name, observed.Version, version))
		return p, nil
	}

	status := NewStatus(src, snapshot)
	decision := src.Pre(ctx, status)
	m.logger.Debug("pre hook decided",
		"vocabulary", name,
		"decision", decision.Kind.String(),
		"comparison", status.Comparison().String())

	switch decision.Kind {
	case DecisionProceed:
	case DecisionReject:
		p.incompatible(fmt.Errorf("%w: %s", ErrIncompatible, decision.Reason), nil)
		return p, nil
	case DecisionAbort:
		p.fail(fmt.Errorf("%w: %s", ErrAborted, decision.Reason))
		return p, nil
	default:
		p.fail(fmt.Errorf("unknown decision %d", decision.Kind))
		return p, nil
	}

	var (
		installs []ir.Definition
		adopts   []ir.Definition
		alters   []Change
		blocked  []Change
	)

	for _, want := range src.Definitions() {
		check, _ := status.Check(want.Name)
		var actual ir.Definition

		switch check.Kind {
		case CheckIdentical:
			continue
		case CheckDifferent:
			actual = check.Actual
		case CheckAbsent:
			if owner, ok := snapshot.OwnerOf(want.Name); ok {
				p.fail(fmt.Errorf("%w: %s belongs to %s", ErrAttributeOwned, want.Name, owner))
				return p, nil
			}
			if claimant, ok := b.claimed[want.Name]; ok {
				p.fail(fmt.Errorf("%w: %s is claimed by %s in the same call", ErrAttributeOwned, want.Name, claimant))
				return p, nil
			}
			existing, ok := snapshot.Attributes[want.Name]
			if !ok {
				installs = append(installs, want)
				continue
			}
			adopts = append(adopts, want)
			if existing.Equal(want) {
				continue
			}
			actual = existing
		}

		change, err := m.resolveRisk(ctx, Classify(want, actual))
		if err != nil {
			return nil, err
		}
		if change.Destructive() && !decision.Acknowledged(want.Name) {
			blocked = append(blocked, change)
			continue
		}
		alters = append(alters, change)
	}

	changing := len(installs)+len(adopts)+len(alters)+len(blocked) > 0

	if observed != nil {
		switch {
		case observed.Version == version && changing:
			p.fail(sameVersionError(name, version, src.Definitions(), status))
			return p, nil
		case observed.Version == version:
			p.outcome.Kind = OutcomeUnchanged
			return p, nil
		}
	}

	if name == ir.CoreVocabulary {
		p.fail(fmt.Errorf("%w: %s is managed by the store", ErrInvalidDefinition, name))
		return p, nil
	}

	if len(blocked) > 0 {
		p.incompatible(incompatibleError(name, blocked), blocked)
		return p, nil
	}

	p.facts = assembleFacts(name, version, observed, installs, adopts, alters, decision.Facts)
	p.proceeding = true
	p.outcome.Changes = alters
	if observed == nil {
		p.outcome.Kind = OutcomeInstalled
	} else {
		p.outcome.Kind = OutcomeUpgraded
	}
	for _, d := range installs {
		b.claimed[d.Name] = name
	}
	for _, d := range adopts {
		b.claimed[d.Name] = name
	}
	return p, nil
}

// validateSource checks the wanted name, version and definitions.
func validateSource(src Source) error {
	if err := src.Name().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if src.Version() == 0 {
		return fmt.Errorf("%w: %s: version must be positive", ErrInvalidVersion, src.Name())
	}
	seen := make(map[ir.Keyword]bool)
	for _, d := range src.Definitions() {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
		}
		if seen[d.Name] {
			return fmt.Errorf("%w: %s declared twice in %s", ErrInvalidDefinition, d.Name, src.Name())
		}
		seen[d.Name] = true
	}
	return nil
}

// resolveRisk settles data-dependent field changes against the store.
// Without an inspector they are treated as destructive.
func (m *Manager) resolveRisk(ctx context.Context, c Change) (Change, error) {
	for i, f := range c.Fields {
		if f.Risk != RiskDataDependent {
			continue
		}
		if m.inspector == nil {
			c.Fields[i].Risk = RiskDestructive
			continue
		}

		var unsafe bool
		var err error
		switch f.Field {
		case "cardinality":
			unsafe, err = m.inspector.HasMultipleValues(ctx, c.Attribute)
		case "unique":
			unsafe, err = m.inspector.HasDuplicateValues(ctx, c.Attribute)
		default:
			unsafe = true
		}
		if err != nil {
			return Change{}, fmt.Errorf("inspect %s: %w", c.Attribute, err)
		}
		if unsafe {
			c.Fields[i].Risk = RiskDestructive
		} else {
			c.Fields[i].Risk = RiskCompatible
		}
	}
	return c, nil
}

// sameVersionError explains a change requested without a version bump.
// A differing definition is reported as a VocabularyError.
func sameVersionError(name ir.Keyword, version ir.Version, defs []ir.Definition, status *Status) error {
	for _, d := range defs {
		if c, _ := status.Check(d.Name); c.Kind == CheckDifferent {
			return &VocabularyError{
				Vocabulary: name,
				Version:    version,
				Attribute:  d.Name,
				Wanted:     d,
				Actual:     c.Actual,
				Err:        ErrVersionRegression,
			}
		}
	}
	return fmt.Errorf("%w: %s version %d is installed but definitions change; bump the version",
		ErrVersionRegression, name, version)
}

func incompatibleError(name ir.Keyword, blocked []Change) error {
	parts := make([]string, 0, len(blocked))
	for _, c := range blocked {
		var fields []string
		for _, f := range c.Fields {
			if f.Risk == RiskDestructive {
				fields = append(fields, fmt.Sprintf("%s %s→%s", f.Field, f.From, f.To))
			}
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", c.Attribute, strings.Join(fields, ", ")))
	}
	return fmt.Errorf("%w: %s: unacknowledged destructive change to %s",
		ErrIncompatible, name, strings.Join(parts, "; "))
}

// assembleFacts builds the minimal facts for one proceeding vocabulary:
// the vocabulary entity when new, installs, adoptions, alterations, the
// version compare-and-swap, then the decision's extra facts.
func assembleFacts(
	name ir.Keyword,
	version ir.Version,
	observed *ir.Vocabulary,
	installs, adopts []ir.Definition,
	alters []Change,
	extra []ir.Fact,
) []ir.Fact {
	var facts []ir.Fact

	var vocab ir.EntityRef
	var oldVersion ir.Value
	if observed != nil {
		vocab = observed.Entid
		oldVersion = ir.Long(observed.Version)
	} else {
		vocab = ir.TempID("vocabulary " + string(name))
		facts = append(facts, ir.Add(vocab, ir.DBIdent, name))
	}

	for _, d := range installs {
		attr := ir.TempID("attribute " + string(d.Name))
		facts = append(facts, installFacts(attr, d)...)
		facts = append(facts, ir.Add(vocab, ir.DBSchemaAttribute, attr))
	}

	for _, d := range adopts {
		facts = append(facts, ir.Add(vocab, ir.DBSchemaAttribute, d.Name))
	}

	for _, c := range alters {
		facts = append(facts, alterFacts(c)...)
	}

	facts = append(facts, ir.CAS(vocab, ir.DBSchemaVersion, oldVersion, ir.Long(version)))
	return append(facts, extra...)
}

// installFacts describes a new attribute. Only set flags are asserted.
func installFacts(e ir.EntityRef, d ir.Definition) []ir.Fact {
	facts := []ir.Fact{
		ir.Add(e, ir.DBIdent, d.Name),
		ir.Add(e, ir.DBValueType, d.ValueType.Keyword()),
		ir.Add(e, ir.DBCardinality, d.Cardinality.Keyword()),
	}
	if d.Unique != ir.UniqueNone {
		facts = append(facts, ir.Add(e, ir.DBUnique, d.Unique.Keyword()))
	}
	for _, f := range []struct {
		attr ir.Keyword
		set  bool
	}{
		{ir.DBIndex, d.Index},
		{ir.DBFulltext, d.Fulltext},
		{ir.DBIsComponent, d.Component},
		{ir.DBNoHistory, d.NoHistory},
	} {
		if f.set {
			facts = append(facts, ir.Add(e, f.attr, ir.Bool(true)))
		}
	}
	return facts
}

// alterFacts changes only the fields that differ. Cleared uniqueness and
// flags are retracted.
func alterFacts(c Change) []ir.Fact {
	e := c.Attribute
	want, actual := c.Wanted, c.Actual
	var facts []ir.Fact

	if want.ValueType != actual.ValueType {
		facts = append(facts, ir.Add(e, ir.DBValueType, want.ValueType.Keyword()))
	}
	if want.Cardinality != actual.Cardinality {
		facts = append(facts, ir.Add(e, ir.DBCardinality, want.Cardinality.Keyword()))
	}
	if want.Unique != actual.Unique {
		if want.Unique == ir.UniqueNone {
			facts = append(facts, ir.Retract(e, ir.DBUnique, actual.Unique.Keyword()))
		} else {
			facts = append(facts, ir.Add(e, ir.DBUnique, want.Unique.Keyword()))
		}
	}
	for _, f := range []struct {
		attr       ir.Keyword
		want, have bool
	}{
		{ir.DBIndex, want.Index, actual.Index},
		{ir.DBFulltext, want.Fulltext, actual.Fulltext},
		{ir.DBIsComponent, want.Component, actual.Component},
		{ir.DBNoHistory, want.NoHistory, actual.NoHistory},
	} {
		switch {
		case f.want && !f.have:
			facts = append(facts, ir.Add(e, f.attr, ir.Bool(true)))
		case !f.want && f.have:
			facts = append(facts, ir.Retract(e, f.attr, ir.Bool(true)))
		}
	}
	return facts
}
