package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/qpdb/mentat/internal/ir"
	"github.com/qpdb/mentat/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			if event.Type == EventOutcome {
				fmt.Fprintf(&buf, "  [%d] step %d %s %s\n", i+1, event.Step, event.Vocabulary, event.Outcome)
			}
		}
	}

	return buf.String()
}

// AssertionContext provides store access for evaluating assertions.
type AssertionContext struct {
	Store   *store.Store
	Ctx     context.Context
	TempIDs map[string]ir.Entid

	vocabs *ir.Vocabularies
}

// vocabularies reads the store's vocabularies once per evaluation.
func (actx *AssertionContext) vocabularies() (ir.Vocabularies, error) {
	if actx.vocabs != nil {
		return *actx.vocabs, nil
	}
	vs, err := actx.Store.ReadVocabularies(actx.Ctx)
	if err != nil {
		return ir.Vocabularies{}, err
	}
	actx.vocabs = &vs
	return vs, nil
}

// assertVocabulary checks that a vocabulary is committed at a version and,
// when attributes are given, that it declares exactly those attributes.
func assertVocabulary(vocabs ir.Vocabularies, assertion Assertion) error {
	vocab := vocabs.Get(ir.Keyword(assertion.Vocabulary))
	if vocab == nil {
		return &AssertionError{
			Type:     AssertVocabulary,
			Expected: fmt.Sprintf("%s at version %d", assertion.Vocabulary, assertion.Version),
			Actual:   "vocabulary not found",
		}
	}

	if uint32(vocab.Version) != assertion.Version {
		return &AssertionError{
			Type:     AssertVocabulary,
			Expected: fmt.Sprintf("%s at version %d", assertion.Vocabulary, assertion.Version),
			Actual:   fmt.Sprintf("version %d", vocab.Version),
		}
	}

	if assertion.Attributes == nil {
		return nil
	}
	want := make([]ir.Definition, len(assertion.Attributes))
	for i, d := range assertion.Attributes {
		want[i] = normalizeDefinition(d)
	}
	if !slices.Equal(want, vocab.Attributes) {
		return &AssertionError{
			Type:     AssertVocabulary,
			Expected: fmt.Sprintf("%s attributes %s", assertion.Vocabulary, formatDefinitions(want)),
			Actual:   formatDefinitions(vocab.Attributes),
		}
	}
	return nil
}

func assertVocabularyAbsent(vocabs ir.Vocabularies, assertion Assertion) error {
	if vocab := vocabs.Get(ir.Keyword(assertion.Vocabulary)); vocab != nil {
		return &AssertionError{
			Type:     AssertVocabularyAbsent,
			Expected: fmt.Sprintf("no vocabulary %s", assertion.Vocabulary),
			Actual:   fmt.Sprintf("version %d", vocab.Version),
		}
	}
	return nil
}

func assertOwner(vocabs ir.Vocabularies, assertion Assertion) error {
	owner, ok := vocabs.OwnerOf(ir.Keyword(assertion.Attribute))
	if !ok {
		owner = "(none)"
	}
	if string(owner) != assertion.Vocabulary {
		return &AssertionError{
			Type:     AssertOwner,
			Expected: fmt.Sprintf("%s owned by %s", assertion.Attribute, assertion.Vocabulary),
			Actual:   fmt.Sprintf("owned by %s", owner),
		}
	}
	return nil
}

// assertEntity checks an entity's values using subset semantics: only
// attributes named in Expect are compared. Cardinality-many values compare
// as sets. Ref values are entids.
func assertEntity(actx *AssertionContext, assertion Assertion) error {
	var ref ir.EntityRef
	switch {
	case strings.HasPrefix(assertion.Entity, ":"):
		ref = ir.Keyword(assertion.Entity)
	default:
		e, ok := actx.TempIDs[assertion.Entity]
		if !ok {
			return &AssertionError{
				Type:     AssertEntity,
				Expected: fmt.Sprintf("entity %s", assertion.Entity),
				Actual:   "tempid was never resolved",
			}
		}
		ref = e
	}

	values, err := actx.Store.Entity(actx.Ctx, ref)
	if err != nil {
		return &AssertionError{
			Type:     AssertEntity,
			Expected: fmt.Sprintf("entity %s", assertion.Entity),
			Actual:   fmt.Sprintf("read error: %v", err),
		}
	}

	for _, attr := range sortedKeys(assertion.Expect) {
		want, err := formatExpected(assertion.Expect[attr])
		if err != nil {
			return fmt.Errorf("entity %s %s: %w", assertion.Entity, attr, err)
		}
		got := formatValues(values[ir.Keyword(attr)])
		if !slices.Equal(want, got) {
			return &AssertionError{
				Type:     AssertEntity,
				Expected: fmt.Sprintf("%s %s = %v", assertion.Entity, attr, want),
				Actual:   fmt.Sprintf("%v", got),
			}
		}
	}
	return nil
}

// assertTraceContains checks that an outcome event for the vocabulary
// appears in the trace, with the given outcome if one is set.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	if countOutcomes(trace, assertion) > 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("outcome %s for %s", orAny(assertion.Outcome), assertion.Vocabulary),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceCount checks that matching outcome events appear exactly
// Count times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := countOutcomes(trace, assertion)
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d outcomes %s for %s", assertion.Count, orAny(assertion.Outcome), assertion.Vocabulary),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

func countOutcomes(trace []TraceEvent, assertion Assertion) int {
	count := 0
	for _, event := range trace {
		if event.Type != EventOutcome || event.Vocabulary != assertion.Vocabulary {
			continue
		}
		if assertion.Outcome == "" || event.Outcome == assertion.Outcome {
			count++
		}
	}
	return count
}

func orAny(s string) string {
	if s == "" {
		return "(any)"
	}
	return s
}

// formatExpected renders a YAML value, or list of values, the way
// formatValues renders store values.
func formatExpected(raw any) ([]string, error) {
	items, ok := raw.([]any)
	if !ok {
		items = []any{raw}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		v, err := ir.ValueOf(item)
		if err != nil {
			return nil, err
		}
		out = append(out, ir.FormatValue(v))
	}
	slices.Sort(out)
	return out, nil
}

func formatValues(values []ir.Value) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, ir.FormatValue(v))
	}
	slices.Sort(out)
	return out
}

func formatDefinitions(defs []ir.Definition) string {
	parts := make([]string, len(defs))
	for i, d := range defs {
		parts[i] = fmt.Sprintf("%+v", d)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides store access for state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertVocabulary, AssertVocabularyAbsent, AssertOwner, AssertEntity:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: %s requires store context", i, assertion.Type)
				break
			}
			err = evaluateStateAssertion(actx, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

func evaluateStateAssertion(actx *AssertionContext, assertion Assertion) error {
	if assertion.Type == AssertEntity {
		return assertEntity(actx, assertion)
	}

	vocabs, err := actx.vocabularies()
	if err != nil {
		return fmt.Errorf("read vocabularies: %w", err)
	}
	switch assertion.Type {
	case AssertVocabulary:
		return assertVocabulary(vocabs, assertion)
	case AssertVocabularyAbsent:
		return assertVocabularyAbsent(vocabs, assertion)
	default:
		return assertOwner(vocabs, assertion)
	}
}
