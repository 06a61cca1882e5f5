package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qpdb/mentat/internal/ir"
	"github.com/qpdb/mentat/internal/store"
)

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceCount,
		Expected: "2 outcomes",
		Actual:   "1 occurrences",
		Trace: []TraceEvent{
			{Type: EventOutcome, Step: 0, Vocabulary: ":foo/schema", Outcome: "installed"},
			{Type: EventTransact, Step: 1},
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: trace_count")
	assert.Contains(t, msg, "Expected: 2 outcomes")
	assert.Contains(t, msg, "Actual: 1 occurrences")
	assert.Contains(t, msg, "[1] step 0 :foo/schema installed")
	assert.NotContains(t, msg, "[2]")
}

func TestTraceAssertions(t *testing.T) {
	trace := []TraceEvent{
		{Type: EventOutcome, Vocabulary: ":foo/schema", Outcome: "installed"},
		{Type: EventTransact},
		{Type: EventOutcome, Vocabulary: ":foo/schema", Outcome: "unchanged"},
		{Type: EventOutcome, Vocabulary: ":bar/schema", Outcome: "installed"},
	}

	assert.NoError(t, assertTraceContains(trace, Assertion{Vocabulary: ":foo/schema"}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Vocabulary: ":foo/schema", Outcome: "unchanged"}))
	assert.Error(t, assertTraceContains(trace, Assertion{Vocabulary: ":foo/schema", Outcome: "upgraded"}))
	assert.Error(t, assertTraceContains(trace, Assertion{Vocabulary: ":baz/schema"}))

	assert.NoError(t, assertTraceCount(trace, Assertion{Vocabulary: ":foo/schema", Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Vocabulary: ":foo/schema", Outcome: "installed", Count: 1}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Vocabulary: ":baz/schema", Count: 0}))

	err := assertTraceCount(trace, Assertion{Vocabulary: ":bar/schema", Count: 3})
	var aerr *AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "3 outcomes (any) for :bar/schema", aerr.Expected)
	assert.Equal(t, "1 occurrences", aerr.Actual)
}

func TestStateAssertions(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	name := ir.NewDefinition(":foo/name", ir.ValueTypeString)
	tags := ir.NewDefinition(":foo/tags", ir.ValueTypeLong).Many()
	_, err = st.Transact(ctx, []ir.Fact{
		ir.Add(ir.TempID("vocab"), ir.DBIdent, ir.Keyword(":foo/schema")),
		ir.Add(ir.TempID("name"), ir.DBIdent, name.Name),
		ir.Add(ir.TempID("name"), ir.DBValueType, name.ValueType.Keyword()),
		ir.Add(ir.TempID("name"), ir.DBCardinality, name.Cardinality.Keyword()),
		ir.Add(ir.TempID("tags"), ir.DBIdent, tags.Name),
		ir.Add(ir.TempID("tags"), ir.DBValueType, tags.ValueType.Keyword()),
		ir.Add(ir.TempID("tags"), ir.DBCardinality, tags.Cardinality.Keyword()),
		ir.Add(ir.TempID("vocab"), ir.DBSchemaAttribute, ir.TempID("name")),
		ir.Add(ir.TempID("vocab"), ir.DBSchemaVersion, ir.Long(3)),
	})
	require.NoError(t, err)

	row, err := st.Transact(ctx, []ir.Fact{
		ir.Add(ir.TempID("row"), ":foo/name", ir.String("x")),
		ir.Add(ir.TempID("row"), ":foo/tags", ir.Long(1)),
		ir.Add(ir.TempID("row"), ":foo/tags", ir.Long(2)),
	})
	require.NoError(t, err)
	rowID, _ := row.Resolve("row")

	actx := &AssertionContext{Store: st, Ctx: ctx, TempIDs: map[string]ir.Entid{"row": rowID}}
	run := func(a Assertion) []string {
		return EvaluateAssertions(NewResult(), []Assertion{a}, actx)
	}

	assert.Empty(t, run(Assertion{Type: AssertVocabulary, Vocabulary: ":foo/schema", Version: 3}))
	assert.Empty(t, run(Assertion{Type: AssertVocabulary, Vocabulary: ":foo/schema", Version: 3,
		Attributes: []ir.Definition{{Name: ":foo/name", ValueType: ir.ValueTypeString}}}))
	assert.Len(t, run(Assertion{Type: AssertVocabulary, Vocabulary: ":foo/schema", Version: 2}), 1)
	assert.Len(t, run(Assertion{Type: AssertVocabulary, Vocabulary: ":foo/schema", Version: 3,
		Attributes: []ir.Definition{tags}}), 1)
	assert.Len(t, run(Assertion{Type: AssertVocabulary, Vocabulary: ":bar/schema", Version: 1}), 1)

	assert.Empty(t, run(Assertion{Type: AssertVocabularyAbsent, Vocabulary: ":bar/schema"}))
	assert.Len(t, run(Assertion{Type: AssertVocabularyAbsent, Vocabulary: ":foo/schema"}), 1)

	assert.Empty(t, run(Assertion{Type: AssertOwner, Attribute: ":foo/name", Vocabulary: ":foo/schema"}))
	owner := run(Assertion{Type: AssertOwner, Attribute: ":foo/tags", Vocabulary: ":foo/schema"})
	require.Len(t, owner, 1)
	assert.Contains(t, owner[0], "owned by (none)")

	assert.Empty(t, run(Assertion{Type: AssertEntity, Entity: "row",
		Expect: map[string]any{":foo/name": "x", ":foo/tags": []any{2, 1}}}))
	assert.Len(t, run(Assertion{Type: AssertEntity, Entity: "row",
		Expect: map[string]any{":foo/tags": 1}}), 1)
	assert.Len(t, run(Assertion{Type: AssertEntity, Entity: "ghost",
		Expect: map[string]any{":foo/name": "x"}}), 1)
	assert.Empty(t, run(Assertion{Type: AssertEntity, Entity: ":foo/name",
		Expect: map[string]any{":db/ident": ":foo/name"}}))
}

func TestEvaluateAssertions_NoStore(t *testing.T) {
	errs := EvaluateAssertions(NewResult(), []Assertion{
		{Type: AssertVocabulary, Vocabulary: ":foo/schema", Version: 1},
		{Type: "bogus"},
	}, nil)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "requires store context")
	assert.Contains(t, errs[1], `unknown assertion type "bogus"`)
}
