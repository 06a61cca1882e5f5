package vocabulary

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qpdb/mentat/internal/ir"
	"github.com/qpdb/mentat/internal/store"
)

func TestEnsure_InstallsIntoEmptyStore(t *testing.T) {
	st := newTestStore(t)
	m := newTestManager(st)

	o := ensureOne(t, m, source(":foo/schema", 1, fooName))
	assert.Equal(t, OutcomeInstalled, o.Kind)
	assert.Equal(t, ir.Version(0), o.From)
	assert.Equal(t, ir.Version(1), o.To)
	assert.NotZero(t, o.TxID)
	assert.NoError(t, o.Err)
	assert.True(t, o.Changed())

	vocab := readVocabulary(t, m, ":foo/schema")
	require.NotNil(t, vocab)
	assert.Equal(t, ir.Version(1), vocab.Version)
	assert.Equal(t, []ir.Definition{fooName}, vocab.Attributes)
}

func TestEnsure_ResubmittedIsUnchanged(t *testing.T) {
	st := newTestStore(t)
	m := newTestManager(st)
	ensureOne(t, m, source(":foo/schema", 1, fooName))

	before, err := st.Transactions(context.Background(), 0)
	require.NoError(t, err)

	o := ensureOne(t, m, source(":foo/schema", 1, fooName))
	assert.Equal(t, OutcomeUnchanged, o.Kind)
	assert.Zero(t, o.TxID)
	assert.False(t, o.Changed())

	after, err := st.Transactions(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, after, len(before), "unchanged vocabulary commits nothing")
}

func TestEnsure_PreCannotAlterSnapshotOfLaterSources(t *testing.T) {
	st := newTestStore(t)
	m := newTestManager(st)
	ensureOne(t, m, source(":bar/schema", 1, fooName))

	meddling := NewSimpleSource(":foo/schema", 1, []ir.Definition{fooTags},
		WithPre(func(_ context.Context, s *Status) Decision {
			delete(s.Vocabularies().ByName, ":bar/schema")
			if bar := s.Vocabularies().Get(":bar/schema"); bar != nil {
				bar.Attributes[0] = fooEmail
			}
			return Proceed()
		}))

	outcomes, err := m.EnsureVocabularies(context.Background(), meddling, source(":bar/schema", 1, fooName))
	require.NoError(t, err)
	assert.Equal(t, OutcomeInstalled, outcomes[":foo/schema"].Kind)
	assert.Equal(t, OutcomeUnchanged, outcomes[":bar/schema"].Kind)
	assert.NoError(t, outcomes[":bar/schema"].Err)
}

func TestEnsure_UpgradeAddsDefinition(t *testing.T) {
	st := newTestStore(t)
	m := newTestManager(st)
	ensureOne(t, m, source(":foo/schema", 1, fooName))

	o := ensureOne(t, m, source(":foo/schema", 2, fooName, fooTags))
	assert.Equal(t, OutcomeUpgraded, o.Kind)
	assert.Equal(t, ir.Version(1), o.From)
	assert.Equal(t, ir.Version(2), o.To)
	assert.Empty(t, o.Changes)

	vocab := readVocabulary(t, m, ":foo/schema")
	require.NotNil(t, vocab)
	assert.Equal(t, ir.Version(2), vocab.Version)
	assert.Equal(t, []ir.Definition{fooName, fooTags}, vocab.Attributes)
}

func TestEnsure_VersionRegression(t *testing.T) {
	st := newTestStore(t)
	m := newTestManager(st)
	ensureOne(t, m, source(":foo/schema", 2, fooName))

	var preCalled bool
	src := NewSimpleSource(":foo/schema", 1, []ir.Definition{fooName, fooTags},
		WithPre(func(context.Context, *Status) Decision {
			preCalled = true
			return Proceed()
		}))

	o := ensureOne(t, m, src)
	assert.Equal(t, OutcomeError, o.Kind)
	assert.ErrorIs(t, o.Err, ErrVersionRegression)
	assert.False(t, o.Retryable())
	assert.False(t, preCalled)

	vocab := readVocabulary(t, m, ":foo/schema")
	require.NotNil(t, vocab)
	assert.Equal(t, ir.Version(2), vocab.Version)
	assert.Equal(t, []ir.Definition{fooName}, vocab.Attributes)
}

func TestEnsure_SameVersionDifferentDefinition(t *testing.T) {
	st := newTestStore(t)
	m := newTestManager(st)
	ensureOne(t, m, source(":foo/schema", 1, fooName))

	src := NewSimpleSource(":foo/schema", 1, []ir.Definition{fooName.Indexed()}, WithPre(proceedPre))
	o := ensureOne(t, m, src)
	assert.Equal(t, OutcomeError, o.Kind)
	assert.ErrorIs(t, o.Err, ErrVersionRegression)

	var verr *VocabularyError
	require.ErrorAs(t, o.Err, &verr)
	assert.Equal(t, ir.Keyword(":foo/name"), verr.Attribute)
	assert.Equal(t, fooName, verr.Actual)
	assert.Equal(t, fooName.Indexed(), verr.Wanted)
	assert.Equal(t,
		"vocabulary :foo/schema/version 1 already has attribute :foo/name, and the requested definition differs",
		verr.Error())
}

func TestEnsure_SameVersionNewDefinition(t *testing.T) {
	st := newTestStore(t)
	m := newTestManager(st)
	ensureOne(t, m, source(":foo/schema", 1, fooName))

	o := ensureOne(t, m, source(":foo/schema", 1, fooName, fooTags))
	assert.Equal(t, OutcomeError, o.Kind)
	assert.ErrorIs(t, o.Err, ErrVersionRegression)

	vocab := readVocabulary(t, m, ":foo/schema")
	assert.Equal(t, []ir.Definition{fooName}, vocab.Attributes)
}

func TestEnsure_Idempotent(t *testing.T) {
	st := newTestStore(t)
	m := newTestManager(st)
	ctx := context.Background()

	sources := []Source{
		source(":foo/schema", 1, fooName, fooTags),
		source(":bar/schema", 3, ir.NewDefinition(":bar/id", ir.ValueTypeUUID).WithUnique(ir.UniqueIdentity)),
	}

	first, err := m.EnsureVocabularies(ctx, sources...)
	require.NoError(t, err)
	require.NoError(t, first.Err())
	snapshot, err := m.ReadVocabularies(ctx)
	require.NoError(t, err)

	second, err := m.EnsureVocabularies(ctx, sources...)
	require.NoError(t, err)
	for _, name := range second.Names() {
		assert.Equal(t, OutcomeUnchanged, second[name].Kind, name)
	}

	again, err := m.ReadVocabularies(ctx)
	require.NoError(t, err)
	assert.Equal(t, snapshot, again)
}

func TestEnsure_VersionNeverDecreases(t *testing.T) {
	st := newTestStore(t)
	m := newTestManager(st)

	steps := []struct {
		version  ir.Version
		expected ir.Version
	}{
		{1, 1},
		{3, 3},
		{2, 3},
		{1, 3},
		{3, 3},
		{4, 4},
	}
	for _, step := range steps {
		ensureOne(t, m, source(":foo/schema", step.version, fooName))
		vocab := readVocabulary(t, m, ":foo/schema")
		require.NotNil(t, vocab)
		assert.Equal(t, step.expected, vocab.Version, "after ensuring version %d", step.version)
	}
}

func TestEnsure_InvalidSources(t *testing.T) {
	st := newTestStore(t)
	m := newTestManager(st)

	tests := []struct {
		name   string
		source Source
		err    error
	}{
		{"zero version", source(":foo/schema", 0, fooName), ErrInvalidVersion},
		{"bad name", source("foo", 1, fooName), ErrInvalidDefinition},
		{"bad definition", source(":foo/schema", 1, ir.NewDefinition(":foo/x", "text")), ErrInvalidDefinition},
		{"duplicate attribute", source(":foo/schema", 1, fooName, fooName.Indexed()), ErrInvalidDefinition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := ensureOne(t, m, tt.source)
			assert.Equal(t, OutcomeError, o.Kind)
			assert.ErrorIs(t, o.Err, tt.err)
		})
	}

	vocabs, err := m.ReadVocabularies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ir.Keyword{ir.CoreVocabulary}, vocabs.Names())
}

func TestEnsure_CoreVocabulary(t *testing.T) {
	st := newTestStore(t)
	m := newTestManager(st)

	core := readVocabulary(t, m, ir.CoreVocabulary)
	require.NotNil(t, core)

	o := ensureOne(t, m, source(ir.CoreVocabulary, core.Version, core.Attributes...))
	assert.Equal(t, OutcomeUnchanged, o.Kind)

	o = ensureOne(t, m, source(ir.CoreVocabulary, core.Version+1, core.Attributes...))
	assert.Equal(t, OutcomeError, o.Kind)
	assert.ErrorIs(t, o.Err, ErrInvalidDefinition)
}

func TestEnsure_Atomic(t *testing.T) {
	st := newTestStore(t)
	m := newTestManager(st)
	ctx := context.Background()

	good := source(":foo/schema", 1, fooName)
	bad := NewSimpleSource(":bar/schema", 1, []ir.Definition{ir.NewDefinition(":bar/id", ir.ValueTypeLong)},
		WithPre(func(context.Context, *Status) Decision {
			return Proceed(ir.Add(ir.TempID("row"), ":bar/missing", ir.Long(1)))
		}))

	_, err := m.EnsureVocabularies(ctx, good, bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrUnknownAttribute)

	vocabs, err := m.ReadVocabularies(ctx)
	require.NoError(t, err)
	assert.Nil(t, vocabs.Get(":foo/schema"))
	assert.Nil(t, vocabs.Get(":bar/schema"))
	_, ok := vocabs.Attributes[":foo/name"]
	assert.False(t, ok)
}

func TestEnsure_DecisionFactsCommitWithSchema(t *testing.T) {
	st := newTestStore(t)
	m := newTestManager(st)
	ctx := context.Background()

	src := NewSimpleSource(":foo/schema", 1, []ir.Definition{fooEmail, fooName},
		WithPre(func(context.Context, *Status) Decision {
			return Proceed(
				ir.Add(ir.TempID("admin"), ":foo/email", ir.String("admin@example.com")),
				ir.Add(ir.TempID("admin"), ":foo/name", ir.String("Admin")),
			)
		}))

	o := ensureOne(t, m, src)
	require.Equal(t, OutcomeInstalled, o.Kind)

	txs, err := st.Transactions(ctx, 0)
	require.NoError(t, err)
	last := txs[len(txs)-1]
	assert.Equal(t, o.TxID, last.TxID)

	var names []ir.Value
	for _, d := range last.Datoms {
		if d.A == ":foo/name" {
			names = append(names, d.V)
		}
	}
	assert.Equal(t, []ir.Value{ir.String("Admin")}, names)
}

func TestEnsure_RejectIsIncompatible(t *testing.T) {
	st := newTestStore(t)
	m := newTestManager(st)
	ensureOne(t, m, source(":foo/schema", 1, fooTags))

	o := ensureOne(t, m, source(":foo/schema", 2, fooTags.One()))
	assert.Equal(t, OutcomeIncompatible, o.Kind)
	assert.ErrorIs(t, o.Err, ErrIncompatible)
	assert.Contains(t, o.Err.Error(), "definitions differ for :foo/tags")

	vocab := readVocabulary(t, m, ":foo/schema")
	assert.Equal(t, ir.Version(1), vocab.Version)
	assert.Equal(t, []ir.Definition{fooTags}, vocab.Attributes)
}

func TestEnsure_AbortIsError(t *testing.T) {
	st := newTestStore(t)
	m := newTestManager(st)

	src := NewSimpleSource(":foo/schema", 1, []ir.Definition{fooName},
		WithPre(func(context.Context, *Status) Decision { return Abort("not today") }))
	o := ensureOne(t, m, src)
	assert.Equal(t, OutcomeError, o.Kind)
	assert.ErrorIs(t, o.Err, ErrAborted)
	assert.Contains(t, o.Err.Error(), "not today")
	assert.Nil(t, readVocabulary(t, m, ":foo/schema"))
}

func TestEnsure_SafetyRail(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T, opts ...Option) (*store.Store, *Manager) {
		st := newTestStore(t)
		m := newTestManager(st, opts...)
		ensureOne(t, m, source(":foo/schema", 1, fooTags, fooEmail))
		return st, m
	}

	t.Run("narrowing multi-valued data is blocked", func(t *testing.T) {
		st, m := setup(t)
		_, err := st.Transact(ctx, []ir.Fact{
			ir.Add(ir.TempID("a"), ":foo/tags", ir.Keyword(":tag/red")),
			ir.Add(ir.TempID("a"), ":foo/tags", ir.Keyword(":tag/blue")),
		})
		require.NoError(t, err)

		src := NewSimpleSource(":foo/schema", 2, []ir.Definition{fooTags.One(), fooEmail}, WithPre(proceedPre))
		o := ensureOne(t, m, src)
		assert.Equal(t, OutcomeIncompatible, o.Kind)
		assert.ErrorIs(t, o.Err, ErrIncompatible)
		assert.Contains(t, o.Err.Error(), ":foo/tags (cardinality many→one)")
		require.Len(t, o.Changes, 1)
		assert.True(t, o.Changes[0].Destructive())

		vocab := readVocabulary(t, m, ":foo/schema")
		assert.Equal(t, ir.Version(1), vocab.Version)
		assert.Equal(t, []ir.Definition{fooTags, fooEmail}, vocab.Attributes)
	})

	t.Run("narrowing single-valued data proceeds", func(t *testing.T) {
		st, m := setup(t)
		_, err := st.Transact(ctx, []ir.Fact{
			ir.Add(ir.TempID("a"), ":foo/tags", ir.Keyword(":tag/red")),
			ir.Add(ir.TempID("b"), ":foo/tags", ir.Keyword(":tag/red")),
		})
		require.NoError(t, err)

		src := NewSimpleSource(":foo/schema", 2, []ir.Definition{fooTags.One(), fooEmail}, WithPre(proceedPre))
		o := ensureOne(t, m, src)
		assert.Equal(t, OutcomeUpgraded, o.Kind)
		require.Len(t, o.Changes, 1)
		assert.Equal(t, RiskCompatible, o.Changes[0].Fields[0].Risk)

		vocab := readVocabulary(t, m, ":foo/schema")
		assert.Equal(t, []ir.Definition{fooTags.One(), fooEmail}, vocab.Attributes)
	})

	t.Run("without an inspector data-dependent changes are blocked", func(t *testing.T) {
		_, m := setup(t, WithDataInspector(nil))

		src := NewSimpleSource(":foo/schema", 2, []ir.Definition{fooTags.One(), fooEmail}, WithPre(proceedPre))
		o := ensureOne(t, m, src)
		assert.Equal(t, OutcomeIncompatible, o.Kind)
	})

	t.Run("acknowledged destructive change proceeds", func(t *testing.T) {
		_, m := setup(t)
		relaxed := fooEmail.WithUnique(ir.UniqueNone)

		blocked := ensureOne(t, m, NewSimpleSource(":foo/schema", 2, []ir.Definition{fooTags, relaxed}, WithPre(proceedPre)))
		assert.Equal(t, OutcomeIncompatible, blocked.Kind)

		src := NewSimpleSource(":foo/schema", 2, []ir.Definition{fooTags, relaxed},
			WithPre(func(context.Context, *Status) Decision {
				return Proceed().Acknowledge(":foo/email")
			}))
		o := ensureOne(t, m, src)
		assert.Equal(t, OutcomeUpgraded, o.Kind)
		require.Len(t, o.Changes, 1)
		assert.Equal(t, FieldChange{Field: "unique", From: "identity", To: "none", Risk: RiskDestructive}, o.Changes[0].Fields[0])

		vocab := readVocabulary(t, m, ":foo/schema")
		assert.Equal(t, []ir.Definition{fooTags, relaxed}, vocab.Attributes)
	})

	t.Run("compatible change proceeds without acknowledgement", func(t *testing.T) {
		_, m := setup(t)
		src := NewSimpleSource(":foo/schema", 2, []ir.Definition{fooTags.Indexed(), fooEmail}, WithPre(proceedPre))
		o := ensureOne(t, m, src)
		assert.Equal(t, OutcomeUpgraded, o.Kind)
		assert.Equal(t, []ir.Definition{fooTags.Indexed(), fooEmail}, readVocabulary(t, m, ":foo/schema").Attributes)
	})
}

func TestEnsure_AttributeOwnership(t *testing.T) {
	st := newTestStore(t)
	m := newTestManager(st)
	ensureOne(t, m, source(":foo/schema", 1, fooName))

	o := ensureOne(t, m, source(":bar/schema", 1, fooName))
	assert.Equal(t, OutcomeError, o.Kind)
	assert.ErrorIs(t, o.Err, ErrAttributeOwned)
	assert.Nil(t, readVocabulary(t, m, ":bar/schema"))
}

func TestEnsure_SameAttributeClaimedTwiceInOneCall(t *testing.T) {
	st := newTestStore(t)
	m := newTestManager(st)

	outcomes, err := m.EnsureVocabularies(context.Background(),
		source(":foo/schema", 1, fooName),
		source(":bar/schema", 1, fooName))
	require.NoError(t, err)
	assert.Equal(t, OutcomeInstalled, outcomes[":foo/schema"].Kind)
	assert.Equal(t, OutcomeError, outcomes[":bar/schema"].Kind)
	assert.ErrorIs(t, outcomes[":bar/schema"].Err, ErrAttributeOwned)
	assert.Error(t, outcomes.Err())
}

func TestEnsure_AdoptsUnownedAttribute(t *testing.T) {
	st := newTestStore(t)
	m := newTestManager(st)
	ctx := context.Background()

	_, err := st.Transact(ctx, []ir.Fact{
		ir.Add(ir.TempID("attr"), ir.DBIdent, ir.Keyword(":foo/name")),
		ir.Add(ir.TempID("attr"), ir.DBValueType, ir.ValueTypeString.Keyword()),
		ir.Add(ir.TempID("attr"), ir.DBCardinality, ir.CardinalityOne.Keyword()),
	})
	require.NoError(t, err)

	o := ensureOne(t, m, source(":foo/schema", 1, fooName.Indexed(), fooTags))
	assert.Equal(t, OutcomeInstalled, o.Kind)
	require.Len(t, o.Changes, 1)
	assert.Equal(t, ir.Keyword(":foo/name"), o.Changes[0].Attribute)

	vocabs, err := m.ReadVocabularies(ctx)
	require.NoError(t, err)
	owner, ok := vocabs.OwnerOf(":foo/name")
	assert.True(t, ok)
	assert.Equal(t, ir.Keyword(":foo/schema"), owner)
	assert.ElementsMatch(t, []ir.Definition{fooName.Indexed(), fooTags}, vocabs.Get(":foo/schema").Attributes)
}

func TestEnsure_DuplicateNames(t *testing.T) {
	st := newTestStore(t)
	m := newTestManager(st)

	var posts []Outcome
	var preCalls []ir.Version
	record := func(version ir.Version, defs ...ir.Definition) *SimpleSource {
		return NewSimpleSource(":foo/schema", version, defs,
			WithPre(func(context.Context, *Status) Decision {
				preCalls = append(preCalls, version)
				return Proceed()
			}),
			WithPost(func(_ context.Context, _ Transactor, o Outcome) error {
				posts = append(posts, o)
				return nil
			}))
	}

	outcomes, err := m.EnsureVocabularies(context.Background(),
		record(1, fooName),
		record(2, fooName, fooTags))
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	o := outcomes[":foo/schema"]
	assert.Equal(t, OutcomeInstalled, o.Kind)
	assert.Equal(t, ir.Version(2), o.To)
	assert.Contains(t, o.Warning, "requested by 2 sources")

	assert.Equal(t, []ir.Version{2}, preCalls)
	require.Len(t, posts, 2)
	for _, p := range posts {
		assert.Equal(t, OutcomeInstalled, p.Kind)
		assert.NotEmpty(t, p.Warning)
	}

	assert.Equal(t, []ir.Definition{fooName, fooTags}, readVocabulary(t, m, ":foo/schema").Attributes)
}

func TestEnsure_PostHooks(t *testing.T) {
	ctx := context.Background()

	t.Run("post can backfill after the commit", func(t *testing.T) {
		st := newTestStore(t)
		m := newTestManager(st)

		src := NewSimpleSource(":foo/schema", 1, []ir.Definition{fooEmail},
			WithPost(func(ctx context.Context, tx Transactor, o Outcome) error {
				if !o.Changed() {
					return nil
				}
				_, err := tx.Transact(ctx, []ir.Fact{
					ir.Add(ir.TempID("user"), ":foo/email", ir.String("first@example.com")),
				})
				return err
			}))

		o := ensureOne(t, m, src)
		assert.Equal(t, OutcomeInstalled, o.Kind)
		assert.NoError(t, o.PostErr)

		entity, err := st.Entity(ctx, ir.Keyword(":foo/schema"))
		require.NoError(t, err)
		assert.NotEmpty(t, entity)

		txs, err := st.Transactions(ctx, o.TxID)
		require.NoError(t, err)
		require.Len(t, txs, 1)
		var attrs []ir.Keyword
		for _, d := range txs[0].Datoms {
			attrs = append(attrs, d.A)
		}
		assert.Equal(t, []ir.Keyword{ir.DBTxInstant, ":foo/email"}, attrs)
	})

	t.Run("post failure leaves the commit in place", func(t *testing.T) {
		st := newTestStore(t)
		m := newTestManager(st)
		boom := errors.New("backfill failed")

		src := NewSimpleSource(":foo/schema", 1, []ir.Definition{fooName},
			WithPost(func(context.Context, Transactor, Outcome) error { return boom }))

		o := ensureOne(t, m, src)
		assert.Equal(t, OutcomeInstalled, o.Kind)
		assert.NoError(t, o.Err)
		assert.ErrorIs(t, o.PostErr, boom)

		var perr *PostHookError
		require.ErrorAs(t, o.PostErr, &perr)
		assert.Equal(t, ir.Keyword(":foo/schema"), perr.Vocabulary)

		assert.NotNil(t, readVocabulary(t, m, ":foo/schema"))
	})

	t.Run("post runs for failed vocabularies too", func(t *testing.T) {
		st := newTestStore(t)
		m := newTestManager(st)

		var got Outcome
		src := NewSimpleSource(":foo/schema", 0, []ir.Definition{fooName},
			WithPost(func(_ context.Context, _ Transactor, o Outcome) error {
				got = o
				return nil
			}))

		ensureOne(t, m, src)
		assert.Equal(t, OutcomeError, got.Kind)
		assert.ErrorIs(t, got.Err, ErrInvalidVersion)
	})
}

// racingStore lets a rival ensure call commit just before the first
// transaction of the manager under test.
type racingStore struct {
	*store.Store
	rival func()
	raced bool
}

func (r *racingStore) Transact(ctx context.Context, facts []ir.Fact) (ir.TxReport, error) {
	if !r.raced {
		r.raced = true
		r.rival()
	}
	return r.Store.Transact(ctx, facts)
}

func TestEnsure_LostRace(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rival := newTestManager(st)
	racing := &racingStore{Store: st, rival: func() {
		o := ensureOne(t, rival, source(":foo/schema", 1, fooName))
		require.Equal(t, OutcomeInstalled, o.Kind)
	}}
	m := newTestManager(racing)

	outcomes, err := m.EnsureVocabularies(ctx, source(":foo/schema", 1, fooName))
	require.NoError(t, err)
	o := outcomes[":foo/schema"]
	assert.Equal(t, OutcomeError, o.Kind)
	assert.True(t, o.Retryable())
	assert.ErrorIs(t, o.Err, ErrLostRace)

	var conflict *store.ConflictError
	require.ErrorAs(t, o.Err, &conflict)
	assert.Equal(t, store.ConflictCAS, conflict.Kind)

	retry := ensureOne(t, m, source(":foo/schema", 1, fooName))
	assert.Equal(t, OutcomeUnchanged, retry.Kind)
}

// failingStore fails every transaction.
type failingStore struct {
	*store.Store
	err error
}

func (f *failingStore) Transact(context.Context, []ir.Fact) (ir.TxReport, error) {
	return ir.TxReport{}, f.err
}

func TestEnsure_CommitFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("busy store is a lost race", func(t *testing.T) {
		st := &failingStore{Store: newTestStore(t), err: &store.ConflictError{Kind: store.ConflictBusy, Err: errors.New("database is locked")}}
		m := newTestManager(st)

		outcomes, err := m.EnsureVocabularies(ctx, source(":foo/schema", 1, fooName), source(":bar/schema", 1))
		require.NoError(t, err)
		for _, name := range outcomes.Names() {
			assert.True(t, outcomes[name].Retryable(), name)
		}
	})

	t.Run("other failures fail the call", func(t *testing.T) {
		boom := errors.New("disk full")
		st := &failingStore{Store: newTestStore(t), err: boom}
		m := newTestManager(st)

		_, err := m.EnsureVocabularies(ctx, source(":foo/schema", 1, fooName))
		assert.ErrorIs(t, err, boom)
	})

	t.Run("nothing to commit skips the store", func(t *testing.T) {
		st := &failingStore{Store: newTestStore(t), err: errors.New("unexpected transact")}
		m := newTestManager(st)

		o := ensureOne(t, m, source(ir.CoreVocabulary, ir.CoreSchemaVersion))
		assert.Equal(t, OutcomeUnchanged, o.Kind)
	})
}

func TestEnsure_DecisionFactsCollidingWithDataFailTheCall(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	m := newTestManager(st)
	code := ir.NewDefinition(":foo/code", ir.ValueTypeString).WithUnique(ir.UniqueValue)
	ensureOne(t, m, source(":foo/schema", 1, code))

	_, err := st.Transact(ctx, []ir.Fact{ir.Add(ir.TempID("e1"), ":foo/code", ir.String("a@b"))})
	require.NoError(t, err)

	upgrade := NewSimpleSource(":foo/schema", 2, []ir.Definition{code, fooName},
		WithPre(func(context.Context, *Status) Decision {
			return Proceed(ir.Add(ir.TempID("x"), ":foo/code", ir.String("a@b")))
		}))

	outcomes, err := m.EnsureVocabularies(ctx, upgrade, source(":bar/schema", 1, fooTags))
	require.Error(t, err)
	assert.Nil(t, outcomes)
	assert.NotErrorIs(t, err, ErrLostRace)

	var conflict *store.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, store.ConflictUnique, conflict.Kind)

	assert.Equal(t, ir.Version(1), readVocabulary(t, st, ":foo/schema").Version)
	assert.Nil(t, readVocabulary(t, st, ":bar/schema"))
}

func TestEnsure_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	st := newTestStore(t)
	m := newTestManager(st, WithMetrics(metrics))

	ensureOne(t, m, source(":foo/schema", 1, fooName))
	ensureOne(t, m, source(":foo/schema", 1, fooName))
	ensureOne(t, m, source(":foo/schema", 0, fooName))

	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.outcomes.WithLabelValues("installed")))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.outcomes.WithLabelValues("unchanged")))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.outcomes.WithLabelValues("error")))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.commits.WithLabelValues(commitOK)))
	assert.Equal(t, 2.0, promtest.ToFloat64(metrics.commits.WithLabelValues(commitSkipped)))
	assert.Equal(t, 1, promtest.CollectAndCount(metrics.ensureSeconds))

	_, err = NewMetrics(reg)
	assert.Error(t, err, "metrics register once per registry")
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.observeOutcome(OutcomeInstalled)
		m.observeCommit(commitOK)
	})

	unregistered, err := NewMetrics(nil)
	require.NoError(t, err)
	assert.NotNil(t, unregistered)
}
