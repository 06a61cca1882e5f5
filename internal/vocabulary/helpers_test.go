package vocabulary

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qpdb/mentat/internal/ir"
	"github.com/qpdb/mentat/internal/store"
	"github.com/qpdb/mentat/internal/testutil"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var (
	fooName  = ir.NewDefinition(":foo/name", ir.ValueTypeString)
	fooTags  = ir.NewDefinition(":foo/tags", ir.ValueTypeKeyword).Many()
	fooEmail = ir.NewDefinition(":foo/email", ir.ValueTypeString).WithUnique(ir.UniqueIdentity)
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"),
		store.WithClock(testutil.NewDeterministicClock()),
		store.WithTxIDGenerator(testutil.NewFixedIDGenerator("")),
		store.WithLogger(discardLogger),
	)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestManager(st Store, opts ...Option) *Manager {
	return NewManager(st, append([]Option{WithLogger(discardLogger)}, opts...)...)
}

func ensureOne(t *testing.T, m *Manager, src Source) Outcome {
	t.Helper()
	outcomes, err := m.EnsureVocabularies(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	o, ok := outcomes[src.Name()]
	require.True(t, ok)
	return o
}

func readVocabulary(t *testing.T, h HasVocabularies, name ir.Keyword) *ir.Vocabulary {
	t.Helper()
	vocabs, err := h.ReadVocabularies(context.Background())
	require.NoError(t, err)
	return vocabs.Get(name)
}

func proceedPre(context.Context, *Status) Decision {
	return Proceed()
}

func source(name ir.Keyword, version ir.Version, defs ...ir.Definition) *SimpleSource {
	return NewSimpleSource(name, version, defs)
}
