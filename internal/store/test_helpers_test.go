package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qpdb/mentat/internal/ir"
	"github.com/qpdb/mentat/internal/testutil"
)

// createTestStore creates a new file-backed store with a deterministic
// clock and transaction IDs.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, testOptions()...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testOptions() []Option {
	return []Option{
		WithClock(testutil.NewDeterministicClock()),
		WithTxIDGenerator(testutil.NewFixedIDGenerator("")),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
}

// installFacts returns the facts that install def under tempid.
func installFacts(tempid ir.TempID, def ir.Definition) []ir.Fact {
	facts := []ir.Fact{
		ir.Add(tempid, ir.DBIdent, def.Name),
		ir.Add(tempid, ir.DBValueType, def.ValueType.Keyword()),
		ir.Add(tempid, ir.DBCardinality, def.Cardinality.Keyword()),
	}
	if def.Unique != ir.UniqueNone {
		facts = append(facts, ir.Add(tempid, ir.DBUnique, def.Unique.Keyword()))
	}
	if def.Index {
		facts = append(facts, ir.Add(tempid, ir.DBIndex, ir.Bool(true)))
	}
	if def.Fulltext {
		facts = append(facts, ir.Add(tempid, ir.DBFulltext, ir.Bool(true)))
	}
	if def.Component {
		facts = append(facts, ir.Add(tempid, ir.DBIsComponent, ir.Bool(true)))
	}
	if def.NoHistory {
		facts = append(facts, ir.Add(tempid, ir.DBNoHistory, ir.Bool(true)))
	}
	return facts
}

// installAttributes installs each definition in one transaction.
func installAttributes(t *testing.T, s *Store, defs ...ir.Definition) ir.TxReport {
	t.Helper()
	var facts []ir.Fact
	for _, d := range defs {
		facts = append(facts, installFacts(ir.TempID(d.Name), d)...)
	}
	report, err := s.Transact(context.Background(), facts)
	require.NoError(t, err)
	return report
}

// installVocabulary installs a vocabulary and its attributes in one transaction.
func installVocabulary(t *testing.T, s *Store, name ir.Keyword, version ir.Version, defs ...ir.Definition) ir.TxReport {
	t.Helper()
	vocab := ir.TempID("vocab")
	facts := []ir.Fact{
		ir.Add(vocab, ir.DBIdent, name),
		ir.CAS(vocab, ir.DBSchemaVersion, nil, ir.Long(version)),
	}
	for _, d := range defs {
		tid := ir.TempID(d.Name)
		facts = append(facts, installFacts(tid, d)...)
		facts = append(facts, ir.Add(vocab, ir.DBSchemaAttribute, tid))
	}
	report, err := s.Transact(context.Background(), facts)
	require.NoError(t, err)
	return report
}
