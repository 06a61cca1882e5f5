package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/qpdb/mentat/internal/ir"
	"github.com/qpdb/mentat/internal/store"
	"github.com/qpdb/mentat/internal/testutil"
	"github.com/qpdb/mentat/internal/vocabulary"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var (
	todoTitle = ir.NewDefinition(":todo/title", ir.ValueTypeString).FullText()
	todoTags  = ir.NewDefinition(":todo/tags", ir.ValueTypeKeyword).Many().Indexed()
)

// seedDatabase creates a database file holding :todo version 1.
func seedDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.db")
	st, err := store.Open(path,
		store.WithClock(testutil.NewDeterministicClock()),
		store.WithTxIDGenerator(testutil.NewFixedIDGenerator("")),
		store.WithLogger(discardLogger),
	)
	require.NoError(t, err)
	defer st.Close()

	mgr := vocabulary.NewManager(st, vocabulary.WithLogger(discardLogger))
	outcomes, err := mgr.EnsureVocabularies(context.Background(),
		vocabulary.NewSimpleSource(":todo", 1, []ir.Definition{todoTitle, todoTags}))
	require.NoError(t, err)
	require.NoError(t, outcomes.Err())
	return path
}

// readVocabulary reads one vocabulary from a database file.
func readVocabulary(t *testing.T, path string, name ir.Keyword) *ir.Vocabulary {
	t.Helper()
	st, err := store.Open(path, store.WithLogger(discardLogger))
	require.NoError(t, err)
	defer st.Close()

	vocabs, err := st.ReadVocabularies(context.Background())
	require.NoError(t, err)
	return vocabs.Get(name)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// execute runs cmd with args and returns stdout, stderr and the error.
func execute(cmd *cobra.Command, args ...string) (string, string, error) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}
