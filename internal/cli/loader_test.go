package cli

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qpdb/mentat/internal/ir"
	"github.com/qpdb/mentat/internal/vocabulary"
)

func TestParseVocabularyFile(t *testing.T) {
	file, errs := ParseVocabularyFile([]byte(`
vocabularies:
  - vocabulary: ":todo"
    version: 3
    proceed: true
    acknowledge: [":todo/tags"]
    attributes:
      - { name: ":todo/title", type: string }
      - { name: ":todo/owner", type: ref, component: true }
      - { name: ":todo/id", type: uuid, unique: identity, no_history: true }
`))
	require.Empty(t, errs)
	require.Len(t, file.Vocabularies, 1)

	spec := file.Vocabularies[0]
	assert.Equal(t, ":todo", spec.Vocabulary)
	assert.Equal(t, uint32(3), spec.Version)
	assert.True(t, spec.Proceed)
	assert.Equal(t, []string{":todo/tags"}, spec.Acknowledge)
	assert.Equal(t, []ir.Definition{
		ir.NewDefinition(":todo/title", ir.ValueTypeString),
		ir.NewDefinition(":todo/owner", ir.ValueTypeRef).AsComponent(),
		ir.NewDefinition(":todo/id", ir.ValueTypeUUID).WithUnique(ir.UniqueIdentity).WithoutHistory(),
	}, spec.Attributes, "cardinality defaults to one")
}

func TestParseVocabularyFileErrors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantCode string
		wantMsgs []string
	}{
		{
			name:     "empty",
			input:    ``,
			wantCode: ErrCodeInvalid,
			wantMsgs: []string{"no vocabularies declared"},
		},
		{
			name:     "malformed",
			input:    "vocabularies: [",
			wantCode: ErrCodeParse,
		},
		{
			name: "unknown field",
			input: `
vocabularies:
  - vocabulary: ":todo"
    version: 1
    colour: blue
`,
			wantCode: ErrCodeParse,
			wantMsgs: []string{"colour"},
		},
		{
			name: "every problem is reported",
			input: `
vocabularies:
  - vocabulary: "todo"
    version: 0
    attributes:
      - { name: ":todo/title", type: long, fulltext: true }
`,
			wantCode: ErrCodeInvalid,
			wantMsgs: []string{"vocabularies[0]", "version must be positive", "fulltext requires value type string"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file, errs := ParseVocabularyFile([]byte(tt.input))
			assert.Nil(t, file)
			require.NotEmpty(t, errs)

			for _, e := range errs {
				var le *LoadError
				require.True(t, errors.As(e, &le))
				assert.Equal(t, tt.wantCode, le.Code)
			}
			for _, msg := range tt.wantMsgs {
				assert.Contains(t, errors.Join(errs...).Error(), msg)
			}
		})
	}
}

func TestParseVocabularyFileCollectsAllErrors(t *testing.T) {
	_, errs := ParseVocabularyFile([]byte(`
vocabularies:
  - vocabulary: ":a"
    version: 0
  - vocabulary: ":b"
    version: 0
`))
	assert.Len(t, errs, 2)
}

func TestLoadVocabularyFile(t *testing.T) {
	path := writeFile(t, "vocab.yaml", todoV1)
	file, errs := LoadVocabularyFile(path)
	require.Empty(t, errs)
	require.Len(t, file.Vocabularies, 1)
	assert.Equal(t, []ir.Definition{todoTitle, todoTags}, file.Vocabularies[0].Attributes)
}

func TestLoadVocabularyFileNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")
	_, errs := LoadVocabularyFile(path)
	require.Len(t, errs, 1)

	var le *LoadError
	require.ErrorAs(t, errs[0], &le)
	assert.Equal(t, ErrCodeFileNotFound, le.Code)
	assert.Equal(t, path, le.Path)
	assert.Contains(t, le.Error(), path)
}

func TestLoadVocabularyFileErrorsCarryPath(t *testing.T) {
	path := writeFile(t, "vocab.yaml", "vocabularies: []\n")
	_, errs := LoadVocabularyFile(path)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), path+": E_INVALID: no vocabularies declared")
}

func TestVocabularySpecSourceDecisions(t *testing.T) {
	ctx := context.Background()
	installed := ir.NewVocabularies()
	installed.ByName[":todo"] = ir.Vocabulary{
		Name:       ":todo",
		Entid:      100,
		Version:    1,
		Attributes: []ir.Definition{todoTitle},
	}
	changed := ir.NewDefinition(":todo/title", ir.ValueTypeString)

	tests := []struct {
		name     string
		spec     VocabularySpec
		wantKind vocabulary.DecisionKind
		wantAck  bool
	}{
		{
			name:     "differing definitions reject by default",
			spec:     VocabularySpec{Vocabulary: ":todo", Version: 2, Attributes: []ir.Definition{changed}},
			wantKind: vocabulary.DecisionReject,
		},
		{
			name: "proceed overrides and acknowledges",
			spec: VocabularySpec{
				Vocabulary:  ":todo",
				Version:     2,
				Attributes:  []ir.Definition{changed},
				Proceed:     true,
				Acknowledge: []string{":todo/title"},
			},
			wantKind: vocabulary.DecisionProceed,
			wantAck:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := tt.spec.source()
			assert.Equal(t, ir.Keyword(":todo"), src.Name())
			assert.Equal(t, ir.Version(2), src.Version())

			d := src.Pre(ctx, vocabulary.NewStatus(src, installed))
			assert.Equal(t, tt.wantKind, d.Kind)
			assert.Equal(t, tt.wantAck, d.Acknowledged(":todo/title"))
		})
	}
}
