package vocabulary

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qpdb/mentat/internal/ir"
)

func TestClassify(t *testing.T) {
	base := ir.NewDefinition(":foo/bar", ir.ValueTypeString)

	tests := []struct {
		name        string
		actual      ir.Definition
		want        ir.Definition
		field       string
		risk        Risk
		destructive bool
	}{
		{"value type", base, ir.NewDefinition(":foo/bar", ir.ValueTypeLong), "value_type", RiskDestructive, true},
		{"widen cardinality", base, base.Many(), "cardinality", RiskCompatible, false},
		{"narrow cardinality", base.Many(), base, "cardinality", RiskDataDependent, false},
		{"add unique value", base, base.WithUnique(ir.UniqueValue), "unique", RiskDataDependent, false},
		{"add unique identity", base, base.WithUnique(ir.UniqueIdentity), "unique", RiskDataDependent, false},
		{"remove unique value", base.WithUnique(ir.UniqueValue), base, "unique", RiskDestructive, true},
		{"identity to value", base.WithUnique(ir.UniqueIdentity), base.WithUnique(ir.UniqueValue), "unique", RiskDestructive, true},
		{"value to identity", base.WithUnique(ir.UniqueValue), base.WithUnique(ir.UniqueIdentity), "unique", RiskCompatible, false},
		{"index on", base, base.Indexed(), "index", RiskCompatible, false},
		{"fulltext off", base.FullText(), base, "fulltext", RiskCompatible, false},
		{"no history on", base, base.WithoutHistory(), "no_history", RiskCompatible, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.want, tt.actual)
			require.Len(t, c.Fields, 1)
			assert.Equal(t, tt.field, c.Fields[0].Field)
			assert.Equal(t, tt.risk, c.Fields[0].Risk)
			assert.Equal(t, tt.destructive, c.Destructive())
			assert.Equal(t, tt.want.Name, c.Attribute)
		})
	}
}

func TestClassify_SeveralFields(t *testing.T) {
	actual := ir.NewDefinition(":foo/bar", ir.ValueTypeRef).Many().AsComponent()
	want := ir.NewDefinition(":foo/bar", ir.ValueTypeRef).Indexed()

	c := Classify(want, actual)
	require.Len(t, c.Fields, 3)
	assert.Equal(t, FieldChange{Field: "cardinality", From: "many", To: "one", Risk: RiskDataDependent}, c.Fields[0])
	assert.Equal(t, FieldChange{Field: "index", From: "false", To: "true", Risk: RiskCompatible}, c.Fields[1])
	assert.Equal(t, FieldChange{Field: "component", From: "true", To: "false", Risk: RiskCompatible}, c.Fields[2])
}

func TestClassify_Identical(t *testing.T) {
	c := Classify(fooName, fooName)
	assert.Empty(t, c.Fields)
	assert.False(t, c.Destructive())
}
