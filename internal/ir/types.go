package ir

import (
	"fmt"
	"maps"
	"slices"
)

// Entid is a numeric entity identifier assigned by the store.
type Entid int64

func (Entid) entityRef() {}
func (Entid) value()     {}

// Version is a vocabulary version. Versions are totally ordered and scoped
// to one vocabulary name. Zero means "no version".
type Version uint32

// ValueType is the declared type of an attribute's values.
type ValueType string

// Supported value types.
const (
	ValueTypeRef     ValueType = "ref"
	ValueTypeBoolean ValueType = "boolean"
	ValueTypeInstant ValueType = "instant"
	ValueTypeLong    ValueType = "long"
	ValueTypeDouble  ValueType = "double"
	ValueTypeString  ValueType = "string"
	ValueTypeKeyword ValueType = "keyword"
	ValueTypeUUID    ValueType = "uuid"
)

// ValueTypes lists every supported value type in tag order.
var ValueTypes = []ValueType{
	ValueTypeRef,
	ValueTypeBoolean,
	ValueTypeInstant,
	ValueTypeLong,
	ValueTypeDouble,
	ValueTypeString,
	ValueTypeKeyword,
	ValueTypeUUID,
}

// Valid reports whether t is one of the supported value types.
func (t ValueType) Valid() bool {
	return slices.Contains(ValueTypes, t)
}

// Keyword returns the enum ident for t, e.g. ":db.type/long".
func (t ValueType) Keyword() Keyword {
	return NewKeyword("db.type", string(t))
}

// ValueTypeFromKeyword maps ":db.type/long" back to ValueTypeLong.
func ValueTypeFromKeyword(k Keyword) (ValueType, error) {
	if k.Namespace() != "db.type" {
		return "", fmt.Errorf("not a value type: %s", k)
	}
	t := ValueType(k.Name())
	if !t.Valid() {
		return "", fmt.Errorf("unknown value type: %s", k)
	}
	return t, nil
}

// Cardinality says how many values an attribute may hold per entity.
type Cardinality string

// Cardinalities.
const (
	CardinalityOne  Cardinality = "one"
	CardinalityMany Cardinality = "many"
)

// Valid reports whether c is one or many.
func (c Cardinality) Valid() bool {
	return c == CardinalityOne || c == CardinalityMany
}

// Keyword returns the enum ident for c, e.g. ":db.cardinality/many".
func (c Cardinality) Keyword() Keyword {
	return NewKeyword("db.cardinality", string(c))
}

// CardinalityFromKeyword maps ":db.cardinality/one" back to CardinalityOne.
func CardinalityFromKeyword(k Keyword) (Cardinality, error) {
	c := Cardinality(k.Name())
	if k.Namespace() != "db.cardinality" || !c.Valid() {
		return "", fmt.Errorf("not a cardinality: %s", k)
	}
	return c, nil
}

// Unique is the uniqueness constraint on an attribute's values.
// The zero value means no constraint.
type Unique string

// Uniqueness constraints.
const (
	UniqueNone     Unique = ""
	UniqueValue    Unique = "value"
	UniqueIdentity Unique = "identity"
)

// Valid reports whether u is a known constraint.
func (u Unique) Valid() bool {
	return u == UniqueNone || u == UniqueValue || u == UniqueIdentity
}

// Keyword returns the enum ident for u. UniqueNone has no ident.
func (u Unique) Keyword() Keyword {
	if u == UniqueNone {
		return ""
	}
	return NewKeyword("db.unique", string(u))
}

// UniqueFromKeyword maps ":db.unique/identity" back to UniqueIdentity.
func UniqueFromKeyword(k Keyword) (Unique, error) {
	u := Unique(k.Name())
	if k.Namespace() != "db.unique" || u == UniqueNone || !u.Valid() {
		return "", fmt.Errorf("not a uniqueness constraint: %s", k)
	}
	return u, nil
}

// String renders UniqueNone as "none".
func (u Unique) String() string {
	if u == UniqueNone {
		return "none"
	}
	return string(u)
}

// Definition declares one attribute's schema independently of any store.
//
// Definitions are immutable comparable values: two Definitions are the same
// attribute schema iff every field matches (use == or Equal).
type Definition struct {
	Name        Keyword     `json:"name" yaml:"name"`
	ValueType   ValueType   `json:"value_type" yaml:"type"`
	Cardinality Cardinality `json:"cardinality" yaml:"cardinality"`
	Unique      Unique      `json:"unique,omitempty" yaml:"unique,omitempty"`
	Index       bool        `json:"index,omitempty" yaml:"index,omitempty"`
	Fulltext    bool        `json:"fulltext,omitempty" yaml:"fulltext,omitempty"`
	Component   bool        `json:"component,omitempty" yaml:"component,omitempty"`
	NoHistory   bool        `json:"no_history,omitempty" yaml:"no_history,omitempty"`
}

// NewDefinition starts a cardinality-one Definition with no flags set.
//
// The remaining fields are set with the chaining helpers:
//
//	ir.NewDefinition(":person/email", ir.ValueTypeString).Unique(ir.UniqueIdentity).Indexed()
func NewDefinition(name Keyword, valueType ValueType) Definition {
	return Definition{
		Name:        name,
		ValueType:   valueType,
		Cardinality: CardinalityOne,
	}
}

// Many returns a copy of d with cardinality many.
func (d Definition) Many() Definition {
	d.Cardinality = CardinalityMany
	return d
}

// One returns a copy of d with cardinality one.
func (d Definition) One() Definition {
	d.Cardinality = CardinalityOne
	return d
}

// WithUnique returns a copy of d with the given uniqueness constraint.
func (d Definition) WithUnique(u Unique) Definition {
	d.Unique = u
	return d
}

// Indexed returns a copy of d with the index flag set.
func (d Definition) Indexed() Definition {
	d.Index = true
	return d
}

// FullText returns a copy of d with the fulltext flag set.
func (d Definition) FullText() Definition {
	d.Fulltext = true
	return d
}

// AsComponent returns a copy of d with the component flag set.
func (d Definition) AsComponent() Definition {
	d.Component = true
	return d
}

// WithoutHistory returns a copy of d with the no-history flag set.
func (d Definition) WithoutHistory() Definition {
	d.NoHistory = true
	return d
}

// Equal reports structural equality.
func (d Definition) Equal(other Definition) bool {
	return d == other
}

// Validate checks that every field holds a supported value and that the
// flags are consistent with the value type.
func (d Definition) Validate() error {
	if err := d.Name.Validate(); err != nil {
		return fmt.Errorf("definition: %w", err)
	}
	if !d.ValueType.Valid() {
		return fmt.Errorf("definition %s: unknown value type %q", d.Name, d.ValueType)
	}
	if !d.Cardinality.Valid() {
		return fmt.Errorf("definition %s: unknown cardinality %q", d.Name, d.Cardinality)
	}
	if !d.Unique.Valid() {
		return fmt.Errorf("definition %s: unknown unique %q", d.Name, d.Unique)
	}
	if d.Fulltext && d.ValueType != ValueTypeString {
		return fmt.Errorf("definition %s: fulltext requires value type string", d.Name)
	}
	if d.Component && d.ValueType != ValueTypeRef {
		return fmt.Errorf("definition %s: component requires value type ref", d.Name)
	}
	return nil
}

// Vocabulary is a named, versioned set of attribute Definitions as observed
// in one store. It is produced only by reading a store.
type Vocabulary struct {
	Name    Keyword `json:"name"`
	Entid   Entid   `json:"entid"`
	Version Version `json:"version"`

	// Attributes are ordered by installation; names are unique.
	Attributes []Definition `json:"attributes"`
}

// Attribute returns the observed definition for name.
func (v *Vocabulary) Attribute(name Keyword) (Definition, bool) {
	if v == nil {
		return Definition{}, false
	}
	for _, d := range v.Attributes {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}

// Vocabularies is a snapshot of every vocabulary present in a store.
type Vocabularies struct {
	// ByName holds one entry per distinct vocabulary name.
	ByName map[Keyword]Vocabulary `json:"vocabularies"`

	// Attributes holds every installed attribute, including attributes that
	// belong to no vocabulary.
	Attributes map[Keyword]Definition `json:"attributes"`

	// Owners maps an attribute name to the vocabulary that declares it.
	Owners map[Keyword]Keyword `json:"owners"`
}

// NewVocabularies returns an empty snapshot.
func NewVocabularies() Vocabularies {
	return Vocabularies{
		ByName:     make(map[Keyword]Vocabulary),
		Attributes: make(map[Keyword]Definition),
		Owners:     make(map[Keyword]Keyword),
	}
}

// Get returns the vocabulary called name, or nil if it is absent.
// The returned vocabulary is a copy, including its Attributes.
func (vs Vocabularies) Get(name Keyword) *Vocabulary {
	v, ok := vs.ByName[name]
	if !ok {
		return nil
	}
	v.Attributes = slices.Clone(v.Attributes)
	return &v
}

// Clone returns a deep copy that shares no maps or slices with vs.
func (vs Vocabularies) Clone() Vocabularies {
	out := Vocabularies{
		ByName:     make(map[Keyword]Vocabulary, len(vs.ByName)),
		Attributes: maps.Clone(vs.Attributes),
		Owners:     maps.Clone(vs.Owners),
	}
	for name, v := range vs.ByName {
		v.Attributes = slices.Clone(v.Attributes)
		out.ByName[name] = v
	}
	if out.Attributes == nil {
		out.Attributes = make(map[Keyword]Definition)
	}
	if out.Owners == nil {
		out.Owners = make(map[Keyword]Keyword)
	}
	return out
}

// Len returns the number of vocabularies.
func (vs Vocabularies) Len() int {
	return len(vs.ByName)
}

// Names returns vocabulary names in sorted order.
func (vs Vocabularies) Names() []Keyword {
	names := make([]Keyword, 0, len(vs.ByName))
	for name := range vs.ByName {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// OwnerOf returns the vocabulary that declares attr, if any.
func (vs Vocabularies) OwnerOf(attr Keyword) (Keyword, bool) {
	owner, ok := vs.Owners[attr]
	return owner, ok
}
