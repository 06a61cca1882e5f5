package ir

// Version constants for the store's own schema.
const (
	// CoreSchemaVersion is the version of the bootstrap vocabulary
	// (CoreVocabulary) that every store carries.
	CoreSchemaVersion Version = 1

	// EngineVersion is the mentat module version.
	EngineVersion = "0.1.0"
)

// Core schema idents. These attributes are installed at bootstrap and form
// the CoreVocabulary.
const (
	DBIdent       Keyword = ":db/ident"
	DBValueType   Keyword = ":db/valueType"
	DBCardinality Keyword = ":db/cardinality"
	DBUnique      Keyword = ":db/unique"
	DBIndex       Keyword = ":db/index"
	DBFulltext    Keyword = ":db/fulltext"
	DBIsComponent Keyword = ":db/isComponent"
	DBNoHistory   Keyword = ":db/noHistory"
	DBTxInstant   Keyword = ":db/txInstant"

	// DBSchemaVersion holds a vocabulary's version on the vocabulary entity.
	DBSchemaVersion Keyword = ":db.schema/version"

	// DBSchemaAttribute links a vocabulary entity to each attribute it declares.
	DBSchemaAttribute Keyword = ":db.schema/attribute"

	// CoreVocabulary names the bootstrap vocabulary.
	CoreVocabulary Keyword = ":db.schema/core"
)

// IsSchemaAttribute reports whether a names one of the attributes that
// describe an attribute's definition.
func IsSchemaAttribute(a Keyword) bool {
	switch a {
	case DBIdent, DBValueType, DBCardinality, DBUnique, DBIndex, DBFulltext, DBIsComponent, DBNoHistory:
		return true
	}
	return false
}
