package ir

import "time"

// Op is the operation a Fact asks the store to perform.
type Op int

const (
	// OpAdd asserts a value. For cardinality-one attributes the previous
	// value, if any, is retracted.
	OpAdd Op = iota

	// OpRetract retracts a value. Retracting an absent value is a no-op.
	OpRetract

	// OpCAS asserts a value only if the current value equals Fact.Old
	// (absence when Old is nil). The whole transaction fails otherwise.
	OpCAS
)

// String returns the op's transaction keyword.
func (o Op) String() string {
	switch o {
	case OpAdd:
		return ":db/add"
	case OpRetract:
		return ":db/retract"
	case OpCAS:
		return ":db/cas"
	default:
		return "unknown"
	}
}

// Fact is one entry of a transaction: [op entity attribute value].
type Fact struct {
	Op        Op
	Entity    EntityRef
	Attribute Keyword
	Value     Value

	// Old is the expected current value for OpCAS; nil expects no value.
	Old Value
}

// Add builds an assertion.
func Add(e EntityRef, a Keyword, v Value) Fact {
	return Fact{Op: OpAdd, Entity: e, Attribute: a, Value: v}
}

// Retract builds a retraction.
func Retract(e EntityRef, a Keyword, v Value) Fact {
	return Fact{Op: OpRetract, Entity: e, Attribute: a, Value: v}
}

// CAS builds a compare-and-swap. Pass a nil old to require that the
// attribute currently has no value on e.
func CAS(e EntityRef, a Keyword, old, v Value) Fact {
	return Fact{Op: OpCAS, Entity: e, Attribute: a, Old: old, Value: v}
}

// Datom is one committed fact: (entity, attribute, value, transaction).
type Datom struct {
	E     Entid   `json:"e"`
	A     Keyword `json:"a"`
	V     Value   `json:"v"`
	Tx    Entid   `json:"tx"`
	Added bool    `json:"added"`
}

// TxReport describes a committed transaction.
type TxReport struct {
	TxID    Entid
	UUID    string
	Instant time.Time

	// TempIDs maps each TempID used in the transaction to its new entity.
	TempIDs map[TempID]Entid

	// Datoms lists the changes the transaction made, in application order.
	Datoms []Datom
}

// Resolve returns the entity allocated for id.
func (r TxReport) Resolve(id TempID) (Entid, bool) {
	e, ok := r.TempIDs[id]
	return e, ok
}

// TxRecord is one entry of the transaction log.
type TxRecord struct {
	TxID    Entid     `json:"tx"`
	UUID    string    `json:"uuid"`
	Instant time.Time `json:"instant"`
	Datoms  []Datom   `json:"datoms"`
}
