package ir

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Value is a sealed interface over the values a datom can hold.
// Only the types in this package implement it.
type Value interface {
	value() // Sealed
}

// EntityRef is a sealed interface over the ways a fact names its entity:
// a known Entid, an ident Keyword, or a TempID allocated by the transaction.
type EntityRef interface {
	entityRef() // Sealed
}

// TempID names a new entity within one transaction. The same TempID used in
// several facts of one transaction resolves to the same new entity.
type TempID string

func (TempID) entityRef() {}
func (TempID) value()     {}

// Long is a 64-bit integer value.
type Long int64

func (Long) value() {}

// Bool is a boolean value.
type Bool bool

func (Bool) value() {}

// String is a string value.
type String string

func (String) value() {}

// Double is a 64-bit float value. Doubles never take part in content hashing.
type Double float64

func (Double) value() {}

// Instant is a point in time with microsecond precision.
type Instant int64

func (Instant) value() {}

// NewInstant converts t to microseconds since the Unix epoch.
func NewInstant(t time.Time) Instant {
	return Instant(t.UnixMicro())
}

// Time converts i back to a UTC time.Time.
func (i Instant) Time() time.Time {
	return time.UnixMicro(int64(i)).UTC()
}

// UUID is a UUID value.
type UUID uuid.UUID

func (UUID) value() {}

// String renders u in canonical hyphenated form.
func (u UUID) String() string {
	return uuid.UUID(u).String()
}

// FormatValue renders v for logs and CLI output.
func FormatValue(v Value) string {
	switch val := v.(type) {
	case nil:
		return "nil"
	case Entid:
		return fmt.Sprintf("%d", int64(val))
	case Keyword:
		return string(val)
	case TempID:
		return fmt.Sprintf("tempid(%s)", string(val))
	case Long:
		return fmt.Sprintf("%d", int64(val))
	case Bool:
		return fmt.Sprintf("%t", bool(val))
	case String:
		return fmt.Sprintf("%q", string(val))
	case Double:
		return fmt.Sprintf("%g", float64(val))
	case Instant:
		return val.Time().Format(time.RFC3339Nano)
	case UUID:
		return val.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ValueOf converts a plain Go value into a Value.
// Used by the scenario harness, whose YAML decodes into untyped values.
func ValueOf(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("nil is not a value")
	case Value:
		return val, nil
	case string:
		if len(val) > 1 && val[0] == ':' {
			return Keyword(val), nil
		}
		return String(val), nil
	case int:
		return Long(val), nil
	case int64:
		return Long(val), nil
	case bool:
		return Bool(val), nil
	case float64:
		return Double(val), nil
	case time.Time:
		return NewInstant(val), nil
	default:
		return nil, fmt.Errorf("unsupported value type: %T", v)
	}
}
