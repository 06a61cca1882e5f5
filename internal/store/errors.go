package store

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/qpdb/mentat/internal/ir"
)

// Sentinel errors returned (wrapped) by Transact.
var (
	// ErrUnknownAttribute means a fact names an attribute that is not installed.
	ErrUnknownAttribute = errors.New("unknown attribute")

	// ErrUnknownIdent means an entity or ref value names an ident that does not exist.
	ErrUnknownIdent = errors.New("unknown ident")

	// ErrValueType means a value does not match its attribute's value type.
	ErrValueType = errors.New("value does not match attribute type")

	// ErrSchemaAlteration means a transaction would leave an attribute in an
	// invalid state or alter the core schema.
	ErrSchemaAlteration = errors.New("invalid schema alteration")
)

// ConflictKind says why a transaction lost against concurrent state.
type ConflictKind string

const (
	// ConflictUnique is a collision on a unique attribute.
	ConflictUnique ConflictKind = "unique"

	// ConflictCAS is a :db/cas whose expected value did not match.
	ConflictCAS ConflictKind = "cas"

	// ConflictBusy is SQLite refusing the write because another writer holds the lock.
	ConflictBusy ConflictKind = "busy"
)

// ConflictError reports a transaction rejected because the committed state
// differs from what the transaction assumed. Conflict says whether retrying
// against a fresh read may succeed.
type ConflictError struct {
	Kind      ConflictKind
	Entity    ir.Entid
	Attribute ir.Keyword

	// Expected is the value a :db/cas assumed (nil for absence).
	Expected ir.Value

	// Actual is the value found in the store (nil for absence).
	Actual ir.Value

	Err error
}

func (e *ConflictError) Error() string {
	switch e.Kind {
	case ConflictCAS:
		return fmt.Sprintf("conflict: cas on entity %d %s: expected %s, found %s",
			e.Entity, e.Attribute, ir.FormatValue(e.Expected), ir.FormatValue(e.Actual))
	case ConflictUnique:
		return fmt.Sprintf("conflict: unique %s value %s already held by entity %d",
			e.Attribute, ir.FormatValue(e.Actual), e.Entity)
	default:
		return fmt.Sprintf("conflict: %s: %v", e.Kind, e.Err)
	}
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// Conflict reports whether another writer won: a failed :db/cas, a busy
// database, or a unique collision on an ident or vocabulary membership.
// A unique collision on other data fails the same way on every retry.
func (e *ConflictError) Conflict() bool {
	switch e.Kind {
	case ConflictCAS, ConflictBusy:
		return true
	case ConflictUnique:
		return e.Attribute == ir.DBIdent || e.Attribute == ir.DBSchemaAttribute
	default:
		return false
	}
}

// CoreSchemaError reports a store whose core vocabulary is missing or at an
// unexpected version.
type CoreSchemaError struct {
	Wanted  ir.Version
	Got     ir.Version
	Present bool
}

func (e *CoreSchemaError) Error() string {
	if !e.Present {
		return fmt.Sprintf("core schema: expected version %d, found none", e.Wanted)
	}
	return fmt.Sprintf("core schema: expected version %d, found %d", e.Wanted, e.Got)
}

// mapSQLiteError turns lock contention into a ConflictError and passes
// everything else through.
func mapSQLiteError(err error) error {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		if sqlErr.Code == sqlite3.ErrBusy || sqlErr.Code == sqlite3.ErrLocked {
			return &ConflictError{Kind: ConflictBusy, Err: err}
		}
	}
	return err
}
