package vocabulary

import (
	"errors"
	"fmt"

	"github.com/qpdb/mentat/internal/ir"
)

// Sentinel errors carried (wrapped) by Outcome.Err.
var (
	// ErrVersionRegression means the wanted version is older than the
	// observed one, or equal to it while definitions still need to change.
	ErrVersionRegression = errors.New("vocabulary version regression")

	// ErrInvalidVersion means a source asked for version 0.
	ErrInvalidVersion = errors.New("invalid vocabulary version")

	// ErrInvalidDefinition means a source's name or definitions are malformed.
	ErrInvalidDefinition = errors.New("invalid vocabulary definition")

	// ErrAttributeOwned means a wanted attribute already belongs to another vocabulary.
	ErrAttributeOwned = errors.New("attribute owned by another vocabulary")

	// ErrAborted means the source's Pre hook aborted the vocabulary.
	ErrAborted = errors.New("vocabulary aborted")

	// ErrLostRace means a concurrent writer committed first. Retrying the
	// ensure call against a fresh snapshot may succeed.
	ErrLostRace = errors.New("lost transaction race")

	// ErrIncompatible means a definition change would corrupt existing data
	// and was not acknowledged.
	ErrIncompatible = errors.New("incompatible vocabulary change")
)

// VocabularyError reports a wanted definition that conflicts with the one
// already committed under the same vocabulary and version.
type VocabularyError struct {
	Vocabulary ir.Keyword
	Version    ir.Version
	Attribute  ir.Keyword
	Wanted     ir.Definition
	Actual     ir.Definition

	// Err is the sentinel the conflict is reported under.
	Err error
}

func (e *VocabularyError) Error() string {
	return fmt.Sprintf("vocabulary %s/version %d already has attribute %s, and the requested definition differs",
		e.Vocabulary, e.Version, e.Attribute)
}

func (e *VocabularyError) Unwrap() error {
	return e.Err
}

// PostHookError wraps a failure returned by a source's Post hook. The schema
// transaction it follows stays committed.
type PostHookError struct {
	Vocabulary ir.Keyword
	Err        error
}

func (e *PostHookError) Error() string {
	return fmt.Sprintf("post hook for %s: %v", e.Vocabulary, e.Err)
}

func (e *PostHookError) Unwrap() error {
	return e.Err
}
