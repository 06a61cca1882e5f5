package vocabulary

import (
	"errors"
	"fmt"
	"slices"

	"github.com/qpdb/mentat/internal/ir"
)

// OutcomeKind is the terminal result for one vocabulary.
type OutcomeKind int

const (
	// OutcomeUnchanged means the store already held the wanted vocabulary.
	OutcomeUnchanged OutcomeKind = iota

	// OutcomeInstalled means the vocabulary was absent and is now committed.
	OutcomeInstalled

	// OutcomeUpgraded means the vocabulary moved from Outcome.From to Outcome.To.
	OutcomeUpgraded

	// OutcomeIncompatible means the vocabulary was excluded from the commit
	// because its changes were rejected or unacknowledged.
	OutcomeIncompatible

	// OutcomeError means the vocabulary failed; Outcome.Err says why.
	OutcomeError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeInstalled:
		return "installed"
	case OutcomeUpgraded:
		return "upgraded"
	case OutcomeIncompatible:
		return "incompatible"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// Outcome reports what happened to one vocabulary in one ensure call.
type Outcome struct {
	Name ir.Keyword
	Kind OutcomeKind

	// From is the observed version before the call (0 if absent).
	From ir.Version

	// To is the wanted version.
	To ir.Version

	// TxID is the commit that installed or upgraded the vocabulary.
	TxID ir.Entid

	// Changes lists the definition changes that were committed, or, for
	// OutcomeIncompatible, the destructive ones that blocked the commit.
	Changes []Change

	// Err is set for OutcomeIncompatible and OutcomeError.
	Err error

	// PostErr is set when a Post hook failed after the commit.
	PostErr error

	// Warning is set when several sources named this vocabulary.
	Warning string
}

// Retryable reports whether the vocabulary lost a race with a concurrent
// writer, so the same ensure call may succeed on retry.
func (o Outcome) Retryable() bool {
	return errors.Is(o.Err, ErrLostRace)
}

// Changed reports whether the call committed schema for this vocabulary.
func (o Outcome) Changed() bool {
	return o.Kind == OutcomeInstalled || o.Kind == OutcomeUpgraded
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeUnchanged:
		return fmt.Sprintf("%s unchanged at version %d", o.Name, o.To)
	case OutcomeInstalled:
		return fmt.Sprintf("%s installed at version %d", o.Name, o.To)
	case OutcomeUpgraded:
		return fmt.Sprintf("%s upgraded from version %d to %d", o.Name, o.From, o.To)
	default:
		return fmt.Sprintf("%s %s: %v", o.Name, o.Kind, o.Err)
	}
}

// Outcomes maps vocabulary name to its outcome.
type Outcomes map[ir.Keyword]Outcome

// Names returns vocabulary names in sorted order.
func (os Outcomes) Names() []ir.Keyword {
	names := make([]ir.Keyword, 0, len(os))
	for name := range os {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Err joins the errors of every failed outcome, or returns nil.
func (os Outcomes) Err() error {
	var errs []error
	for _, name := range os.Names() {
		if err := os[name].Err; err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
