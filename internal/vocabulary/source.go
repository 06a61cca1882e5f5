package vocabulary

import (
	"context"
	"fmt"
	"strings"

	"github.com/qpdb/mentat/internal/ir"
)

// Source supplies a wanted vocabulary and the policy hooks run around its
// reconciliation.
type Source interface {
	Name() ir.Keyword
	Version() ir.Version
	Definitions() []ir.Definition

	// Pre decides whether and how the vocabulary proceeds, given the status
	// computed from the shared snapshot.
	Pre(ctx context.Context, status *Status) Decision

	// Post runs after the commit with the final outcome. tx may be used for
	// follow-up writes such as backfills; those run in their own
	// transactions. A returned error is reported in Outcome.PostErr.
	Post(ctx context.Context, tx Transactor, outcome Outcome) error
}

// DecisionKind is the verdict of a Pre hook.
type DecisionKind int

const (
	// DecisionProceed installs or upgrades the vocabulary.
	DecisionProceed DecisionKind = iota

	// DecisionReject reports the vocabulary as incompatible.
	DecisionReject

	// DecisionAbort reports the vocabulary as an error.
	DecisionAbort
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionProceed:
		return "proceed"
	case DecisionReject:
		return "reject"
	case DecisionAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// Decision is returned by Source.Pre.
type Decision struct {
	Kind   DecisionKind
	Reason string

	// Facts are appended to the vocabulary's schema facts in the commit.
	Facts []ir.Fact

	acknowledged   map[ir.Keyword]bool
	acknowledgeAll bool
}

// Proceed continues with the vocabulary, committing facts alongside its
// schema changes.
func Proceed(facts ...ir.Fact) Decision {
	return Decision{Kind: DecisionProceed, Facts: facts}
}

// Reject stops the vocabulary with an incompatible outcome.
func Reject(reason string) Decision {
	return Decision{Kind: DecisionReject, Reason: reason}
}

// Abort stops the vocabulary with an error outcome wrapping ErrAborted.
func Abort(reason string) Decision {
	return Decision{Kind: DecisionAbort, Reason: reason}
}

// Acknowledge returns a copy of d that accepts destructive changes to the
// named attributes.
func (d Decision) Acknowledge(attrs ...ir.Keyword) Decision {
	ack := make(map[ir.Keyword]bool, len(d.acknowledged)+len(attrs))
	for k := range d.acknowledged {
		ack[k] = true
	}
	for _, a := range attrs {
		ack[a] = true
	}
	d.acknowledged = ack
	return d
}

// AcknowledgeAll returns a copy of d that accepts every destructive change.
func (d Decision) AcknowledgeAll() Decision {
	d.acknowledgeAll = true
	return d
}

// Acknowledged reports whether a destructive change to attr is accepted.
func (d Decision) Acknowledged(attr ir.Keyword) bool {
	return d.acknowledgeAll || d.acknowledged[attr]
}

// PreFunc is the function form of Source.Pre.
type PreFunc func(ctx context.Context, status *Status) Decision

// PostFunc is the function form of Source.Post.
type PostFunc func(ctx context.Context, tx Transactor, outcome Outcome) error

// SimpleSource is a Source with a fixed name, version and definitions.
//
// Without options it never migrates: Pre rejects any definition that
// differs from the store, and Post does nothing.
type SimpleSource struct {
	name        ir.Keyword
	version     ir.Version
	definitions []ir.Definition
	pre         PreFunc
	post        PostFunc
}

// SourceOption configures a SimpleSource.
type SourceOption func(*SimpleSource)

// WithPre replaces the default Pre hook.
func WithPre(fn PreFunc) SourceOption {
	return func(s *SimpleSource) {
		s.pre = fn
	}
}

// WithPost replaces the default no-op Post hook.
func WithPost(fn PostFunc) SourceOption {
	return func(s *SimpleSource) {
		s.post = fn
	}
}

// NewSimpleSource creates a source for name at version with defs in order.
func NewSimpleSource(name ir.Keyword, version ir.Version, defs []ir.Definition, opts ...SourceOption) *SimpleSource {
	s := &SimpleSource{
		name:        name,
		version:     version,
		definitions: append([]ir.Definition(nil), defs...),
		pre:         DefaultPre,
		post:        func(context.Context, Transactor, Outcome) error { return nil },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the vocabulary name.
func (s *SimpleSource) Name() ir.Keyword { return s.name }

// Version returns the wanted version.
func (s *SimpleSource) Version() ir.Version { return s.version }

// Definitions returns a copy of the wanted definitions in order.
func (s *SimpleSource) Definitions() []ir.Definition {
	return append([]ir.Definition(nil), s.definitions...)
}

// Pre runs the WithPre hook, or DefaultPre when none was given.
func (s *SimpleSource) Pre(ctx context.Context, status *Status) Decision {
	return s.pre(ctx, status)
}

// Post runs the WithPost hook, or does nothing when none was given.
func (s *SimpleSource) Post(ctx context.Context, tx Transactor, outcome Outcome) error {
	return s.post(ctx, tx, outcome)
}

// DefaultPre rejects when any wanted definition differs from the store and
// proceeds otherwise.
func DefaultPre(_ context.Context, status *Status) Decision {
	diffs := status.Differences()
	if len(diffs) == 0 {
		return Proceed()
	}
	names := make([]string, len(diffs))
	for i, d := range diffs {
		names[i] = string(d)
	}
	return Reject(fmt.Sprintf("definitions differ for %s", strings.Join(names, ", ")))
}
