package vocabulary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/qpdb/mentat/internal/ir"
)

// HasVocabularies reads a consistent snapshot of a store's vocabularies.
type HasVocabularies interface {
	ReadVocabularies(ctx context.Context) (ir.Vocabularies, error)
}

// Transactor commits facts atomically.
type Transactor interface {
	Transact(ctx context.Context, facts []ir.Fact) (ir.TxReport, error)
}

// Store is what the Manager needs from a store.
type Store interface {
	HasVocabularies
	Transactor
}

// DataInspector answers the data questions behind data-dependent changes.
// Stores that do not implement it get the conservative answer: every
// data-dependent change is treated as destructive.
type DataInspector interface {
	HasMultipleValues(ctx context.Context, attr ir.Keyword) (bool, error)
	HasDuplicateValues(ctx context.Context, attr ir.Keyword) (bool, error)
}

// VersionedStore ensures vocabularies against a store.
type VersionedStore interface {
	HasVocabularies
	EnsureVocabularies(ctx context.Context, sources ...Source) (Outcomes, error)
}

var _ VersionedStore = (*Manager)(nil)

// conflicter is implemented by store errors that mean "another writer won".
type conflicter interface {
	Conflict() bool
}

// Manager runs ensure calls against one store. It keeps no state between
// calls; concurrent calls are serialized only by the store's commits.
type Manager struct {
	store     Store
	inspector DataInspector
	logger    *slog.Logger
	metrics   *Metrics
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithMetrics records ensure metrics. Defaults to none.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithDataInspector overrides the inspector used for data-dependent
// changes. By default the store is used if it implements DataInspector.
// Passing nil disables inspection.
func WithDataInspector(di DataInspector) Option {
	return func(m *Manager) {
		m.inspector = di
	}
}

// NewManager creates a Manager for store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		logger: slog.Default(),
	}
	if di, ok := store.(DataInspector); ok {
		m.inspector = di
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ReadVocabularies delegates to the store.
func (m *Manager) ReadVocabularies(ctx context.Context) (ir.Vocabularies, error) {
	return m.store.ReadVocabularies(ctx)
}

// EnsureVocabularies reconciles every source against one snapshot of the
// store and commits all proceeding vocabularies in a single transaction.
//
// Per-vocabulary problems are reported in the returned Outcomes. The call
// itself fails only when the store read fails, the data inspection fails,
// or the commit fails for a reason other than a lost race.
//
// When several sources share a name, the last one is reconciled. Earlier
// ones skip Pre, receive the final outcome with Warning set, and still get
// their own Post call.
func (m *Manager) EnsureVocabularies(ctx context.Context, sources ...Source) (Outcomes, error) {
	start := time.Now()
	defer m.metrics.observeEnsure(start)

	m.logger.Debug("ensure vocabularies", "sources", len(sources))

	snapshot, err := m.store.ReadVocabularies(ctx)
	if err != nil {
		return nil, fmt.Errorf("ensure vocabularies: read: %w", err)
	}

	last := make(map[ir.Keyword]int, len(sources))
	count := make(map[ir.Keyword]int, len(sources))
	for i, src := range sources {
		last[src.Name()] = i
		count[src.Name()]++
	}

	b := newBatch()
	plans := make([]*plan, len(sources))
	for i, src := range sources {
		if last[src.Name()] != i {
			continue
		}
		p, err := m.plan(ctx, src, snapshot, b)
		if err != nil {
			return nil, fmt.Errorf("ensure vocabularies: %s: %w", src.Name(), err)
		}
		plans[i] = p
	}

	if err := m.commit(ctx, plans); err != nil {
		return nil, fmt.Errorf("ensure vocabularies: commit: %w", err)
	}

	outcomes := make(Outcomes, len(last))
	for i, src := range sources {
		name := src.Name()
		p := plans[last[name]]
		outcome := p.outcome
		if count[name] > 1 {
			outcome.Warning = fmt.Sprintf("vocabulary %s requested by %d sources; the last one was used", name, count[name])
		}

		if err := src.Post(ctx, m.store, outcome); err != nil {
			postErr := &PostHookError{Vocabulary: name, Err: err}
			m.logger.Warn("post hook failed", "vocabulary", name, "error", err)
			p.postErrs = append(p.postErrs, postErr)
		}

		if last[name] == i {
			outcome.PostErr = errors.Join(p.postErrs...)
			outcomes[name] = outcome
		}
	}

	for _, name := range outcomes.Names() {
		o := outcomes[name]
		m.metrics.observeOutcome(o.Kind)
		m.logger.Info("vocabulary outcome",
			"vocabulary", name,
			"outcome", o.Kind.String(),
			"from", o.From,
			"to", o.To,
			"error", o.Err)
	}

	return outcomes, nil
}

// commit transacts the facts of every proceeding plan together. A lost race
// marks every proceeding plan as a retryable error and is not a call failure.
func (m *Manager) commit(ctx context.Context, plans []*plan) error {
	var facts []ir.Fact
	for _, p := range plans {
		if p != nil && p.proceeding {
			facts = append(facts, p.facts...)
		}
	}
	if len(facts) == 0 {
		m.metrics.observeCommit(commitSkipped)
		return nil
	}

	report, err := m.store.Transact(ctx, facts)
	if err != nil {
		var c conflicter
		if errors.As(err, &c) && c.Conflict() {
			m.metrics.observeCommit(commitLostRace)
			m.logger.Warn("vocabulary commit lost race", "error", err)
			for _, p := range plans {
				if p != nil && p.proceeding {
					p.fail(fmt.Errorf("%w: %w", ErrLostRace, err))
				}
			}
			return nil
		}
		m.metrics.observeCommit(commitError)
		return err
	}

	m.metrics.observeCommit(commitOK)
	m.logger.Info("vocabularies committed", "tx", int64(report.TxID), "facts", len(facts))
	for _, p := range plans {
		if p != nil && p.proceeding {
			p.outcome.TxID = report.TxID
		}
	}
	return nil
}
