package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/qpdb/mentat/internal/ir"
	"github.com/qpdb/mentat/internal/store"
	"github.com/qpdb/mentat/internal/testutil"
	"github.com/qpdb/mentat/internal/vocabulary"
)

// Harness is the test execution engine.
// It runs scenarios against a fresh store with a deterministic clock and
// transaction UUIDs.
type Harness struct {
	store   *store.Store
	manager *vocabulary.Manager
	logger  *slog.Logger

	// tempids maps scenario tempid names to the entities they resolved to.
	tempids map[string]ir.Entid

	seq int64
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Create fresh in-memory database
// 2. Execute setup steps
// 3. Execute flow steps with expect validation
// 4. Evaluate assertions
// 5. Return result with pass/fail, trace, and errors
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	st, err := store.Open(":memory:",
		store.WithClock(testutil.NewDeterministicClock()),
		store.WithTxIDGenerator(testutil.NewFixedIDGenerator("")),
		store.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:   st,
		manager: vocabulary.NewManager(st, vocabulary.WithLogger(logger)),
		logger:  logger,
		tempids: make(map[string]ir.Entid),
	}

	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	result := NewResult()
	h.executeFlow(ctx, scenario.Flow, result)

	actx := &AssertionContext{
		Store:   st,
		Ctx:     ctx,
		TempIDs: h.tempids,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// executeSetup runs all setup steps. Any failure aborts the scenario.
func (h *Harness) executeSetup(ctx context.Context, setup []SetupStep) error {
	for i, step := range setup {
		if len(step.Facts) > 0 {
			if _, err := h.transact(ctx, h.store, step.Facts); err != nil {
				return fmt.Errorf("setup step %d: %w", i, err)
			}
			continue
		}

		sources, err := h.sources(step.Ensure)
		if err != nil {
			return fmt.Errorf("setup step %d: %w", i, err)
		}
		outcomes, err := h.manager.EnsureVocabularies(ctx, sources...)
		if err != nil {
			return fmt.Errorf("setup step %d: %w", i, err)
		}
		for _, name := range outcomes.Names() {
			o := outcomes[name]
			if o.Kind != vocabulary.OutcomeInstalled && o.Kind != vocabulary.OutcomeUnchanged {
				return fmt.Errorf("setup step %d: %s", i, o)
			}
		}

		h.logger.Info("setup step completed", "step", i, "vocabularies", len(outcomes))
	}
	return nil
}

// executeFlow runs all flow steps and validates expect clauses.
//
// Step errors the scenario expects (expect_error) do not stop the flow.
// Unexpected step errors fail the result.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) {
	for i, step := range flow {
		var stepErr error
		if len(step.Transact) > 0 {
			stepErr = h.executeTransact(ctx, i, step, result)
		} else {
			stepErr = h.executeEnsure(ctx, i, step, result)
		}

		switch {
		case stepErr == nil && step.ExpectError != "":
			result.AddError(fmt.Sprintf("flow[%d]: expected error containing %q, step succeeded", i, step.ExpectError))
		case stepErr != nil && step.ExpectError == "":
			result.AddError(fmt.Sprintf("flow[%d]: unexpected error: %v", i, stepErr))
		case stepErr != nil && !strings.Contains(stepErr.Error(), step.ExpectError):
			result.AddError(fmt.Sprintf("flow[%d]: expected error containing %q, got: %v", i, step.ExpectError, stepErr))
		}

		h.logger.Info("flow step completed", "step", i, "error", stepErr)
	}
}

func (h *Harness) executeTransact(ctx context.Context, i int, step FlowStep, result *Result) error {
	report, err := h.transact(ctx, h.store, step.Transact)
	if err != nil {
		return err
	}
	result.AddTransactTrace(i, len(report.Datoms), h.nextSeq())
	return nil
}

// executeEnsure runs one ensure call and checks its outcomes.
func (h *Harness) executeEnsure(ctx context.Context, i int, step FlowStep, result *Result) error {
	sources, err := h.sources(step.Ensure)
	if err != nil {
		return err
	}

	outcomes, err := h.manager.EnsureVocabularies(ctx, sources...)
	if err != nil {
		return err
	}

	for _, name := range outcomes.Names() {
		o := outcomes[name]
		result.AddOutcomeTrace(i, TraceEvent{
			Vocabulary: string(name),
			Outcome:    o.Kind.String(),
			From:       uint32(o.From),
			To:         uint32(o.To),
			Error:      errorCode(o.Err),
			Warning:    o.Warning != "",
			PostError:  o.PostErr != nil,
		}, h.nextSeq())
	}

	for name, expect := range step.Expect {
		o, ok := outcomes[ir.Keyword(name)]
		if !ok {
			result.AddError(fmt.Sprintf("flow[%d]: no outcome for %s", i, name))
			continue
		}
		for _, msg := range compareOutcome(expect, o) {
			result.AddError(fmt.Sprintf("flow[%d]: %s: %s", i, name, msg))
		}
	}
	return nil
}

func (h *Harness) nextSeq() int64 {
	h.seq++
	return h.seq
}

// compareOutcome lists every way o differs from expect.
func compareOutcome(expect ExpectClause, o vocabulary.Outcome) []string {
	var diffs []string
	if got := o.Kind.String(); got != expect.Outcome {
		diffs = append(diffs, fmt.Sprintf("outcome: expected %s, got %s (%v)", expect.Outcome, got, o.Err))
	}
	if got := errorCode(o.Err); got != expect.Error {
		diffs = append(diffs, fmt.Sprintf("error: expected %q, got %q", expect.Error, got))
	}
	if expect.From != nil && *expect.From != uint32(o.From) {
		diffs = append(diffs, fmt.Sprintf("from: expected %d, got %d", *expect.From, o.From))
	}
	if expect.To != nil && *expect.To != uint32(o.To) {
		diffs = append(diffs, fmt.Sprintf("to: expected %d, got %d", *expect.To, o.To))
	}
	if expect.Retryable != o.Retryable() {
		diffs = append(diffs, fmt.Sprintf("retryable: expected %t, got %t", expect.Retryable, o.Retryable()))
	}
	if expect.Warning != (o.Warning != "") {
		diffs = append(diffs, fmt.Sprintf("warning: expected %t, got %q", expect.Warning, o.Warning))
	}
	if expect.PostError != (o.PostErr != nil) {
		diffs = append(diffs, fmt.Sprintf("post_error: expected %t, got %v", expect.PostError, o.PostErr))
	}
	return diffs
}

// errorCode names the sentinel an outcome error wraps.
func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, vocabulary.ErrLostRace):
		return "lost_race"
	case errors.Is(err, vocabulary.ErrVersionRegression):
		return "version_regression"
	case errors.Is(err, vocabulary.ErrInvalidVersion):
		return "invalid_version"
	case errors.Is(err, vocabulary.ErrInvalidDefinition):
		return "invalid_definition"
	case errors.Is(err, vocabulary.ErrAttributeOwned):
		return "attribute_owned"
	case errors.Is(err, vocabulary.ErrAborted):
		return "aborted"
	case errors.Is(err, vocabulary.ErrIncompatible):
		return "incompatible"
	default:
		return "error"
	}
}

// transact converts facts and commits them through tx, remembering every
// tempid the transaction resolved.
func (h *Harness) transact(ctx context.Context, tx vocabulary.Transactor, specs []FactSpec) (ir.TxReport, error) {
	facts, err := h.facts(specs)
	if err != nil {
		return ir.TxReport{}, err
	}
	report, err := tx.Transact(ctx, facts)
	if err != nil {
		return ir.TxReport{}, err
	}
	h.remember(report)
	return report, nil
}

func (h *Harness) remember(report ir.TxReport) {
	for t, e := range report.TempIDs {
		h.tempids[string(t)] = e
	}
}

// sources builds one SimpleSource per spec.
func (h *Harness) sources(specs []SourceSpec) ([]vocabulary.Source, error) {
	out := make([]vocabulary.Source, 0, len(specs))
	for i, spec := range specs {
		src, err := h.source(spec)
		if err != nil {
			return nil, fmt.Errorf("ensure[%d]: %w", i, err)
		}
		out = append(out, src)
	}
	return out, nil
}

func (h *Harness) source(spec SourceSpec) (vocabulary.Source, error) {
	facts, err := h.facts(spec.Facts)
	if err != nil {
		return nil, fmt.Errorf("facts: %w", err)
	}

	defs := make([]ir.Definition, len(spec.Attributes))
	for i, d := range spec.Attributes {
		defs[i] = normalizeDefinition(d)
	}

	acks := make([]ir.Keyword, len(spec.Acknowledge))
	for i, a := range spec.Acknowledge {
		acks[i] = ir.Keyword(a)
	}

	pre := func(ctx context.Context, status *vocabulary.Status) vocabulary.Decision {
		var d vocabulary.Decision
		switch spec.Decision {
		case DecisionProceed:
			d = vocabulary.Proceed()
		case DecisionReject:
			return vocabulary.Reject(spec.Reason)
		case DecisionAbort:
			return vocabulary.Abort(spec.Reason)
		default:
			d = vocabulary.DefaultPre(ctx, status)
		}
		if d.Kind != vocabulary.DecisionProceed {
			return d
		}
		d.Facts = facts
		d = d.Acknowledge(acks...)
		if spec.AcknowledgeAll {
			d = d.AcknowledgeAll()
		}
		return d
	}

	post := func(ctx context.Context, tx vocabulary.Transactor, o vocabulary.Outcome) error {
		if spec.FailPost != "" {
			return errors.New(spec.FailPost)
		}
		if len(spec.Post) == 0 || !o.Changed() {
			return nil
		}
		_, err := h.transact(ctx, tx, spec.Post)
		return err
	}

	return vocabulary.NewSimpleSource(ir.Keyword(spec.Vocabulary), ir.Version(spec.Version), defs,
		vocabulary.WithPre(pre),
		vocabulary.WithPost(post),
	), nil
}

// normalizeDefinition defaults an omitted cardinality to one.
func normalizeDefinition(d ir.Definition) ir.Definition {
	if d.Cardinality == "" {
		d.Cardinality = ir.CardinalityOne
	}
	return d
}

func (h *Harness) facts(specs []FactSpec) ([]ir.Fact, error) {
	facts := make([]ir.Fact, 0, len(specs))
	for i, spec := range specs {
		f, err := h.fact(spec)
		if err != nil {
			return nil, fmt.Errorf("fact %d: %w", i, err)
		}
		facts = append(facts, f)
	}
	return facts, nil
}

func (h *Harness) fact(spec FactSpec) (ir.Fact, error) {
	e, err := h.entity(spec.E)
	if err != nil {
		return ir.Fact{}, err
	}

	var v ir.Value
	if spec.Ref != "" {
		v = h.ref(spec.Ref)
	} else if v, err = ir.ValueOf(spec.V); err != nil {
		return ir.Fact{}, fmt.Errorf("v: %w", err)
	}

	a := ir.Keyword(spec.A)
	switch spec.Op {
	case "", "add":
		return ir.Add(e, a, v), nil
	case "retract":
		return ir.Retract(e, a, v), nil
	case "cas":
		var old ir.Value
		if spec.Old != nil {
			if old, err = ir.ValueOf(spec.Old); err != nil {
				return ir.Fact{}, fmt.Errorf("old: %w", err)
			}
		}
		return ir.CAS(e, a, old, v), nil
	default:
		return ir.Fact{}, fmt.Errorf("unknown op %q", spec.Op)
	}
}

// entity resolves a YAML entity: an integer entid, an ident, a tempid
// resolved by an earlier step, or a new tempid.
func (h *Harness) entity(raw any) (ir.EntityRef, error) {
	switch e := raw.(type) {
	case int:
		return ir.Entid(e), nil
	case int64:
		return ir.Entid(e), nil
	case string:
		if strings.HasPrefix(e, ":") {
			return ir.Keyword(e), nil
		}
		if id, ok := h.tempids[e]; ok {
			return id, nil
		}
		return ir.TempID(e), nil
	default:
		return nil, fmt.Errorf("e: unsupported entity %T", raw)
	}
}

func (h *Harness) ref(name string) ir.Value {
	if e, ok := h.tempids[name]; ok {
		return e
	}
	return ir.TempID(name)
}
