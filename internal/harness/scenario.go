package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/qpdb/mentat/internal/ir"
)

// Scenario defines a conformance test scenario: a flow of ensure calls and
// transactions against a fresh store, and assertions on what they left behind.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Setup contains transactions applied before the flow.
	// Setup transactions must succeed.
	Setup []SetupStep `yaml:"setup,omitempty"`

	// Flow contains the steps under test.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final store and trace.
	Assertions []Assertion `yaml:"assertions"`
}

// SetupStep is one transaction applied before the flow.
type SetupStep struct {
	// Ensure installs vocabularies. Every one must be installed or unchanged.
	Ensure []SourceSpec `yaml:"ensure,omitempty"`

	// Facts is a plain transaction.
	Facts []FactSpec `yaml:"facts,omitempty"`
}

// FlowStep is either one ensure call or one plain transaction.
type FlowStep struct {
	// Ensure lists the sources of one ensure call, in order.
	Ensure []SourceSpec `yaml:"ensure,omitempty"`

	// Transact is a plain transaction.
	Transact []FactSpec `yaml:"transact,omitempty"`

	// Expect maps vocabulary name to its expected outcome (ensure steps).
	Expect map[string]ExpectClause `yaml:"expect,omitempty"`

	// ExpectError is a substring of the error the step must fail with.
	// Empty means the step must not fail.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// SourceSpec describes one vocabulary source.
type SourceSpec struct {
	Vocabulary string          `yaml:"vocabulary"`
	Version    uint32          `yaml:"version"`
	Attributes []ir.Definition `yaml:"attributes"`

	// Decision is the Pre hook's answer: "default" (the SimpleSource
	// behavior), "proceed", "reject" or "abort".
	Decision string `yaml:"decision,omitempty"`

	// Reason is used by reject and abort.
	Reason string `yaml:"reason,omitempty"`

	// Acknowledge lists attributes whose destructive changes are accepted.
	Acknowledge []string `yaml:"acknowledge,omitempty"`

	// AcknowledgeAll accepts every destructive change.
	AcknowledgeAll bool `yaml:"acknowledge_all,omitempty"`

	// Facts ride along with the schema changes when the decision proceeds.
	Facts []FactSpec `yaml:"facts,omitempty"`

	// Post is a transaction the Post hook applies after a committed change.
	Post []FactSpec `yaml:"post,omitempty"`

	// FailPost makes the Post hook return an error with this message.
	FailPost string `yaml:"fail_post,omitempty"`
}

// FactSpec is one fact in YAML form.
//
// E is an ident (":ns/name"), an entid (integer) or a tempid (any other
// string). V is converted with ir.ValueOf; Ref names a tempid value instead.
type FactSpec struct {
	Op  string `yaml:"op,omitempty"` // add (default), retract or cas
	E   any    `yaml:"e"`
	A   string `yaml:"a"`
	V   any    `yaml:"v,omitempty"`
	Ref string `yaml:"ref,omitempty"`

	// Old is the expected value of a cas. Omitted means absent.
	Old any `yaml:"old,omitempty"`
}

// ExpectClause specifies the expected outcome of one vocabulary.
type ExpectClause struct {
	// Outcome is the expected kind: unchanged, installed, upgraded,
	// incompatible or error.
	Outcome string `yaml:"outcome"`

	// Error is the expected error code (see errorCode), if any.
	Error string `yaml:"error,omitempty"`

	From *uint32 `yaml:"from,omitempty"`
	To   *uint32 `yaml:"to,omitempty"`

	Retryable bool `yaml:"retryable,omitempty"`
	Warning   bool `yaml:"warning,omitempty"`
	PostError bool `yaml:"post_error,omitempty"`
}

// Assertion validates the final store or the trace.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Vocabulary is used by vocabulary, vocabulary_absent, owner and the
	// trace assertions.
	Vocabulary string `yaml:"vocabulary,omitempty"`

	// Version is the expected version (vocabulary).
	Version uint32 `yaml:"version,omitempty"`

	// Attributes, when present, must match the vocabulary's attributes
	// exactly and in order (vocabulary).
	Attributes []ir.Definition `yaml:"attributes,omitempty"`

	// Attribute is the attribute whose owner is checked (owner).
	Attribute string `yaml:"attribute,omitempty"`

	// Entity is a tempid name or ident (entity).
	Entity string `yaml:"entity,omitempty"`

	// Expect maps attribute to expected value, or list of values for
	// cardinality-many attributes (entity).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Outcome filters outcome events (trace_contains, trace_count).
	Outcome string `yaml:"outcome,omitempty"`

	// Count is the expected number of matching events (trace_count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertVocabulary       = "vocabulary"
	AssertVocabularyAbsent = "vocabulary_absent"
	AssertOwner            = "owner"
	AssertEntity           = "entity"
	AssertTraceContains    = "trace_contains"
	AssertTraceCount       = "trace_count"
)

// Decision names accepted in SourceSpec.Decision.
const (
	DecisionDefault = "default"
	DecisionProceed = "proceed"
	DecisionReject  = "reject"
	DecisionAbort   = "abort"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Setup {
		if (len(step.Ensure) == 0) == (len(step.Facts) == 0) {
			return fmt.Errorf("setup[%d]: exactly one of ensure or facts is required", i)
		}
		if err := validateSources(fmt.Sprintf("setup[%d]", i), step.Ensure); err != nil {
			return err
		}
		if err := validateFacts(fmt.Sprintf("setup[%d].facts", i), step.Facts); err != nil {
			return err
		}
	}

	for i, step := range s.Flow {
		where := fmt.Sprintf("flow[%d]", i)
		if (len(step.Ensure) == 0) == (len(step.Transact) == 0) {
			return fmt.Errorf("%s: exactly one of ensure or transact is required", where)
		}
		if len(step.Transact) > 0 && len(step.Expect) > 0 {
			return fmt.Errorf("%s: expect is only valid on ensure steps", where)
		}
		if err := validateSources(where, step.Ensure); err != nil {
			return err
		}
		if err := validateFacts(where+".transact", step.Transact); err != nil {
			return err
		}
		for name, expect := range step.Expect {
			if expect.Outcome == "" {
				return fmt.Errorf("%s.expect[%s]: outcome is required", where, name)
			}
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateSources(where string, sources []SourceSpec) error {
	for i, src := range sources {
		if src.Vocabulary == "" {
			return fmt.Errorf("%s.ensure[%d]: vocabulary is required", where, i)
		}
		switch src.Decision {
		case "", DecisionDefault, DecisionProceed, DecisionReject, DecisionAbort:
		default:
			return fmt.Errorf("%s.ensure[%d]: unknown decision %q", where, i, src.Decision)
		}
		if err := validateFacts(fmt.Sprintf("%s.ensure[%d].facts", where, i), src.Facts); err != nil {
			return err
		}
		if err := validateFacts(fmt.Sprintf("%s.ensure[%d].post", where, i), src.Post); err != nil {
			return err
		}
	}
	return nil
}

func validateFacts(where string, facts []FactSpec) error {
	for i, f := range facts {
		if f.E == nil {
			return fmt.Errorf("%s[%d]: e is required", where, i)
		}
		if f.A == "" {
			return fmt.Errorf("%s[%d]: a is required", where, i)
		}
		if f.V == nil && f.Ref == "" {
			return fmt.Errorf("%s[%d]: one of v or ref is required", where, i)
		}
		switch f.Op {
		case "", "add", "retract", "cas":
		default:
			return fmt.Errorf("%s[%d]: unknown op %q", where, i, f.Op)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertVocabulary:
		if a.Vocabulary == "" {
			return fmt.Errorf("assertions[%d]: vocabulary is required for vocabulary", index)
		}
		if a.Version == 0 {
			return fmt.Errorf("assertions[%d]: version is required for vocabulary", index)
		}
	case AssertVocabularyAbsent:
		if a.Vocabulary == "" {
			return fmt.Errorf("assertions[%d]: vocabulary is required for vocabulary_absent", index)
		}
	case AssertOwner:
		if a.Attribute == "" || a.Vocabulary == "" {
			return fmt.Errorf("assertions[%d]: attribute and vocabulary are required for owner", index)
		}
	case AssertEntity:
		if a.Entity == "" {
			return fmt.Errorf("assertions[%d]: entity is required for entity", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for entity", index)
		}
	case AssertTraceContains:
		if a.Vocabulary == "" {
			return fmt.Errorf("assertions[%d]: vocabulary is required for trace_contains", index)
		}
	case AssertTraceCount:
		if a.Vocabulary == "" {
			return fmt.Errorf("assertions[%d]: vocabulary is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
