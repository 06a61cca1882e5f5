package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/qpdb/mentat/internal/ir"
	"github.com/qpdb/mentat/internal/vocabulary"
)

// VocabularyFile is the YAML document read by "vocab ensure".
//
//	vocabularies:
//	  - vocabulary: ":todo"
//	    version: 2
//	    proceed: true
//	    acknowledge: [":todo/tags"]
//	    attributes:
//	      - {name: ":todo/title", type: string}
//	      - {name: ":todo/tags", type: keyword, cardinality: many}
type VocabularyFile struct {
	Vocabularies []VocabularySpec `yaml:"vocabularies"`
}

// VocabularySpec declares one wanted vocabulary.
type VocabularySpec struct {
	Vocabulary string          `yaml:"vocabulary"`
	Version    uint32          `yaml:"version"`
	Attributes []ir.Definition `yaml:"attributes"`

	// Proceed upgrades even when installed definitions differ. Without it a
	// differing definition rejects the vocabulary.
	Proceed bool `yaml:"proceed,omitempty"`

	// Acknowledge lists attributes whose destructive changes are accepted.
	Acknowledge []string `yaml:"acknowledge,omitempty"`
}

// LoadError is one problem found in a vocabulary file.
type LoadError struct {
	Path    string
	Code    string
	Message string
}

func (e *LoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Load error codes.
const (
	ErrCodeFileNotFound = "E_FILE_NOT_FOUND"
	ErrCodeParse        = "E_PARSE"
	ErrCodeInvalid      = "E_INVALID"
)

// LoadVocabularyFile reads and validates a vocabulary file. Every invalid
// entry is reported, not just the first.
func LoadVocabularyFile(path string) (*VocabularyFile, []error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, []error{&LoadError{Path: path, Code: ErrCodeFileNotFound, Message: "file not found"}}
	}
	if err != nil {
		return nil, []error{&LoadError{Path: path, Code: ErrCodeFileNotFound, Message: err.Error()}}
	}

	file, errs := ParseVocabularyFile(data)
	for _, e := range errs {
		var le *LoadError
		if errors.As(e, &le) {
			le.Path = path
		}
	}
	return file, errs
}

// ParseVocabularyFile parses a vocabulary file from YAML. Unknown keys are
// errors. Definitions without a cardinality default to one.
func ParseVocabularyFile(data []byte) (*VocabularyFile, []error) {
	var file VocabularyFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, []error{&LoadError{Code: ErrCodeParse, Message: err.Error()}}
	}

	if len(file.Vocabularies) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeInvalid, Message: "no vocabularies declared"}}
	}

	var errs []error
	for i := range file.Vocabularies {
		spec := &file.Vocabularies[i]
		where := fmt.Sprintf("vocabularies[%d]", i)
		if err := ir.Keyword(spec.Vocabulary).Validate(); err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeInvalid, Message: fmt.Sprintf("%s: %v", where, err)})
		}
		if spec.Version == 0 {
			errs = append(errs, &LoadError{Code: ErrCodeInvalid, Message: fmt.Sprintf("%s: version must be positive", where)})
		}
		for j := range spec.Attributes {
			if spec.Attributes[j].Cardinality == "" {
				spec.Attributes[j].Cardinality = ir.CardinalityOne
			}
			if err := spec.Attributes[j].Validate(); err != nil {
				errs = append(errs, &LoadError{Code: ErrCodeInvalid, Message: fmt.Sprintf("%s: %v", where, err)})
			}
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return &file, nil
}

// Sources turns the file into vocabulary sources, in file order.
func (f *VocabularyFile) Sources() []vocabulary.Source {
	out := make([]vocabulary.Source, 0, len(f.Vocabularies))
	for _, spec := range f.Vocabularies {
		out = append(out, spec.source())
	}
	return out
}

func (s VocabularySpec) source() vocabulary.Source {
	acks := make([]ir.Keyword, len(s.Acknowledge))
	for i, a := range s.Acknowledge {
		acks[i] = ir.Keyword(a)
	}
	proceed := s.Proceed

	pre := func(ctx context.Context, status *vocabulary.Status) vocabulary.Decision {
		d := vocabulary.DefaultPre(ctx, status)
		if proceed {
			d = vocabulary.Proceed()
		}
		if d.Kind != vocabulary.DecisionProceed {
			return d
		}
		return d.Acknowledge(acks...)
	}

	return vocabulary.NewSimpleSource(
		ir.Keyword(s.Vocabulary),
		ir.Version(s.Version),
		s.Attributes,
		vocabulary.WithPre(pre),
	)
}
