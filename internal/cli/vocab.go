package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/qpdb/mentat/internal/ir"
	"github.com/qpdb/mentat/internal/vocabulary"
)

// VocabularySummary is one row of "vocab list".
type VocabularySummary struct {
	Name       string `json:"name"`
	Version    uint32 `json:"version"`
	Attributes int    `json:"attributes"`
	Hash       string `json:"hash"`
}

// VocabularyDetail is the output of "vocab show".
type VocabularyDetail struct {
	Name       string            `json:"name"`
	Entid      int64             `json:"entid"`
	Version    uint32            `json:"version"`
	Hash       string            `json:"hash"`
	Attributes []AttributeDetail `json:"attributes"`
}

// AttributeDetail is one installed attribute with its content hash.
type AttributeDetail struct {
	ir.Definition
	Hash string `json:"hash"`
}

// OutcomeSummary is one vocabulary's result from "vocab ensure".
type OutcomeSummary struct {
	Vocabulary string   `json:"vocabulary"`
	Outcome    string   `json:"outcome"`
	From       uint32   `json:"from"`
	To         uint32   `json:"to"`
	Tx         int64    `json:"tx,omitempty"`
	Changes    []string `json:"changes,omitempty"`
	Error      string   `json:"error,omitempty"`
	Warning    string   `json:"warning,omitempty"`
	PostError  string   `json:"post_error,omitempty"`
}

// NewVocabCommand creates the vocab command group.
func NewVocabCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vocab",
		Short: "Inspect and ensure vocabularies",
	}

	cmd.AddCommand(newVocabListCommand(rootOpts))
	cmd.AddCommand(newVocabShowCommand(rootOpts))
	cmd.AddCommand(newVocabEnsureCommand(rootOpts))

	return cmd
}

func newVocabListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed vocabularies",
		Long: `List every vocabulary installed in the store with its version,
attribute count and content hash. The core schema is listed as
:db.schema/core.

Examples:
  mentat vocab list --db ./app.db
  mentat vocab list --db ./app.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVocabList(opts, cmd)
		},
	}
}

func runVocabList(opts *RootOptions, cmd *cobra.Command) error {
	f := formatter(opts, cmd)
	st, err := openStore(opts, cmd, false)
	if err != nil {
		return f.Fail(ErrCodeNoDatabase, err)
	}
	defer st.Close()

	vocabs, err := st.ReadVocabularies(context.Background())
	if err != nil {
		return f.Fail(ErrCodeReadFailed, WrapExitError(ExitCommandError, "failed to read vocabularies", err))
	}

	rows := make([]VocabularySummary, 0, vocabs.Len())
	for _, name := range vocabs.Names() {
		v := vocabs.ByName[name]
		hash, err := ir.VocabularyHash(v.Name, v.Version, v.Attributes)
		if err != nil {
			return f.Fail(ErrCodeReadFailed, WrapExitError(ExitCommandError, "failed to hash vocabulary", err))
		}
		rows = append(rows, VocabularySummary{
			Name:       string(v.Name),
			Version:    uint32(v.Version),
			Attributes: len(v.Attributes),
			Hash:       hash,
		})
	}

	if opts.Format == FormatJSON {
		return f.Success(rows)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tATTRIBUTES\tHASH")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", r.Name, r.Version, r.Attributes, shortHash(r.Hash))
	}
	return tw.Flush()
}

func newVocabShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show one vocabulary's attributes",
		Long: `Show the attributes of one installed vocabulary in installation
order, with a content hash per attribute and for the whole vocabulary.
Two stores holding the same vocabulary hash identically.

Examples:
  mentat vocab show :todo --db ./app.db
  mentat vocab show :db.schema/core --db ./app.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVocabShow(opts, args[0], cmd)
		},
	}
}

func runVocabShow(opts *RootOptions, name string, cmd *cobra.Command) error {
	f := formatter(opts, cmd)
	st, err := openStore(opts, cmd, false)
	if err != nil {
		return f.Fail(ErrCodeNoDatabase, err)
	}
	defer st.Close()

	vocabs, err := st.ReadVocabularies(context.Background())
	if err != nil {
		return f.Fail(ErrCodeReadFailed, WrapExitError(ExitCommandError, "failed to read vocabularies", err))
	}

	v := vocabs.Get(ir.Keyword(name))
	if v == nil {
		return f.Fail(ErrCodeNotFound, NewExitError(ExitCommandError, fmt.Sprintf("vocabulary not found: %s", name)))
	}

	detail, err := describeVocabulary(v)
	if err != nil {
		return f.Fail(ErrCodeReadFailed, WrapExitError(ExitCommandError, "failed to hash vocabulary", err))
	}

	if opts.Format == FormatJSON {
		return f.Success(detail)
	}
	return outputVocabularyText(cmd.OutOrStdout(), detail)
}

func describeVocabulary(v *ir.Vocabulary) (VocabularyDetail, error) {
	hash, err := ir.VocabularyHash(v.Name, v.Version, v.Attributes)
	if err != nil {
		return VocabularyDetail{}, err
	}
	detail := VocabularyDetail{
		Name:       string(v.Name),
		Entid:      int64(v.Entid),
		Version:    uint32(v.Version),
		Hash:       hash,
		Attributes: make([]AttributeDetail, 0, len(v.Attributes)),
	}
	for _, d := range v.Attributes {
		h, err := ir.DefinitionHash(d)
		if err != nil {
			return VocabularyDetail{}, err
		}
		detail.Attributes = append(detail.Attributes, AttributeDetail{Definition: d, Hash: h})
	}
	return detail, nil
}

func outputVocabularyText(w io.Writer, d VocabularyDetail) error {
	fmt.Fprintf(w, "Vocabulary: %s\n", d.Name)
	fmt.Fprintf(w, "Version:    %d\n", d.Version)
	fmt.Fprintf(w, "Hash:       %s\n", d.Hash)
	fmt.Fprintln(w)

	if len(d.Attributes) == 0 {
		fmt.Fprintln(w, "  (no attributes)")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ATTRIBUTE\tTYPE\tCARDINALITY\tUNIQUE\tFLAGS\tHASH")
	for _, a := range d.Attributes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.Name, a.ValueType, a.Cardinality, orDash(string(a.Unique)), flags(a.Definition), shortHash(a.Hash))
	}
	return tw.Flush()
}

func newVocabEnsureCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ensure <file>",
		Short: "Install or upgrade vocabularies from a YAML file",
		Long: `Ensure that every vocabulary declared in a YAML file is installed at
its declared version. All vocabularies are reconciled against one
snapshot and committed in one transaction. Creates the database if it
does not exist.

A vocabulary whose installed definitions differ is rejected unless it
sets "proceed: true". Destructive changes must also be listed under
"acknowledge".

Exit codes:
  0 - Every vocabulary is at its declared version
  1 - One or more vocabularies were rejected or failed
  2 - Command error (invalid file, database error, etc.)

Examples:
  mentat vocab ensure ./vocab.yaml --db ./app.db
  MENTAT_DB=./app.db mentat vocab ensure ./vocab.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVocabEnsure(opts, args[0], cmd)
		},
	}
}

func runVocabEnsure(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := formatter(opts, cmd)

	file, errs := LoadVocabularyFile(path)
	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		f.Problems(ErrCodeLoadFailed, "invalid vocabulary file", msgs)
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid vocabulary file: %s", path))
	}
	f.VerboseLog("loaded %d vocabularies from %s", len(file.Vocabularies), path)

	st, err := openStore(opts, cmd, true)
	if err != nil {
		return f.Fail(ErrCodeOpenFailed, err)
	}
	defer st.Close()

	mgr := vocabulary.NewManager(st, vocabulary.WithLogger(opts.logger(cmd.ErrOrStderr())))
	outcomes, err := mgr.EnsureVocabularies(context.Background(), file.Sources()...)
	if err != nil {
		return f.Fail(ErrCodeEnsureFailed, WrapExitError(ExitCommandError, "ensure failed", err))
	}

	summaries := summarizeOutcomes(outcomes)
	failed := 0
	for _, s := range summaries {
		if s.Error != "" {
			failed++
		}
	}

	if opts.Format == FormatJSON {
		if failed > 0 {
			_ = f.Error(ErrCodeEnsureFailed, fmt.Sprintf("%d vocabulary(ies) not ensured", failed), summaries)
		} else if err := f.Success(summaries); err != nil {
			return err
		}
	} else {
		outputOutcomesText(cmd.OutOrStdout(), summaries)
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d vocabulary(ies) not ensured", failed))
	}
	return nil
}

func summarizeOutcomes(outcomes vocabulary.Outcomes) []OutcomeSummary {
	out := make([]OutcomeSummary, 0, len(outcomes))
	for _, name := range outcomes.Names() {
		o := outcomes[name]
		s := OutcomeSummary{
			Vocabulary: string(name),
			Outcome:    o.Kind.String(),
			From:       uint32(o.From),
			To:         uint32(o.To),
			Tx:         int64(o.TxID),
			Warning:    o.Warning,
		}
		for _, c := range o.Changes {
			for _, fc := range c.Fields {
				s.Changes = append(s.Changes, fmt.Sprintf("%s %s: %s -> %s (%s)", c.Attribute, fc.Field, fc.From, fc.To, fc.Risk))
			}
		}
		if o.Err != nil {
			s.Error = o.Err.Error()
		}
		if o.PostErr != nil {
			s.PostError = o.PostErr.Error()
		}
		out = append(out, s)
	}
	return out
}

func outputOutcomesText(w io.Writer, summaries []OutcomeSummary) {
	for _, s := range summaries {
		mark := "✓"
		if s.Error != "" {
			mark = "✗"
		}
		switch s.Outcome {
		case "installed":
			fmt.Fprintf(w, "%s %s installed at version %d\n", mark, s.Vocabulary, s.To)
		case "upgraded":
			fmt.Fprintf(w, "%s %s upgraded from version %d to %d\n", mark, s.Vocabulary, s.From, s.To)
		case "unchanged":
			fmt.Fprintf(w, "%s %s unchanged at version %d\n", mark, s.Vocabulary, s.To)
		default:
			fmt.Fprintf(w, "%s %s %s\n", mark, s.Vocabulary, s.Outcome)
		}
		for _, c := range s.Changes {
			fmt.Fprintf(w, "    %s\n", c)
		}
		if s.Error != "" {
			fmt.Fprintf(w, "    Error: %s\n", s.Error)
		}
		if s.Warning != "" {
			fmt.Fprintf(w, "    Warning: %s\n", s.Warning)
		}
		if s.PostError != "" {
			fmt.Fprintf(w, "    Post hook: %s\n", s.PostError)
		}
	}
}

func flags(d ir.Definition) string {
	var out []string
	if d.Index {
		out = append(out, "index")
	}
	if d.Fulltext {
		out = append(out, "fulltext")
	}
	if d.Component {
		out = append(out, "component")
	}
	if d.NoHistory {
		out = append(out, "no_history")
	}
	return orDash(strings.Join(out, ","))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// shortHash truncates a hash for text output.
func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
