package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/qpdb/mentat/internal/ir"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	After int64 // only transactions after this tx entid
}

// LogEntry is one transaction in "log" output.
type LogEntry struct {
	Tx      int64      `json:"tx"`
	UUID    string     `json:"uuid"`
	Instant time.Time  `json:"instant"`
	Datoms  []LogDatom `json:"datoms"`
}

// LogDatom is one datom of a logged transaction. Values use the store's
// text rendering so every value type prints the same way in both formats.
type LogDatom struct {
	E     int64  `json:"e"`
	A     string `json:"a"`
	V     string `json:"v"`
	Added bool   `json:"added"`
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Print the transaction log",
		Long: `Print every transaction in commit order with the datoms it
asserted (+) and retracted (-). The bootstrap transaction that
installed the core schema is included unless --after skips it.

Examples:
  mentat log --db ./app.db
  mentat log --db ./app.db --after 268435457
  mentat log --db ./app.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.After, "after", 0, "only show transactions after this tx id")

	return cmd
}

func runLog(opts *LogOptions, cmd *cobra.Command) error {
	f := formatter(opts.RootOptions, cmd)
	st, err := openStore(opts.RootOptions, cmd, false)
	if err != nil {
		return f.Fail(ErrCodeNoDatabase, err)
	}
	defer st.Close()

	records, err := st.Transactions(context.Background(), ir.Entid(opts.After))
	if err != nil {
		return f.Fail(ErrCodeReadFailed, WrapExitError(ExitCommandError, "failed to read transaction log", err))
	}

	entries := make([]LogEntry, 0, len(records))
	for _, rec := range records {
		entry := LogEntry{
			Tx:      int64(rec.TxID),
			UUID:    rec.UUID,
			Instant: rec.Instant,
			Datoms:  make([]LogDatom, 0, len(rec.Datoms)),
		}
		for _, d := range rec.Datoms {
			entry.Datoms = append(entry.Datoms, LogDatom{
				E:     int64(d.E),
				A:     string(d.A),
				V:     ir.FormatValue(d.V),
				Added: d.Added,
			})
		}
		entries = append(entries, entry)
	}

	if opts.Format == FormatJSON {
		return f.Success(entries)
	}
	outputLogText(cmd.OutOrStdout(), entries, opts.Verbose)
	return nil
}

func outputLogText(w io.Writer, entries []LogEntry, verbose bool) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No transactions.")
		return
	}
	for i, e := range entries {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "tx %d  %s  (%d datoms)\n", e.Tx, e.Instant.UTC().Format(time.RFC3339), len(e.Datoms))
		if verbose {
			fmt.Fprintf(w, "  uuid %s\n", e.UUID)
		}
		for _, d := range e.Datoms {
			op := "+"
			if !d.Added {
				op = "-"
			}
			fmt.Fprintf(w, "  %s [%d %s %s]\n", op, d.E, d.A, d.V)
		}
	}
}
