package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/qpdb/mentat/internal/store"
)

// Error codes reported in JSON output.
const (
	ErrCodeNoDatabase   = "E_NO_DATABASE"
	ErrCodeNotFound     = "E_NOT_FOUND"
	ErrCodeOpenFailed   = "E_OPEN_FAILED"
	ErrCodeReadFailed   = "E_READ_FAILED"
	ErrCodeLoadFailed   = "E_LOAD_FAILED"
	ErrCodeEnsureFailed = "E_ENSURE_FAILED"
	ErrCodeTestFailed   = "E_TEST_FAILED"
)

// openStore opens the store named by --db. Commands that only read refuse
// to create a database that does not exist yet.
func openStore(opts *RootOptions, cmd *cobra.Command, create bool) (*store.Store, error) {
	if opts.Database == "" {
		return nil, NewExitError(ExitCommandError,
			fmt.Sprintf("no database: pass --db or set %s", EnvDatabase))
	}
	if !create && opts.Database != ":memory:" {
		if _, err := os.Stat(opts.Database); errors.Is(err, os.ErrNotExist) {
			return nil, NewExitError(ExitCommandError,
				fmt.Sprintf("database not found: %s", opts.Database))
		}
	}

	st, err := store.Open(opts.Database, store.WithLogger(opts.logger(cmd.ErrOrStderr())))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// formatter returns the output formatter for cmd.
func formatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
