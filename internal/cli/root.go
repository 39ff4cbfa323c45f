package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

// Exit codes returned by Execute.
const (
	ExitOK          = 0
	ExitFailed      = 1
	ExitConfigError = 2
)

// ExitError carries the process exit code for an error.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func configError(err error) error {
	return &ExitError{Code: ExitConfigError, Err: err}
}

// NewRootCmd builds the command tree. Each call returns fresh commands and
// flags.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "surge",
		Short:   "A virtual-user load testing engine",
		Version: version,
		Long: `Surge drives a population of virtual users against an HTTP service,
following a fixed or staged load plan, and gates the run on thresholds
over the collected metrics.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	root.AddCommand(newRunCmd())
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	return exitCode(NewRootCmd().Execute(), os.Stderr)
}

// exitCode reports err on w and maps it to an exit code. Errors without an
// explicit code come from argument parsing and count as configuration
// errors.
func exitCode(err error, w io.Writer) int {
	if err == nil {
		return ExitOK
	}

	fmt.Fprintln(w, "Error:", err)

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitConfigError
}
