package kitlock

import (
	"errors"
	"fmt"

	"github.com/schmitthub/kitlock/internal/cmd/factory"
	"github.com/schmitthub/kitlock/internal/cmd/root"
	"github.com/schmitthub/kitlock/internal/cmdutil"
	"github.com/schmitthub/kitlock/internal/logger"
)

// Build-time variables injected via ldflags
var (
	Version = "dev"
	Commit  = "none"
)

const (
	exitOk    = 0
	exitError = 1
)

// Main is the entry point for the kitlock CLI.
// It initializes the Factory, creates the root command, and executes it.
func Main() int {
	// Ensure logs are flushed on exit
	defer logger.CloseFileWriter()

	f := factory.New(Version, Commit)
	rootCmd := root.NewCmdRoot(f)

	cmd, err := rootCmd.ExecuteC()
	if err != nil {
		if errors.Is(err, cmdutil.SilentError) {
			return exitError
		}
		var flagErr *cmdutil.FlagError
		if errors.As(err, &flagErr) {
			fmt.Fprintln(f.IOStreams.ErrOut, cmd.UsageString())
		}
		return exitError
	}

	return exitOk
}
