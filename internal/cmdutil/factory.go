package cmdutil

import (
	"github.com/schmitthub/kitlock/internal/imagetool"
	"github.com/schmitthub/kitlock/internal/iostreams"
	"github.com/schmitthub/kitlock/internal/project"
)

// Factory provides shared dependencies for CLI commands.
// It is a dependency injection container: the struct defines what
// dependencies exist (the contract), while internal/cmd/factory
// wires the real implementations.
//
// Closure fields are set by the factory constructor and use lazy
// initialization internally. Commands extract only the fields they
// need into per-command Options structs.
type Factory struct {
	// Configuration from flags (set before command execution)
	WorkDir string
	Debug   bool

	// Version info (set at build time via ldflags)
	Version string
	Commit  string

	// IO streams for input/output (for testability)
	IOStreams *iostreams.IOStreams

	// Dependency providers (closures wired by factory constructor)
	ProjectLoader func() *project.Loader
	Project       func() (*project.Project, error)
	Tool          func() (imagetool.Tool, error)
}
