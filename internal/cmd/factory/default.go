// Package factory wires the real implementations behind cmdutil.Factory.
package factory

import (
	"sync"

	"github.com/schmitthub/kitlock/internal/cmdutil"
	"github.com/schmitthub/kitlock/internal/imagetool"
	"github.com/schmitthub/kitlock/internal/iostreams"
	"github.com/schmitthub/kitlock/internal/project"
)

// New creates a fully-wired Factory with lazy-initialized dependency closures.
// Called exactly once at the CLI entry point (internal/kitlock/cmd.go).
// Tests should NOT import this package — construct &cmdutil.Factory{} directly.
func New(version, commit string) *cmdutil.Factory {
	f := &cmdutil.Factory{
		Version:   version,
		Commit:    commit,
		IOStreams: iostreams.NewIOStreams(),
	}

	// --- Lazy dependency closures ---

	// Project config. The loader is bound to f.WorkDir at first use, after
	// flag parsing has populated it.
	var (
		projectOnce   sync.Once
		projectLoader *project.Loader
		projectData   *project.Project
		projectErr    error
	)
	initProject := func() {
		projectOnce.Do(func() {
			projectLoader = project.NewLoader(f.WorkDir)
			projectData, projectErr = projectLoader.Load()
		})
	}
	f.ProjectLoader = func() *project.Loader {
		initProject()
		return projectLoader
	}
	f.Project = func() (*project.Project, error) {
		initProject()
		return projectData, projectErr
	}

	// Image tool
	var (
		toolOnce sync.Once
		tool     *imagetool.Crane
		toolErr  error
	)
	f.Tool = func() (imagetool.Tool, error) {
		toolOnce.Do(func() {
			tool, toolErr = imagetool.NewCrane()
		})
		return tool, toolErr
	}

	return f
}
