// Package extract provides the extract command.
package extract

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/schmitthub/kitlock/internal/cmdutil"
	"github.com/schmitthub/kitlock/internal/imagetool"
	"github.com/schmitthub/kitlock/internal/iostreams"
	"github.com/schmitthub/kitlock/internal/lock"
	"github.com/schmitthub/kitlock/internal/project"
)

// ExtractOptions holds options for the extract command.
type ExtractOptions struct {
	IOStreams *iostreams.IOStreams
	Project   func() (*project.Project, error)
	Tool      func() (imagetool.Tool, error)

	Name string
	Arch string
	Out  string
}

// NewCmdExtract creates the extract command.
func NewCmdExtract(f *cmdutil.Factory, runF func(context.Context, *ExtractOptions) error) *cobra.Command {
	opts := &ExtractOptions{
		IOStreams: f.IOStreams,
		Project:   f.Project,
		Tool:      f.Tool,
	}

	cmd := &cobra.Command{
		Use:   "extract NAME",
		Short: "Extract a locked kit's contents to disk",
		Long: `Extracts the contents of a locked kit for one architecture.

The kit must already be resolved (see 'kitlock resolve'). The image is
pulled into a digest-keyed cache and unpacked under
OUT/<vendor>/<name>/<arch>; both steps are idempotent, so re-running
after a failure or for a second architecture only does the missing work.`,
		Example: `  # Extract core-kit for the default architecture
  kitlock extract core-kit

  # Extract for arm64 into a specific directory
  kitlock extract core-kit --arch arm64 --out ./build/kits`,
		Args: cmdutil.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Name = args[0]
			if runF != nil {
				return runF(cmd.Context(), opts)
			}
			return extractRun(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Arch, "arch", imagetool.ArchAmd64.String(), "Architecture to extract")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "Output directory (default <workdir>/build/kits)")

	return cmd
}

func extractRun(ctx context.Context, opts *ExtractOptions) error {
	ios := opts.IOStreams

	arch, err := imagetool.ParseArchitecture(opts.Arch)
	if err != nil {
		return cmdutil.FlagErrorWrap(err)
	}

	name, err := project.NewIdentifier(opts.Name)
	if err != nil {
		return cmdutil.FlagErrorWrap(err)
	}

	proj, err := opts.Project()
	if err != nil {
		return err
	}
	tool, err := opts.Tool()
	if err != nil {
		return err
	}

	kit, err := proj.FindKit(name)
	if err != nil {
		return err
	}
	bound, err := proj.Bind(kit)
	if err != nil {
		return err
	}

	// Extraction requires a prior resolve: the lockfile is the record that
	// this exact declaration was pinned.
	locked, err := lock.LoadLock(proj.Dir())
	if err != nil {
		return err
	}
	if _, err := locked.FindImage(bound); err != nil {
		return fmt.Errorf("kit %s is declared but not locked, run resolve first: %w", bound, err)
	}

	out := opts.Out
	if out == "" {
		out = filepath.Join(proj.Dir(), "build", "kits")
	}

	if err := lock.NewResolver(bound).Extract(ctx, tool, out, arch); err != nil {
		return err
	}

	fmt.Fprintf(ios.Out, "Extracted %s (%s) to %s\n", bound, arch,
		filepath.Join(out, bound.ArtifactVendor().String(), bound.ArtifactName().String(), arch.String()))
	return nil
}
