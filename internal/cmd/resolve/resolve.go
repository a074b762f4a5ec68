// Package resolve provides the resolve command.
package resolve

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/schmitthub/kitlock/internal/cmdutil"
	"github.com/schmitthub/kitlock/internal/imagetool"
	"github.com/schmitthub/kitlock/internal/iostreams"
	"github.com/schmitthub/kitlock/internal/lock"
	"github.com/schmitthub/kitlock/internal/logger"
	"github.com/schmitthub/kitlock/internal/project"
)

// ResolveOptions holds options for the resolve command.
type ResolveOptions struct {
	IOStreams *iostreams.IOStreams
	Project   func() (*project.Project, error)
	Tool      func() (imagetool.Tool, error)
}

// NewCmdResolve creates the resolve command.
func NewCmdResolve(f *cmdutil.Factory, runF func(context.Context, *ResolveOptions) error) *cobra.Command {
	opts := &ResolveOptions{
		IOStreams: f.IOStreams,
		Project:   f.Project,
		Tool:      f.Tool,
	}

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve declared kit images and write the lockfile",
		Long: `Resolves every image declared in kitlock.yaml to exact content.

Each kit's manifest list is fetched and pinned by digest, and the kit
metadata embedded in the image is validated across all architectures.
The result is written to kitlock.lock next to the project config.`,
		Example: `  # Resolve the project in the current directory
  kitlock resolve

  # Resolve a project elsewhere
  kitlock -w ~/src/os resolve`,
		Args: cmdutil.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if runF != nil {
				return runF(cmd.Context(), opts)
			}
			return resolveRun(cmd.Context(), opts)
		},
	}

	return cmd
}

func resolveRun(ctx context.Context, opts *ResolveOptions) error {
	ios := opts.IOStreams

	proj, err := opts.Project()
	if err != nil {
		return err
	}
	tool, err := opts.Tool()
	if err != nil {
		return err
	}

	// The SDK is a leaf: locked by digest only, no kit metadata to validate.
	sdk, err := proj.BoundSDK()
	if err != nil {
		return err
	}
	sdkLocked, _, err := lock.NewResolver(sdk).WithSkippedMetadata().Resolve(ctx, tool)
	if err != nil {
		return fmt.Errorf("failed to resolve sdk %s: %w", sdk, err)
	}
	logger.Info().Stringer("sdk", sdkLocked).Msg("resolved sdk")

	kits, err := proj.BoundKits()
	if err != nil {
		return err
	}

	lockedKits := make([]lock.LockedImage, 0, len(kits))
	for _, kit := range kits {
		locked, metadata, err := lock.NewResolver(kit).Resolve(ctx, tool)
		if err != nil {
			return fmt.Errorf("failed to resolve kit %s: %w", kit, err)
		}
		if err := validateMetadata(kit, metadata); err != nil {
			return err
		}
		logger.Info().Stringer("kit", locked).Msg("resolved kit")
		fmt.Fprintf(ios.Out, "Resolved %s\n", locked)
		lockedKits = append(lockedKits, *locked)
	}

	result := &lock.Lock{
		SchemaVersion: proj.SchemaVersion,
		SDK:           *sdkLocked,
		Kits:          lockedKits,
	}
	if err := result.Save(proj.Dir()); err != nil {
		return err
	}

	fmt.Fprintf(ios.Out, "Wrote %s (%d kits)\n", lock.LockFileName, len(lockedKits))
	return nil
}

// validateMetadata checks that the metadata a kit image publishes agrees with
// the project's declaration of it.
func validateMetadata(kit *project.ProjectImage, metadata *lock.ImageMetadata) error {
	if metadata.Name != kit.ArtifactName().String() {
		return fmt.Errorf("kit %s publishes metadata for %q, which does not match its declared name",
			kit, metadata.Name)
	}
	if !metadata.Version.Equal(kit.ArtifactVersion()) {
		return fmt.Errorf("kit %s publishes metadata for version %s, which does not match its declared version",
			kit, metadata.Version)
	}
	return nil
}
