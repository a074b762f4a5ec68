// Package root assembles the kitlock command tree.
package root

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/schmitthub/kitlock/internal/cmd/extract"
	"github.com/schmitthub/kitlock/internal/cmd/resolve"
	versioncmd "github.com/schmitthub/kitlock/internal/cmd/version"
	"github.com/schmitthub/kitlock/internal/cmdutil"
	"github.com/schmitthub/kitlock/internal/logger"
)

// NewCmdRoot creates the root command for the kitlock CLI.
func NewCmdRoot(f *cmdutil.Factory) *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "kitlock",
		Short: "Resolve and extract kit image dependencies",
		Long: `Kitlock pins a project's declared kit and SDK images to exact content.

Quick start:
  kitlock resolve              # Pin every declared image, write kitlock.lock
  kitlock extract core-kit     # Unpack a locked kit's contents to disk`,
		SilenceUsage: true,
		Annotations: map[string]string{
			"versionInfo": versioncmd.Format(f.Version, f.Commit),
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			initializeLogger(debug)
			f.Debug = debug

			if f.WorkDir == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				f.WorkDir = wd
			}

			logger.Debug().
				Str("version", f.Version).
				Str("workdir", f.WorkDir).
				Bool("debug", debug).
				Msg("kitlock starting")

			return nil
		},
		Version: f.Version,
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&debug, "debug", "D", false, "Enable debug logging")
	cmd.PersistentFlags().StringVarP(&f.WorkDir, "workdir", "w", "", "Project directory containing kitlock.yaml (default current directory)")

	// Version template
	cmd.SetVersionTemplate(versioncmd.Format(f.Version, f.Commit))

	cmd.AddCommand(resolve.NewCmdResolve(f, nil))
	cmd.AddCommand(extract.NewCmdExtract(f, nil))
	cmd.AddCommand(versioncmd.NewCmdVersion(f, f.Version, f.Commit))

	return cmd
}

// initializeLogger sets up the logger with file logging if possible.
// Falls back to console-only logging on any errors.
func initializeLogger(debug bool) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		logger.Init(debug)
		logger.Warn().Err(err).Msg("file logging unavailable: failed to get cache directory")
		return
	}

	logsDir := filepath.Join(cacheDir, "kitlock", "logs")
	if err := logger.InitWithFile(debug, logsDir, &logger.FileConfig{}); err != nil {
		logger.Init(debug)
		logger.Warn().Err(err).Msg("file logging unavailable: failed to initialize file writer")
	}
}
