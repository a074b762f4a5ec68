package imagetool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/schmitthub/kitlock/internal/logger"
)

// DefaultCraneBinary is the binary Crane looks up when none is configured.
const DefaultCraneBinary = "crane"

// Crane implements Tool by shelling out to a crane-compatible binary.
// All registry transport, caching, and authentication concerns live in the
// external tool; this wrapper only builds arguments and decodes output.
type Crane struct {
	bin string
}

// NewCrane locates the crane binary on PATH.
func NewCrane() (*Crane, error) {
	return NewCraneWithBinary(DefaultCraneBinary)
}

// NewCraneWithBinary uses the given binary name or path.
func NewCraneWithBinary(bin string) (*Crane, error) {
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("image tool %q not found on PATH: %w", bin, err)
	}
	return &Crane{bin: path}, nil
}

// GetManifest implements Tool.
func (c *Crane) GetManifest(ctx context.Context, uri string) ([]byte, error) {
	return c.run(ctx, "manifest", uri)
}

// GetConfig implements Tool.
func (c *Crane) GetConfig(ctx context.Context, uri string) (*ocispec.Image, error) {
	out, err := c.run(ctx, "config", uri)
	if err != nil {
		return nil, err
	}

	var config ocispec.Image
	if err := json.Unmarshal(out, &config); err != nil {
		return nil, fmt.Errorf("failed to decode image config for %s: %w", uri, err)
	}
	return &config, nil
}

// Pull implements Tool. The image is written as an OCI layout directory.
func (c *Crane) Pull(ctx context.Context, uri, dest string) error {
	_, err := c.run(ctx, "pull", "--format", "oci", uri, dest)
	return err
}

func (c *Crane) run(ctx context.Context, args ...string) ([]byte, error) {
	logger.Debug().Str("bin", c.bin).Strs("args", args).Msg("invoking image tool")

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("image tool failed (%s %s): %w: %s",
			c.bin, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
