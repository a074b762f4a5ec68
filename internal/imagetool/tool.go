// Package imagetool defines the external image tool that performs all
// registry I/O on behalf of the resolver, together with a crane-based
// implementation. The resolver itself never talks to a registry; it only
// consumes the bytes and views this package hands back.
package imagetool

import (
	"context"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Tool is the registry collaborator contract. Implementations must surface
// transport failures clearly; callers add operation context but never retry.
type Tool interface {
	// GetManifest returns the raw OCI manifest (list) bytes for a URI.
	GetManifest(ctx context.Context, uri string) ([]byte, error)

	// GetConfig returns the decoded image configuration for a URI.
	// Callers only read the label map.
	GetConfig(ctx context.Context, uri string) (*ocispec.Image, error)

	// Pull materializes the image at uri as an OCI layout directory at dest.
	Pull(ctx context.Context, uri, dest string) error
}
