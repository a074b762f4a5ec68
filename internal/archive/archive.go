// Package archive caches pulled OCI images on disk and unpacks their layers.
//
// Images are cached as OCI layout directories keyed by manifest digest, so a
// present cache entry is trusted without revalidation. Unpacking stamps the
// target with a digest marker, making both operations idempotent and safe to
// re-run after a partial failure.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/schmitthub/kitlock/internal/imagetool"
	"github.com/schmitthub/kitlock/internal/logger"
)

// UnpackMarkerFile records the digest an extraction target was unpacked
// from. A matching marker makes UnpackLayers a no-op.
const UnpackMarkerFile = ".kitlock-unpacked"

// OCIArchive addresses one platform image by registry, repository, and
// manifest digest, cached under a shared cache directory.
type OCIArchive struct {
	registry   string
	repository string
	digest     digest.Digest
	cacheDir   string
}

// NewOCIArchive validates the digest and returns an archive handle.
func NewOCIArchive(registry, repository, digestStr, cacheDir string) (*OCIArchive, error) {
	dgst, err := digest.Parse(digestStr)
	if err != nil {
		return nil, fmt.Errorf("invalid manifest digest %q: %w", digestStr, err)
	}
	return &OCIArchive{
		registry:   registry,
		repository: repository,
		digest:     dgst,
		cacheDir:   cacheDir,
	}, nil
}

// URI is the digest-addressed image reference.
func (a *OCIArchive) URI() string {
	return fmt.Sprintf("%s/%s@%s", a.registry, a.repository, a.digest)
}

// LayoutDir is the cached OCI layout directory for this digest.
func (a *OCIArchive) LayoutDir() string {
	return filepath.Join(a.cacheDir, a.digest.Algorithm().String()+"-"+a.digest.Encoded())
}

// PullImage ensures a local OCI layout exists for the digest, pulling through
// the image tool only when absent. The layout is written to a temporary
// directory and renamed into place so a torn pull never looks cached.
func (a *OCIArchive) PullImage(ctx context.Context, tool imagetool.Tool) error {
	layoutDir := a.LayoutDir()

	if _, err := os.Stat(filepath.Join(layoutDir, ocispec.ImageLayoutFile)); err == nil {
		logger.Debug().Str("image_uri", a.URI()).Str("layout", layoutDir).
			Msg("using cached image archive")
		return nil
	}

	tmpDir, err := os.MkdirTemp(a.cacheDir, "pull-")
	if err != nil {
		return fmt.Errorf("failed to create staging directory in %s: %w", a.cacheDir, err)
	}
	defer os.RemoveAll(tmpDir)

	if err := tool.Pull(ctx, a.URI(), tmpDir); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", a.URI(), err)
	}

	// Another process may have completed the same pull; losing the rename
	// race is fine because the content is digest-addressed.
	if err := os.Rename(tmpDir, layoutDir); err != nil {
		if _, statErr := os.Stat(layoutDir); statErr == nil {
			return nil
		}
		return fmt.Errorf("failed to move pulled image into cache: %w", err)
	}
	return nil
}

// UnpackLayers ensures the image's layer contents exist at targetDir. A
// digest marker written after a successful unpack makes repeat calls no-ops;
// a stale or missing marker clears the target and unpacks from scratch.
func (a *OCIArchive) UnpackLayers(ctx context.Context, targetDir string) error {
	markerPath := filepath.Join(targetDir, UnpackMarkerFile)
	if marker, err := os.ReadFile(markerPath); err == nil {
		if strings.TrimSpace(string(marker)) == a.digest.String() {
			logger.Debug().Str("target", targetDir).Msg("already unpacked, skipping")
			return nil
		}
	}

	if err := os.RemoveAll(targetDir); err != nil {
		return fmt.Errorf("failed to clean target directory %s: %w", targetDir, err)
	}
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return fmt.Errorf("failed to create target directory %s: %w", targetDir, err)
	}

	layers, err := a.layerDescriptors()
	if err != nil {
		return err
	}

	for _, layer := range layers {
		if err := a.applyLayer(layer, targetDir); err != nil {
			return fmt.Errorf("failed to apply layer %s: %w", layer.Digest, err)
		}
	}

	if err := os.WriteFile(markerPath, []byte(a.digest.String()+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write unpack marker: %w", err)
	}
	return nil
}

// layerDescriptors walks the cached layout (index.json -> manifest) and
// returns the image's layer descriptors in application order.
func (a *OCIArchive) layerDescriptors() ([]ocispec.Descriptor, error) {
	layoutDir := a.LayoutDir()

	indexData, err := os.ReadFile(filepath.Join(layoutDir, "index.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read layout index: %w", err)
	}
	var index ocispec.Index
	if err := json.Unmarshal(indexData, &index); err != nil {
		return nil, fmt.Errorf("failed to parse layout index: %w", err)
	}
	if len(index.Manifests) == 0 {
		return nil, fmt.Errorf("layout index for %s lists no manifests", a.URI())
	}

	manifestData, err := os.ReadFile(a.blobPath(index.Manifests[0].Digest))
	if err != nil {
		return nil, fmt.Errorf("failed to read image manifest: %w", err)
	}
	var manifest ocispec.Manifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse image manifest: %w", err)
	}

	return manifest.Layers, nil
}

func (a *OCIArchive) blobPath(dgst digest.Digest) string {
	return filepath.Join(a.LayoutDir(), "blobs", dgst.Algorithm().String(), dgst.Encoded())
}

// applyLayer streams one layer blob into targetDir, decompressing when the
// media type says the tar is gzipped.
func (a *OCIArchive) applyLayer(layer ocispec.Descriptor, targetDir string) error {
	blob, err := os.Open(a.blobPath(layer.Digest))
	if err != nil {
		return fmt.Errorf("failed to open layer blob: %w", err)
	}
	defer blob.Close()

	var reader io.Reader = blob
	if isGzipped(layer.MediaType) {
		gz, err := gzip.NewReader(blob)
		if err != nil {
			return fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	return extractTar(reader, targetDir)
}

// isGzipped covers both the OCI ("+gzip") and the legacy Docker (".gzip")
// layer media type spellings.
func isGzipped(mediaType string) bool {
	return strings.HasSuffix(mediaType, "+gzip") || strings.HasSuffix(mediaType, ".gzip")
}
