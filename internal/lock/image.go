// Package lock resolves declared kit image dependencies into verifiable,
// content-addressed lockfile entries and materializes locked images on disk.
//
// All registry I/O is delegated to the imagetool collaborator; this package
// owns data integrity, ordering, and failure semantics. Resolution of one
// image is strictly sequential: manifest entries are processed in list order,
// one in-flight fetch at a time, and the first entry's metadata is canonical.
//
// Nothing here synchronizes concurrent resolution or extraction of the same
// image. Callers running the same image concurrently can observe duplicate
// pulls or a torn extraction; serialize per image if that matters.
package lock

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/containerd/errdefs"
	"github.com/distribution/reference"

	"github.com/schmitthub/kitlock/internal/archive"
	"github.com/schmitthub/kitlock/internal/imagetool"
	"github.com/schmitthub/kitlock/internal/logger"
	"github.com/schmitthub/kitlock/internal/project"
)

// LockedImage is a resolved dependency on an image: the declared identity
// plus the content address it resolved to.
//
// Identity is the (Source, Digest) pair alone. Name, version, and vendor are
// descriptive bookkeeping carried along for display and lookup; they are
// deliberately excluded from Equal and Compare so that a re-recorded entry
// with identical content is the same artifact however it was described.
type LockedImage struct {
	// Name is the name of the dependency.
	Name project.Identifier `json:"name"`
	// Version is the version of the dependency.
	Version *semver.Version `json:"version"`
	// Vendor is the vendor this dependency came from.
	Vendor project.Identifier `json:"vendor"`
	// Source is the resolved image uri of the dependency.
	Source string `json:"source"`
	// Digest is the digest of the image.
	Digest string `json:"digest"`
}

// Equal reports whether two locked entries address the same content.
func (l *LockedImage) Equal(other *LockedImage) bool {
	if l == nil || other == nil {
		return l == other
	}
	return l.Source == other.Source && l.Digest == other.Digest
}

// Compare orders locked entries by (Source, Digest).
func (l *LockedImage) Compare(other *LockedImage) int {
	if c := strings.Compare(l.Source, other.Source); c != 0 {
		return c
	}
	return strings.Compare(l.Digest, other.Digest)
}

func (l *LockedImage) String() string {
	return fmt.Sprintf("%s-%s@%s (%s)", l.Name, l.Version, l.Vendor, l.Source)
}

// ArtifactName implements project.VendedArtifact.
func (l *LockedImage) ArtifactName() project.Identifier { return l.Name }

// ArtifactVendor implements project.VendedArtifact.
func (l *LockedImage) ArtifactVendor() project.Identifier { return l.Vendor }

// ArtifactVersion implements project.VendedArtifact.
func (l *LockedImage) ArtifactVersion() *semver.Version { return l.Version }

// MarshalYAML renders the locked entry with the version as a plain string,
// keeping the lockfile stable and human-diffable.
func (l LockedImage) MarshalYAML() (interface{}, error) {
	return lockedImageYAML{
		Name:    l.Name.String(),
		Version: l.Version.String(),
		Vendor:  l.Vendor.String(),
		Source:  l.Source,
		Digest:  l.Digest,
	}, nil
}

// UnmarshalYAML parses the string form written by MarshalYAML.
func (l *LockedImage) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var aux lockedImageYAML
	if err := unmarshal(&aux); err != nil {
		return err
	}

	name, err := project.NewIdentifier(aux.Name)
	if err != nil {
		return err
	}
	vendor, err := project.NewIdentifier(aux.Vendor)
	if err != nil {
		return err
	}
	version, err := semver.StrictNewVersion(aux.Version)
	if err != nil {
		return fmt.Errorf("invalid locked version %q: %w", aux.Version, err)
	}

	*l = LockedImage{
		Name:    name,
		Version: version,
		Vendor:  vendor,
		Source:  aux.Source,
		Digest:  aux.Digest,
	}
	return nil
}

type lockedImageYAML struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Vendor  string `yaml:"vendor"`
	Source  string `yaml:"source"`
	Digest  string `yaml:"digest"`
}

// Resolver resolves and extracts one project-bound image.
type Resolver struct {
	image        *project.ProjectImage
	skipMetadata bool
}

// NewResolver creates a resolver for the given project image.
func NewResolver(image *project.ProjectImage) *Resolver {
	return &Resolver{image: image}
}

// WithSkippedMetadata skips metadata retrieval when resolving. Used for SDK
// images, which are leaves and carry no kit metadata.
func (r *Resolver) WithSkippedMetadata() *Resolver {
	r.skipMetadata = true
	return r
}

// registryAndRepo splits a fully qualified image URI into its registry and
// repository. An unqualified URI is a reference error: resolution requires a
// concrete registry.
func registryAndRepo(uri string) (string, string, error) {
	named, err := reference.ParseNamed(uri)
	if err != nil {
		return "", "", fmt.Errorf("no registry found for image %q: %w: %w",
			uri, err, errdefs.ErrInvalidArgument)
	}
	return reference.Domain(named), reference.Path(named), nil
}

// calculateDigest computes the locked digest of the whole multi-architecture
// artifact: SHA-256 over the raw manifest-list bytes, base64-encoded. Two
// images are the same locked dependency iff their manifest lists are
// byte-identical.
func calculateDigest(raw []byte) string {
	sum := sha256.Sum256(raw)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Resolve fetches the image's manifest list, computes its content address,
// and — unless metadata retrieval is skipped — extracts and cross-validates
// the embedded kit metadata across every architecture.
//
// Metadata is fetched per manifest entry in list order. The first entry is
// canonical; every later entry must decode to equal metadata or resolution
// fails wholesale. A kit whose architectures declare different dependencies
// is a packaging defect, not a supported configuration.
func (r *Resolver) Resolve(ctx context.Context, tool imagetool.Tool) (*LockedImage, *ImageMetadata, error) {
	uri := r.image.ProjectImageURI()

	registry, repo, err := registryAndRepo(uri)
	if err != nil {
		return nil, nil, err
	}

	raw, err := tool.GetManifest(ctx, uri)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch manifest list for %s: %w", uri, err)
	}
	manifestList, err := ParseManifestList(raw)
	if err != nil {
		return nil, nil, err
	}

	digest := calculateDigest(raw)
	logger.Debug().Str("image_uri", uri).Str("digest", digest).
		Msg("calculated digest for locked image")

	locked := &LockedImage{
		Name:    r.image.ArtifactName(),
		Version: r.image.ArtifactVersion(),
		Vendor:  r.image.ArtifactVendor(),
		// The source is the published uri, not the (possibly overridden)
		// uri the manifest was fetched from.
		Source: r.image.OriginalSourceURI(),
		Digest: digest,
	}

	if r.skipMetadata {
		return locked, nil, nil
	}

	logger.Debug().Stringer("image", r.image).Msg("extracting kit metadata from OCI image")

	// The first entry's metadata is canonical; all subsequent entries must
	// decode to the same value. Fetches are sequential and in list order so
	// "canonical" is deterministic.
	var canonical *ImageMetadata
	for _, manifest := range manifestList.Manifests {
		imageURI := fmt.Sprintf("%s/%s@%s", registry, repo, manifest.Digest)

		encoded, err := MetadataFromImage(ctx, imageURI, tool)
		if err != nil {
			return nil, nil, err
		}
		metadata, err := encoded.Decode()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decode and parse kit metadata for %s: %w", imageURI, err)
		}

		if canonical == nil {
			canonical = metadata
			continue
		}
		if !metadata.Equal(canonical) {
			logger.Error().
				Str("image_uri", imageURI).
				Stringer("kit_metadata", encoded).
				Msg("mismatched kit metadata in manifest list")
			return nil, nil, fmt.Errorf("metadata does not match between images in manifest list for %s: %w",
				uri, errdefs.ErrDataLoss)
		}
	}
	if canonical == nil {
		return nil, nil, fmt.Errorf("could not find metadata for kit %s: %w", uri, errdefs.ErrNotFound)
	}

	return locked, canonical, nil
}

// Extract materializes the image for one architecture under path. The target
// directory is scoped by vendor/name/architecture and shares a cache
// directory with other extractions; both steps behind the archive
// collaborator are idempotent, so Extract is safe to call repeatedly.
func (r *Resolver) Extract(ctx context.Context, tool imagetool.Tool, path string, arch imagetool.Architecture) error {
	logger.Info().
		Stringer("kit", r.image.ArtifactName()).
		Str("path", path).
		Msg("extracting kit")

	targetPath := filepath.Join(path,
		r.image.ArtifactVendor().String(),
		r.image.ArtifactName().String(),
		arch.String())
	cachePath := filepath.Join(path, "cache")

	if err := os.MkdirAll(targetPath, 0755); err != nil {
		return fmt.Errorf("failed to create target directory %s: %w", targetPath, err)
	}
	if err := os.MkdirAll(cachePath, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory %s: %w", cachePath, err)
	}

	uri := r.image.ProjectImageURI()
	registry, repo, err := registryAndRepo(uri)
	if err != nil {
		return err
	}

	raw, err := tool.GetManifest(ctx, uri)
	if err != nil {
		return fmt.Errorf("failed to fetch manifest list for %s: %w", uri, err)
	}
	manifestList, err := ParseManifestList(raw)
	if err != nil {
		return err
	}

	manifest, ok := manifestList.FindManifest(arch.String())
	if !ok {
		return fmt.Errorf("could not find image for architecture '%s' at %s: %w",
			arch, uri, errdefs.ErrNotFound)
	}

	ociArchive, err := archive.NewOCIArchive(registry, repo, manifest.Digest.String(), cachePath)
	if err != nil {
		return err
	}

	// Checks for the saved image locally, or else pulls and saves it.
	if err := ociArchive.PullImage(ctx, tool); err != nil {
		return err
	}

	// Checks if this archive has already been unpacked via a digest marker,
	// otherwise cleans up the path and unpacks the layers.
	return ociArchive.UnpackLayers(ctx, targetPath)
}
