package lock

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/containerd/errdefs"

	"github.com/schmitthub/kitlock/internal/imagetool"
	"github.com/schmitthub/kitlock/internal/logger"
	"github.com/schmitthub/kitlock/internal/project"
)

// MetadataLabelKey is the well-known image config label carrying a kit's
// encoded dependency metadata.
const MetadataLabelKey = "dev.kitlock.kit.v1"

// ImageMetadata is the declarative dependency manifest embedded in a kit
// image: the kit's own identity, its single SDK dependency, and its dependent
// kits. The JSON field names are the wire format of the config label blob.
type ImageMetadata struct {
	// Name is the name of the kit.
	Name string `json:"name"`
	// Version is the version of the kit.
	Version *semver.Version `json:"version"`
	// SDK is the kit's required build toolchain image.
	SDK project.Image `json:"sdk"`
	// Kits are the dependent kit images.
	Kits []project.Image `json:"kit"`
}

// Equal compares metadata by semantic value. This is the comparison used for
// cross-architecture validation: two label blobs that differ only in
// whitespace or field order decode to equal metadata.
func (m *ImageMetadata) Equal(other *ImageMetadata) bool {
	if m == nil || other == nil {
		return m == other
	}
	if m.Name != other.Name || !m.Version.Equal(other.Version) || !m.SDK.Equal(other.SDK) {
		return false
	}
	if len(m.Kits) != len(other.Kits) {
		return false
	}
	for i := range m.Kits {
		if !m.Kits[i].Equal(other.Kits[i]) {
			return false
		}
	}
	return true
}

// Encode serializes the metadata into its label blob form.
func (m *ImageMetadata) Encode() (EncodedKitMetadata, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to serialize kit metadata: %w", err)
	}
	return EncodedKitMetadata(base64.StdEncoding.EncodeToString(raw)), nil
}

// EncodedKitMetadata is the base64-encoded JSON blob embedded in a kit
// image's config label. Equality is on the raw encoded string; semantic
// comparison requires decoding into ImageMetadata first.
type EncodedKitMetadata string

// MetadataFromImage reads the kit metadata label from the image configuration
// at uri. A configuration without the label is a not-found class failure: the
// image is not a kit.
func MetadataFromImage(ctx context.Context, uri string, tool imagetool.Tool) (EncodedKitMetadata, error) {
	logger.Debug().Str("image_uri", uri).Msg("extracting kit metadata from OCI image config")

	config, err := tool.GetConfig(ctx, uri)
	if err != nil {
		return "", fmt.Errorf("failed to fetch image config for %s: %w", uri, err)
	}

	encoded, ok := config.Config.Labels[MetadataLabelKey]
	if !ok {
		return "", fmt.Errorf("no metadata stored on image %s, this image appears to not be a kit: %w",
			uri, errdefs.ErrNotFound)
	}

	metadata := EncodedKitMetadata(encoded)
	logger.Debug().Str("image_uri", uri).Stringer("kit_metadata", metadata).
		Msg("kit metadata retrieved from image config")
	return metadata, nil
}

// Decode strictly decodes the blob into ImageMetadata. Both failure stages
// (base64, JSON shape) surface as integrity errors, distinguished by message.
func (e EncodedKitMetadata) Decode() (*ImageMetadata, error) {
	raw, err := base64.StdEncoding.DecodeString(string(e))
	if err != nil {
		return nil, fmt.Errorf("failed to decode kit metadata as base64: %w: %w", err, errdefs.ErrDataLoss)
	}

	var metadata ImageMetadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse kit metadata json: %w: %w", err, errdefs.ErrDataLoss)
	}
	return &metadata, nil
}

// DebugImageMetadata attempts to render the decoded metadata for diagnostics.
// It reports false on any decode failure and never returns an error.
func (e EncodedKitMetadata) DebugImageMetadata() (string, bool) {
	metadata, err := e.Decode()
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("<ImageMetadata(decoded) [%+v]>", *metadata), true
}

// String renders the decoded metadata when possible and falls back to the raw
// encoded form. Infallible; used only for diagnostic output.
func (e EncodedKitMetadata) String() string {
	if s, ok := e.DebugImageMetadata(); ok {
		return s
	}
	return fmt.Sprintf("<ImageMetadata(encoded) [%s]>", strings.ReplaceAll(string(e), "\n", "\\n"))
}
