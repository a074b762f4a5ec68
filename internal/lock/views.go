package lock

import (
	"encoding/json"
	"fmt"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// ManifestListView is a typed view over a decoded OCI manifest list: the
// ordered per-platform manifest entries of a multi-architecture image.
// It is constructed from raw manifest bytes, consumed within one resolution,
// and never persisted.
type ManifestListView struct {
	Manifests []ocispec.Descriptor `json:"manifests"`
}

// ParseManifestList decodes raw manifest-list bytes. Entry order in the view
// equals entry order in the payload; the resolver depends on that.
func ParseManifestList(raw []byte) (*ManifestListView, error) {
	var view ManifestListView
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil, fmt.Errorf("failed to deserialize manifest list: %w", err)
	}
	return &view, nil
}

// FindManifest returns the entry whose platform architecture matches arch
// exactly, or false when no entry does.
func (v *ManifestListView) FindManifest(arch string) (ocispec.Descriptor, bool) {
	for _, desc := range v.Manifests {
		if desc.Platform != nil && desc.Platform.Architecture == arch {
			return desc, true
		}
	}
	return ocispec.Descriptor{}, false
}
