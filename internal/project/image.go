package project

import (
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
)

// RegistryOverrideEnv, when set, replaces the vendor registry in the URI a
// project image is queried at. The published source URI is unaffected, so
// lockfile entries always record the vendor's canonical address. Intended for
// local development against a registry mirror.
const RegistryOverrideEnv = "KITLOCK_REGISTRY"

// Image is a declared dependency on a vended kit or SDK image.
//
// The JSON shape doubles as the wire form used inside embedded kit metadata,
// where entries additionally carry the source URI and digest they were locked
// at. Declared references in project config leave those fields empty.
type Image struct {
	Name    Identifier      `json:"name" mapstructure:"name"`
	Version *semver.Version `json:"version" mapstructure:"version"`
	Vendor  Identifier      `json:"vendor" mapstructure:"vendor"`
	Source  string          `json:"source,omitempty" mapstructure:"source"`
	Digest  string          `json:"digest,omitempty" mapstructure:"digest"`
}

// Equal reports whether two declared images are the same reference.
func (i Image) Equal(other Image) bool {
	return i.Name == other.Name &&
		i.Vendor == other.Vendor &&
		i.Version.Equal(other.Version) &&
		i.Source == other.Source &&
		i.Digest == other.Digest
}

func (i Image) String() string {
	return ArtifactString(i)
}

// ArtifactName implements VendedArtifact.
func (i Image) ArtifactName() Identifier { return i.Name }

// ArtifactVendor implements VendedArtifact.
func (i Image) ArtifactVendor() Identifier { return i.Vendor }

// ArtifactVersion implements VendedArtifact.
func (i Image) ArtifactVersion() *semver.Version { return i.Version }

// Vendor is a source of vended artifacts: a registry images are published to.
type Vendor struct {
	Registry string `mapstructure:"registry"`
}

// ProjectImage is an Image bound to its vendor within a project, giving it
// concrete registry addresses.
type ProjectImage struct {
	image  Image
	vendor Vendor

	// registryOverride, when non-empty, replaces the vendor registry in
	// ProjectImageURI. Captured at bind time from RegistryOverrideEnv.
	registryOverride string
}

// BindImage binds a declared image to its vendor.
func BindImage(image Image, vendor Vendor) *ProjectImage {
	return &ProjectImage{
		image:            image,
		vendor:           vendor,
		registryOverride: os.Getenv(RegistryOverrideEnv),
	}
}

// Image returns the underlying declared reference.
func (p *ProjectImage) Image() Image { return p.image }

// OriginalSourceURI is the fully qualified published address of the image.
// This is what gets recorded as the source of a locked entry.
func (p *ProjectImage) OriginalSourceURI() string {
	return fmt.Sprintf("%s/%s:v%s", p.vendor.Registry, p.image.Name, p.image.Version)
}

// ProjectImageURI is the address the image is actually fetched from during
// resolution. It differs from OriginalSourceURI only when a registry override
// is in effect.
func (p *ProjectImage) ProjectImageURI() string {
	registry := p.vendor.Registry
	if p.registryOverride != "" {
		registry = p.registryOverride
	}
	return fmt.Sprintf("%s/%s:v%s", registry, p.image.Name, p.image.Version)
}

func (p *ProjectImage) String() string {
	return fmt.Sprintf("%s (%s)", ArtifactString(p), p.OriginalSourceURI())
}

// ArtifactName implements VendedArtifact.
func (p *ProjectImage) ArtifactName() Identifier { return p.image.Name }

// ArtifactVendor implements VendedArtifact.
func (p *ProjectImage) ArtifactVendor() Identifier { return p.image.Vendor }

// ArtifactVersion implements VendedArtifact.
func (p *ProjectImage) ArtifactVersion() *semver.Version { return p.image.Version }
