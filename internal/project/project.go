// Package project models a kitlock project: its declared kit and SDK image
// dependencies, the vendors they come from, and the configuration file that
// declares them.
package project

import (
	"fmt"

	"github.com/containerd/errdefs"
)

// Project is a loaded kitlock.yaml: the declared SDK, kit dependencies, and
// the vendors they are published by.
type Project struct {
	SchemaVersion  int               `mapstructure:"schema-version"`
	ReleaseVersion string            `mapstructure:"release-version"`
	Vendors        map[string]Vendor `mapstructure:"vendor"`
	SDK            Image             `mapstructure:"sdk"`
	Kits           []Image           `mapstructure:"kit"`

	dir string
}

// SupportedSchemaVersion is the only project schema version this build
// understands.
const SupportedSchemaVersion = 1

// Dir returns the directory the project was loaded from.
func (p *Project) Dir() string {
	return p.dir
}

// VendorFor returns the vendor a declared image is published by.
func (p *Project) VendorFor(image Image) (Vendor, error) {
	vendor, ok := p.Vendors[image.Vendor.String()]
	if !ok {
		return Vendor{}, fmt.Errorf("image %s references undeclared vendor %q: %w",
			image, image.Vendor, errdefs.ErrInvalidArgument)
	}
	return vendor, nil
}

// Bind binds a declared image to its vendor, producing concrete URIs.
func (p *Project) Bind(image Image) (*ProjectImage, error) {
	vendor, err := p.VendorFor(image)
	if err != nil {
		return nil, err
	}
	return BindImage(image, vendor), nil
}

// BoundSDK returns the project's SDK image bound to its vendor.
func (p *Project) BoundSDK() (*ProjectImage, error) {
	return p.Bind(p.SDK)
}

// BoundKits returns every declared kit bound to its vendor, in declaration
// order.
func (p *Project) BoundKits() ([]*ProjectImage, error) {
	images := make([]*ProjectImage, 0, len(p.Kits))
	for _, kit := range p.Kits {
		bound, err := p.Bind(kit)
		if err != nil {
			return nil, err
		}
		images = append(images, bound)
	}
	return images, nil
}

// FindKit returns the declared kit with the given name.
func (p *Project) FindKit(name Identifier) (Image, error) {
	for _, kit := range p.Kits {
		if kit.Name == name {
			return kit, nil
		}
	}
	return Image{}, fmt.Errorf("project declares no kit named %q: %w", name, errdefs.ErrNotFound)
}

// validate checks structural invariants after loading.
func (p *Project) validate() error {
	if p.SchemaVersion != SupportedSchemaVersion {
		return fmt.Errorf("unsupported schema version %d, expected %d: %w",
			p.SchemaVersion, SupportedSchemaVersion, errdefs.ErrInvalidArgument)
	}
	if p.SDK.Name == "" {
		return fmt.Errorf("project declares no sdk: %w", errdefs.ErrInvalidArgument)
	}
	if _, err := p.VendorFor(p.SDK); err != nil {
		return err
	}
	for _, kit := range p.Kits {
		if _, err := p.VendorFor(kit); err != nil {
			return err
		}
	}
	return nil
}
