package project

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// VendedArtifact is the uniform identity view over anything that represents a
// publishable dependency: a declared image reference, a project-bound image,
// or a locked record. Display and lookup code can treat all of these
// interchangeably when only identity is needed.
type VendedArtifact interface {
	ArtifactName() Identifier
	ArtifactVendor() Identifier
	ArtifactVersion() *semver.Version
}

// ArtifactString renders the uniform display form of a vended artifact.
func ArtifactString(a VendedArtifact) string {
	return fmt.Sprintf("%s-%s@%s", a.ArtifactName(), a.ArtifactVersion(), a.ArtifactVendor())
}

// SameArtifact reports whether two vended artifacts have the same identity.
func SameArtifact(a, b VendedArtifact) bool {
	return a.ArtifactName() == b.ArtifactName() &&
		a.ArtifactVendor() == b.ArtifactVendor() &&
		a.ArtifactVersion().Equal(b.ArtifactVersion())
}
