package imagetool

import (
	"fmt"

	"github.com/containerd/errdefs"
)

// Architecture is a target architecture in its OCI platform spelling.
type Architecture string

const (
	ArchAmd64 Architecture = "amd64"
	ArchArm64 Architecture = "arm64"
)

// ParseArchitecture normalizes an architecture name. Both the OCI spellings
// and the kernel spellings (x86_64, aarch64) are accepted.
func ParseArchitecture(s string) (Architecture, error) {
	switch s {
	case "amd64", "x86_64":
		return ArchAmd64, nil
	case "arm64", "aarch64":
		return ArchArm64, nil
	default:
		return "", fmt.Errorf("unsupported architecture %q: %w", s, errdefs.ErrInvalidArgument)
	}
}

func (a Architecture) String() string {
	return string(a)
}
