package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/containerd/errdefs"
	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/schmitthub/kitlock/internal/project"
)

// LockFileName is the lockfile name within a project directory.
const LockFileName = "kitlock.lock"

// Lock is the persisted resolution of a project's declared dependencies: one
// locked entry per declared image, pinning it to exact content.
type Lock struct {
	// SchemaVersion matches the project schema the lockfile was written for.
	SchemaVersion int `yaml:"schema-version"`
	// SDK is the locked build toolchain image.
	SDK LockedImage `yaml:"sdk"`
	// Kits are the locked kit dependencies, in declaration order.
	Kits []LockedImage `yaml:"kit"`
}

// LoadLock reads the lockfile from a project directory.
func LoadLock(dir string) (*Lock, error) {
	path := filepath.Join(dir, LockFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no lockfile at %s, run resolve first: %w", path, errdefs.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read lockfile %s: %w", path, err)
	}

	var l Lock
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to parse lockfile %s: %w", path, err)
	}
	return &l, nil
}

// Save writes the lockfile into a project directory. The write is guarded by
// an advisory file lock: independent kitlock invocations share the one
// lockfile even though resolution itself never synchronizes.
func (l *Lock) Save(dir string) error {
	path := filepath.Join(dir, LockFileName)

	fileLock := flock.New(path + ".flock")
	if err := fileLock.Lock(); err != nil {
		return fmt.Errorf("failed to lock %s for writing: %w", path, err)
	}
	defer fileLock.Unlock()

	data, err := yaml.Marshal(l)
	if err != nil {
		return fmt.Errorf("failed to serialize lockfile: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write lockfile %s: %w", path, err)
	}
	return nil
}

// FindImage looks up the locked entry recorded for a declared artifact.
func (l *Lock) FindImage(artifact project.VendedArtifact) (*LockedImage, error) {
	if project.SameArtifact(&l.SDK, artifact) {
		return &l.SDK, nil
	}
	for i := range l.Kits {
		if project.SameArtifact(&l.Kits[i], artifact) {
			return &l.Kits[i], nil
		}
	}
	return nil, fmt.Errorf("no locked image for %s: %w", project.ArtifactString(artifact), errdefs.ErrNotFound)
}
