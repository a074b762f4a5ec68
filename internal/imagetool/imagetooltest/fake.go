// Package imagetooltest provides a function-field test double for
// imagetool.Tool.
//
// Configure behavior via the Fn fields; every call is recorded so tests can
// assert how many fetches the resolver issued (e.g. that the skip-metadata
// path issued no config fetches, or that a cached extract pulled nothing).
//
// Usage:
//
//	fake := imagetooltest.NewFake()
//	fake.SetManifest("registry.example/core-kit:v2.0.0", manifestBytes)
//	fake.SetConfigLabels("registry.example/core-kit@sha256:...", labels)
//	locked, meta, err := resolver.Resolve(ctx, fake)
//	fake.AssertCalls(t, "GetManifest", 1)
package imagetooltest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/containerd/errdefs"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Fake implements imagetool.Tool with scripted responses.
type Fake struct {
	mu sync.Mutex

	// GetManifestFn, GetConfigFn, and PullFn override the map-backed
	// defaults when non-nil.
	GetManifestFn func(ctx context.Context, uri string) ([]byte, error)
	GetConfigFn   func(ctx context.Context, uri string) (*ocispec.Image, error)
	PullFn        func(ctx context.Context, uri, dest string) error

	manifests map[string][]byte
	configs   map[string]*ocispec.Image

	// calls records method names in invocation order.
	calls []call
}

type call struct {
	method string
	uri    string
}

// NewFake returns an empty Fake. Unscripted URIs return not-found errors.
func NewFake() *Fake {
	return &Fake{
		manifests: make(map[string][]byte),
		configs:   make(map[string]*ocispec.Image),
	}
}

// SetManifest scripts the raw manifest bytes returned for uri.
func (f *Fake) SetManifest(uri string, raw []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manifests[uri] = raw
}

// SetConfig scripts the image config returned for uri.
func (f *Fake) SetConfig(uri string, config *ocispec.Image) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs[uri] = config
}

// SetConfigLabels scripts a config for uri carrying only the given labels.
func (f *Fake) SetConfigLabels(uri string, labels map[string]string) {
	f.SetConfig(uri, &ocispec.Image{
		Config: ocispec.ImageConfig{Labels: labels},
	})
}

// GetManifest implements imagetool.Tool.
func (f *Fake) GetManifest(ctx context.Context, uri string) ([]byte, error) {
	f.record("GetManifest", uri)
	if f.GetManifestFn != nil {
		return f.GetManifestFn(ctx, uri)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.manifests[uri]
	if !ok {
		return nil, fmt.Errorf("no manifest scripted for %s: %w", uri, errdefs.ErrNotFound)
	}
	return raw, nil
}

// GetConfig implements imagetool.Tool.
func (f *Fake) GetConfig(ctx context.Context, uri string) (*ocispec.Image, error) {
	f.record("GetConfig", uri)
	if f.GetConfigFn != nil {
		return f.GetConfigFn(ctx, uri)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	config, ok := f.configs[uri]
	if !ok {
		return nil, fmt.Errorf("no config scripted for %s: %w", uri, errdefs.ErrNotFound)
	}
	return config, nil
}

// Pull implements imagetool.Tool.
func (f *Fake) Pull(ctx context.Context, uri, dest string) error {
	f.record("Pull", uri)
	if f.PullFn != nil {
		return f.PullFn(ctx, uri, dest)
	}
	return nil
}

func (f *Fake) record(method, uri string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{method: method, uri: uri})
}

// Calls returns the number of recorded calls to method.
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.method == method {
			n++
		}
	}
	return n
}

// CallURIs returns the URIs passed to method, in invocation order.
func (f *Fake) CallURIs(method string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var uris []string
	for _, c := range f.calls {
		if c.method == method {
			uris = append(uris, c.uri)
		}
	}
	return uris
}

// AssertCalls fails the test unless method was called exactly want times.
func (f *Fake) AssertCalls(t *testing.T, method string, want int) {
	t.Helper()
	if got := f.Calls(method); got != want {
		t.Errorf("fake tool: %s called %d times, want %d", method, got, want)
	}
}
