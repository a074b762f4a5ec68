package lock

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schmitthub/kitlock/internal/imagetool"
	"github.com/schmitthub/kitlock/internal/imagetool/imagetooltest"
	"github.com/schmitthub/kitlock/internal/project"
)

const (
	testRegistry = "registry.example/example"
	testRepo     = "example/core-kit"
	testURI      = "registry.example/example/core-kit:v2.0.0"
)

func testProjectImage(t *testing.T) *project.ProjectImage {
	t.Helper()
	img := project.Image{
		Name:    "core-kit",
		Version: mustVersion(t, "2.0.0"),
		Vendor:  "example",
	}
	return project.BindImage(img, project.Vendor{Registry: testRegistry})
}

func manifestListBytes(t *testing.T, entries ...ocispec.Descriptor) []byte {
	t.Helper()
	raw, err := json.Marshal(ManifestListView{Manifests: entries})
	require.NoError(t, err)
	return raw
}

// scriptKit scripts the fake tool with a manifest list for the test image
// and, per entry, a config whose label carries the given encoded metadata.
func scriptKit(t *testing.T, fake *imagetooltest.Fake, blobs ...EncodedKitMetadata) []ocispec.Descriptor {
	t.Helper()
	arches := []string{"amd64", "arm64", "armv7"}

	entries := make([]ocispec.Descriptor, len(blobs))
	for i, blob := range blobs {
		entries[i] = descriptorFor(arches[i%len(arches)], fmt.Sprintf("manifest-%d", i))
		uri := fmt.Sprintf("registry.example/%s@%s", testRepo, entries[i].Digest)
		fake.SetConfigLabels(uri, map[string]string{MetadataLabelKey: string(blob)})
	}
	fake.SetManifest(testURI, manifestListBytes(t, entries...))
	return entries
}

func TestLockedImageIdentity(t *testing.T) {
	a := &LockedImage{
		Name: "core-kit", Version: mustVersion(t, "2.0.0"), Vendor: "example",
		Source: "registry.example/example/core-kit:v2.0.0", Digest: "abc=",
	}

	// Same source+digest is the same artifact whatever the description says.
	b := &LockedImage{
		Name: "renamed", Version: mustVersion(t, "9.9.9"), Vendor: "other",
		Source: a.Source, Digest: a.Digest,
	}
	assert.True(t, a.Equal(b))
	assert.Zero(t, a.Compare(b))

	// Same description with a different digest is a different artifact.
	c := &LockedImage{
		Name: a.Name, Version: a.Version, Vendor: a.Vendor,
		Source: a.Source, Digest: "different=",
	}
	assert.False(t, a.Equal(c))
	assert.NotZero(t, a.Compare(c))
}

func TestLockedImageString(t *testing.T) {
	l := &LockedImage{
		Name: "core-kit", Version: mustVersion(t, "2.0.0"), Vendor: "example",
		Source: "registry.example/example/core-kit:v2.0.0", Digest: "abc=",
	}
	assert.Equal(t, "core-kit-2.0.0@example (registry.example/example/core-kit:v2.0.0)", l.String())
}

func TestResolveAllArchitecturesMatch(t *testing.T) {
	fake := imagetooltest.NewFake()
	metadata := testMetadata(t)
	encoded := mustEncode(t, metadata)
	entries := scriptKit(t, fake, encoded, encoded, encoded)

	locked, got, err := NewResolver(testProjectImage(t)).Resolve(context.Background(), fake)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Equal(metadata))

	assert.Equal(t, project.Identifier("core-kit"), locked.Name)
	assert.Equal(t, "2.0.0", locked.Version.String())
	assert.Equal(t, testURI, locked.Source)
	assert.NotEmpty(t, locked.Digest)

	// One config fetch per manifest entry, issued in list order.
	uris := fake.CallURIs("GetConfig")
	require.Len(t, uris, len(entries))
	for i, entry := range entries {
		assert.Contains(t, uris[i], entry.Digest.String())
	}
}

func TestResolveDigestDeterminism(t *testing.T) {
	fake := imagetooltest.NewFake()
	encoded := mustEncode(t, testMetadata(t))
	scriptKit(t, fake, encoded)

	resolver := NewResolver(testProjectImage(t))
	first, _, err := resolver.Resolve(context.Background(), fake)
	require.NoError(t, err)
	second, _, err := resolver.Resolve(context.Background(), fake)
	require.NoError(t, err)

	assert.Equal(t, first.Digest, second.Digest)
	assert.True(t, first.Equal(second))
}

func TestResolveDigestTracksManifestBytes(t *testing.T) {
	fake := imagetooltest.NewFake()
	encoded := mustEncode(t, testMetadata(t))
	scriptKit(t, fake, encoded)

	first, _, err := NewResolver(testProjectImage(t)).Resolve(context.Background(), fake)
	require.NoError(t, err)

	// Re-script with a different manifest list: digest must change.
	fake2 := imagetooltest.NewFake()
	scriptKit(t, fake2, encoded, encoded)
	second, _, err := NewResolver(testProjectImage(t)).Resolve(context.Background(), fake2)
	require.NoError(t, err)

	assert.NotEqual(t, first.Digest, second.Digest)
}

func TestResolveMetadataMismatchFails(t *testing.T) {
	fake := imagetooltest.NewFake()
	good := mustEncode(t, testMetadata(t))

	diverged := testMetadata(t)
	diverged.Kits = []project.Image{{Name: "sneaky-kit", Version: mustVersion(t, "1.0.0"), Vendor: "example"}}
	bad := mustEncode(t, diverged)

	scriptKit(t, fake, good, bad, good)

	_, _, err := NewResolver(testProjectImage(t)).Resolve(context.Background(), fake)
	require.Error(t, err)
	assert.True(t, errdefs.IsDataLoss(err))
	assert.Contains(t, err.Error(), "metadata does not match")

	// The mismatch at the second entry aborts before the third is fetched.
	fake.AssertCalls(t, "GetConfig", 2)
}

func TestResolveComparesDecodedValues(t *testing.T) {
	// Blobs that differ as strings but decode to equal metadata must pass
	// cross-architecture validation.
	fake := imagetooltest.NewFake()
	compact := mustEncode(t, testMetadata(t))

	raw, err := json.MarshalIndent(testMetadata(t), "", "  ")
	require.NoError(t, err)
	indented := EncodedKitMetadata(base64.StdEncoding.EncodeToString(raw))
	require.NotEqual(t, compact, indented)

	scriptKit(t, fake, compact, indented)

	_, metadata, err := NewResolver(testProjectImage(t)).Resolve(context.Background(), fake)
	require.NoError(t, err)
	assert.True(t, metadata.Equal(testMetadata(t)))
}

func TestResolveSkipMetadata(t *testing.T) {
	fake := imagetooltest.NewFake()
	scriptKit(t, fake, mustEncode(t, testMetadata(t)))

	locked, metadata, err := NewResolver(testProjectImage(t)).
		WithSkippedMetadata().
		Resolve(context.Background(), fake)
	require.NoError(t, err)
	assert.Nil(t, metadata)
	assert.NotEmpty(t, locked.Digest)

	// The skip path never fetches image configs.
	fake.AssertCalls(t, "GetConfig", 0)
}

func TestResolveDecodeFailureIsFatal(t *testing.T) {
	fake := imagetooltest.NewFake()
	good := mustEncode(t, testMetadata(t))
	scriptKit(t, fake, EncodedKitMetadata("!!! not base64 !!!"), good)

	_, _, err := NewResolver(testProjectImage(t)).Resolve(context.Background(), fake)
	require.Error(t, err)
	assert.True(t, errdefs.IsDataLoss(err))

	// No fallback to a later entry once the canonical decode fails.
	fake.AssertCalls(t, "GetConfig", 1)
}

func TestResolveLabelAbsent(t *testing.T) {
	fake := imagetooltest.NewFake()
	entry := descriptorFor("amd64", "manifest-0")
	fake.SetManifest(testURI, manifestListBytes(t, entry))
	fake.SetConfigLabels(fmt.Sprintf("registry.example/%s@%s", testRepo, entry.Digest),
		map[string]string{"unrelated": "label"})

	_, _, err := NewResolver(testProjectImage(t)).Resolve(context.Background(), fake)
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err))
	assert.False(t, errdefs.IsDataLoss(err))
}

func TestResolveEmptyManifestList(t *testing.T) {
	fake := imagetooltest.NewFake()
	fake.SetManifest(testURI, manifestListBytes(t))

	_, _, err := NewResolver(testProjectImage(t)).Resolve(context.Background(), fake)
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err))
	assert.Contains(t, err.Error(), "could not find metadata")
}

func TestResolveUnqualifiedRegistry(t *testing.T) {
	img := project.Image{Name: "core-kit", Version: mustVersion(t, "2.0.0"), Vendor: "example"}
	bound := project.BindImage(img, project.Vendor{Registry: "unqualified"})

	fake := imagetooltest.NewFake()
	_, _, err := NewResolver(bound).Resolve(context.Background(), fake)
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidArgument(err))
	assert.Contains(t, err.Error(), "no registry found")

	// The reference is rejected before any registry I/O happens.
	fake.AssertCalls(t, "GetManifest", 0)
}

func TestResolveRecordsOriginalSourceUnderOverride(t *testing.T) {
	t.Setenv(project.RegistryOverrideEnv, "localhost:5000")

	img := project.Image{Name: "core-kit", Version: mustVersion(t, "2.0.0"), Vendor: "example"}
	bound := project.BindImage(img, project.Vendor{Registry: testRegistry})

	fake := imagetooltest.NewFake()
	entry := descriptorFor("amd64", "manifest-0")
	fake.SetManifest("localhost:5000/core-kit:v2.0.0", manifestListBytes(t, entry))
	fake.SetConfigLabels(fmt.Sprintf("localhost:5000/core-kit@%s", entry.Digest),
		map[string]string{MetadataLabelKey: string(mustEncode(t, testMetadata(t)))})

	locked, _, err := NewResolver(bound).Resolve(context.Background(), fake)
	require.NoError(t, err)

	// Fetched from the override, recorded against the published source.
	assert.Equal(t, testURI, locked.Source)
}

func TestExtractIdempotent(t *testing.T) {
	dest := t.TempDir()
	fake := imagetooltest.NewFake()

	layer := testLayerTar(t, map[string]string{"etc/kit.conf": "kit=core\n"})
	layoutDigest := stageLayout(t, fake, layer)

	entry := ocispec.Descriptor{
		MediaType: ocispec.MediaTypeImageManifest,
		Digest:    layoutDigest,
		Platform:  &ocispec.Platform{Architecture: "amd64", OS: "linux"},
	}
	fake.SetManifest(testURI, manifestListBytes(t, entry))

	resolver := NewResolver(testProjectImage(t))
	require.NoError(t, resolver.Extract(context.Background(), fake, dest, imagetool.ArchAmd64))

	extracted := filepath.Join(dest, "example", "core-kit", "amd64", "etc", "kit.conf")
	content, err := os.ReadFile(extracted)
	require.NoError(t, err)
	assert.Equal(t, "kit=core\n", string(content))

	// A second extract performs no further pull and leaves content intact.
	require.NoError(t, resolver.Extract(context.Background(), fake, dest, imagetool.ArchAmd64))
	fake.AssertCalls(t, "Pull", 1)

	content, err = os.ReadFile(extracted)
	require.NoError(t, err)
	assert.Equal(t, "kit=core\n", string(content))
}

func TestExtractMissingArchitecture(t *testing.T) {
	fake := imagetooltest.NewFake()
	fake.SetManifest(testURI, manifestListBytes(t, descriptorFor("amd64", "manifest-0")))

	err := NewResolver(testProjectImage(t)).
		Extract(context.Background(), fake, t.TempDir(), imagetool.ArchArm64)
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err))
	assert.Contains(t, err.Error(), "could not find image for architecture 'arm64'")
}

// testLayerTar builds an in-memory tar stream from file name to content.
func testLayerTar(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Typeflag: tar.TypeReg,
			Mode:     0644,
			Size:     int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

// writeTestLayout materializes an OCI layout with one plain-tar layer at dir
// and returns the manifest digest.
func writeTestLayout(t *testing.T, dir string, layer []byte) digest.Digest {
	t.Helper()

	writeBlob := func(data []byte) digest.Digest {
		dgst := digest.FromBytes(data)
		blobDir := filepath.Join(dir, "blobs", dgst.Algorithm().String())
		require.NoError(t, os.MkdirAll(blobDir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(blobDir, dgst.Encoded()), data, 0644))
		return dgst
	}

	layerDigest := writeBlob(layer)

	manifest := ocispec.Manifest{
		MediaType: ocispec.MediaTypeImageManifest,
		Layers: []ocispec.Descriptor{{
			MediaType: ocispec.MediaTypeImageLayer,
			Digest:    layerDigest,
			Size:      int64(len(layer)),
		}},
	}
	manifestData, err := json.Marshal(manifest)
	require.NoError(t, err)
	manifestDigest := writeBlob(manifestData)

	index := ocispec.Index{
		MediaType: ocispec.MediaTypeImageIndex,
		Manifests: []ocispec.Descriptor{{
			MediaType: ocispec.MediaTypeImageManifest,
			Digest:    manifestDigest,
			Size:      int64(len(manifestData)),
		}},
	}
	indexData, err := json.Marshal(index)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.json"), indexData, 0644))

	layoutData, err := json.Marshal(ocispec.ImageLayout{Version: ocispec.ImageLayoutVersion})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ocispec.ImageLayoutFile), layoutData, 0644))

	return manifestDigest
}

// stageLayout scripts the fake's Pull to produce an OCI layout containing
// layer, and returns the layout's manifest digest. The layout build is
// deterministic, so the digest is computed from a scratch copy up front.
func stageLayout(t *testing.T, fake *imagetooltest.Fake, layer []byte) digest.Digest {
	t.Helper()
	manifestDigest := writeTestLayout(t, t.TempDir(), layer)
	fake.PullFn = func(_ context.Context, _, dest string) error {
		writeTestLayout(t, dest, layer)
		return nil
	}
	return manifestDigest
}
