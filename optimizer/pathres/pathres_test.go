package pathres

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dodogabrie/space-media-optimizer/optimizer/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputExtension(t *testing.T) {
	tests := []struct {
		name string
		path string
		webp bool
		want string
	}{
		{"JPEGPreserved", "/in/photo.jpg", false, "jpg"},
		{"PNGPreserved", "/in/icon.png", false, "png"},
		{"CasePreserved", "/in/photo.JPG", false, "JPG"},
		{"ImageToWebP", "/in/photo.jpg", true, "webp"},
		{"PNGToWebP", "/in/icon.png", true, "webp"},
		{"VideoAlwaysMP4", "/in/clip.mov", false, "mp4"},
		{"VideoIgnoresWebP", "/in/clip.mkv", true, "mp4"},
		{"NoExtensionFallback", "/in/noext", false, "jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.RunConfig{ConvertToWebP: tt.webp}
			assert.Equal(t, tt.want, OutputExtension(tt.path, cfg))
		})
	}
}

func TestResolveInPlace(t *testing.T) {
	cfg := &config.RunConfig{}

	got, err := Resolve("/photos/2024/img.png", "/photos", cfg)
	require.NoError(t, err)
	assert.Equal(t, "/photos/2024/img.png", got)

	cfg.ConvertToWebP = true
	got, err = Resolve("/photos/2024/img.png", "/photos", cfg)
	require.NoError(t, err)
	assert.Equal(t, "/photos/2024/img.webp", got)

	got, err = Resolve("/photos/clip.avi", "/photos", cfg)
	require.NoError(t, err)
	assert.Equal(t, "/photos/clip.mp4", got)
}

// realTree builds input and output roots on disk so canonicalization has
// something to resolve.
func realTree(t *testing.T) (inRoot, outRoot string) {
	t.Helper()
	base := t.TempDir()
	inRoot = filepath.Join(base, "in")
	outRoot = filepath.Join(base, "out")
	require.NoError(t, os.MkdirAll(filepath.Join(inRoot, "vacation", "day1"), 0o755))
	require.NoError(t, os.MkdirAll(outRoot, 0o755))
	return inRoot, outRoot
}

func TestResolveOutputMirrorsTree(t *testing.T) {
	inRoot, outRoot := realTree(t)
	cfg := &config.RunConfig{OutputDir: outRoot}

	got, err := Resolve(filepath.Join(inRoot, "vacation", "day1", "img.jpg"), inRoot, cfg)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outRoot, "vacation", "day1", "img.jpg"), got)

	// file directly at the root lands directly in the output root
	got, err = Resolve(filepath.Join(inRoot, "img.jpg"), inRoot, cfg)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outRoot, "img.jpg"), got)
}

func TestResolveOutputConversion(t *testing.T) {
	inRoot, outRoot := realTree(t)
	cfg := &config.RunConfig{OutputDir: outRoot, ConvertToWebP: true}

	got, err := Resolve(filepath.Join(inRoot, "vacation", "img.png"), inRoot, cfg)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outRoot, "vacation", "img.webp"), got)

	got, err = Resolve(filepath.Join(inRoot, "vacation", "clip.webm"), inRoot, cfg)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outRoot, "vacation", "clip.mp4"), got)
}

func TestResolveEscapingInputFallsBack(t *testing.T) {
	inRoot, outRoot := realTree(t)
	cfg := &config.RunConfig{OutputDir: outRoot}

	// input outside the declared root keeps only its parent directory name
	outside := filepath.Join(filepath.Dir(inRoot), "elsewhere", "img.jpg")
	got, err := Resolve(outside, inRoot, cfg)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outRoot, "elsewhere", "img.jpg"), got)
}

func TestResolveInvalidName(t *testing.T) {
	cfg := &config.RunConfig{}
	_, err := Resolve("/photos/.hidden", "/photos", cfg)
	assert.Error(t, err)
}
