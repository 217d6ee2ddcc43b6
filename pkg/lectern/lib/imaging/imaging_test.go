package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecode(t *testing.T) {
	data := encodePNG(t, 64, 32)

	img, err := Decode(bytes.NewReader(data), 0)
	require.NoError(t, err)

	bounds := img.Bounds()
	assert.Equal(t, 64, bounds.Dx())
	assert.Equal(t, 32, bounds.Dy())

	_, isNRGBA := img.(*image.NRGBA)
	assert.True(t, isNRGBA, "decoded images are normalized to NRGBA")
}

func TestDecodeDownscales(t *testing.T) {
	data := encodePNG(t, 200, 100)

	img, err := Decode(bytes.NewReader(data), 50)
	require.NoError(t, err)

	bounds := img.Bounds()
	assert.LessOrEqual(t, bounds.Dx(), 50)
	assert.LessOrEqual(t, bounds.Dy(), 50)
	// Aspect ratio preserved
	assert.Equal(t, 2, bounds.Dx()/bounds.Dy())
}

func TestDecodeInvalid(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("not an image")), 0)
	require.Error(t, err)
}

func TestEnsureRGB(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 10, 10))
	converted := EnsureRGB(gray)
	_, isNRGBA := converted.(*image.NRGBA)
	assert.True(t, isNRGBA)

	nrgba := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	assert.Same(t, image.Image(nrgba), EnsureRGB(nrgba))
}

func TestScanDir(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.png", "a.JPG", "notes.txt", "c.jpeg"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0o755))

	paths, err := ScanDir(dir, nil)
	require.NoError(t, err)

	require.Len(t, paths, 3)
	assert.Equal(t, filepath.Join(dir, "a.JPG"), paths[0])
	assert.Equal(t, filepath.Join(dir, "b.png"), paths[1])
	assert.Equal(t, filepath.Join(dir, "c.jpeg"), paths[2])
}

func TestScanDirMissing(t *testing.T) {
	_, err := ScanDir(filepath.Join(t.TempDir(), "nope"), nil)
	require.Error(t, err)
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.png")
	require.NoError(t, os.WriteFile(good, encodePNG(t, 8, 8), 0o644))

	bad := filepath.Join(dir, "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("garbage"), 0o644))

	images, loaded := LoadFiles([]string{good, bad, filepath.Join(dir, "missing.png")}, 0, zaptest.NewLogger(t))
	require.Len(t, images, 1)
	assert.Equal(t, []string{good}, loaded)
}
