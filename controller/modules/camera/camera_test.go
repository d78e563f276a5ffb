package camera

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hydropi/hydropi/controller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeJPEG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{G: 200, A: 255})
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, jpeg.Encode(f, img, nil))
}

func testCamera(t *testing.T, dir string) *Camera {
	cfg := controller.DefaultConfig().Camera
	cfg.PhotoDir = dir
	cfg.MaxWidth = 64
	cfg.MaxHeight = 64
	c := New(cfg, zap.NewNop())
	c.now = func() time.Time { return time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC) }
	return c
}

func TestCaptureResizes(t *testing.T) {
	dir := t.TempDir()
	c := testCamera(t, dir)
	var gotName string
	c.run = func(_ context.Context, name string, args ...string) error {
		gotName = name
		writeJPEG(t, args[len(args)-1], 320, 240)
		return nil
	}

	img, err := c.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fswebcam", gotName)
	assert.Equal(t, filepath.Join(dir, "webcam_20250601_103000.jpg"), img.Ref.Path)
	assert.False(t, img.Ref.Stale)
	assert.Equal(t, "image/jpeg", img.MIMEType)

	decoded, err := jpeg.Decode(bytes.NewReader(img.Data))
	require.NoError(t, err)
	assert.LessOrEqual(t, decoded.Bounds().Dx(), 64)
	assert.LessOrEqual(t, decoded.Bounds().Dy(), 64)
}

func TestCaptureFallsBackToLatest(t *testing.T) {
	dir := t.TempDir()
	writeJPEG(t, filepath.Join(dir, "webcam_20250601_080000.jpg"), 32, 32)
	writeJPEG(t, filepath.Join(dir, "webcam_20250601_090000.jpg"), 32, 32)
	c := testCamera(t, dir)
	c.run = func(context.Context, string, ...string) error { return errors.New("no video device") }

	img, err := c.Capture(context.Background())
	require.NoError(t, err)
	assert.True(t, img.Ref.Stale)
	assert.Equal(t, filepath.Join(dir, "webcam_20250601_090000.jpg"), img.Ref.Path)
}

func TestCaptureFailsWithoutAnyPhoto(t *testing.T) {
	c := testCamera(t, t.TempDir())
	c.run = func(context.Context, string, ...string) error { return errors.New("no video device") }

	_, err := c.Capture(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no video device")
	assert.Contains(t, err.Error(), "no previous photo")
}

func TestCaptureDiscardsPartialFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "webcam_20250601_090000.jpg")
	writeJPEG(t, good, 32, 32)
	c := testCamera(t, dir)
	c.run = func(_ context.Context, _ string, args ...string) error {
		require.NoError(t, os.WriteFile(args[len(args)-1], []byte("partial"), 0644))
		return errors.New("device busy")
	}

	img, err := c.Capture(context.Background())
	require.NoError(t, err)
	assert.True(t, img.Ref.Stale)
	assert.Equal(t, good, img.Ref.Path)
	assert.NoFileExists(t, filepath.Join(dir, "webcam_20250601_103000.jpg"))
}

func TestCaptureUndecodableFallsBack(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "webcam_20250601_080000.jpg")
	writeJPEG(t, good, 32, 32)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "webcam_20250601_090000.jpg"), []byte("truncated"), 0644))
	c := testCamera(t, dir)
	c.run = func(_ context.Context, _ string, args ...string) error {
		return os.WriteFile(args[len(args)-1], []byte("garbage"), 0644)
	}

	img, err := c.Capture(context.Background())
	require.NoError(t, err)
	assert.True(t, img.Ref.Stale)
	assert.Equal(t, good, img.Ref.Path, "skips unreadable photos newest first")
	assert.NoFileExists(t, filepath.Join(dir, "webcam_20250601_103000.jpg"))
}

func TestPhotosNewestFirst(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"webcam_20250601_090000.jpg", "webcam_20250531_230000.jpg", "webcam_20250601_100000.jpg", "other.jpg"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0644))
	}
	photos, err := Photos(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "webcam_20250601_100000.jpg"),
		filepath.Join(dir, "webcam_20250601_090000.jpg"),
		filepath.Join(dir, "webcam_20250531_230000.jpg"),
	}, photos)
}
