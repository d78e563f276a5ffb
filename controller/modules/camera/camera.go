// Package camera captures the plant photo attached to each oracle request.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hydropi/hydropi/controller"
	"github.com/nfnt/resize"
	"go.uber.org/zap"
)

const (
	filePrefix = "webcam_"
	timeLayout = "20060102_150405"
)

type runner func(ctx context.Context, name string, args ...string) error

func execRunner(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

type Camera struct {
	cfg controller.CameraConfig
	run runner
	now func() time.Time
	log *zap.Logger
}

func New(cfg controller.CameraConfig, log *zap.Logger) *Camera {
	return &Camera{cfg: cfg, run: execRunner, now: time.Now, log: log.Named("camera")}
}

// Capture takes a new photo. When the capture fails, or leaves a file that
// does not decode, the newest readable photo on disk is used instead and
// marked stale.
func (c *Camera) Capture(ctx context.Context) (*controller.Image, error) {
	if err := os.MkdirAll(c.cfg.PhotoDir, 0755); err != nil {
		return nil, fmt.Errorf("camera: %w", err)
	}
	at := c.now()
	path := filepath.Join(c.cfg.PhotoDir, filePrefix+at.Format(timeLayout)+".jpg")

	err := c.shoot(ctx, path)
	if err == nil {
		var data []byte
		if data, err = c.prepare(path); err == nil {
			return newImage(path, at, data, false), nil
		}
	}
	if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
		c.log.Warn("Failed to remove broken capture", zap.String("path", path), zap.Error(rerr))
	}
	c.log.Warn("Capture failed, falling back to latest photo", zap.Error(err))

	photos, lerr := Photos(c.cfg.PhotoDir)
	if lerr != nil {
		return nil, errors.Join(err, lerr)
	}
	for _, p := range photos {
		data, perr := c.prepare(p)
		if perr != nil {
			c.log.Warn("Skipping unreadable photo", zap.String("path", p), zap.Error(perr))
			lerr = perr
			continue
		}
		if st, serr := os.Stat(p); serr == nil {
			at = st.ModTime()
		}
		return newImage(p, at, data, true), nil
	}
	return nil, errors.Join(err, lerr)
}

func newImage(path string, at time.Time, data []byte, stale bool) *controller.Image {
	return &controller.Image{
		Ref:      controller.ImageRef{Path: path, Bytes: len(data), Captured: at, Stale: stale},
		Data:     data,
		MIMEType: "image/jpeg",
	}
}

func (c *Camera) shoot(ctx context.Context, path string) error {
	if len(c.cfg.Command) == 0 {
		return errors.New("camera: no capture command configured")
	}
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	args := make([]string, 0, len(c.cfg.Command)-1)
	for _, a := range c.cfg.Command[1:] {
		args = append(args, strings.ReplaceAll(a, "{output}", path))
	}
	if err := c.run(ctx, c.cfg.Command[0], args...); err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("camera: capture produced no file: %w", err)
	}
	return nil
}

// prepare shrinks the photo to fit the configured bounds and re-encodes it.
func (c *Camera) prepare(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("camera: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("camera: decode %s: %w", path, err)
	}
	if c.cfg.MaxWidth > 0 && c.cfg.MaxHeight > 0 {
		img = resize.Thumbnail(c.cfg.MaxWidth, c.cfg.MaxHeight, img, resize.Lanczos3)
	}
	quality := c.cfg.Quality
	if quality <= 0 {
		quality = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("camera: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Photos lists the captured photos in dir, newest first.
func Photos(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, filePrefix+"*.jpg"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("camera: no previous photo in %s", dir)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))
	return files, nil
}
