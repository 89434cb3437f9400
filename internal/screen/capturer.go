// Package screen grabs rectangular regions of the display by shelling out
// to the platform's screenshot tool and decoding the PNG it writes.
package screen

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"

	apperrors "github.com/GriffinCanCode/lorelens/internal/errors"
)

// Capturer grabs screen regions.
type Capturer interface {
	Grab(ctx context.Context, r image.Rectangle) (image.Image, error)
	Close() error
}

// backend builds the command that writes region r to path as PNG.
type backend interface {
	name() string
	command(ctx context.Context, r image.Rectangle, path string) *exec.Cmd
}

// toolCapturer runs a backend's screenshot command into a private temp dir.
type toolCapturer struct {
	backend
	tempDir string
	seq     atomic.Uint64
}

func newToolCapturer(b backend) (*toolCapturer, error) {
	dir, err := os.MkdirTemp("", "lorelens-screen-*")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Internal, "create screenshot dir")
	}
	return &toolCapturer{backend: b, tempDir: dir}, nil
}

// Grab captures r and decodes it. Each call uses its own file so concurrent
// grabs of different areas do not clobber each other.
func (c *toolCapturer) Grab(ctx context.Context, r image.Rectangle) (image.Image, error) {
	if r.Empty() {
		return nil, apperrors.Newf(apperrors.InvalidArgument, "empty region %v", r)
	}
	path := filepath.Join(c.tempDir, fmt.Sprintf("grab-%d.png", c.seq.Add(1)))
	defer os.Remove(path)

	cmd := c.command(ctx, r, path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CaptureFailed, "%s: %s", c.name(), bytes.TrimSpace(stderr.Bytes()))
	}
	return decodePNG(path)
}

func decodePNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CaptureFailed, "read screenshot")
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CaptureFailed, "decode screenshot")
	}
	return img, nil
}

func (c *toolCapturer) Close() error {
	return os.RemoveAll(c.tempDir)
}
