//go:build darwin

package screen

import (
	"context"
	"fmt"
	"image"
	"os/exec"
)

type screencapture struct{}

func (screencapture) name() string { return "screencapture" }

// -x: silent, -R: region in points.
func (screencapture) command(ctx context.Context, r image.Rectangle, path string) *exec.Cmd {
	region := fmt.Sprintf("%d,%d,%d,%d", r.Min.X, r.Min.Y, r.Dx(), r.Dy())
	return exec.CommandContext(ctx, "screencapture", "-x", "-t", "png", "-R", region, path)
}

// New returns the macOS capturer.
func New() (Capturer, error) {
	return newToolCapturer(screencapture{})
}
