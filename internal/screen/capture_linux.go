//go:build linux

package screen

import (
	"context"
	"fmt"
	"image"
	"os/exec"

	apperrors "github.com/GriffinCanCode/lorelens/internal/errors"
)

type scrot struct{}

func (scrot) name() string { return "scrot" }

func (scrot) command(ctx context.Context, r image.Rectangle, path string) *exec.Cmd {
	region := fmt.Sprintf("%d,%d,%d,%d", r.Min.X, r.Min.Y, r.Dx(), r.Dy())
	return exec.CommandContext(ctx, "scrot", "-o", "-a", region, path)
}

// imagemagick's import, for systems without scrot.
type magickImport struct{}

func (magickImport) name() string { return "import" }

func (magickImport) command(ctx context.Context, r image.Rectangle, path string) *exec.Cmd {
	crop := fmt.Sprintf("%dx%d+%d+%d", r.Dx(), r.Dy(), r.Min.X, r.Min.Y)
	return exec.CommandContext(ctx, "import", "-window", "root", "-crop", crop, path)
}

// New returns a capturer backed by scrot, or import as a fallback.
func New() (Capturer, error) {
	if _, err := exec.LookPath("scrot"); err == nil {
		return newToolCapturer(scrot{})
	}
	if _, err := exec.LookPath("import"); err == nil {
		return newToolCapturer(magickImport{})
	}
	return nil, apperrors.New(apperrors.ConfigMissing, "no screenshot tool found (install scrot or imagemagick)")
}
