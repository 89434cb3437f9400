//go:build windows

package screen

import apperrors "github.com/GriffinCanCode/lorelens/internal/errors"

// New reports that region capture is unavailable on Windows.
// TODO: implement with GDI BitBlt so areas can be polled without a helper tool.
func New() (Capturer, error) {
	return nil, apperrors.New(apperrors.ConfigMissing, "screen capture is not supported on windows; use the bridge")
}
