//go:build !linux

package sysload

func loadAvg1() (float64, error) {
	return 0, ErrUnavailable
}
