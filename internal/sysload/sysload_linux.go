//go:build linux

package sysload

import "golang.org/x/sys/unix"

// Sysinfo load figures are fixed point with 16 fractional bits.
const loadScale = 1 << 16

func loadAvg1() (float64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, err
	}
	return float64(info.Loads[0]) / loadScale, nil
}
