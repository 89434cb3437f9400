// Package sysload reports system load as a percentage of available CPUs so
// the capture loop can back off while the game is starving for CPU.
package sysload

import (
	"errors"
	"runtime"
)

// ErrUnavailable is returned on platforms without a load average.
var ErrUnavailable = errors.New("load average unavailable")

// Percent returns the 1-minute load average divided by the CPU count, as a
// percentage. 100 means every core has one runnable task on average.
func Percent() (float64, error) {
	load, err := loadAvg1()
	if err != nil {
		return 0, err
	}
	return toPercent(load, runtime.NumCPU()), nil
}

func toPercent(load float64, cpus int) float64 {
	if cpus < 1 {
		cpus = 1
	}
	return load / float64(cpus) * 100
}
