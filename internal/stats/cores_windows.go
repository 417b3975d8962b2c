//go:build windows

package stats

import "runtime"

func onlineCores() int { return runtime.NumCPU() }
