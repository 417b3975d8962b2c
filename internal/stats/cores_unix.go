//go:build !windows

package stats

import (
	"runtime"

	sysconf "github.com/tklauser/go-sysconf"
)

// onlineCores is the number of processors currently online, which can be
// lower than the configured count on hosts with hot-plugged CPUs.
func onlineCores() int {
	n, err := sysconf.Sysconf(sysconf.SC_NPROCESSORS_ONLN)
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return int(n)
}
