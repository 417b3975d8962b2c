//go:build !windows

package pty

import (
	"io"
	"os"
	"os/exec"
	"syscall"

	cpty "github.com/creack/pty"
)

func start(cmd *exec.Cmd, s Spec) (io.Reader, io.Writer, func() error, error) {
	rows, cols := s.size()
	// StartWithSize puts the child in its own session, so its pid is also its process group id.
	tty, err := cpty.StartWithSize(cmd, &cpty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return nil, nil, nil, err
	}
	return tty, tty, tty.Close, nil
}

func killTree(p *os.Process) error {
	if err := syscall.Kill(-p.Pid, syscall.SIGKILL); err == nil {
		return nil
	}
	return p.Kill()
}

func exitedBySignal(ps *os.ProcessState) bool {
	ws, ok := ps.Sys().(syscall.WaitStatus)
	return ok && ws.Signaled()
}
