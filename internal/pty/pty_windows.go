//go:build windows

package pty

import (
	"io"
	"os"
	"os/exec"
)

// Windows children get plain pipes; stdout and stderr share one stream.
func start(cmd *exec.Cmd, _ Spec) (io.Reader, io.Writer, func() error, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, nil, nil, err
	}
	cmd.Stdout = pw
	cmd.Stderr = pw
	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, nil, nil, err
	}
	// the child holds its own copy of the write end
	_ = pw.Close()
	closer := func() error {
		_ = stdin.Close()
		return pr.Close()
	}
	return pr, stdin, closer, nil
}

func killTree(p *os.Process) error { return p.Kill() }

func exitedBySignal(*os.ProcessState) bool { return false }
