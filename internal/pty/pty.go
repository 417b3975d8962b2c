package pty

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/acarl005/stripansi"
)

const (
	DefaultRows = 100
	DefaultCols = 1000

	// promptWindow is how many leading lines may carry elevation-prompt artifacts.
	promptWindow = 20
)

// LineSink receives each captured output line. process.Output satisfies it.
type LineSink interface {
	WriteLine(line string)
}

// Spec describes the child to spawn.
type Spec struct {
	Path string
	Args []string
	Dir  string
	Env  []string // full environment; nil inherits the daemon's
	Rows uint16
	Cols uint16
	// Elevated marks a child started through the elevation helper; its first
	// lines may contain prompt artifacts that are dropped.
	Elevated bool
}

// Command builds the *exec.Cmd for s.
func (s Spec) Command() *exec.Cmd {
	// #nosec G204 -- path and args come from operator configuration
	cmd := exec.Command(s.Path, s.Args...)
	if s.Dir != "" {
		cmd.Dir = s.Dir
	}
	if len(s.Env) > 0 {
		cmd.Env = s.Env
	}
	return cmd
}

func (s Spec) size() (rows, cols uint16) {
	rows, cols = s.Rows, s.Cols
	if rows == 0 {
		rows = DefaultRows
	}
	if cols == 0 {
		cols = DefaultCols
	}
	return rows, cols
}

// ExitStatus summarises how a child ended.
type ExitStatus struct {
	Code     int
	Signaled bool
	Err      error
}

// Success reports a clean zero exit.
func (e ExitStatus) Success() bool { return e.Err == nil && e.Code == 0 && !e.Signaled }

func (e ExitStatus) String() string {
	switch {
	case e.Success():
		return "Successful"
	case e.Err != nil && e.Code == 0 && !e.Signaled:
		return "Unknown Error"
	default:
		return "Failed"
	}
}

// Child is a running process attached to a terminal (or pipes on Windows).
type Child struct {
	cmd   *exec.Cmd
	stdin io.Writer
	close func() error

	waitDone   chan struct{} // closed by monitor when cmd.Wait returns
	readerDone chan struct{}

	mu     sync.Mutex
	status ExitStatus
}

// Start spawns the child and starts the reader goroutine feeding sink.
func Start(s Spec, sink LineSink) (*Child, error) {
	if s.Path == "" {
		return nil, errors.New("pty: empty path")
	}
	cmd := s.Command()
	out, in, closer, err := start(cmd, s)
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", s.Path, err)
	}
	c := &Child{
		cmd:        cmd,
		stdin:      in,
		close:      closer,
		waitDone:   make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	go c.read(out, sink, s.Elevated)
	go c.monitor()
	return c, nil
}

func (c *Child) monitor() {
	err := c.cmd.Wait()
	st := ExitStatus{Err: err}
	if ps := c.cmd.ProcessState; ps != nil {
		st.Code = ps.ExitCode()
		st.Signaled = exitedBySignal(ps)
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			// a non-zero exit is reported through Code/Signaled
			st.Err = nil
		}
	}
	c.mu.Lock()
	c.status = st
	c.mu.Unlock()
	close(c.waitDone)
}

func (c *Child) read(r io.Reader, sink LineSink, elevated bool) {
	defer close(c.readerDone)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		line := strings.TrimRight(stripansi.Strip(sc.Text()), "\r")
		if n < promptWindow {
			n++
			if elevated && isPromptArtifact(line) {
				continue
			}
		}
		if sink != nil {
			sink.WriteLine(line)
		}
	}
}

func isPromptArtifact(line string) bool {
	t := strings.TrimSpace(line)
	return t == "" ||
		strings.HasPrefix(t, "[sudo]") ||
		strings.HasPrefix(t, "Password:") ||
		strings.HasPrefix(t, "Sorry, try again")
}

// Pid returns the child's process id.
func (c *Child) Pid() int {
	if c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Stdin returns the writer connected to the child's input.
func (c *Child) Stdin() io.Writer { return c.stdin }

// WriteLine sends line with the platform line terminator.
func (c *Child) WriteLine(line string) error {
	term := "\n"
	if runtime.GOOS == "windows" {
		term = "\r\n"
	}
	if _, err := io.WriteString(c.stdin, line+term); err != nil {
		return err
	}
	if f, ok := c.stdin.(interface{ Sync() error }); ok {
		_ = f.Sync()
	}
	return nil
}

// TryWait reports whether the child has exited, without blocking.
func (c *Child) TryWait() (ExitStatus, bool) {
	select {
	case <-c.waitDone:
		return c.exitStatus(), true
	default:
		return ExitStatus{}, false
	}
}

// Wait blocks until the child exits or timeout elapses. A zero timeout waits forever.
func (c *Child) Wait(timeout time.Duration) (ExitStatus, bool) {
	if timeout <= 0 {
		<-c.waitDone
		return c.exitStatus(), true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-c.waitDone:
		return c.exitStatus(), true
	case <-t.C:
		return ExitStatus{}, false
	}
}

// Done is closed once the child has been reaped.
func (c *Child) Done() <-chan struct{} { return c.waitDone }

// Kill terminates the child and its process group.
func (c *Child) Kill() error {
	if c.cmd.Process == nil {
		return errors.New("pty: child not started")
	}
	select {
	case <-c.waitDone:
		return nil
	default:
	}
	return killTree(c.cmd.Process)
}

// Close releases the terminal once the reader has drained it.
func (c *Child) Close() error {
	select {
	case <-c.readerDone:
	case <-time.After(200 * time.Millisecond):
	}
	if c.close == nil {
		return nil
	}
	return c.close()
}

func (c *Child) exitStatus() ExitStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}
