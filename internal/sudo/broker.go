package sudo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"time"
)

const (
	// DefaultTool is the elevation helper.
	DefaultTool = "sudo"
	// DefaultSettle is how long to wait for the helper's non-echoing prompt
	// before writing the secret, so it never lands in echoed output.
	DefaultSettle = 3 * time.Second
)

// Broker feeds the elevation secret to spawned children and performs
// privileged kills.
type Broker struct {
	Secret *Secret
	Tool   string
	Settle time.Duration
	Logger *slog.Logger
	// Obtain re-supplies the secret for a kill after it was already wiped.
	// The returned buffer is zeroed once copied.
	Obtain func(ctx context.Context) ([]byte, error)

	// command builds the kill invocation; replaced in tests.
	command func(ctx context.Context, tool string, pid int) *exec.Cmd
}

func NewBroker(secret *Secret, logger *slog.Logger) *Broker {
	if secret == nil {
		secret = &Secret{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{Secret: secret, Tool: DefaultTool, Settle: DefaultSettle, Logger: logger}
}

// ElevatedArgs builds the argument vector that runs target under the helper.
// The empty prompt keeps the helper from printing into the captured output.
func ElevatedArgs(tool, target string, args []string) []string {
	if tool == "" {
		tool = DefaultTool
	}
	out := make([]string, 0, len(args)+4)
	out = append(out, tool, "--prompt=", "--", target)
	return append(out, args...)
}

// NeedsElevatedKill reports whether a child started through the helper must
// also be killed through it. Linux lets the parent signal it directly.
func NeedsElevatedKill() bool { return runtime.GOOS == "darwin" }

// Feed waits for the settle delay, writes the secret once to w and wipes it.
// The secret is wiped on every path, including cancellation and write errors.
func (b *Broker) Feed(ctx context.Context, w io.Writer) error {
	t := time.NewTimer(b.settle())
	select {
	case <-ctx.Done():
		t.Stop()
		b.Secret.Wipe()
		return ctx.Err()
	case <-t.C:
	}
	err := b.Secret.Consume(func(pass []byte) error {
		buf := withNewline(pass)
		defer zero(buf)
		_, werr := w.Write(buf)
		return werr
	})
	if err != nil {
		b.Logger.Error("elevation secret write failed", "error", err)
		return fmt.Errorf("feed elevation secret: %w", err)
	}
	return nil
}

// Kill runs "<tool> --stdin kill -9 <pid>" and supplies the secret on its
// stdin. When keep is false the secret is wiped afterwards; a restart keeps it
// for the start that follows.
func (b *Broker) Kill(ctx context.Context, pid int, keep bool) error {
	if pid <= 0 {
		return fmt.Errorf("elevated kill: invalid pid %d", pid)
	}
	if b.Secret.Empty() && b.Obtain != nil {
		pass, err := b.Obtain(ctx)
		if err != nil {
			return fmt.Errorf("obtain elevation secret: %w", err)
		}
		b.Secret.Set(pass)
		zero(pass)
	}
	build := b.command
	if build == nil {
		build = defaultKillCommand
	}
	cmd := build(ctx, b.tool(), pid)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		if !keep {
			b.Secret.Wipe()
		}
		return fmt.Errorf("elevated kill stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if !keep {
			b.Secret.Wipe()
		}
		return fmt.Errorf("elevated kill start: %w", err)
	}

	write := func(pass []byte) error {
		buf := withNewline(pass)
		defer zero(buf)
		_, werr := stdin.Write(buf)
		return werr
	}
	var werr error
	if keep {
		werr = b.Secret.Use(write)
	} else {
		werr = b.Secret.Consume(write)
	}
	if werr != nil {
		b.Logger.Error("elevated kill stdin write failed", "pid", pid, "error", werr)
	}
	_ = stdin.Close()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("elevated kill of pid %d: %w", pid, err)
	}
	return werr
}

func (b *Broker) tool() string {
	if b.Tool == "" {
		return DefaultTool
	}
	return b.Tool
}

func (b *Broker) settle() time.Duration {
	if b.Settle < 0 {
		return 0
	}
	return b.Settle
}

func defaultKillCommand(ctx context.Context, tool string, pid int) *exec.Cmd {
	// #nosec G204 -- tool is configuration, pid is numeric
	return exec.CommandContext(ctx, tool, "--stdin", "kill", "-9", strconv.Itoa(pid))
}
