package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/loykin/rigwatch/internal/config"
	"github.com/loykin/rigwatch/pkg/client"
	"github.com/spf13/cobra"
)

type command struct {
	flags *GlobalFlags
}

// apiClient builds a daemon client. The URL comes from --api-url, then the
// [server] section of --config, then the default.
func (c *command) apiClient() (*client.Client, error) {
	cc := client.DefaultConfig()
	cc.Timeout = c.flags.APITimeout
	cc.CACert = c.flags.CACert
	cc.Insecure = c.flags.Insecure
	switch {
	case c.flags.APIUrl != "":
		cc.BaseURL = strings.TrimRight(c.flags.APIUrl, "/")
	case c.flags.ConfigPath != "":
		cfg, err := config.Load(c.flags.ConfigPath)
		if err != nil {
			return nil, err
		}
		cc.BaseURL = baseURL(cfg.Server)
	}
	return client.New(cc)
}

func baseURL(s config.ServerConfig) string {
	scheme := "http"
	if s.TLS.Enabled {
		scheme = "https"
	}
	return scheme + "://" + s.Listen + s.BasePath
}

func (c *command) Status(cmd *cobra.Command, f StatusFlags) error {
	cl, err := c.apiClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	if f.Kind != "" {
		w, err := cl.Get(ctx, f.Kind)
		if err != nil {
			return err
		}
		if f.JSON {
			return printJSON(out, w)
		}
		printDetail(out, w, f.Output)
		return nil
	}
	ws, err := cl.List(ctx)
	if err != nil {
		return err
	}
	if f.JSON {
		return printJSON(out, ws)
	}
	printTable(out, ws)
	return nil
}

func (c *command) Start(cmd *cobra.Command, f LaunchFlags) error {
	return c.launch(cmd, f, func(cl *client.Client, ctx context.Context, secret []byte) error {
		return cl.Start(ctx, f.Kind, secret)
	}, "started")
}

func (c *command) Restart(cmd *cobra.Command, f LaunchFlags) error {
	return c.launch(cmd, f, func(cl *client.Client, ctx context.Context, secret []byte) error {
		return cl.Restart(ctx, f.Kind, secret)
	}, "restarting")
}

func (c *command) launch(cmd *cobra.Command, f LaunchFlags, fn func(*client.Client, context.Context, []byte) error, verb string) error {
	cl, err := c.apiClient()
	if err != nil {
		return err
	}
	var secret []byte
	if f.SecretStdin {
		secret, err = readSecret(cmd.InOrStdin())
		if err != nil {
			return err
		}
	}
	if err := fn(cl, cmd.Context(), secret); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", f.Kind, verb)
	return nil
}

func (c *command) Stop(cmd *cobra.Command, f LaunchFlags) error {
	return c.launch(cmd, f, func(cl *client.Client, ctx context.Context, secret []byte) error {
		return cl.Stop(ctx, f.Kind, secret)
	}, "stopping")
}

func (c *command) Input(cmd *cobra.Command, kind string, words []string) error {
	cl, err := c.apiClient()
	if err != nil {
		return err
	}
	return cl.Input(cmd.Context(), kind, strings.Join(words, " "))
}

func (c *command) XvbMode(cmd *cobra.Command, f XvbModeFlags) error {
	cl, err := c.apiClient()
	if err != nil {
		return err
	}
	if err := cl.SetXvbRuntime(cmd.Context(), client.XvbRuntime{Mode: f.Mode, Amount: f.Amount, Level: f.Level}); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "xvb mode set to %s\n", f.Mode)
	return nil
}

// readSecret reads one line. The returned buffer is owned by the caller.
func readSecret(r io.Reader) ([]byte, error) {
	line, err := bufio.NewReader(r).ReadSlice('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read secret: %w", err)
	}
	secret := append([]byte(nil), line...)
	clear(line)
	for len(secret) > 0 && (secret[len(secret)-1] == '\n' || secret[len(secret)-1] == '\r') {
		secret = secret[:len(secret)-1]
	}
	if len(secret) == 0 {
		return nil, errors.New("empty secret on stdin")
	}
	return secret, nil
}

func printTable(w io.Writer, ws []client.WorkerStatus) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "WORKER\tSTATE\tHEALTH\tPID\tUPTIME\tCPU\tMEM")
	for _, s := range ws {
		pid, up, cpu, mem := "-", "-", "-", "-"
		if s.Running {
			if s.PID > 0 {
				pid = fmt.Sprint(s.PID)
				cpu = fmt.Sprintf("%.1f%%", s.Resources.CPUPercent)
				mem = s.Resources.RSSText
			}
			up = s.Uptime.Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", s.Kind, s.State, s.Health, pid, up, cpu, mem)
	}
	_ = tw.Flush()
}

func printDetail(w io.Writer, s client.WorkerStatus, withOutput bool) {
	_, _ = fmt.Fprintf(w, "%s: %s (%s)\n", s.Kind, s.State, s.Health)
	if s.Running && !s.StartedAt.IsZero() {
		_, _ = fmt.Fprintf(w, "started %s, run %s\n", humanize.Time(s.StartedAt), s.RunID)
	}
	if len(s.Stats) > 0 && string(s.Stats) != "null" {
		var pretty map[string]any
		if err := json.Unmarshal(s.Stats, &pretty); err == nil {
			_ = printJSON(w, pretty)
		}
	}
	if withOutput && s.Output != "" {
		_, _ = fmt.Fprintln(w, strings.TrimRight(s.Output, "\n"))
	}
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
