package config

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8390", cfg.Server.Listen)
	assert.Equal(t, 18081, cfg.Node.RPCPort)
	assert.Equal(t, 3333, cfg.P2pool.StratumPort)
	assert.Equal(t, 18088, cfg.Xmrig.APIPort)
	assert.Equal(t, 0.15, cfg.Xvb.Margin)
	assert.Equal(t, 600*time.Second, cfg.Xvb.Period)
	assert.Equal(t, 1_000.0, cfg.Xvb.Tiers.Donor)
	assert.Equal(t, 1_000_000.0, cfg.Xvb.Tiers.Mega)
	assert.Len(t, cfg.Xvb.Nodes, 2)
	assert.True(t, cfg.UseOSEnv)
}

func TestLoadTOML(t *testing.T) {
	p := writeFile(t, "rigwatch.toml", `
env = ["A=1"]

[server]
listen = "0.0.0.0:9000"

[log]
level = "debug"
format = "json"

[history]
dsns = ["sqlite://:memory:"]

[xmrig]
path = "/opt/xmrig/xmrig"
threads = 4
api_token = "tok"
sudo = false
args = ["--config", "/etc/xmrig.json"]

[p2pool]
path = "/opt/p2pool/p2pool"
wallet = "4Abc"
mini = true

[xvb]
address = "4Abc"
token = "secret"
mode = "hero"
period = "5m"

[xvb.tiers]
donor = 2000
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Listen)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, []string{"sqlite://:memory:"}, cfg.History.DSNs)
	assert.Equal(t, "/opt/xmrig/xmrig", cfg.Xmrig.Path)
	assert.Equal(t, 4, cfg.Xmrig.Threads)
	assert.False(t, cfg.Xmrig.Sudo)
	assert.Equal(t, []string{"--config", "/etc/xmrig.json"}, cfg.Xmrig.Args)
	assert.True(t, cfg.P2pool.Mini)
	assert.Equal(t, "hero", cfg.Xvb.Mode)
	assert.Equal(t, 5*time.Minute, cfg.Xvb.Period)
	assert.Equal(t, 2000.0, cfg.Xvb.Tiers.Donor)
	assert.Equal(t, 10_000.0, cfg.Xvb.Tiers.VIP)
}

func TestLoadRejectsNonIncreasingTiers(t *testing.T) {
	p := writeFile(t, "bad.toml", `
[xvb.tiers]
donor = 20000
vip = 10000
`)
	_, err := Load(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strictly increasing")
}

func TestLoadRejectsBadMargin(t *testing.T) {
	p := writeFile(t, "bad.toml", "[xvb]\nmargin = 1.5\n")
	_, err := Load(p)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestGlobalEnvPrecedence(t *testing.T) {
	envFile := writeFile(t, "workers.env", "# comment\nA=from-file\nB=file\n\n")
	cfg := &Config{EnvFiles: []string{envFile}, Env: []string{"A=from-list"}}
	env, err := cfg.GlobalEnv()
	require.NoError(t, err)
	sort.Strings(env)
	assert.Equal(t, []string{"A=from-list", "B=file"}, env)

	t.Setenv("RIGWATCH_OS_ONLY", "os")
	cfg.UseOSEnv = true
	env, err = cfg.GlobalEnv()
	require.NoError(t, err)
	assert.Contains(t, env, "RIGWATCH_OS_ONLY=os")
	assert.Contains(t, env, "A=from-list")

	cfg.EnvFiles = []string{filepath.Join(t.TempDir(), "missing.env")}
	_, err = cfg.GlobalEnv()
	assert.Error(t, err)
}
