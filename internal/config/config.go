package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/loykin/rigwatch/internal/logger"
	"github.com/spf13/viper"
)

// Config represents the top-level TOML structure.
type Config struct {
	Env      []string      `mapstructure:"env"`
	EnvFiles []string      `mapstructure:"env_files"`
	UseOSEnv bool          `mapstructure:"use_os_env"`
	Server   ServerConfig  `mapstructure:"server"`
	Log      logger.Config `mapstructure:"log"`
	Metrics  MetricsConfig `mapstructure:"metrics"`
	History  HistoryConfig `mapstructure:"history"`
	Node     NodeConfig    `mapstructure:"node"`
	P2pool   P2poolConfig  `mapstructure:"p2pool"`
	Xmrig    XmrigConfig   `mapstructure:"xmrig"`
	Proxy    ProxyConfig   `mapstructure:"proxy"`
	Xvb      XvbConfig     `mapstructure:"xvb"`
}

type ServerConfig struct {
	Listen   string    `mapstructure:"listen"`
	BasePath string    `mapstructure:"base_path"`
	TLS      TLSConfig `mapstructure:"tls"`
}

// TLSConfig secures the control API. CertFile/KeyFile win over Dir; with
// AutoGenerate a missing pair in Dir is created as self-signed for Hosts.
type TLSConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	CertFile     string   `mapstructure:"cert_file"`
	KeyFile      string   `mapstructure:"key_file"`
	Dir          string   `mapstructure:"dir"`
	AutoGenerate bool     `mapstructure:"auto_generate"`
	Hosts        []string `mapstructure:"hosts"`
	MinVersion   string   `mapstructure:"min_version"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type HistoryConfig struct {
	DSNs []string `mapstructure:"dsns"`
}

// Worker holds the settings every child-backed worker shares. Args, when
// set, replace the generated argument vector entirely.
type Worker struct {
	Path      string   `mapstructure:"path"`
	Dir       string   `mapstructure:"dir"`
	Args      []string `mapstructure:"args"`
	Env       []string `mapstructure:"env"`
	Autostart bool     `mapstructure:"autostart"`
}

type NodeConfig struct {
	Worker   `mapstructure:",squash"`
	DataDir  string `mapstructure:"data_dir"`
	RPCBind  string `mapstructure:"rpc_bind"`
	RPCPort  int    `mapstructure:"rpc_port"`
	ZMQPort  int    `mapstructure:"zmq_port"`
	OutPeers int    `mapstructure:"out_peers"`
	InPeers  int    `mapstructure:"in_peers"`
	LogLevel int    `mapstructure:"log_level"`
	Prune    bool   `mapstructure:"prune"`
}

type P2poolConfig struct {
	Worker      `mapstructure:",squash"`
	Wallet      string `mapstructure:"wallet"`
	NodeHost    string `mapstructure:"node_host"`
	RPCPort     int    `mapstructure:"rpc_port"`
	ZMQPort     int    `mapstructure:"zmq_port"`
	StratumPort int    `mapstructure:"stratum_port"`
	Mini        bool   `mapstructure:"mini"`
	OutPeers    int    `mapstructure:"out_peers"`
	InPeers     int    `mapstructure:"in_peers"`
	LogLevel    int    `mapstructure:"log_level"`
}

type XmrigConfig struct {
	Worker   `mapstructure:",squash"`
	Pool     string `mapstructure:"pool"`
	Threads  int    `mapstructure:"threads"`
	RigID    string `mapstructure:"rig_id"`
	APIHost  string `mapstructure:"api_host"`
	APIPort  int    `mapstructure:"api_port"`
	APIToken string `mapstructure:"api_token"`
	// Sudo starts XMRig through the elevation helper (Unix only).
	Sudo bool `mapstructure:"sudo"`
}

type ProxyConfig struct {
	Worker   `mapstructure:",squash"`
	Pool     string `mapstructure:"pool"`
	BindPort int    `mapstructure:"bind_port"`
	APIHost  string `mapstructure:"api_host"`
	APIPort  int    `mapstructure:"api_port"`
	APIToken string `mapstructure:"api_token"`
}

type XvbConfig struct {
	Autostart   bool          `mapstructure:"autostart"`
	Address     string        `mapstructure:"address"`
	Token       string        `mapstructure:"token"`
	PublicURL   string        `mapstructure:"public_url"`
	PrivateURL  string        `mapstructure:"private_url"`
	Nodes       []string      `mapstructure:"nodes"`
	Mode        string        `mapstructure:"mode"`
	Amount      float64       `mapstructure:"amount"`
	Level       string        `mapstructure:"level"`
	Margin      float64       `mapstructure:"margin"`
	Period      time.Duration `mapstructure:"period"`
	Tiers       TierConfig    `mapstructure:"tiers"`
	P2poolPool  string        `mapstructure:"p2pool_pool"`
	NodeTimeout time.Duration `mapstructure:"node_timeout"`
}

// TierConfig holds the minimum sustained hashrate (H/s) of each donation tier.
type TierConfig struct {
	Donor float64 `mapstructure:"donor"`
	VIP   float64 `mapstructure:"vip"`
	Whale float64 `mapstructure:"whale"`
	Mega  float64 `mapstructure:"mega"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("use_os_env", true)
	v.SetDefault("server.listen", "127.0.0.1:8390")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("node.rpc_bind", "127.0.0.1")
	v.SetDefault("node.rpc_port", 18081)
	v.SetDefault("node.zmq_port", 18083)
	v.SetDefault("node.out_peers", 32)
	v.SetDefault("node.in_peers", 64)

	v.SetDefault("p2pool.node_host", "127.0.0.1")
	v.SetDefault("p2pool.rpc_port", 18081)
	v.SetDefault("p2pool.zmq_port", 18083)
	v.SetDefault("p2pool.stratum_port", 3333)
	v.SetDefault("p2pool.out_peers", 10)
	v.SetDefault("p2pool.in_peers", 10)
	v.SetDefault("p2pool.log_level", 3)

	v.SetDefault("xmrig.pool", "127.0.0.1:3333")
	v.SetDefault("xmrig.api_host", "127.0.0.1")
	v.SetDefault("xmrig.api_port", 18088)
	v.SetDefault("xmrig.sudo", runtime.GOOS != "windows")

	v.SetDefault("proxy.pool", "127.0.0.1:3333")
	v.SetDefault("proxy.bind_port", 3355)
	v.SetDefault("proxy.api_host", "127.0.0.1")
	v.SetDefault("proxy.api_port", 18089)

	v.SetDefault("xvb.public_url", "https://xmrvsbeast.com/p2pool/stats")
	v.SetDefault("xvb.private_url", "https://xmrvsbeast.com/cgi-bin/p2pool_bonus_history_gupaxx_api.cgi")
	v.SetDefault("xvb.nodes", []string{"eu.xmrvsbeast.com:4247", "na.xmrvsbeast.com:4247"})
	v.SetDefault("xvb.mode", "auto")
	v.SetDefault("xvb.level", "donor")
	v.SetDefault("xvb.margin", 0.15)
	v.SetDefault("xvb.period", 600*time.Second)
	v.SetDefault("xvb.p2pool_pool", "127.0.0.1:3333")
	v.SetDefault("xvb.node_timeout", 5*time.Second)
	v.SetDefault("xvb.tiers.donor", 1_000.0)
	v.SetDefault("xvb.tiers.vip", 10_000.0)
	v.SetDefault("xvb.tiers.whale", 100_000.0)
	v.SetDefault("xvb.tiers.mega", 1_000_000.0)
}

// Load reads the TOML file at path. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints viper cannot express.
func (c *Config) Validate() error {
	var errs []error
	t := c.Xvb.Tiers
	if !(t.Donor > 0 && t.Donor < t.VIP && t.VIP < t.Whale && t.Whale < t.Mega) {
		errs = append(errs, errors.New("xvb.tiers must be positive and strictly increasing (donor < vip < whale < mega)"))
	}
	if c.Xvb.Margin < 0 || c.Xvb.Margin >= 1 {
		errs = append(errs, fmt.Errorf("xvb.margin %.2f out of range [0,1)", c.Xvb.Margin))
	}
	if c.Xvb.Period <= 0 {
		errs = append(errs, errors.New("xvb.period must be positive"))
	}
	if c.Xvb.Amount < 0 {
		errs = append(errs, errors.New("xvb.amount must not be negative"))
	}
	for name, port := range map[string]int{
		"node.rpc_port":       c.Node.RPCPort,
		"p2pool.stratum_port": c.P2pool.StratumPort,
		"xmrig.api_port":      c.Xmrig.APIPort,
		"proxy.api_port":      c.Proxy.APIPort,
	} {
		if port <= 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s %d out of range", name, port))
		}
	}
	return errors.Join(errs...)
}

// GlobalEnv merges env for all workers: OS env (when enabled) provides the
// base, then env_files in order, then the top-level env list overrides last.
func (c *Config) GlobalEnv() ([]string, error) {
	m := make(map[string]string)
	if c.UseOSEnv {
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok {
				m[k] = v
			}
		}
	}
	for _, p := range c.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range c.Env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, "="); ok {
			m[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return m, nil
}
