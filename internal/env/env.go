package env

import (
	"os"
	"sort"
	"strings"
)

// Env composes the environment handed to worker children. The OS
// environment is not read here; it reaches global only when the
// configuration asks for it (use_os_env).
type Env struct {
	global map[string]string
}

// New builds an Env whose global layer is the "K=V" pairs in kvs.
// Malformed entries and empty keys are skipped.
func New(kvs []string) *Env {
	return &Env{global: parse(kvs)}
}

// Merge returns the global layer, then perWorker overrides, with ${VAR}
// references expanded against the composed map. The result is sorted so
// children see a stable order.
func (e *Env) Merge(perWorker []string) []string {
	m := make(map[string]string, len(e.global))
	for k, v := range e.global {
		m[k] = v
	}
	for k, v := range parse(perWorker) {
		m[k] = v
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

func parse(kvs []string) map[string]string {
	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
	return m
}

// expand performs a single, non-recursive ${VAR} substitution pass.
func expand(s string, m map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, func(k string) string {
		if v, ok := m[k]; ok {
			return v
		}
		return "${" + k + "}"
	})
}
