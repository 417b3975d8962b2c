package env

import (
	"strings"
	"testing"
)

func lookup(env []string, key string) (string, bool) {
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			return v, true
		}
	}
	return "", false
}

func TestMergePrecedenceAndExpansion(t *testing.T) {
	e := New([]string{"RIGWATCH_BASE=global", "DATA=/srv", "=skipped", "broken"})
	out := e.Merge([]string{"LOG=${DATA}/logs", "DATA=/data", "RIGWATCH_BASE=worker"})

	if v, _ := lookup(out, "RIGWATCH_BASE"); v != "worker" {
		t.Fatalf("worker env must override global, got %q", v)
	}
	if v, _ := lookup(out, "LOG"); v != "/data/logs" {
		t.Fatalf("expansion against composed map failed, got %q", v)
	}
	if _, ok := lookup(out, "broken"); ok {
		t.Fatalf("malformed pair leaked into env")
	}
	for _, kv := range out {
		if strings.HasPrefix(kv, "=") {
			t.Fatalf("empty key: %q", kv)
		}
	}
}

func TestMergeKeepsUnknownReference(t *testing.T) {
	e := New(nil)
	out := e.Merge([]string{"X=${RIGWATCH_NOT_SET_ANYWHERE}"})
	if v, _ := lookup(out, "X"); v != "${RIGWATCH_NOT_SET_ANYWHERE}" {
		t.Fatalf("unknown reference should be left as is, got %q", v)
	}
}

func TestMergeDoesNotReadOSEnv(t *testing.T) {
	t.Setenv("RIGWATCH_FROM_OS", "leak")
	out := New([]string{"A=1"}).Merge(nil)
	if _, ok := lookup(out, "RIGWATCH_FROM_OS"); ok {
		t.Fatalf("os env must only come in through the global layer: %v", out)
	}
	if len(out) != 1 || out[0] != "A=1" {
		t.Fatalf("unexpected env: %v", out)
	}
}
