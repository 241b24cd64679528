package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type sample struct {
	Name string `yaml:"name"`
	Port int    `yaml:"port"`
}

func (s *sample) Validate() error {
	if s.Port == 0 {
		return errors.New("port required")
	}
	return nil
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("SAMPLE_NAME", "alpha")
	path := writeFile(t, "name: ${SAMPLE_NAME}\nport: ${SAMPLE_PORT:-8080}\n")

	var s sample
	if err := Load(path, &s); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Name != "alpha" || s.Port != 8080 {
		t.Errorf("got %+v", s)
	}
}

func TestLoadKeepsDefaults(t *testing.T) {
	path := writeFile(t, "name: beta\n")

	s := sample{Port: 9000}
	if err := Load(path, &s); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Port != 9000 {
		t.Errorf("port = %d, want 9000", s.Port)
	}
}

func TestLoadValidates(t *testing.T) {
	path := writeFile(t, "name: gamma\n")

	var s sample
	if err := Load(path, &s); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadOptionalMissingFile(t *testing.T) {
	s := sample{Port: 1}
	if err := LoadOptional(filepath.Join(t.TempDir(), "absent.yaml"), &s); err != nil {
		t.Fatalf("LoadOptional: %v", err)
	}

	var empty sample
	if err := LoadOptional(filepath.Join(t.TempDir(), "absent.yaml"), &empty); err == nil {
		t.Fatal("defaults should still be validated")
	}
}

func TestExpand(t *testing.T) {
	t.Setenv("EXPAND_SET", "x")
	t.Setenv("EXPAND_EMPTY", "")

	cases := map[string]string{
		"$EXPAND_SET":            "x",
		"${EXPAND_SET:-y}":       "x",
		"${EXPAND_EMPTY:-y}":     "y",
		"${EXPAND_UNSET_VAR}":    "",
		"a-${EXPAND_UNSET:-b}-c": "a-b-c",
	}
	for in, want := range cases {
		if got := Expand(in); got != want {
			t.Errorf("Expand(%q) = %q, want %q", in, got, want)
		}
	}
}
