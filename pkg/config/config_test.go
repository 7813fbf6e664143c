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
	if s.Port <= 0 {
		return errors.New("port must be positive")
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
	t.Setenv("PINBOARD_TEST_NAME", "desk")
	path := writeFile(t, "name: ${PINBOARD_TEST_NAME}\nport: 9000\n")

	s := sample{Port: 1}
	if err := Load(path, &s); err != nil {
		t.Fatal(err)
	}
	if s.Name != "desk" || s.Port != 9000 {
		t.Errorf("loaded = %+v", s)
	}
}

func TestLoadKeepsUnsetDefaults(t *testing.T) {
	path := writeFile(t, "name: desk\n")
	s := sample{Port: 8080}
	if err := Load(path, &s); err != nil {
		t.Fatal(err)
	}
	if s.Port != 8080 {
		t.Errorf("port = %d, default lost", s.Port)
	}
}

func TestLoadValidates(t *testing.T) {
	path := writeFile(t, "port: 0\n")
	s := sample{Port: 8080}
	if err := Load(path, &s); err == nil {
		t.Fatal("invalid config accepted")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	s := sample{Name: "default", Port: 8080}
	if err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.yaml"), &s); err != nil {
		t.Fatal(err)
	}
	if s.Name != "default" {
		t.Errorf("defaults changed: %+v", s)
	}

	bad := sample{}
	if err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.yaml"), &bad); err == nil {
		t.Error("defaults not validated")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	var s sample
	if err := Load(filepath.Join(t.TempDir(), "nope.yaml"), &s); err == nil {
		t.Error("missing file accepted")
	}
}
