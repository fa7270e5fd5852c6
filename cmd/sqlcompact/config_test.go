package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	want := DefaultConfig()
	want.LogLevel = "debug"
	want.Reserve = 32
	want.Codec = "checksum"

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "jsonc",
			file: "sqlcompact.json",
			content: `{
	// comments and trailing commas are allowed
	"log_level": "debug",
	"reserve": 32,
	"codec": "checksum",
}`,
		},
		{
			name:    "yaml",
			file:    "sqlcompact.yaml",
			content: "log_level: debug\nreserve: 32\ncodec: checksum\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadConfig(writeFile(t, tt.file, tt.content))
			if err != nil {
				t.Fatalf("LoadConfig() error = %v", err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("LoadConfig() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadConfigMissing(t *testing.T) {
	t.Chdir(t.TempDir())

	got, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig(\"\") error = %v", err)
	}
	if diff := cmp.Diff(DefaultConfig(), got); diff != "" {
		t.Errorf("LoadConfig(\"\") mismatch (-want +got):\n%s", diff)
	}

	if _, err := LoadConfig("elsewhere.json"); err == nil {
		t.Error("LoadConfig() of a missing explicit file should fail")
	}
}

func TestLoadConfigDefaultFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(`{"reserve": 4}`), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig(\"\") error = %v", err)
	}
	if got.Reserve != 4 {
		t.Errorf("Reserve = %d, want 4", got.Reserve)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"bad jsonc", "c.json", `{"reserve": }`},
		{"bad yaml", "c.yaml", "reserve: [1"},
		{"wrong type", "c.json", `{"reserve": "lots"}`},
		{"bad level", "c.json", `{"log_level": "loud"}`},
		{"bad format", "c.json", `{"log_format": "xml"}`},
		{"reserve too large", "c.json", `{"reserve": 256}`},
		{"reserve too small", "c.yaml", "reserve: -2\n"},
		{"unknown codec", "c.json", `{"codec": "rot13"}`},
		{"bad busy timeout", "c.json", `{"busy_timeout": "soon"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfig(writeFile(t, tt.file, tt.content)); err == nil {
				t.Error("LoadConfig() error = nil")
			}
		})
	}
}

func TestWriteConfigRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogFormat = "json"
	cfg.Reserve = 48
	cfg.Codec = "cipher"
	cfg.BusyTimeout = "250ms"

	for _, name := range []string{"out.json", "out.yml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			if err := WriteConfig(path, cfg); err != nil {
				t.Fatalf("WriteConfig() error = %v", err)
			}
			got, err := LoadConfig(path)
			if err != nil {
				t.Fatalf("LoadConfig() error = %v", err)
			}
			if diff := cmp.Diff(cfg, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBusyTimeoutDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"5s", 5 * time.Second},
		{"1m30s", 90 * time.Second},
	}
	for _, tt := range tests {
		got, err := Config{BusyTimeout: tt.in}.BusyTimeoutDuration()
		if err != nil {
			t.Fatalf("BusyTimeoutDuration(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("BusyTimeoutDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
