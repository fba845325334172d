package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/nugget/coachd/examples"
	"github.com/nugget/coachd/internal/config"
)

// clearUmask makes file permission assertions deterministic.
func clearUmask(t *testing.T) {
	t.Helper()
	old := syscall.Umask(0)
	t.Cleanup(func() { syscall.Umask(old) })
}

func TestRun_Commands(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
		wantOut string
	}{
		{name: "no args", args: nil, wantOut: "Usage: coachd"},
		{name: "help", args: []string{"--help"}, wantOut: "turn <uid> <message>"},
		{name: "version", args: []string{"version"}, wantOut: "go_version:"},
		{name: "unknown command", args: []string{"dance"}, wantErr: "unknown command: dance"},
		{name: "unknown flag", args: []string{"-x"}, wantErr: "unknown flag: -x"},
		{name: "bad output", args: []string{"-o", "xml", "version"}, wantErr: "unknown output format"},
		{name: "turn needs message", args: []string{"turn", "u1"}, wantErr: "usage: coachd turn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			err := run(context.Background(), &stdout, &stderr, tt.args)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if !strings.Contains(stdout.String(), tt.wantOut) {
				t.Errorf("output missing %q:\n%s", tt.wantOut, stdout.String())
			}
		})
	}
}

func TestRunVersion_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := run(context.Background(), &buf, &buf, []string{"-o=json", "version"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal(buf.Bytes(), &info); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if info["version"] == "" || info["go_version"] == "" {
		t.Errorf("info = %v", info)
	}
}

func TestRunInit_FreshDirectory(t *testing.T) {
	clearUmask(t)
	dir := t.TempDir()
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	if info, err := os.Stat(filepath.Join(dir, "db")); err != nil || !info.IsDir() {
		t.Errorf("db directory: %v", err)
	}
	info, err := os.Stat(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("config.yaml not created: %v", err)
	}
	if got := info.Mode().Perm(); got != 0o600 {
		t.Errorf("config.yaml permissions = %o, want 0600", got)
	}
	if !strings.Contains(buf.String(), "config.yaml") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestRunInit_KeepsExistingConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("listen:\n  port: 9000\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := runInit(&bytes.Buffer{}, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "listen:\n  port: 9000\n" {
		t.Errorf("existing config overwritten:\n%s", got)
	}
}

func TestExampleConfigLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, examples.ConfigYAML, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Anthropic.APIKey != "sk-test" {
		t.Errorf("api key = %q", cfg.Anthropic.APIKey)
	}
	if cfg.Auth.Tokens["change-me"] != "demo-user" {
		t.Errorf("tokens = %v", cfg.Auth.Tokens)
	}
	if cfg.Models.Router != cfg.Models.Default {
		t.Errorf("router model = %q, want default %q", cfg.Models.Router, cfg.Models.Default)
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"json", `"level":"TRACE"`},
		{"text", "level=TRACE"},
		{"", "level=TRACE"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newLogger(&buf, config.LevelTrace, tt.format)
			logger.Log(context.Background(), config.LevelTrace, "wire")
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("output %q missing %q", buf.String(), tt.want)
			}
		})
	}

	var buf bytes.Buffer
	newLogger(&buf, slog.LevelWarn, "text").Info("quiet")
	if buf.Len() != 0 {
		t.Errorf("info logged at warn level: %q", buf.String())
	}
}
