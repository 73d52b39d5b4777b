package shell

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMatchHost(t *testing.T) {
	tests := []struct {
		target   string
		patterns []string
		expected bool
	}{
		{"starhost", []string{"starhost"}, true},
		{"starhost", []string{"other"}, false},
		{"kolob.jach.hawaii.edu", []string{"*.hawaii.edu"}, true},
		{"s8a", []string{"s?a"}, true},
		{"s8ab", []string{"s?a"}, false},
		{"starhost", []string{"other", "star*"}, true},
		{"starhost", []string{"*", "!starhost"}, false},
		{"other", []string{"*", "!starhost"}, true},
	}

	for _, tc := range tests {
		t.Run(tc.target+"_"+strings.Join(tc.patterns, ","), func(t *testing.T) {
			if got := MatchHost(tc.target, tc.patterns); got != tc.expected {
				t.Errorf("MatchHost(%s, %v) = %v, want %v", tc.target, tc.patterns, got, tc.expected)
			}
		})
	}
}

func TestParseHostConfig(t *testing.T) {
	config := `# Starlink hosts
Host starhost
	HostName star.example.com
	User observer
	IdentityFile ~/.ssh/star_key
	IdentityAgent "~/agent.sock"
	Port 2222

Host *
	User fallback
	IdentityFile ~/.ssh/id_default
`
	cfg, err := ParseHostConfig("starhost", strings.NewReader(config), "/home/me")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected config")
	}
	if cfg.HostName != "star.example.com" {
		t.Errorf("HostName = %q", cfg.HostName)
	}
	if cfg.User != "observer" {
		t.Errorf("User = %q, first value should win", cfg.User)
	}
	if cfg.IdentityFile != "/home/me/.ssh/star_key" {
		t.Errorf("IdentityFile = %q", cfg.IdentityFile)
	}
	if cfg.IdentityAgent != "/home/me/agent.sock" {
		t.Errorf("IdentityAgent = %q", cfg.IdentityAgent)
	}
	if cfg.Port != "2222" {
		t.Errorf("Port = %q", cfg.Port)
	}
}

func TestParseHostConfig_WildcardFillsGaps(t *testing.T) {
	config := `Host starhost
	HostName star.example.com

Host *
	User fallback
`
	cfg, err := ParseHostConfig("starhost", strings.NewReader(config), "")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.User != "fallback" {
		t.Errorf("User = %q, want fallback from Host *", cfg.User)
	}
}

func TestParseHostConfig_NoMatch(t *testing.T) {
	cfg, err := ParseHostConfig("starhost", strings.NewReader("Host other\n\tUser x\n"), "")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg != nil {
		t.Errorf("expected nil config, got %+v", cfg)
	}
}

func TestLoadHostConfig_MissingFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadHostConfig("starhost", "")
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if cfg != nil {
		t.Errorf("Expected nil config for missing file, got: %+v", cfg)
	}
}

func TestResolveTarget(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	sshDir := filepath.Join(tmpDir, ".ssh")
	if err := os.MkdirAll(sshDir, 0700); err != nil {
		t.Fatal(err)
	}
	config := `Host starhost
	HostName star.example.com
	User observer
	IdentityFile ~/.ssh/star_key
`
	if err := os.WriteFile(filepath.Join(sshDir, "config"), []byte(config), 0600); err != nil {
		t.Fatal(err)
	}

	got, err := ResolveTarget("starhost", "", "")
	if err != nil {
		t.Fatalf("ResolveTarget: %v", err)
	}
	want := Target{Host: "star.example.com", User: "observer", KeyPath: filepath.Join(tmpDir, ".ssh", "star_key")}
	if got != want {
		t.Errorf("ResolveTarget = %+v, want %+v", got, want)
	}

	got, err = ResolveTarget("admin@starhost", "ignored", "/explicit/key")
	if err != nil {
		t.Fatalf("ResolveTarget: %v", err)
	}
	if got.User != "admin" || got.KeyPath != "/explicit/key" {
		t.Errorf("explicit values should win, got %+v", got)
	}

	got, err = ResolveTarget("unknown.example.com", "me", "")
	if err != nil {
		t.Fatalf("ResolveTarget: %v", err)
	}
	if got != (Target{Host: "unknown.example.com", User: "me"}) {
		t.Errorf("unconfigured host should pass through, got %+v", got)
	}
}
