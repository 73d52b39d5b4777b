package shell

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// HostConfig holds the ~/.ssh/config settings that apply to one host.
type HostConfig struct {
	Host          string
	HostName      string
	User          string
	IdentityFile  string
	IdentityAgent string
	Port          string
}

// Target is a fully resolved SSH destination for a Starlink host.
type Target struct {
	Host          string
	User          string
	KeyPath       string
	IdentityAgent string
}

// homeDir prefers $HOME so tests can point it at a temporary directory.
func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	home, _ := os.UserHomeDir()
	return home
}

// LoadHostConfig reads the SSH config file at configPath (or ~/.ssh/config
// when empty) and returns the settings for host. A missing file or a host
// with no matching block yields nil without error.
func LoadHostConfig(host, configPath string) (*HostConfig, error) {
	home := homeDir()
	if configPath == "" {
		if home == "" {
			return nil, fmt.Errorf("failed to get home directory")
		}
		configPath = filepath.Join(home, ".ssh", "config")
	}

	file, err := os.Open(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open SSH config: %w", err)
	}
	defer file.Close()

	return ParseHostConfig(host, file, home)
}

// ParseHostConfig scans an SSH config for host. Following ssh(1), the first
// value found for each keyword wins, so a later "Host *" block only fills
// in what earlier blocks left unset.
func ParseHostConfig(host string, r io.Reader, home string) (*HostConfig, error) {
	cfg := &HostConfig{Host: host}
	matching := false
	found := false

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		keyword := strings.ToLower(parts[0])
		value := strings.Trim(strings.Join(parts[1:], " "), `"`)

		if keyword == "host" {
			matching = MatchHost(host, parts[1:])
			found = found || matching
			continue
		}
		if !matching {
			continue
		}

		switch keyword {
		case "hostname":
			setOnce(&cfg.HostName, value)
		case "user":
			setOnce(&cfg.User, value)
		case "port":
			setOnce(&cfg.Port, value)
		case "identityfile":
			setOnce(&cfg.IdentityFile, expandHome(value, home))
		case "identityagent":
			setOnce(&cfg.IdentityAgent, expandHome(value, home))
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading SSH config: %w", err)
	}
	if !found {
		return nil, nil
	}
	return cfg, nil
}

func setOnce(dst *string, value string) {
	if *dst == "" {
		*dst = value
	}
}

func expandHome(value, home string) string {
	if strings.HasPrefix(value, "~/") && home != "" {
		return filepath.Join(home, value[2:])
	}
	return value
}

// MatchHost reports whether target matches any of the Host patterns.
// Patterns may use * and ? wildcards; a pattern prefixed with ! excludes
// the host even if another pattern matches.
func MatchHost(target string, patterns []string) bool {
	matched := false
	for _, p := range patterns {
		negate := strings.HasPrefix(p, "!")
		p = strings.TrimPrefix(p, "!")
		ok, err := path.Match(p, target)
		if err != nil || !ok {
			continue
		}
		if negate {
			return false
		}
		matched = true
	}
	return matched
}

// ResolveTarget combines a user@host target and command-line overrides
// with ~/.ssh/config. Explicit values win over the config file.
func ResolveTarget(target, user, keyPath string) (Target, error) {
	return resolveTargetFrom(target, user, keyPath, "")
}

func resolveTargetFrom(target, user, keyPath, configPath string) (Target, error) {
	host := target
	if i := strings.Index(target, "@"); i >= 0 {
		user = target[:i]
		host = target[i+1:]
	}

	resolved := Target{Host: host, User: user, KeyPath: keyPath}

	cfg, err := LoadHostConfig(host, configPath)
	if err != nil {
		return Target{}, fmt.Errorf("failed to parse SSH config: %w", err)
	}
	if cfg == nil {
		return resolved, nil
	}

	if cfg.HostName != "" {
		resolved.Host = cfg.HostName
	}
	if resolved.User == "" {
		resolved.User = cfg.User
	}
	if resolved.KeyPath == "" {
		resolved.KeyPath = cfg.IdentityFile
	}
	resolved.IdentityAgent = cfg.IdentityAgent
	return resolved, nil
}
