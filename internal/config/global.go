// Package config loads litterbox settings and derives the on-disk locations
// the rest of the tool uses (vault file, agent sockets, audit database).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultWorkFactor is the log2 scrypt cost used when encrypting keys.
const DefaultWorkFactor = 18

// GlobalConfig holds settings from <home>/config.yaml.
type GlobalConfig struct {
	Vault VaultConfig `yaml:"vault"`
	Agent AgentConfig `yaml:"agent"`
	Audit AuditConfig `yaml:"audit"`
	Debug DebugConfig `yaml:"debug"`
}

// VaultConfig controls where and how keys are stored.
type VaultConfig struct {
	Path       string `yaml:"path"`
	WorkFactor int    `yaml:"work_factor"`
}

// AgentConfig controls the per-litterbox SSH agent.
type AgentConfig struct {
	SocketDir string `yaml:"socket_dir"`
	// ConfirmQueue bounds the number of confirmations waiting for a prompt.
	ConfirmQueue int `yaml:"confirm_queue"`
	// ConfirmTimeout denies a request whose prompt is not answered in time.
	// Zero waits for the user indefinitely.
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
}

// AuditConfig controls the agent decision log.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DebugConfig controls debug log files.
type DebugConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// DefaultGlobalConfig returns the default global configuration.
func DefaultGlobalConfig() *GlobalConfig {
	home := Home()
	return &GlobalConfig{
		Vault: VaultConfig{
			Path:       filepath.Join(home, "keys.json"),
			WorkFactor: DefaultWorkFactor,
		},
		Agent: AgentConfig{
			SocketDir:    filepath.Join(home, ".ssh"),
			ConfirmQueue: 8,
		},
		Audit: AuditConfig{
			Enabled: true,
			Path:    filepath.Join(home, "audit.db"),
		},
		Debug: DebugConfig{
			RetentionDays: 7,
		},
	}
}

// LoadGlobal reads <home>/config.yaml and applies environment overrides.
// A missing file yields the defaults; a malformed one is an error.
func LoadGlobal() (*GlobalConfig, error) {
	cfg := DefaultGlobalConfig()

	configPath := filepath.Join(Home(), "config.yaml")
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return DefaultGlobalConfig(), fmt.Errorf("parsing %s: %w", configPath, err)
		}
	case !os.IsNotExist(err):
		return cfg, fmt.Errorf("reading %s: %w", configPath, err)
	}

	if v := os.Getenv("LITTERBOX_VAULT"); v != "" {
		cfg.Vault.Path = v
	}
	if v := os.Getenv("LITTERBOX_SOCKET_DIR"); v != "" {
		cfg.Agent.SocketDir = v
	}

	if cfg.Vault.WorkFactor <= 0 {
		cfg.Vault.WorkFactor = DefaultWorkFactor
	}
	if cfg.Agent.ConfirmQueue <= 0 {
		cfg.Agent.ConfirmQueue = 1
	}

	return cfg, nil
}

// Home returns the litterbox home directory: $LITTERBOX_HOME, or ~/Litterbox.
func Home() string {
	if dir := os.Getenv("LITTERBOX_HOME"); dir != "" {
		return dir
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "Litterbox")
	}
	return filepath.Join(homeDir, "Litterbox")
}

// SocketPath returns the agent socket path for the named litterbox. The
// socket always lands directly inside Agent.SocketDir.
func (c *GlobalConfig) SocketPath(lbxName string) (string, error) {
	if err := ValidateLitterboxName(lbxName); err != nil {
		return "", err
	}
	return filepath.Join(c.Agent.SocketDir, lbxName+".sock"), nil
}

// ValidateLitterboxName rejects names that cannot be used as a file name
// component.
func ValidateLitterboxName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("litterbox name is empty")
	case name == "." || strings.Contains(name, ".."):
		return fmt.Errorf("invalid litterbox name %q: must not contain \"..\"", name)
	case strings.ContainsAny(name, "/\\"+string(os.PathSeparator)):
		return fmt.Errorf("invalid litterbox name %q: must not contain a path separator", name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("invalid litterbox name %q: must not contain NUL", name)
	}
	return nil
}

// DebugDir returns the directory for debug log files.
func DebugDir() string {
	return filepath.Join(Home(), "debug")
}
