// Package config provides configuration management for the branchsync tool.
package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up at the repository root.
const FileName = "branchsync.yml"

// Config represents the branchsync configuration structure.
type Config struct {
	Version string        `yaml:"version"`
	Git     *GitConfig    `yaml:"git"`
	Sync    *SyncConfig   `yaml:"sync"`
	Push    *PushConfig   `yaml:"push"`
	GitHub  *GitHubConfig `yaml:"github"`
	Log     *LogConfig    `yaml:"log"`
	// ConfigDir is the absolute path to the directory containing branchsync.yml (set at load time; not persisted).
	ConfigDir string `yaml:"-"`
}

// GitConfig contains git-related settings.
type GitConfig struct {
	TrunkBranch string `yaml:"trunk_branch"` // default: "" (auto-detect main/master)
	Remote      string `yaml:"remote"`       // default: "origin"
}

// SyncConfig contains settings for the bulk sync and merge commands.
type SyncConfig struct {
	SessionPrefix string        `yaml:"session_prefix"` // default: "claude/"
	AllowList     []string      `yaml:"allow_list"`     // glob patterns; empty means all branches
	LockPath      string        `yaml:"lock_path"`      // default: <git-common-dir>/branchsync/sync.lock
	LockMaxAge    time.Duration `yaml:"lock_max_age"`   // default: 30m
	BreadcrumbLog string        `yaml:"breadcrumb_log"` // default: <git-common-dir>/branchsync/breadcrumbs.log
	Strategy      string        `yaml:"strategy"`       // merge | rebase (default: merge)
	MergeMessage  string        `yaml:"merge_message"`  // template with {branch} and {target}
	ConflictCheck string        `yaml:"conflict_check"` // auto | merge-tree | trial (default: auto)
}

// PushConfig contains push retry settings.
type PushConfig struct {
	MaxRetries   int           `yaml:"max_retries"`   // default: 3 attempts
	InitialDelay time.Duration `yaml:"initial_delay"` // default: 2s, doubled after each failure
}

// GitHubConfig contains settings for the optional GitHub API integration.
type GitHubConfig struct {
	BaseURL  string `yaml:"base_url"`  // optional; for GHE
	TokenEnv string `yaml:"token_env"` // default: BRANCHSYNC_GITHUB_TOKEN
}

// LogConfig contains logging settings.
type LogConfig struct {
	File string `yaml:"file"` // default: <git-common-dir>/branchsync/branchsync.log
}

// Valid values for enumerated settings.
var (
	ValidStrategies     = []string{"merge", "rebase"}
	ValidConflictChecks = []string{"auto", "merge-tree", "trial"}
)

// DefaultConfig provides default configuration values.
var DefaultConfig = Config{
	Version: "1.0",
	Git: &GitConfig{
		Remote: "origin",
	},
	Sync: &SyncConfig{
		SessionPrefix: "claude/",
		LockMaxAge:    30 * time.Minute,
		Strategy:      "merge",
		MergeMessage:  "Merge branch '{branch}' into {target} (branchsync)",
		ConflictCheck: "auto",
	},
	Push: &PushConfig{
		MaxRetries:   3,
		InitialDelay: 2 * time.Second,
	},
	GitHub: &GitHubConfig{
		TokenEnv: "BRANCHSYNC_GITHUB_TOKEN",
	},
	Log: &LogConfig{},
}

// LoadConfig loads the configuration from the current directory.
func LoadConfig() (*Config, error) {
	return LoadConfigFromDir(".")
}

// LoadConfigFromDir loads configuration from dir (branchsync.yml, then .github/branchsync.yml)
// or returns defaults when neither exists. ConfigDir is set to the absolute path of dir.
func LoadConfigFromDir(dir string) (*Config, error) {
	rootPath := filepath.Join(dir, FileName)
	legacyPath := filepath.Join(dir, ".github", FileName)

	configDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config directory: %w", err)
	}

	configPath := ""
	if _, err := os.Stat(rootPath); err == nil {
		configPath = rootPath
	} else if _, err := os.Stat(legacyPath); err == nil {
		configPath = legacyPath
	} else {
		config := Config{}
		mergeWithDefaults(&config)
		config.ConfigDir = configDir
		return &config, nil
	}

	// #nosec G304 - configPath is one of two fixed names under dir
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	mergeWithDefaults(&config)
	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	config.ConfigDir = configDir
	return &config, nil
}

// ResolvePath returns p resolved against ConfigDir, or fallback when p is empty.
func ResolvePath(cfg *Config, p, fallback string) string {
	if strings.TrimSpace(p) == "" {
		return fallback
	}
	if filepath.IsAbs(p) {
		return p
	}
	base := "."
	if cfg != nil && cfg.ConfigDir != "" {
		base = cfg.ConfigDir
	}
	return filepath.Join(base, p)
}

// GitHubToken returns the GitHub token from the configured environment variable.
// Never log or persist the returned value.
func GitHubToken(cfg *Config) string {
	env := DefaultConfig.GitHub.TokenEnv
	if cfg != nil && cfg.GitHub != nil && cfg.GitHub.TokenEnv != "" {
		env = cfg.GitHub.TokenEnv
	}
	return strings.TrimSpace(os.Getenv(env))
}

// MergeMessage renders the configured merge commit message for branch into target.
func MergeMessage(cfg *Config, branch, target string) string {
	template := DefaultConfig.Sync.MergeMessage
	if cfg != nil && cfg.Sync != nil && cfg.Sync.MergeMessage != "" {
		template = cfg.Sync.MergeMessage
	}
	return RenderMergeMessage(template, branch, target)
}

// RenderMergeMessage substitutes {branch} and {target} in template.
func RenderMergeMessage(template, branch, target string) string {
	s := strings.ReplaceAll(template, "{branch}", branch)
	return strings.ReplaceAll(s, "{target}", target)
}

func validateConfig(config *Config) error {
	if err := validateSyncConfig(config.Sync); err != nil {
		return err
	}
	if err := validatePushConfig(config.Push); err != nil {
		return err
	}
	if config.Git != nil && strings.ContainsAny(config.Git.Remote, " \t\x00") {
		return fmt.Errorf("invalid git.remote value '%s'", config.Git.Remote)
	}
	return nil
}

func validateSyncConfig(sync *SyncConfig) error {
	if sync == nil {
		return nil
	}
	if !contains(ValidStrategies, sync.Strategy) {
		return fmt.Errorf("invalid sync.strategy value '%s': use one of: %s",
			sync.Strategy, strings.Join(ValidStrategies, ", "))
	}
	if !contains(ValidConflictChecks, sync.ConflictCheck) {
		return fmt.Errorf("invalid sync.conflict_check value '%s': use one of: %s",
			sync.ConflictCheck, strings.Join(ValidConflictChecks, ", "))
	}
	if sync.LockMaxAge < 0 {
		return fmt.Errorf("sync.lock_max_age cannot be negative")
	}
	for _, pattern := range sync.AllowList {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("sync.allow_list cannot contain empty patterns")
		}
		if _, err := path.Match(pattern, ""); err != nil {
			return fmt.Errorf("sync.allow_list: invalid pattern '%s': %w", pattern, err)
		}
	}
	if strings.Contains(sync.LockPath, "\x00") || strings.Contains(sync.BreadcrumbLog, "\x00") {
		return fmt.Errorf("sync paths cannot contain null byte")
	}
	return nil
}

func validatePushConfig(push *PushConfig) error {
	if push == nil {
		return nil
	}
	if push.MaxRetries < 1 {
		return fmt.Errorf("push.max_retries (%d) must be at least 1", push.MaxRetries)
	}
	if push.InitialDelay < 0 {
		return fmt.Errorf("push.initial_delay cannot be negative")
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func mergeWithDefaults(config *Config) {
	if config.Version == "" {
		config.Version = DefaultConfig.Version
	}
	mergeGitDefaults(config)
	mergeSyncDefaults(config)
	mergePushDefaults(config)
	mergeGitHubDefaults(config)
	if config.Log == nil {
		config.Log = &LogConfig{}
	}
}

func mergeGitDefaults(config *Config) {
	if config.Git == nil {
		config.Git = &GitConfig{}
	}
	// TrunkBranch defaults to "" which means auto-detect (main/master)
	if config.Git.Remote == "" {
		config.Git.Remote = DefaultConfig.Git.Remote
	}
}

func mergeSyncDefaults(config *Config) {
	if config.Sync == nil {
		config.Sync = &SyncConfig{}
	}
	if config.Sync.SessionPrefix == "" {
		config.Sync.SessionPrefix = DefaultConfig.Sync.SessionPrefix
	}
	if config.Sync.LockMaxAge == 0 {
		config.Sync.LockMaxAge = DefaultConfig.Sync.LockMaxAge
	}
	if config.Sync.Strategy == "" {
		config.Sync.Strategy = DefaultConfig.Sync.Strategy
	}
	if config.Sync.MergeMessage == "" {
		config.Sync.MergeMessage = DefaultConfig.Sync.MergeMessage
	}
	if config.Sync.ConflictCheck == "" {
		config.Sync.ConflictCheck = DefaultConfig.Sync.ConflictCheck
	}
	// LockPath and BreadcrumbLog are derived from the git directory at runtime when empty
}

func mergePushDefaults(config *Config) {
	if config.Push == nil {
		config.Push = &PushConfig{}
	}
	if config.Push.MaxRetries == 0 {
		config.Push.MaxRetries = DefaultConfig.Push.MaxRetries
	}
	if config.Push.InitialDelay == 0 {
		config.Push.InitialDelay = DefaultConfig.Push.InitialDelay
	}
}

func mergeGitHubDefaults(config *Config) {
	if config.GitHub == nil {
		config.GitHub = &GitHubConfig{}
	}
	if config.GitHub.TokenEnv == "" {
		config.GitHub.TokenEnv = DefaultConfig.GitHub.TokenEnv
	}
}

// SaveConfigToDir saves the config to branchsync.yml in targetDir.
func SaveConfigToDir(config *Config, targetDir string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(targetDir, 0o700); err != nil {
		return fmt.Errorf("failed to ensure target directory: %w", err)
	}

	configPath := filepath.Join(targetDir, FileName)
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
