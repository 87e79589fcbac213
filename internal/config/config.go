// Package config loads the optional msfbridge YAML file and applies
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Default values for engine configuration.
const (
	DefaultWorkspace        = "default"
	DefaultTimeout          = 60 * time.Second
	DefaultKillGrace        = 5 * time.Second
	DefaultMaxOutput        = 1 << 20 // 1 MB
	DefaultMaxCommandLength = 1000
	DefaultMaxRetries       = 3
	DefaultBackoffBase      = 2 * time.Second
	DefaultBackoffFactor    = 1.5
	DefaultPoolSize         = 4
	DefaultCacheTTL         = 5 * time.Minute
	DefaultCacheEntries     = 1000
)

// Config holds the parsed msfbridge configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	Paths     PathsConfig     `yaml:"paths"`
	Workspace string          `yaml:"workspace" env:"MSFBRIDGE_WORKSPACE"`
	Execution ExecutionConfig `yaml:"execution"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	Security  SecurityConfig  `yaml:"security"`
	Retry     RetryConfig     `yaml:"retry"`
	RPC       RPCConfig       `yaml:"rpc"`
	Cache     CacheConfig     `yaml:"cache"`

	RawMaxOutput int `yaml:"max_output" env:"MSFBRIDGE_MAX_OUTPUT"` // bytes
}

// PathsConfig points at the external binaries and the script directory.
type PathsConfig struct {
	Console   string `yaml:"msfconsole" env:"MSFBRIDGE_MSFCONSOLE"`
	Venom     string `yaml:"msfvenom" env:"MSFBRIDGE_MSFVENOM"`
	ScriptDir string `yaml:"script_dir" env:"MSFBRIDGE_SCRIPT_DIR"` // temp resource scripts; default os.TempDir()
}

// Execution modes.
const (
	ModeScript     = "script"
	ModePersistent = "persistent"
	ModeRPC        = "rpc"
	ModeAuto       = "auto"
)

// ExecutionConfig selects the transport strategy.
type ExecutionConfig struct {
	// Mode is one of "script", "persistent", "rpc", or "auto".
	// Auto prefers RPC when a daemon is reachable and falls back to script.
	Mode string `yaml:"mode" env:"MSFBRIDGE_MODE"`
}

// TimeoutsConfig controls per-invocation time limits.
type TimeoutsConfig struct {
	RawBase      string            `yaml:"base"`       // e.g. "60s"
	RawKillGrace string            `yaml:"kill_grace"` // window between terminate and kill
	PerCommand   map[string]string `yaml:"per_command"`
}

// SecurityConfig controls the pre-execution gate.
type SecurityConfig struct {
	MaxCommandLength         int      `yaml:"max_command_length" env:"MSFBRIDGE_MAX_COMMAND_LENGTH"`
	DisallowedModulePrefixes []string `yaml:"disallowed_module_prefixes"`
	BlockedKeywords          []string `yaml:"blocked_keywords"`
	AuditLog                 string   `yaml:"audit_log" env:"MSFBRIDGE_AUDIT_LOG"`
}

// RetryConfig controls the retry and concurrency policy.
type RetryConfig struct {
	MaxRetries   int     `yaml:"max_retries" env:"MSFBRIDGE_MAX_RETRIES"`
	RawBaseDelay string  `yaml:"base_delay"`
	Multiplier   float64 `yaml:"backoff_multiplier"`
	PoolSize     int     `yaml:"connection_pool_size"`
}

// RPCConfig describes an msfrpcd endpoint.
type RPCConfig struct {
	Host       string `yaml:"host" env:"MSFBRIDGE_RPC_HOST"`
	Port       int    `yaml:"port" env:"MSFBRIDGE_RPC_PORT"`
	Username   string `yaml:"username" env:"MSFBRIDGE_RPC_USER"`
	Password   string `yaml:"password" env:"MSFBRIDGE_RPC_PASS"`
	SSL        bool   `yaml:"ssl" env:"MSFBRIDGE_RPC_SSL"`
	SkipVerify bool   `yaml:"insecure_skip_verify" env:"MSFBRIDGE_RPC_SKIP_VERIFY"`
	RawTimeout string `yaml:"timeout"`
}

// Configured reports whether an RPC endpoint has been set up.
func (r *RPCConfig) Configured() bool {
	return r.Host != "" || r.Port != 0
}

// Address returns the daemon host, defaulting to loopback.
func (r *RPCConfig) Address() string {
	if r.Host != "" {
		return r.Host
	}
	return "127.0.0.1"
}

// PortOrDefault returns the daemon port, defaulting to 55552.
func (r *RPCConfig) PortOrDefault() int {
	if r.Port != 0 {
		return r.Port
	}
	return 55552
}

// User returns the RPC username, defaulting to msf.
func (r *RPCConfig) User() string {
	if r.Username != "" {
		return r.Username
	}
	return "msf"
}

// CacheConfig controls the parsed-search-result cache.
type CacheConfig struct {
	RawTTL     string `yaml:"ttl"`
	MaxEntries int    `yaml:"max_entries"`
}

// DefaultWorkspaceName returns the configured default workspace.
func (c *Config) DefaultWorkspaceName() string {
	if c.Workspace != "" {
		return c.Workspace
	}
	return DefaultWorkspace
}

// BaseTimeout returns the configured base command timeout or the default.
func (c *Config) BaseTimeout() time.Duration {
	return parseDuration(c.Timeouts.RawBase, DefaultTimeout)
}

// KillGrace returns the window between graceful terminate and hard kill.
func (c *Config) KillGrace() time.Duration {
	return parseDuration(c.Timeouts.RawKillGrace, DefaultKillGrace)
}

// CommandTimeout returns a configured per-command timeout override.
func (c *Config) CommandTimeout(verb string) (time.Duration, bool) {
	raw, ok := c.Timeouts.PerCommand[verb]
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// MaxOutputBytes returns the configured output cap or the default.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return DefaultMaxOutput
}

// MaxCommandLength returns the gate's length limit or the default.
func (c *Config) MaxCommandLength() int {
	if c.Security.MaxCommandLength > 0 {
		return c.Security.MaxCommandLength
	}
	return DefaultMaxCommandLength
}

// Mode returns the transport strategy, defaulting to script.
func (c *Config) Mode() string {
	switch c.Execution.Mode {
	case ModeScript, ModePersistent, ModeRPC, ModeAuto:
		return c.Execution.Mode
	}
	return ModeScript
}

// Stock gate lists. Operators replace them by setting the corresponding
// keys; an explicit empty list disables the check.
var (
	defaultDisallowedModulePrefixes = []string{
		"exploit/windows/smb/psexec",
		"exploit/multi/handler",
	}
	defaultBlockedKeywords = []string{
		"rm -rf",
		"mkfs",
		"fdisk",
		"dd if=",
		"shutdown",
		"reboot",
	}
)

// DisallowedModulePrefixes returns the module prefixes the gate rejects.
func (c *Config) DisallowedModulePrefixes() []string {
	if c.Security.DisallowedModulePrefixes != nil {
		return c.Security.DisallowedModulePrefixes
	}
	return defaultDisallowedModulePrefixes
}

// BlockedKeywords returns the substrings the gate rejects outright.
func (c *Config) BlockedKeywords() []string {
	if c.Security.BlockedKeywords != nil {
		return c.Security.BlockedKeywords
	}
	return defaultBlockedKeywords
}

// MaxRetries returns the retry budget or the default.
func (c *Config) MaxRetries() int {
	if c.Retry.MaxRetries > 0 {
		return c.Retry.MaxRetries
	}
	return DefaultMaxRetries
}

// BackoffBase returns the first retry delay or the default.
func (c *Config) BackoffBase() time.Duration {
	return parseDuration(c.Retry.RawBaseDelay, DefaultBackoffBase)
}

// BackoffFactor returns the delay multiplier or the default.
func (c *Config) BackoffFactor() float64 {
	if c.Retry.Multiplier > 1 {
		return c.Retry.Multiplier
	}
	return DefaultBackoffFactor
}

// PoolSize returns the concurrent invocation limit or the default.
func (c *Config) PoolSize() int {
	if c.Retry.PoolSize > 0 {
		return c.Retry.PoolSize
	}
	return DefaultPoolSize
}

// CacheTTL returns the search cache lifetime or the default.
func (c *Config) CacheTTL() time.Duration {
	return parseDuration(c.Cache.RawTTL, DefaultCacheTTL)
}

// CacheEntries returns the search cache capacity or the default.
func (c *Config) CacheEntries() int {
	if c.Cache.MaxEntries > 0 {
		return c.Cache.MaxEntries
	}
	return DefaultCacheEntries
}

// RPCTimeout returns the per-call RPC timeout or the default.
func (c *Config) RPCTimeout() time.Duration {
	return parseDuration(c.RPC.RawTimeout, 30*time.Second)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw != "" {
		d, err := time.ParseDuration(raw)
		if err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

// Load reads the config file at path. An empty path or a missing file
// yields a default Config. Environment variables override file values in
// either case.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Defaults plus environment only.
		default:
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}
	return cfg, nil
}

// LoadDefault locates and loads the configuration file. Search order:
// $MSFBRIDGE_CONFIG, ./msfbridge.yaml, $HOME/.config/msfbridge/config.yaml.
// When none exists the defaults (plus environment overrides) apply.
func LoadDefault() (*Config, error) {
	if p := os.Getenv("MSFBRIDGE_CONFIG"); p != "" {
		return Load(p)
	}
	if _, err := os.Stat("msfbridge.yaml"); err == nil {
		return Load("msfbridge.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".config", "msfbridge", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return Load(p)
		}
	}
	return Load("")
}

// consoleSearchPath lists the locations probed for msfconsole when the
// config does not name one.
var consoleSearchPath = []string{
	"/usr/bin/msfconsole",
	"/opt/metasploit-framework/bin/msfconsole",
}

// venomSearchPath lists the locations probed for msfvenom.
var venomSearchPath = []string{
	"/usr/bin/msfvenom",
	"/opt/metasploit-framework/bin/msfvenom",
}

// FindConsole resolves the msfconsole binary: the configured path first,
// then the well-known install locations, then $PATH.
func (c *Config) FindConsole() (string, error) {
	return findBinary(c.Paths.Console, "msfconsole", consoleSearchPath)
}

// FindVenom resolves the msfvenom binary the same way.
func (c *Config) FindVenom() (string, error) {
	return findBinary(c.Paths.Venom, "msfvenom", venomSearchPath)
}

func findBinary(configured, name string, search []string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", fmt.Errorf("%s not found at configured path %s", name, configured)
		}
		return configured, nil
	}
	for _, p := range search {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("%s not found; set paths.%s in the config", name, name)
}
