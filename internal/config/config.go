package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/machine-updater/internal/domain/update"
	"github.com/oshokin/machine-updater/internal/logger"
)

// Config holds settings shared by the updater binaries.
type Config struct {
	// WorkingRootDir is the directory the working copy lives under. Empty means $HOME.
	WorkingRootDir string `yaml:"working_root"`
	// RepositoryDir is the working copy directory name inside WorkingRoot.
	RepositoryDir string `yaml:"repository_dir"`
	// SourceHost is the host serving update repositories over HTTPS.
	SourceHost string `yaml:"source_host"`
	// InstallScript is the installation script path relative to the working copy.
	InstallScript string `yaml:"install_script"`
	// GitBinary is the version-control client executable.
	GitBinary string `yaml:"git_binary"`
	// ChmodBinary is the permission-change utility.
	ChmodBinary string `yaml:"chmod_binary"`
	// ListenAddress is the gRPC control API address.
	ListenAddress string `yaml:"listen_addr"`
	// HistoryFile stores per-step durations. Relative paths resolve against WorkingRoot.
	HistoryFile string `yaml:"history_file"`
	// GracePeriod is how long cancel waits after SIGTERM before SIGKILL.
	GracePeriod time.Duration `yaml:"grace_period"`
	// Timeout is the per-call timeout of update-ctl RPCs.
	Timeout time.Duration `yaml:"timeout"`
	// RebootAfterUpdate reboots the device at the end of the finalize step.
	RebootAfterUpdate bool `yaml:"reboot_after_update"`
	// EchoOutput logs subprocess output regardless of LogLevel.
	EchoOutput bool `yaml:"echo_output"`
	// LogLevel is the service log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
}

const (
	// DefaultConfigFilename is the default settings filename.
	DefaultConfigFilename = "update-settings.yaml"
	// DefaultRepositoryDir is the default working copy directory name.
	DefaultRepositoryDir = "machine-update"
	// DefaultSourceHost is the default repository host.
	DefaultSourceHost = "github.com"
	// DefaultInstallScript is the default installation script.
	DefaultInstallScript = "nixos-install.sh"
	// DefaultGitBinary is the default version-control client.
	DefaultGitBinary = "git"
	// DefaultChmodBinary is the default permission-change utility.
	DefaultChmodBinary = "chmod"
	// DefaultListenAddress is the default control API address.
	DefaultListenAddress = "127.0.0.1:50071"
	// DefaultHistoryFile is the default step duration history file.
	DefaultHistoryFile = ".machine-update-history.json"
	// DefaultGracePeriod is the default SIGTERM grace period.
	DefaultGracePeriod = 10 * time.Second
	// DefaultTimeout is the default RPC timeout.
	DefaultTimeout = 5 * time.Second
	// DefaultFilePermissions is used for files written by the updater.
	DefaultFilePermissions = 0o600
)

// ErrConfigExists is returned by WriteDefault when the settings file is already there.
var ErrConfigExists = errors.New("settings file already exists")

var (
	errConfigIsNotSet       = errors.New("configuration is not set")
	errInvalidLogLevel      = errors.New("invalid log level")
	errInvalidInstallPath   = errors.New("install script must be a relative path inside the working copy")
	errInvalidRepositoryDir = errors.New("repository dir must be a single directory name")
)

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := &Config{EchoOutput: true}

	//nolint:errcheck // Defaults always validate.
	_ = Validate(cfg)

	return cfg
}

// Load reads configuration from path and validates it.
// A missing file at the default location yields Default().
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && path == DefaultConfigFilename {
			return Default(), nil
		}

		return nil, fmt.Errorf("read settings: %w", err)
	}

	cfg := &Config{EchoOutput: true}
	if err = yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes cfg to path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// WriteDefault saves Default() to path. An existing file is kept unless force is set.
func WriteDefault(path string, force bool) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	if !force {
		if _, err := os.Stat(path); err == nil {
			return nil, fmt.Errorf("%w: %s", ErrConfigExists, path)
		}
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate applies defaults and checks field formats.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	setDefault(&cfg.RepositoryDir, DefaultRepositoryDir)
	setDefault(&cfg.SourceHost, DefaultSourceHost)
	setDefault(&cfg.InstallScript, DefaultInstallScript)
	setDefault(&cfg.GitBinary, DefaultGitBinary)
	setDefault(&cfg.ChmodBinary, DefaultChmodBinary)
	setDefault(&cfg.ListenAddress, DefaultListenAddress)
	setDefault(&cfg.HistoryFile, DefaultHistoryFile)

	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if _, ok := logger.ParseLogLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("%w: %q", errInvalidLogLevel, cfg.LogLevel)
	}

	if _, err := net.ResolveTCPAddr("tcp", cfg.ListenAddress); err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}

	if !isDirectoryName(cfg.RepositoryDir) {
		return fmt.Errorf("%w: %q", errInvalidRepositoryDir, cfg.RepositoryDir)
	}

	script := filepath.Clean(cfg.InstallScript)
	if filepath.IsAbs(script) || strings.HasPrefix(script, "..") {
		return fmt.Errorf("%w: %q", errInvalidInstallPath, cfg.InstallScript)
	}

	return nil
}

// isDirectoryName reports whether dir names a single child directory.
// The working copy is removed recursively, so "." and the root are refused.
func isDirectoryName(dir string) bool {
	if strings.TrimSpace(dir) == "" || strings.ContainsAny(dir, `/\`) {
		return false
	}

	cleaned := filepath.Clean(dir)

	return cleaned != "." && cleaned != ".." && cleaned == filepath.Base(cleaned)
}

// WorkingRoot resolves the root directory for the working copy:
// the configured value, otherwise $HOME.
func (c *Config) WorkingRoot() (string, error) {
	root := strings.TrimSpace(c.WorkingRootDir)
	if root == "" {
		root = strings.TrimSpace(os.Getenv("HOME"))
	}

	if root == "" {
		return "", update.ErrMissingWorkingRoot
	}

	return filepath.Clean(root), nil
}

// HistoryPath resolves HistoryFile against root.
func (c *Config) HistoryPath(root string) string {
	if filepath.IsAbs(c.HistoryFile) {
		return filepath.Clean(c.HistoryFile)
	}

	return filepath.Join(root, c.HistoryFile)
}

func setDefault(field *string, value string) {
	if strings.TrimSpace(*field) == "" {
		*field = value
	}
}
