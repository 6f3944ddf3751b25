package config

import (
	"fmt"
	"os"
	"time"

	"github.com/core-tools/hsu-renice/pkg/cgroup"
	"github.com/core-tools/hsu-renice/pkg/errors"
	"github.com/core-tools/hsu-renice/pkg/logging"
	"github.com/core-tools/hsu-renice/pkg/procscan"

	"gopkg.in/yaml.v3"
)

const (
	DefaultRulesDir   = "/etc/ananicy.d"
	DefaultInterval   = 5 * time.Second
	DefaultPoll       = 250 * time.Millisecond
	DefaultIONicePath = "ionice"
)

// Config represents the settings file structure
type Config struct {
	Daemon  DaemonOptions     `yaml:"daemon"`
	Logging logging.ZapConfig `yaml:"logging"`
	Metrics MetricsOptions    `yaml:"metrics,omitempty"`
}

// DaemonOptions controls where policy comes from and how often it is enforced.
type DaemonOptions struct {
	RulesDir   string        `yaml:"rules_dir"`
	Interval   time.Duration `yaml:"interval"`
	Poll       time.Duration `yaml:"poll"`
	ProcRoot   string        `yaml:"proc_root"`
	CgroupRoot string        `yaml:"cgroup_root"`
	IONicePath string        `yaml:"ionice_path"`
	CPUCount   int           `yaml:"cpu_count,omitempty"` // 0 detects the host count
	PIDFile    string        `yaml:"pid_file,omitempty"`
	Once       bool          `yaml:"once,omitempty"`
}

type MetricsOptions struct {
	Textfile string `yaml:"textfile,omitempty"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	config := &Config{}
	setConfigDefaults(config)
	return config
}

// LoadConfigFromFile loads settings from a YAML file and applies defaults
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewConfigIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewConfigParseError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}

	setConfigDefaults(&config)

	return &config, nil
}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if err := validateDaemonOptions(&config.Daemon); err != nil {
		return errors.NewValidationError("invalid daemon configuration", err)
	}

	if err := validateLoggingConfig(&config.Logging); err != nil {
		return errors.NewValidationError("invalid logging configuration", err)
	}

	return nil
}

// ValidateConfigFile loads and validates a settings file without running anything
func ValidateConfigFile(filename string) error {
	config, err := LoadConfigFromFile(filename)
	if err != nil {
		return err
	}
	return ValidateConfig(config)
}

func setConfigDefaults(config *Config) {
	daemon := &config.Daemon
	if daemon.RulesDir == "" {
		daemon.RulesDir = DefaultRulesDir
	}
	if daemon.Interval == 0 {
		daemon.Interval = DefaultInterval
	}
	if daemon.Poll == 0 {
		daemon.Poll = DefaultPoll
		if daemon.Interval > 0 && daemon.Poll > daemon.Interval {
			daemon.Poll = daemon.Interval
		}
	}
	if daemon.ProcRoot == "" {
		daemon.ProcRoot = procscan.DefaultProcRoot
	}
	if daemon.CgroupRoot == "" {
		daemon.CgroupRoot = cgroup.DefaultRoot
	}
	if daemon.IONicePath == "" {
		daemon.IONicePath = DefaultIONicePath
	}

	defaults := logging.DefaultZapConfig()
	if config.Logging.Level == "" {
		config.Logging.Level = defaults.Level
	}
	if config.Logging.Format == "" {
		config.Logging.Format = defaults.Format
	}
	if config.Logging.Output == "" {
		config.Logging.Output = defaults.Output
	}
}

func validateDaemonOptions(daemon *DaemonOptions) error {
	if daemon.RulesDir == "" {
		return errors.NewValidationError("rules directory is required", nil)
	}
	if daemon.Interval <= 0 {
		return errors.NewValidationError(
			fmt.Sprintf("invalid interval: %v", daemon.Interval),
			nil,
		).WithContext("valid_range", "> 0")
	}
	if daemon.Poll <= 0 || daemon.Poll > daemon.Interval {
		return errors.NewValidationError(
			fmt.Sprintf("invalid poll increment: %v", daemon.Poll),
			nil,
		).WithContext("valid_range", fmt.Sprintf("0 < poll <= %v", daemon.Interval))
	}
	if daemon.CPUCount < 0 {
		return errors.NewValidationError(
			fmt.Sprintf("invalid cpu count: %d", daemon.CPUCount),
			nil,
		).WithContext("valid_range", ">= 0")
	}
	return nil
}

func validateLoggingConfig(config *logging.ZapConfig) error {
	if _, err := logging.ParseLevel(config.Level); err != nil {
		return errors.NewValidationError(
			fmt.Sprintf("invalid log level: %s", config.Level),
			err,
		).WithContext("valid_levels", "trace, debug, info, warn, error")
	}

	validFormats := []string{"console", "json"}
	for _, format := range validFormats {
		if config.Format == format {
			return nil
		}
	}
	return errors.NewValidationError(
		fmt.Sprintf("invalid log format: %s", config.Format),
		nil,
	).WithContext("valid_formats", "console, json")
}
