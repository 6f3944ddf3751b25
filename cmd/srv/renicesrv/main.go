package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/core-tools/hsu-renice/pkg/config"
	"github.com/core-tools/hsu-renice/pkg/daemon"
	"github.com/core-tools/hsu-renice/pkg/logging"
	"github.com/core-tools/hsu-renice/pkg/policy"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Config          string        `long:"config" description:"path to the settings file (YAML)"`
	RulesDir        string        `long:"rules-dir" description:"policy directory (default: /etc/ananicy.d)"`
	Interval        time.Duration `long:"interval" description:"time between reconciliation passes (default: 5s)"`
	Poll            time.Duration `long:"poll" description:"shutdown check increment while sleeping (default: 250ms)"`
	LogLevel        string        `long:"log-level" description:"trace, debug, info, warn or error"`
	LogFormat       string        `long:"log-format" description:"console or json"`
	LogOutput       string        `long:"log-output" description:"stdout, stderr or a file path"`
	CgroupRoot      string        `long:"cgroup-root" description:"cpu controller mount (default: /sys/fs/cgroup/cpu)"`
	ProcRoot        string        `long:"proc" description:"procfs mount (default: /proc)"`
	IONicePath      string        `long:"ionice-path" description:"ionice helper (default: ionice)"`
	CPUCount        int           `long:"cpus" description:"host CPU count used for quotas (default: detected)"`
	PIDFile         string        `long:"pid-file" description:"write the daemon pid here"`
	MetricsTextfile string        `long:"metrics-textfile" description:"export metrics to this file after every pass"`
	Once            bool          `long:"once" description:"run a single pass, then exit"`
	Validate        bool          `long:"validate" description:"load the policy directory, print a summary and exit"`
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	var opts flagOptions
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	_, err := parser.ParseArgs(argv)
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			fmt.Println(err)
			return 0
		}
		fmt.Fprintf(os.Stderr, "Command line flags parsing failed: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration failed: %v\n", err)
		return 1
	}

	backend, err := logging.NewZapBackend(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer backend.Sync()

	logger := logging.NewLogger(logging.ModulePrefix("hsu-renice"), backend.LogFuncs())

	if opts.Validate {
		return validate(cfg, logger)
	}

	ctx, stop := daemon.WithShutdownSignals(context.Background(), logger)
	defer stop()

	if err := daemon.Run(ctx, cfg, logger); err != nil {
		logger.Errorf("Daemon failed: %v", err)
		return 1
	}
	return 0
}

// loadConfig reads the settings file, if any, and lets flags override it.
func loadConfig(opts flagOptions) (*config.Config, error) {
	cfg := config.Default()
	if opts.Config != "" {
		var err error
		cfg, err = config.LoadConfigFromFile(opts.Config)
		if err != nil {
			return nil, err
		}
	}

	applyFlags(cfg, opts)

	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, opts flagOptions) {
	setString(&cfg.Daemon.RulesDir, opts.RulesDir)
	setString(&cfg.Daemon.CgroupRoot, opts.CgroupRoot)
	setString(&cfg.Daemon.ProcRoot, opts.ProcRoot)
	setString(&cfg.Daemon.IONicePath, opts.IONicePath)
	setString(&cfg.Daemon.PIDFile, opts.PIDFile)
	setString(&cfg.Logging.Level, opts.LogLevel)
	setString(&cfg.Logging.Format, opts.LogFormat)
	setString(&cfg.Logging.Output, opts.LogOutput)
	setString(&cfg.Metrics.Textfile, opts.MetricsTextfile)

	if opts.Interval != 0 {
		cfg.Daemon.Interval = opts.Interval
		if opts.Poll == 0 && cfg.Daemon.Poll > cfg.Daemon.Interval {
			cfg.Daemon.Poll = cfg.Daemon.Interval
		}
	}
	if opts.Poll != 0 {
		cfg.Daemon.Poll = opts.Poll
	}
	if opts.CPUCount != 0 {
		cfg.Daemon.CPUCount = opts.CPUCount
	}
	if opts.Once {
		cfg.Daemon.Once = true
	}
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func validate(cfg *config.Config, logger logging.Logger) int {
	tables, stats, err := policy.LoadTables(cfg.Daemon.RulesDir, logger)
	if err != nil {
		logger.Errorf("Validation failed: %v", err)
		return 1
	}

	fmt.Printf("%s: %d types, %d rules, %d cgroups from %d files\n",
		cfg.Daemon.RulesDir, len(tables.Types), len(tables.Rules), len(tables.Cgroups), stats.Files)
	if stats.SkippedLines > 0 || stats.SkippedFiles > 0 {
		fmt.Printf("skipped %d lines and %d files, see warnings above\n", stats.SkippedLines, stats.SkippedFiles)
		return 1
	}
	return 0
}
