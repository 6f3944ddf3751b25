package daemon

import (
	"context"
	"os"
	"sort"

	"github.com/core-tools/hsu-renice/pkg/apply"
	"github.com/core-tools/hsu-renice/pkg/cgroup"
	"github.com/core-tools/hsu-renice/pkg/config"
	"github.com/core-tools/hsu-renice/pkg/logging"
	"github.com/core-tools/hsu-renice/pkg/metrics"
	"github.com/core-tools/hsu-renice/pkg/policy"
	"github.com/core-tools/hsu-renice/pkg/processfile"
	"github.com/core-tools/hsu-renice/pkg/procscan"
)

// Run builds the policy tables and cgroups, then reconciles until ctx is
// cancelled. Every cgroup created here is released before Run returns, on
// every path.
func Run(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	if err := config.ValidateConfig(cfg); err != nil {
		return err
	}
	options := cfg.Daemon

	logger.Infof("Daemon starting, rules: %s, interval: %v, poll: %v", options.RulesDir, options.Interval, options.Poll)

	if options.PIDFile != "" {
		pidFile := processfile.NewPIDFile(options.PIDFile, logger)
		if err := pidFile.Write(os.Getpid()); err != nil {
			return err
		}
		defer func() {
			if removeErr := pidFile.Remove(); removeErr != nil {
				logger.Warnf("Failed to remove PID file: %v", removeErr)
			}
		}()
	}

	tables, stats, err := policy.LoadTables(options.RulesDir, logger)
	if err != nil {
		return err
	}
	logTablesSummary(tables, stats, logger)

	cgroups := cgroup.NewManager(tables.CgroupDefinitions(), cgroup.Options{
		Root:     options.CgroupRoot,
		CPUCount: options.CPUCount,
	}, logger)

	recorder := metrics.NewRecorder(cfg.Metrics.Textfile)
	recorder.CgroupsLive(cgroups.Len())

	defer func() {
		if closeErr := cgroups.Close(); closeErr != nil {
			logger.Warnf("Cgroup teardown incomplete: %v", closeErr)
		}
		recorder.CgroupsLive(cgroups.Len())
		if flushErr := recorder.Flush(); flushErr != nil {
			logger.Warnf("Failed to export metrics: %v", flushErr)
		}
		logger.Infof("Daemon stopped")
	}()

	for _, name := range tables.CgroupRefs() {
		if !cgroups.Has(name) {
			logger.Warnf("Cgroup %s is referenced but not available, its rules keep their other aspects", name)
		}
	}

	applier := apply.NewApplier(apply.Options{
		ProcRoot:   options.ProcRoot,
		IONicePath: options.IONicePath,
	}, cgroups, logger)

	loop := NewLoop(LoopOptions{
		Interval: options.Interval,
		Poll:     options.Poll,
		Once:     options.Once,
	}, procscan.NewEnumerator(options.ProcRoot, logger), tables, applier, recorder, logger)

	return loop.Run(ctx)
}

func logTablesSummary(tables *policy.Tables, stats policy.LoadStats, logger logging.Logger) {
	logger.Infof("Loaded %d types, %d rules, %d cgroups from %d files (skipped %d files, %d lines)",
		len(tables.Types), len(tables.Rules), len(tables.Cgroups), stats.Files, stats.SkippedFiles, stats.SkippedLines)

	for _, name := range tables.DanglingTypeRefs() {
		rule := tables.Rules[name]
		logger.Warnf("Rule %s references unknown type %s, only its own fields apply", name, rule.TypeName)
	}

	for _, def := range tables.CgroupDefinitions() {
		logger.Debugf("Cgroup %s: cpu_quota %d%%", def.Name, def.CPUQuota)
	}
	for _, name := range sortedKeys(tables.Types) {
		logger.Debugf("Type %s: %s", name, tables.Types[name].Fields)
	}
	for _, name := range sortedKeys(tables.Rules) {
		rule := tables.Rules[name]
		logger.Debugf("Rule %s: type %q, %s", name, rule.TypeName, rule.Fields)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
