package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/core-tools/hsu-renice/pkg/cgroup"
	"github.com/core-tools/hsu-renice/pkg/config"
	"github.com/core-tools/hsu-renice/pkg/logging"
	"github.com/core-tools/hsu-renice/pkg/policy"

	flags "github.com/jessevdk/go-flags"
)

type globalOptions struct {
	RulesDir string `long:"rules-dir" default:"/etc/ananicy.d" description:"policy directory"`
	Verbose  bool   `short:"v" long:"verbose" description:"log skipped lines and overrides"`
}

type showCommand struct {
	global *globalOptions
	out    io.Writer
}

type resolveCommand struct {
	global *globalOptions
	out    io.Writer
	Args   struct {
		Basenames []string `positional-arg-name:"basename" required:"1"`
	} `positional-args:"yes"`
}

type paramsCommand struct {
	out   io.Writer
	Quota int `long:"quota" required:"true" description:"cpu quota percentage"`
	CPUs  int `long:"cpus" description:"host CPU count (default: detected)"`
}

type checkConfigCommand struct {
	out  io.Writer
	Args struct {
		File string `positional-arg-name:"settings.yaml" required:"1"`
	} `positional-args:"yes"`
}

func newLogger(verbose bool) logging.Logger {
	if !verbose {
		return logging.NewLogger("", logging.LogFuncs{
			Warnf:  func(format string, args ...interface{}) { fmt.Fprintf(os.Stderr, "warning: "+format+"\n", args...) },
			Errorf: func(format string, args ...interface{}) { fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...) },
		})
	}
	zapConfig := logging.DefaultZapConfig()
	zapConfig.Level = "debug"
	backend, err := logging.NewZapBackend(zapConfig)
	if err != nil {
		return logging.NewNopLogger()
	}
	return logging.NewLogger(logging.ModulePrefix("renicecli"), backend.LogFuncs())
}

func loadTables(global *globalOptions) (*policy.Tables, policy.LoadStats, error) {
	return policy.LoadTables(global.RulesDir, newLogger(global.Verbose))
}

func (c *showCommand) Execute(args []string) error {
	tables, stats, err := loadTables(c.global)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "# %s: %d files, %d records, %d skipped lines, %d overrides\n",
		c.global.RulesDir, stats.Files, stats.Records, stats.SkippedLines, stats.Overrides)

	fmt.Fprintf(c.out, "\n[cgroups]\n")
	for _, def := range tables.CgroupDefinitions() {
		fmt.Fprintf(c.out, "%s\tcpu_quota=%d\n", def.Name, def.CPUQuota)
	}

	fmt.Fprintf(c.out, "\n[types]\n")
	for _, name := range sortedKeys(tables.Types) {
		fmt.Fprintf(c.out, "%s\t%s\n", name, tables.Types[name].Fields)
	}

	fmt.Fprintf(c.out, "\n[rules]\n")
	for _, name := range sortedKeys(tables.Rules) {
		rule := tables.Rules[name]
		fmt.Fprintf(c.out, "%s\ttype=%q %s\n", name, rule.TypeName, rule.Fields)
	}

	for _, name := range tables.DanglingTypeRefs() {
		fmt.Fprintf(c.out, "# rule %s references unknown type %s\n", name, tables.Rules[name].TypeName)
	}
	for _, name := range tables.CgroupRefs() {
		if _, ok := tables.Cgroups[name]; !ok {
			fmt.Fprintf(c.out, "# cgroup %s is referenced but not defined\n", name)
		}
	}
	return nil
}

func (c *resolveCommand) Execute(args []string) error {
	tables, _, err := loadTables(c.global)
	if err != nil {
		return err
	}

	for _, basename := range c.Args.Basenames {
		eff, ok := tables.Lookup(basename)
		if !ok {
			fmt.Fprintf(c.out, "%s\tno policy\n", basename)
			continue
		}
		fmt.Fprintf(c.out, "%s\t%s\n", basename, eff.Fields)
	}
	return nil
}

func (c *paramsCommand) Execute(args []string) error {
	if err := policy.ValidateCPUQuota(c.Quota); err != nil {
		return err
	}
	cpus := c.CPUs
	if cpus <= 0 {
		var err error
		if cpus, err = cgroup.HostCPUCount(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: CPU detection failed, using %d: %v\n", cpus, err)
		}
	}

	params := cgroup.DeriveParams(c.Quota, cpus)
	fmt.Fprintf(c.out, "cpus=%d cpu.shares=%d cpu.cfs_period_us=%d cpu.cfs_quota_us=%d\n",
		cpus, params.Shares, params.PeriodMicros, params.QuotaMicros)
	return nil
}

func (c *checkConfigCommand) Execute(args []string) error {
	if err := config.ValidateConfigFile(c.Args.File); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s: ok\n", c.Args.File)
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func newParser(out io.Writer) *flags.Parser {
	global := &globalOptions{}
	parser := flags.NewParser(global, flags.HelpFlag|flags.PassDoubleDash)

	parser.AddCommand("show", "Print the loaded policy tables", "", &showCommand{global: global, out: out})
	parser.AddCommand("resolve", "Print the effective policy for executable basenames", "", &resolveCommand{global: global, out: out})
	parser.AddCommand("params", "Print the kernel parameters derived from a cpu quota", "", &paramsCommand{out: out})
	parser.AddCommand("check-config", "Validate a daemon settings file", "", &checkConfigCommand{out: out})

	return parser
}

func main() {
	_, err := newParser(os.Stdout).ParseArgs(os.Args[1:])
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			fmt.Println(err)
			return
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
