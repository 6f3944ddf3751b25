package procscan

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/core-tools/hsu-renice/pkg/errors"
	"github.com/core-tools/hsu-renice/pkg/logging"

	"github.com/prometheus/procfs"
)

// DefaultProcRoot is where the kernel process table is mounted.
const DefaultProcRoot = procfs.DefaultMountPoint

// deletedSuffix marks an exe link whose binary was replaced on disk.
const deletedSuffix = " (deleted)"

// Candidate is one schedulable thread together with the executable basename
// of the process that owns it.
type Candidate struct {
	TID      int
	PID      int
	Basename string
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s[pid=%d,tid=%d]", c.Basename, c.PID, c.TID)
}

// ScanStats describes one pass over the process table.
type ScanStats struct {
	Processes  int
	Candidates int
	Unresolved int
	Vanished   int
}

// Enumerator walks a procfs mount. It keeps no state between passes.
type Enumerator struct {
	procRoot string
	logger   logging.Logger
}

func NewEnumerator(procRoot string, logger logging.Logger) *Enumerator {
	if procRoot == "" {
		procRoot = DefaultProcRoot
	}
	return &Enumerator{
		procRoot: procRoot,
		logger:   logger,
	}
}

// ProcRoot returns the procfs mount point being scanned.
func (e *Enumerator) ProcRoot() string {
	return e.procRoot
}

// Each calls fn once per thread of every process whose executable resolves.
// Processes that cannot be resolved or that exit mid-scan are skipped.
// A process table that cannot be read, or that yields nothing, is a scan error.
func (e *Enumerator) Each(fn func(Candidate)) (ScanStats, error) {
	var stats ScanStats

	fs, err := procfs.NewFS(e.procRoot)
	if err != nil {
		return stats, errors.NewScanError("failed to open process table", err).WithContext("proc", e.procRoot)
	}

	procs, err := fs.AllProcs()
	if err != nil {
		return stats, errors.NewScanError("failed to list processes", err).WithContext("proc", e.procRoot)
	}

	for _, proc := range procs {
		stats.Processes++

		exe, err := proc.Executable()
		if err != nil {
			stats.Unresolved++
			e.logger.Debugf("Skipping pid %d, executable unresolved: %v", proc.PID, err)
			continue
		}
		if exe == "" {
			// Kernel threads have no executable.
			stats.Unresolved++
			continue
		}
		basename := filepath.Base(strings.TrimSuffix(exe, deletedSuffix))

		threads, err := fs.AllThreads(proc.PID)
		if err != nil {
			stats.Vanished++
			e.logger.Debugf("Skipping pid %d (%s), threads unreadable: %v", proc.PID, basename, err)
			continue
		}

		for _, thread := range threads {
			stats.Candidates++
			fn(Candidate{TID: thread.PID, PID: proc.PID, Basename: basename})
		}
	}

	if stats.Candidates == 0 {
		return stats, errors.NewScanError("process table yielded no resolvable processes", nil).
			WithContext("proc", e.procRoot).
			WithContext("processes", stats.Processes)
	}

	return stats, nil
}
