package cgroup

import (
	stderrors "errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/core-tools/hsu-renice/pkg/errors"
	"github.com/core-tools/hsu-renice/pkg/logging"
	"github.com/core-tools/hsu-renice/pkg/policy"

	securejoin "github.com/cyphar/filepath-securejoin"
	"golang.org/x/sys/unix"
)

// Options configures a Manager.
type Options struct {
	// Root is the cpu controller hierarchy the groups are created under.
	Root string
	// CPUCount overrides host CPU detection when positive.
	CPUCount int
}

// Handle is one live kernel cgroup owned by a Manager.
type Handle struct {
	Name     string
	CPUQuota int
	Params   Params
	Path     string

	adopted  bool
	released bool
}

// Adopted reports whether the directory existed before the manager built it.
func (h *Handle) Adopted() bool {
	return h.adopted
}

// Manager owns one kernel cgroup per valid definition for the lifetime of the
// daemon. Handles are created in NewManager and released exactly once by Close.
type Manager struct {
	root    string
	cpus    int
	handles map[string]*Handle
	closed  bool
	mutex   sync.Mutex
	logger  logging.Logger
}

// NewManager creates a cgroup for every definition. Definitions that fail
// validation or creation are logged and left out; they never fail the call.
func NewManager(defs []policy.CgroupDefinition, opts Options, logger logging.Logger) *Manager {
	root := opts.Root
	if root == "" {
		root = DefaultRoot
	}

	cpus := opts.CPUCount
	if cpus <= 0 {
		var err error
		cpus, err = HostCPUCount()
		if err != nil {
			logger.Warnf("Failed to detect host CPU count, using %d: %v", cpus, err)
		}
	}

	m := &Manager{
		root:    root,
		cpus:    cpus,
		handles: make(map[string]*Handle),
		logger:  logger,
	}

	for _, def := range defs {
		handle, err := m.build(def)
		if err != nil {
			logger.Warnf("Dropping cgroup %s: %v", def.Name, err)
			continue
		}
		m.handles[def.Name] = handle
		logger.Debugf("Cgroup %s ready at %s (shares: %d, period: %dus, quota: %dus)",
			def.Name, handle.Path, handle.Params.Shares, handle.Params.PeriodMicros, handle.Params.QuotaMicros)
	}

	return m
}

func (m *Manager) build(def policy.CgroupDefinition) (*Handle, error) {
	if err := policy.ValidateCPUQuota(def.CPUQuota); err != nil {
		return nil, errors.NewCgroupBuildError("invalid definition", err).WithContext("cgroup", def.Name)
	}
	if _, exists := m.handles[def.Name]; exists {
		return nil, errors.NewCgroupBuildError("duplicate cgroup name", nil).WithContext("cgroup", def.Name)
	}

	if def.Name == "" || def.Name == "." || def.Name == ".." || strings.ContainsRune(def.Name, '/') {
		return nil, errors.NewCgroupBuildError("invalid cgroup name", nil).WithContext("cgroup", def.Name)
	}
	path, err := securejoin.SecureJoin(m.root, def.Name)
	if err != nil {
		return nil, errors.NewCgroupBuildError("invalid cgroup name", err).WithContext("cgroup", def.Name)
	}

	handle := &Handle{
		Name:     def.Name,
		CPUQuota: def.CPUQuota,
		Params:   DeriveParams(def.CPUQuota, m.cpus),
		Path:     path,
	}

	if err := os.Mkdir(path, cgroupDirPerm); err != nil {
		if !os.IsExist(err) {
			return nil, errors.NewCgroupBuildError("failed to create cgroup", err).WithContext("path", path)
		}
		handle.adopted = true
		m.logger.Infof("Cgroup %s already exists at %s, taking it over", def.Name, path)
	}

	if err := m.set(handle); err != nil {
		if rmErr := removeDir(path); rmErr != nil {
			m.logger.Debugf("Failed to remove half-built cgroup %s: %v", path, rmErr)
		}
		return nil, errors.NewCgroupBuildError("failed to configure cgroup", err).WithContext("path", path)
	}

	return handle, nil
}

func (m *Manager) set(h *Handle) error {
	if err := WriteFile(h.Path, sharesFile, strconv.FormatUint(h.Params.Shares, 10)); err != nil {
		return err
	}
	if got, err := GetParamUint(h.Path, sharesFile); err == nil && got != h.Params.Shares {
		m.logger.Warnf("Kernel adjusted cpu.shares of cgroup %s from %d to %d", h.Name, h.Params.Shares, got)
	}
	if err := WriteFile(h.Path, cfsPeriodFile, strconv.FormatUint(h.Params.PeriodMicros, 10)); err != nil {
		return err
	}
	return WriteFile(h.Path, cfsQuotaFile, strconv.FormatInt(h.Params.QuotaMicros, 10))
}

// Apply adds tid to the named cgroup. Unknown names are a no-op: they were
// reported when the manager was built.
func (m *Manager) Apply(name string, tid int) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return errors.NewInternalError("cgroup manager is closed", nil).WithContext("cgroup", name)
	}
	handle, ok := m.handles[name]
	if !ok {
		return nil
	}

	err := WriteFile(handle.Path, tasksFile, strconv.Itoa(tid))
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, unix.ESRCH):
		return errors.NewNotFoundError(fmt.Sprintf("thread %d exited before joining cgroup %s", tid, name), err)
	case stderrors.Is(err, unix.EACCES), stderrors.Is(err, unix.EPERM):
		return errors.NewPermissionError(fmt.Sprintf("cannot move thread %d into cgroup %s", tid, name), err)
	default:
		return errors.NewApplyError(fmt.Sprintf("failed to move thread %d into cgroup %s", tid, name), err)
	}
}

// Has reports whether name has a live handle.
func (m *Manager) Has(name string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, ok := m.handles[name]
	return ok && !m.closed
}

// Len returns the number of live handles.
func (m *Manager) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.closed {
		return 0
	}
	return len(m.handles)
}

// Names returns the cgroup names that were built, sorted.
func (m *Manager) Names() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.sortedNames()
}

func (m *Manager) sortedNames() []string {
	names := make([]string, 0, len(m.handles))
	for name := range m.handles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handle returns the live handle for name.
func (m *Manager) Handle(name string) (*Handle, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	h, ok := m.handles[name]
	return h, ok
}

// Close releases every handle once. Failures are logged and collected but
// never stop the remaining releases. Calling Close again does nothing.
func (m *Manager) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	failures := errors.NewErrorCollection()
	for _, name := range m.sortedNames() {
		handle := m.handles[name]
		if handle.released {
			continue
		}
		handle.released = true

		if err := removeDir(handle.Path); err != nil {
			teardownErr := errors.NewCgroupTeardownError("failed to remove cgroup", err).WithContext("cgroup", name)
			m.logger.Warnf("%v", teardownErr)
			failures.Add(teardownErr)
			continue
		}
		m.logger.Debugf("Removed cgroup %s", name)
	}
	return failures.ToError()
}
