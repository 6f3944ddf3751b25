package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-renice/pkg/errors"
	"github.com/core-tools/hsu-renice/pkg/logging"
	"github.com/core-tools/hsu-renice/pkg/processstate"
)

// Default application name, used for the PID file name
const DefaultAppName = "hsu-renice"

// ServiceContext defines the context in which the daemon runs
type ServiceContext string

const (
	// SystemService runs as a system service (daemon)
	SystemService ServiceContext = "system"

	// UserService runs as a user service
	UserService ServiceContext = "user"
)

// DefaultPIDFilePath returns the conventional PID file location for the context.
func DefaultPIDFilePath(context ServiceContext) string {
	name := DefaultAppName + ".pid"
	if context == UserService {
		if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
			return filepath.Join(runtimeDir, name)
		}
		return filepath.Join(os.TempDir(), name)
	}
	return filepath.Join("/run", name)
}

// PIDFile guards against two daemons enforcing policy on the same host.
type PIDFile struct {
	path    string
	written bool
	logger  logging.Logger
}

func NewPIDFile(path string, logger logging.Logger) *PIDFile {
	return &PIDFile{
		path:   path,
		logger: logger,
	}
}

func (p *PIDFile) Path() string {
	return p.path
}

// Write records pid. It refuses when the file names another live process.
// A stale file left by a crashed run is replaced.
func (p *PIDFile) Write(pid int) error {
	p.logger.Debugf("Writing PID file, pid: %d, path: %s", pid, p.path)

	if err := ValidatePIDFileDirectory(p.path); err != nil {
		p.logger.Errorf("PID file directory validation failed, path: %s, error: %v", p.path, err)
		return err
	}

	if existing, err := ReadPIDFile(p.path); err == nil && existing != pid {
		running, err := processstate.IsProcessRunning(existing)
		if err == nil && running {
			return errors.NewConflictError(fmt.Sprintf("another instance is running with pid %d", existing), nil).
				WithContext("pid_file", p.path)
		}
		p.logger.Infof("Replacing stale PID file, old pid: %d, path: %s", existing, p.path)
	}

	content := fmt.Sprintf("%d\n", pid)
	if err := os.WriteFile(p.path, []byte(content), 0644); err != nil {
		return errors.NewIOError("failed to write PID file", err).WithContext("pid_file", p.path).WithContext("pid", pid)
	}
	p.written = true

	p.logger.Infof("PID file written, pid: %d, path: %s", pid, p.path)
	return nil
}

// Remove deletes the file if this PIDFile wrote it.
func (p *PIDFile) Remove() error {
	if !p.written {
		return nil
	}
	p.written = false

	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError("failed to remove PID file", err).WithContext("pid_file", p.path)
	}
	p.logger.Debugf("PID file removed, path: %s", p.path)
	return nil
}

// ReadPIDFile reads the pid stored at path
func ReadPIDFile(path string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.NewIOError("failed to read PID file", err).WithContext("pid_file", path)
	}

	pidStr := strings.TrimSpace(string(content))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, errors.NewValidationError("invalid pid in PID file", err).WithContext("pid_file", path).WithContext("content", pidStr)
	}
	return pid, nil
}

// ValidatePIDFileDirectory validates that the PID file directory exists and is writable
func ValidatePIDFileDirectory(pidFilePath string) error {
	dir := filepath.Dir(pidFilePath)

	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return errors.NewIOError("failed to access PID file directory", err).WithContext("directory", dir)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.NewIOError("failed to create PID file directory", err).WithContext("directory", dir)
		}
	} else if !info.IsDir() {
		return errors.NewValidationError("PID file directory is not a directory", nil).WithContext("path", dir)
	}

	testFile := filepath.Join(dir, ".write_test")
	file, err := os.Create(testFile)
	if err != nil {
		return errors.NewPermissionError("PID file directory is not writable", err).WithContext("directory", dir)
	}
	file.Close()
	os.Remove(testFile)

	return nil
}
