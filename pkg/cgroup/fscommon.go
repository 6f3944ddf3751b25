package cgroup

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"golang.org/x/sys/unix"
)

const (
	// DefaultRoot is the mount point of the cgroup v1 cpu controller.
	DefaultRoot = "/sys/fs/cgroup/cpu"

	tasksFile       = "tasks"
	sharesFile      = "cpu.shares"
	cfsPeriodFile   = "cpu.cfs_period_us"
	cfsQuotaFile    = "cpu.cfs_quota_us"
	cgroupDirPerm   = 0755
	cgroupFilePerm  = 0644
	maxWriteRetries = 5
)

// TestMode lets writes create missing files so a plain directory can stand in
// for cgroupfs. Removal then deletes the emulated files as well.
var TestMode bool

// OpenFile opens file inside the cgroup directory dir without letting file
// escape it.
func OpenFile(dir, file string, flags int) (*os.File, error) {
	if dir == "" {
		return nil, fmt.Errorf("no directory specified for %s", file)
	}
	if TestMode && flags&os.O_WRONLY != 0 {
		flags |= os.O_TRUNC | os.O_CREATE
	}
	path, err := securejoin.SecureJoin(dir, file)
	if err != nil {
		return nil, err
	}
	return os.OpenFile(path, flags|unix.O_CLOEXEC, cgroupFilePerm)
}

// WriteFile writes data to a cgroup control file in dir.
func WriteFile(dir, file, data string) error {
	fd, err := OpenFile(dir, file, os.O_WRONLY)
	if err != nil {
		return err
	}
	defer fd.Close()
	if err := retryingWriteFile(fd, data); err != nil {
		return fmt.Errorf("failed to write %q to %s: %w", data, fd.Name(), err)
	}
	return nil
}

// ReadFile reads a cgroup control file in dir.
func ReadFile(dir, file string) (string, error) {
	fd, err := OpenFile(dir, file, os.O_RDONLY)
	if err != nil {
		return "", err
	}
	defer fd.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(fd)
	return buf.String(), err
}

// GetParamUint reads a single unsigned value from a cgroup control file.
func GetParamUint(dir, file string) (uint64, error) {
	contents, err := ReadFile(dir, file)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(strings.TrimSpace(contents), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unable to parse %s/%s: %w", dir, file, err)
	}
	return value, nil
}

func retryingWriteFile(fd *os.File, data string) error {
	var err error
	for i := 0; i < maxWriteRetries; i++ {
		_, err = fd.WriteString(data)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return err
	}
	return err
}

// removeDir removes one cgroup directory. A directory that is already gone
// counts as removed.
func removeDir(path string) error {
	if TestMode {
		return os.RemoveAll(path)
	}
	err := unix.Rmdir(path)
	if err == nil || err == unix.ENOENT {
		return nil
	}
	return &os.PathError{Op: "rmdir", Path: path, Err: err}
}
