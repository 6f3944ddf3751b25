package procscan

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"testing"

	"github.com/core-tools/hsu-renice/pkg/errors"
	"github.com/core-tools/hsu-renice/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProc struct {
	root string
	t    *testing.T
}

func newFakeProc(t *testing.T) *fakeProc {
	return &fakeProc{root: t.TempDir(), t: t}
}

// add creates /proc/<pid> with an exe link (skipped when exe is empty) and
// one task entry per tid.
func (f *fakeProc) add(pid int, exe string, tids ...int) {
	f.t.Helper()
	dir := filepath.Join(f.root, strconv.Itoa(pid))
	require.NoError(f.t, os.MkdirAll(dir, 0755))
	if exe != "" {
		require.NoError(f.t, os.Symlink(exe, filepath.Join(dir, "exe")))
	}
	if tids == nil {
		return
	}
	for _, tid := range tids {
		require.NoError(f.t, os.MkdirAll(filepath.Join(dir, "task", strconv.Itoa(tid)), 0755))
	}
}

func collect(t *testing.T, e *Enumerator) ([]Candidate, ScanStats, error) {
	t.Helper()
	var got []Candidate
	stats, err := e.Each(func(c Candidate) { got = append(got, c) })
	sort.Slice(got, func(i, j int) bool { return got[i].TID < got[j].TID })
	return got, stats, err
}

func TestEachYieldsEveryThread(t *testing.T) {
	proc := newFakeProc(t)
	proc.add(100, "/usr/bin/make", 100, 101, 102)
	proc.add(200, "/opt/game/bin/steam", 200)
	proc.add(300, "/usr/lib/firefox/firefox (deleted)", 300)
	require.NoError(t, os.MkdirAll(filepath.Join(proc.root, "self"), 0755))

	got, stats, err := collect(t, NewEnumerator(proc.root, logging.NewNopLogger()))
	require.NoError(t, err)

	assert.Equal(t, []Candidate{
		{TID: 100, PID: 100, Basename: "make"},
		{TID: 101, PID: 100, Basename: "make"},
		{TID: 102, PID: 100, Basename: "make"},
		{TID: 200, PID: 200, Basename: "steam"},
		{TID: 300, PID: 300, Basename: "firefox"},
	}, got)
	assert.Equal(t, 3, stats.Processes)
	assert.Equal(t, 5, stats.Candidates)
}

func TestEachSkipsUnresolvableProcesses(t *testing.T) {
	proc := newFakeProc(t)
	proc.add(2, "", 2)            // kernel thread
	proc.add(50, "/usr/bin/gone") // exited: no task directory
	proc.add(60, "/usr/bin/vim", 60, 61)

	got, stats, err := collect(t, NewEnumerator(proc.root, logging.NewNopLogger()))
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "vim", got[0].Basename)
	assert.Equal(t, 1, stats.Unresolved)
	assert.Equal(t, 1, stats.Vanished)
}

func TestEachScanFailures(t *testing.T) {
	t.Run("missing_table", func(t *testing.T) {
		e := NewEnumerator(filepath.Join(t.TempDir(), "missing"), logging.NewNopLogger())
		_, _, err := collect(t, e)
		assert.True(t, errors.IsScanError(err))
	})

	t.Run("empty_table", func(t *testing.T) {
		e := NewEnumerator(t.TempDir(), logging.NewNopLogger())
		_, _, err := collect(t, e)
		assert.True(t, errors.IsScanError(err))
	})

	t.Run("only_kernel_threads", func(t *testing.T) {
		proc := newFakeProc(t)
		proc.add(2, "", 2)
		proc.add(3, "", 3)
		_, stats, err := collect(t, NewEnumerator(proc.root, logging.NewNopLogger()))
		assert.True(t, errors.IsScanError(err))
		assert.Equal(t, 2, stats.Processes)
	})
}

func TestEachIsRestartable(t *testing.T) {
	proc := newFakeProc(t)
	proc.add(10, "/bin/sh", 10)
	e := NewEnumerator(proc.root, logging.NewNopLogger())

	first, _, err := collect(t, e)
	require.NoError(t, err)

	proc.add(11, "/bin/sleep", 11, 12)
	second, _, err := collect(t, e)
	require.NoError(t, err)

	assert.Len(t, first, 1)
	assert.Len(t, second, 3)
}
