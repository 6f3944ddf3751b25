package cgroup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/core-tools/hsu-renice/pkg/errors"
	"github.com/core-tools/hsu-renice/pkg/logging"
	"github.com/core-tools/hsu-renice/pkg/policy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withTestMode(t *testing.T) string {
	t.Helper()
	TestMode = true
	t.Cleanup(func() { TestMode = false })
	return t.TempDir()
}

func readParam(t *testing.T, dir, file string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, file))
	require.NoError(t, err)
	return string(data)
}

func TestDeriveParams(t *testing.T) {
	tests := []struct {
		quota, cpus int
		want        Params
	}{
		{quota: 50, cpus: 4, want: Params{Shares: 512, PeriodMicros: 100000, QuotaMicros: 200000}},
		{quota: 100, cpus: 1, want: Params{Shares: 1024, PeriodMicros: 100000, QuotaMicros: 100000}},
		{quota: 80, cpus: 8, want: Params{Shares: 819, PeriodMicros: 100000, QuotaMicros: 640000}},
		{quota: 0, cpus: 2, want: Params{Shares: 0, PeriodMicros: 100000, QuotaMicros: 0}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DeriveParams(tt.quota, tt.cpus))
	}
}

func TestNewManagerWritesDerivedParams(t *testing.T) {
	root := withTestMode(t)

	m := NewManager([]policy.CgroupDefinition{{Name: "cpu50", CPUQuota: 50}}, Options{Root: root, CPUCount: 4}, logging.NewNopLogger())
	defer m.Close()

	require.True(t, m.Has("cpu50"))
	dir := filepath.Join(root, "cpu50")
	assert.Equal(t, "512", readParam(t, dir, sharesFile))
	assert.Equal(t, "100000", readParam(t, dir, cfsPeriodFile))
	assert.Equal(t, "200000", readParam(t, dir, cfsQuotaFile))

	h, ok := m.Handle("cpu50")
	require.True(t, ok)
	assert.False(t, h.Adopted())
}

func TestNewManagerDropsBadDefinitions(t *testing.T) {
	root := withTestMode(t)

	defs := []policy.CgroupDefinition{
		{Name: "over", CPUQuota: 150},
		{Name: "under", CPUQuota: -5},
		{Name: "escape/../../x", CPUQuota: 10},
		{Name: "fine", CPUQuota: 10},
	}
	m := NewManager(defs, Options{Root: root, CPUCount: 2}, logging.NewNopLogger())
	defer m.Close()

	assert.Equal(t, []string{"fine"}, m.Names())
	assert.NoDirExists(t, filepath.Join(root, "over"))
	assert.NoDirExists(t, filepath.Join(root, "under"))
}

func TestNewManagerAdoptsExistingDirectory(t *testing.T) {
	root := withTestMode(t)
	require.NoError(t, os.Mkdir(filepath.Join(root, "busy"), 0755))

	m := NewManager([]policy.CgroupDefinition{{Name: "busy", CPUQuota: 25}}, Options{Root: root, CPUCount: 1}, logging.NewNopLogger())
	defer m.Close()

	h, ok := m.Handle("busy")
	require.True(t, ok)
	assert.True(t, h.Adopted())
	assert.Equal(t, "25000", readParam(t, h.Path, cfsQuotaFile))
}

func TestNewManagerRemovesHalfBuiltGroup(t *testing.T) {
	root := withTestMode(t)
	// A directory where cpu.shares should be makes the first write fail.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "broken", sharesFile), 0755))

	m := NewManager([]policy.CgroupDefinition{{Name: "broken", CPUQuota: 30}}, Options{Root: root, CPUCount: 1}, logging.NewNopLogger())
	defer m.Close()

	assert.Equal(t, 0, m.Len())
	assert.NoDirExists(t, filepath.Join(root, "broken"))
}

func TestManagerApply(t *testing.T) {
	root := withTestMode(t)

	m := NewManager([]policy.CgroupDefinition{{Name: "bg", CPUQuota: 20}}, Options{Root: root, CPUCount: 1}, logging.NewNopLogger())
	defer m.Close()

	require.NoError(t, m.Apply("bg", 4242))
	assert.Equal(t, "4242", readParam(t, filepath.Join(root, "bg"), tasksFile))

	assert.NoError(t, m.Apply("unknown", 4242), "unknown cgroups are skipped")
}

func TestManagerCloseReleasesOnce(t *testing.T) {
	root := withTestMode(t)

	defs := []policy.CgroupDefinition{{Name: "a", CPUQuota: 10}, {Name: "b", CPUQuota: 90}}
	m := NewManager(defs, Options{Root: root, CPUCount: 2}, logging.NewNopLogger())
	require.Equal(t, 2, m.Len())

	require.NoError(t, m.Close())
	assert.NoDirExists(t, filepath.Join(root, "a"))
	assert.NoDirExists(t, filepath.Join(root, "b"))
	assert.Equal(t, 0, m.Len())
	assert.False(t, m.Has("a"))

	require.NoError(t, m.Close())

	err := m.Apply("a", 1)
	assert.True(t, errors.IsInternalError(err))
}

func TestRemoveDirMissingIsNotAnError(t *testing.T) {
	assert.NoError(t, removeDir(filepath.Join(t.TempDir(), "gone")))
}
