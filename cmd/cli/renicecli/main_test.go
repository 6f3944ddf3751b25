package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRules(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"a.types":   `{"type": "BG", "nice": 19, "ioclass": "idle", "cgroup": "cpu30"}`,
		"a.cgroups": `{"cgroup": "cpu30", "CPUQuota": 30}`,
		"a.rules":   "{\"name\": \"make\", \"type\": \"BG\"}\n{\"name\": \"orphan\", \"type\": \"Missing\", \"nice\": 1}",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content+"\n"), 0644))
	}
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	_, err := newParser(&out).ParseArgs(args)
	return out.String(), err
}

func TestShow(t *testing.T) {
	out, err := execute(t, "--rules-dir", writeRules(t), "show")
	require.NoError(t, err)

	assert.Contains(t, out, "cpu30\tcpu_quota=30")
	assert.Contains(t, out, "BG\t")
	assert.Contains(t, out, "make\ttype=\"BG\"")
	assert.Contains(t, out, "# rule orphan references unknown type Missing")
}

func TestResolve(t *testing.T) {
	out, err := execute(t, "--rules-dir", writeRules(t), "resolve", "make", "firefox")
	require.NoError(t, err)

	assert.Contains(t, out, "make\t")
	assert.Contains(t, out, "nice=19")
	assert.Contains(t, out, "firefox\tno policy")
}

func TestParams(t *testing.T) {
	out, err := execute(t, "params", "--quota", "50", "--cpus", "4")
	require.NoError(t, err)
	assert.Equal(t, "cpus=4 cpu.shares=512 cpu.cfs_period_us=100000 cpu.cfs_quota_us=200000\n", out)

	_, err = execute(t, "params", "--quota", "150", "--cpus", "4")
	assert.Error(t, err)
}

func TestCheckConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "renice.yaml")
	require.NoError(t, os.WriteFile(path, []byte("daemon:\n  interval: 3s\n"), 0644))

	out, err := execute(t, "check-config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ok")

	require.NoError(t, os.WriteFile(path, []byte("daemon:\n  interval: -3s\n"), 0644))
	_, err = execute(t, "check-config", path)
	assert.Error(t, err)
}
