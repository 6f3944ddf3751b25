package daemon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/core-tools/hsu-renice/pkg/errors"
	"github.com/core-tools/hsu-renice/pkg/logging"
	"github.com/core-tools/hsu-renice/pkg/metrics"
	"github.com/core-tools/hsu-renice/pkg/policy"
	"github.com/core-tools/hsu-renice/pkg/procscan"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeCandidates replays a fixed population; failFirst makes the first passes
// report a scan failure.
type fakeCandidates struct {
	mutex      sync.Mutex
	population []procscan.Candidate
	failFirst  int
	calls      int
}

func (f *fakeCandidates) Each(fn func(procscan.Candidate)) (procscan.ScanStats, error) {
	f.mutex.Lock()
	f.calls++
	call := f.calls
	f.mutex.Unlock()

	if call <= f.failFirst {
		return procscan.ScanStats{}, errors.NewScanError("process table unreadable", nil)
	}
	for _, c := range f.population {
		fn(c)
	}
	return procscan.ScanStats{Candidates: len(f.population)}, nil
}

func (f *fakeCandidates) Calls() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.calls
}

type MockApplier struct {
	mock.Mock
}

func (m *MockApplier) Apply(tid int, pol policy.EffectivePolicy) *errors.ErrorCollection {
	args := m.Called(tid, pol)
	return args.Get(0).(*errors.ErrorCollection)
}

func noFailures() *errors.ErrorCollection {
	return errors.NewErrorCollection()
}

func failures(errs ...error) *errors.ErrorCollection {
	c := errors.NewErrorCollection()
	for _, err := range errs {
		c.Add(err)
	}
	return c
}

func nicePolicy(nice int) policy.EffectivePolicy {
	return policy.EffectivePolicy{Fields: policy.Fields{Nice: &nice}}
}

func testTables() *policy.Tables {
	tables := policy.NewTables()
	nice := 10
	tables.Rules["make"] = policy.Rule{Name: "make", Fields: policy.Fields{Nice: &nice}}
	other := 5
	tables.Rules["cc1"] = policy.Rule{Name: "cc1", Fields: policy.Fields{Nice: &other}}
	return tables
}

func TestTickAppliesToEveryThreadOfMatchedProcess(t *testing.T) {
	candidates := &fakeCandidates{population: []procscan.Candidate{
		{TID: 100, PID: 100, Basename: "make"},
		{TID: 101, PID: 100, Basename: "make"},
		{TID: 102, PID: 100, Basename: "make"},
		{TID: 200, PID: 200, Basename: "firefox"},
	}}
	applier := &MockApplier{}
	for _, tid := range []int{100, 101, 102} {
		applier.On("Apply", tid, nicePolicy(10)).Return(noFailures()).Once()
	}

	loop := NewLoop(LoopOptions{Interval: time.Second}, candidates, testTables(), applier, nil, logging.NewNopLogger())
	stats, err := loop.Tick()

	require.NoError(t, err)
	assert.Equal(t, TickStats{Candidates: 4, Matched: 3}, stats)
	applier.AssertExpectations(t)
	applier.AssertNotCalled(t, "Apply", 200, mock.Anything)
}

func TestTickIsolatesPerProcessFailures(t *testing.T) {
	candidates := &fakeCandidates{population: []procscan.Candidate{
		{TID: 1, PID: 1, Basename: "make"},
		{TID: 2, PID: 2, Basename: "cc1"},
		{TID: 3, PID: 3, Basename: "make"},
	}}
	applier := &MockApplier{}
	applier.On("Apply", 1, nicePolicy(10)).Return(failures(errors.NewNotFoundError("gone", nil))).Once()
	applier.On("Apply", 2, nicePolicy(5)).Return(failures(
		errors.NewPermissionError("denied", nil),
		errors.NewApplyError("ionice exited with status 1", nil),
	)).Once()
	applier.On("Apply", 3, nicePolicy(10)).Return(noFailures()).Once()

	recorder := metrics.NewRecorder("")
	loop := NewLoop(LoopOptions{Interval: time.Second}, candidates, testTables(), applier, recorder, logging.NewNopLogger())
	stats, err := loop.Tick()

	require.NoError(t, err)
	assert.Equal(t, 3, stats.Matched)
	assert.Equal(t, 3, stats.Failures)
	applier.AssertExpectations(t)
}

func TestTickReportsScanFailure(t *testing.T) {
	candidates := &fakeCandidates{failFirst: 1}
	loop := NewLoop(LoopOptions{Interval: time.Second}, candidates, testTables(), &MockApplier{}, nil, logging.NewNopLogger())

	_, err := loop.Tick()
	assert.True(t, errors.IsScanError(err))
}

func TestRunOnce(t *testing.T) {
	candidates := &fakeCandidates{population: []procscan.Candidate{{TID: 9, PID: 9, Basename: "vim"}}}
	loop := NewLoop(LoopOptions{Interval: time.Hour, Once: true}, candidates, testTables(), &MockApplier{}, nil, logging.NewNopLogger())

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, 1, candidates.Calls())
	assert.Equal(t, StateTerminating, loop.State())
}

func TestRunSurvivesScanFailures(t *testing.T) {
	candidates := &fakeCandidates{failFirst: 2}
	loop := NewLoop(LoopOptions{Interval: 5 * time.Millisecond, Poll: time.Millisecond},
		candidates, testTables(), &MockApplier{}, nil, logging.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool { return candidates.Calls() >= 4 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, StateRunning, loop.State())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}
	assert.Equal(t, StateTerminating, loop.State())
}

func TestRunStopsWithinOnePollIncrement(t *testing.T) {
	candidates := &fakeCandidates{}
	loop := NewLoop(LoopOptions{Interval: time.Hour, Poll: 50 * time.Millisecond},
		candidates, testTables(), &MockApplier{}, nil, logging.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool { return candidates.Calls() == 1 }, 5*time.Second, time.Millisecond)

	start := time.Now()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
		assert.Less(t, time.Since(start), time.Second)
	case <-time.After(5 * time.Second):
		t.Fatal("loop slept through cancellation")
	}
	assert.Equal(t, 1, candidates.Calls())
}

func TestNewLoopClampsPoll(t *testing.T) {
	loop := NewLoop(LoopOptions{Interval: time.Second, Poll: time.Minute}, &fakeCandidates{}, testTables(), &MockApplier{}, nil, logging.NewNopLogger())
	assert.Equal(t, time.Second, loop.options.Poll)

	loop = NewLoop(LoopOptions{Interval: time.Second}, &fakeCandidates{}, testTables(), &MockApplier{}, nil, logging.NewNopLogger())
	assert.Equal(t, time.Second, loop.options.Poll)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "terminating", StateTerminating.String())
}
