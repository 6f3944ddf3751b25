package daemon

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/core-tools/hsu-renice/pkg/apply"
	"github.com/core-tools/hsu-renice/pkg/errors"
	"github.com/core-tools/hsu-renice/pkg/logging"
	"github.com/core-tools/hsu-renice/pkg/metrics"
	"github.com/core-tools/hsu-renice/pkg/policy"
	"github.com/core-tools/hsu-renice/pkg/procscan"
)

type State int32

const (
	StateRunning State = iota
	StateTerminating
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// Candidates yields the threads to reconcile on each pass.
type Candidates interface {
	Each(fn func(procscan.Candidate)) (procscan.ScanStats, error)
}

// PolicyLookup finds the effective policy for an executable basename.
type PolicyLookup interface {
	Lookup(basename string) (policy.EffectivePolicy, bool)
}

// PolicyApplier pushes a policy onto one thread.
type PolicyApplier interface {
	Apply(tid int, pol policy.EffectivePolicy) *errors.ErrorCollection
}

type LoopOptions struct {
	Interval time.Duration
	Poll     time.Duration
	Once     bool
}

// TickStats summarizes one reconciliation pass.
type TickStats struct {
	Candidates int
	Matched    int
	Failures   int
}

// Loop is the reconciliation state machine: scan, resolve, apply, sleep.
type Loop struct {
	options    LoopOptions
	candidates Candidates
	policies   PolicyLookup
	applier    PolicyApplier
	recorder   *metrics.Recorder
	state      atomic.Int32
	logger     logging.Logger
}

func NewLoop(options LoopOptions, candidates Candidates, policies PolicyLookup, applier PolicyApplier, recorder *metrics.Recorder, logger logging.Logger) *Loop {
	if options.Poll <= 0 || options.Poll > options.Interval {
		options.Poll = options.Interval
	}
	if recorder == nil {
		recorder = metrics.NewRecorder("")
	}
	return &Loop{
		options:    options,
		candidates: candidates,
		policies:   policies,
		applier:    applier,
		recorder:   recorder,
		logger:     logger,
	}
}

func (l *Loop) State() State {
	return State(l.state.Load())
}

// Tick runs one pass. Per-thread failures are logged and counted but never
// end the pass; only a scan failure does.
func (l *Loop) Tick() (TickStats, error) {
	var stats TickStats
	l.recorder.TickStarted()

	_, err := l.candidates.Each(func(c procscan.Candidate) {
		stats.Candidates++

		pol, ok := l.policies.Lookup(c.Basename)
		if !ok {
			return
		}
		stats.Matched++

		failures := l.applier.Apply(c.TID, pol)
		for _, failure := range failures.Errors {
			stats.Failures++
			l.recorder.ApplyFailed(string(apply.AspectOf(failure)))
			l.logFailure(c, failure)
		}
	})

	l.recorder.Candidates(stats.Candidates)
	l.recorder.Matched(stats.Matched)
	if err != nil {
		l.recorder.ScanFailed()
	}
	if flushErr := l.recorder.Flush(); flushErr != nil {
		l.logger.Warnf("Failed to export metrics: %v", flushErr)
	}

	return stats, err
}

func (l *Loop) logFailure(c procscan.Candidate, err error) {
	switch errors.TypeOf(err) {
	case errors.ErrorTypeNotFound:
		l.logger.Debugf("Thread vanished before apply, %s: %v", c, err)
	case errors.ErrorTypePermission, errors.ErrorTypeRLimit, errors.ErrorTypeApply:
		l.logger.Warnf("Failed to apply policy, %s: %v", c, err)
	default:
		l.logger.Errorf("Failed to apply policy, %s: %v", c, err)
	}
}

// Run ticks until ctx is cancelled, or once when the loop is in single-pass
// mode. Scan failures are logged and retried on the next tick.
func (l *Loop) Run(ctx context.Context) error {
	l.state.Store(int32(StateRunning))
	defer l.state.Store(int32(StateTerminating))

	for {
		start := time.Now()
		stats, err := l.Tick()
		if err != nil {
			l.logger.Errorf("Scan failed, retrying next tick: %v", err)
		} else {
			l.logger.Debugf("Tick done in %v, candidates: %d, matched: %d, failures: %d",
				time.Since(start), stats.Candidates, stats.Matched, stats.Failures)
		}

		if l.options.Once {
			l.logger.Infof("Single pass complete")
			return nil
		}

		if !l.sleep(ctx) {
			l.logger.Infof("Reconciliation loop terminating")
			return nil
		}
	}
}

// sleep waits out the interval in poll-sized steps. It returns false as soon
// as ctx is cancelled.
func (l *Loop) sleep(ctx context.Context) bool {
	deadline := time.Now().Add(l.options.Interval)
	for {
		if ctx.Err() != nil {
			return false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		step := l.options.Poll
		if remaining < step {
			step = remaining
		}

		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}
