package apply

import (
	stderrors "errors"

	"github.com/core-tools/hsu-renice/pkg/errors"
	"github.com/core-tools/hsu-renice/pkg/logging"
	"github.com/core-tools/hsu-renice/pkg/policy"
)

// Aspect names one independently applied part of a policy.
type Aspect string

const (
	AspectNice        Aspect = "nice"
	AspectIOClass     Aspect = "ioclass"
	AspectCgroup      Aspect = "cgroup"
	AspectOOMScoreAdj Aspect = "oom_score_adj"
)

const aspectKey = "aspect"

// AspectOf returns the aspect an Apply failure belongs to, or "" when err did
// not come from an Applier.
func AspectOf(err error) Aspect {
	var domainErr *errors.DomainError
	if !stderrors.As(err, &domainErr) {
		return ""
	}
	aspect, _ := domainErr.Context[aspectKey].(Aspect)
	return aspect
}

// CgroupAssigner moves a thread into a named cgroup.
type CgroupAssigner interface {
	Apply(name string, tid int) error
}

type Options struct {
	ProcRoot   string
	IONicePath string
	Priority   PrioritySetter
	Runner     CommandRunner
}

// Applier pushes an effective policy onto one thread.
type Applier struct {
	procRoot   string
	ionicePath string
	priority   PrioritySetter
	runner     CommandRunner
	cgroups    CgroupAssigner
	logger     logging.Logger
}

func NewApplier(opts Options, cgroups CgroupAssigner, logger logging.Logger) *Applier {
	if opts.ProcRoot == "" {
		opts.ProcRoot = "/proc"
	}
	if opts.IONicePath == "" {
		opts.IONicePath = DefaultIONicePath
	}
	if opts.Priority == nil {
		opts.Priority = NewPrioritySetter()
	}
	if opts.Runner == nil {
		opts.Runner = NewCommandRunner()
	}
	return &Applier{
		procRoot:   opts.ProcRoot,
		ionicePath: opts.IONicePath,
		priority:   opts.Priority,
		runner:     opts.Runner,
		cgroups:    cgroups,
		logger:     logger,
	}
}

// Apply applies every aspect set in pol to tid. Aspects are independent: a
// failure in one never prevents the others. The returned collection holds one
// error per failed aspect and is empty when everything succeeded.
func (a *Applier) Apply(tid int, pol policy.EffectivePolicy) *errors.ErrorCollection {
	failures := errors.NewErrorCollection()

	if pol.Nice != nil {
		if err := a.priority.SetPriority(tid, *pol.Nice); err != nil {
			failures.Add(withAspect(priorityError(tid, *pol.Nice, err), AspectNice))
		}
	}

	if pol.IOClass != nil {
		args := IONiceArgs(*pol.IOClass, pol.IONice, tid)
		if output, err := a.runner.Run(a.ionicePath, args...); err != nil {
			failures.Add(withAspect(ioniceError(a.ionicePath, args, output, err), AspectIOClass))
		}
	} else if pol.IONice != nil {
		a.logger.Debugf("Ignoring ionice %d for thread %d, no io class set", *pol.IONice, tid)
	}

	if pol.OOMScoreAdj != nil {
		if err := writeOOMScoreAdj(a.procRoot, tid, *pol.OOMScoreAdj); err != nil {
			failures.Add(withAspect(err, AspectOOMScoreAdj))
		}
	}

	if pol.Cgroup != nil && a.cgroups != nil {
		if err := a.cgroups.Apply(*pol.Cgroup, tid); err != nil {
			failures.Add(withAspect(err, AspectCgroup))
		}
	}

	return failures
}

func withAspect(err error, aspect Aspect) error {
	var domainErr *errors.DomainError
	if stderrors.As(err, &domainErr) {
		return domainErr.WithContext(aspectKey, aspect)
	}
	return errors.NewApplyError(string(aspect)+" failed", err).WithContext(aspectKey, aspect)
}
