package apply

import (
	stderrors "errors"
	"fmt"

	"github.com/core-tools/hsu-renice/pkg/errors"

	"golang.org/x/sys/unix"
)

// PrioritySetter changes the nice value of one schedulable entity.
type PrioritySetter interface {
	SetPriority(tid, nice int) error
}

type unixPrioritySetter struct{}

// NewPrioritySetter returns a setter backed by setpriority(PRIO_PROCESS).
// On Linux a thread id is a valid PRIO_PROCESS target and affects only that thread.
func NewPrioritySetter() PrioritySetter {
	return unixPrioritySetter{}
}

func (unixPrioritySetter) SetPriority(tid, nice int) error {
	return unix.Setpriority(unix.PRIO_PROCESS, tid, nice)
}

// priorityError maps a setpriority failure onto the error taxonomy. Error
// codes setpriority does not document for a valid call mean the call itself
// was wrong, so they panic instead of being reported.
func priorityError(tid, nice int, err error) error {
	var errno unix.Errno
	if !stderrors.As(err, &errno) {
		panic(fmt.Sprintf("setpriority(PRIO_PROCESS, %d, %d) failed without an errno: %v", tid, nice, err))
	}

	switch errno {
	case unix.ESRCH:
		return errors.NewNotFoundError(fmt.Sprintf("thread %d not found", tid), err)
	case unix.EACCES:
		return errors.NewRLimitError(fmt.Sprintf("nice %d for thread %d exceeds RLIMIT_NICE", nice, tid), err)
	case unix.EPERM:
		return errors.NewPermissionError(fmt.Sprintf("not allowed to renice thread %d", tid), err)
	}
	panic(fmt.Sprintf("setpriority(PRIO_PROCESS, %d, %d) returned unexpected errno %d (%v)", tid, nice, int(errno), errno))
}
