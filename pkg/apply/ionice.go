package apply

import (
	stderrors "errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-renice/pkg/errors"
	"github.com/core-tools/hsu-renice/pkg/policy"
)

const DefaultIONicePath = "ionice"

// CommandRunner runs a helper program to completion and returns its combined output.
type CommandRunner interface {
	Run(name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func NewCommandRunner() CommandRunner {
	return execRunner{}
}

func (execRunner) Run(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// IONiceArgs builds the helper arguments for one thread. The in-class priority
// is passed only for classes that accept one.
func IONiceArgs(class policy.IOClass, prio *int, tid int) []string {
	args := make([]string, 0, 6)
	if prio != nil && class.AcceptsPriority() {
		args = append(args, "-n", strconv.Itoa(*prio))
	}
	return append(args,
		"-c", strconv.Itoa(class.Ordinal()),
		"-p", strconv.Itoa(tid),
	)
}

func ioniceError(path string, args []string, output []byte, err error) error {
	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		return errors.NewApplyError(fmt.Sprintf("%s exited with status %d", path, exitErr.ExitCode()), err).
			WithContext("args", strings.Join(args, " ")).
			WithContext("output", strings.TrimSpace(string(output)))
	}
	return errors.NewApplyError(fmt.Sprintf("failed to run %s", path), err).
		WithContext("args", strings.Join(args, " "))
}
