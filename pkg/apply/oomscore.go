package apply

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/core-tools/hsu-renice/pkg/errors"

	"golang.org/x/sys/unix"
)

const oomScoreAdjFile = "oom_score_adj"

func writeOOMScoreAdj(procRoot string, tid, adj int) error {
	path := filepath.Join(procRoot, strconv.Itoa(tid), oomScoreAdjFile)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err == nil {
		_, err = f.WriteString(strconv.Itoa(adj))
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}

	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, unix.ENOENT), stderrors.Is(err, unix.ESRCH):
		return errors.NewNotFoundError(fmt.Sprintf("thread %d not found", tid), err)
	case stderrors.Is(err, unix.EACCES), stderrors.Is(err, unix.EPERM):
		return errors.NewPermissionError(fmt.Sprintf("not allowed to set oom_score_adj of thread %d", tid), err)
	default:
		return errors.NewApplyError(fmt.Sprintf("failed to set oom_score_adj of thread %d", tid), err).
			WithContext("path", path)
	}
}
