package policy

import (
	"fmt"

	"github.com/core-tools/hsu-renice/pkg/errors"
)

const (
	MinNice        = -19
	MaxNice        = 20
	MinIONice      = 0
	MaxIONice      = 7
	MinOOMScoreAdj = -1000
	MaxOOMScoreAdj = 1000
	MinCPUQuota    = 0
	MaxCPUQuota    = 100
)

// ValidateNice validates a nice value
func ValidateNice(nice int) error {
	if nice < MinNice || nice > MaxNice {
		return errors.NewValidationError(fmt.Sprintf("invalid nice value %d", nice), nil).
			WithContext("valid_range", "-19..20")
	}
	return nil
}

// ValidateIONice validates an in-class I/O priority
func ValidateIONice(ionice int) error {
	if ionice < MinIONice || ionice > MaxIONice {
		return errors.NewValidationError(fmt.Sprintf("invalid ionice value %d", ionice), nil).
			WithContext("valid_range", "0..7")
	}
	return nil
}

func ValidateOOMScoreAdj(adj int) error {
	if adj < MinOOMScoreAdj || adj > MaxOOMScoreAdj {
		return errors.NewValidationError(fmt.Sprintf("invalid oom_score_adj value %d", adj), nil).
			WithContext("valid_range", "-1000..1000")
	}
	return nil
}

// ValidateCPUQuota validates a cgroup CPU quota percentage
func ValidateCPUQuota(quota int) error {
	if quota < MinCPUQuota || quota > MaxCPUQuota {
		return errors.NewValidationError(fmt.Sprintf("invalid CPUQuota %d", quota), nil).
			WithContext("valid_range", "0..100")
	}
	return nil
}

// ValidateFields checks every set aspect of a policy fragment.
func ValidateFields(f Fields) error {
	if f.Nice != nil {
		if err := ValidateNice(*f.Nice); err != nil {
			return err
		}
	}
	if f.IONice != nil {
		if err := ValidateIONice(*f.IONice); err != nil {
			return err
		}
	}
	if f.OOMScoreAdj != nil {
		if err := ValidateOOMScoreAdj(*f.OOMScoreAdj); err != nil {
			return err
		}
	}
	if f.Cgroup != nil && *f.Cgroup == "" {
		return errors.NewValidationError("cgroup reference cannot be empty", nil)
	}
	return nil
}
