package policy

import (
	"fmt"
	"strings"
)

// IOClass is the kernel I/O scheduling class. The ordinals are passed verbatim
// to the ionice helper (`-c <ordinal>`) and must not change.
type IOClass int

const (
	IOClassIdle       IOClass = 0
	IOClassBestEffort IOClass = 1
	IOClassRealTime   IOClass = 2
)

// ParseIOClass accepts the configuration spellings of an I/O class.
func ParseIOClass(s string) (IOClass, error) {
	switch strings.TrimSpace(s) {
	case "idle", "Idle":
		return IOClassIdle, nil
	case "best-effort", "BestEffort":
		return IOClassBestEffort, nil
	case "realtime", "RealTime":
		return IOClassRealTime, nil
	default:
		return 0, fmt.Errorf("unknown io class %q", s)
	}
}

// Ordinal is the numeric class understood by ionice.
func (c IOClass) Ordinal() int {
	return int(c)
}

// AcceptsPriority reports whether an in-class priority is meaningful.
func (c IOClass) AcceptsPriority() bool {
	return c == IOClassBestEffort || c == IOClassRealTime
}

func (c IOClass) String() string {
	switch c {
	case IOClassIdle:
		return "idle"
	case IOClassBestEffort:
		return "best-effort"
	case IOClassRealTime:
		return "realtime"
	default:
		return fmt.Sprintf("ioclass(%d)", int(c))
	}
}

// Fields holds the optional policy aspects shared by Type, Rule and EffectivePolicy.
// A nil pointer means "unset".
type Fields struct {
	Nice        *int
	IOClass     *IOClass
	IONice      *int
	Cgroup      *string
	OOMScoreAdj *int
}

// IsEmpty reports whether no aspect is set.
func (f Fields) IsEmpty() bool {
	return f.Nice == nil && f.IOClass == nil && f.IONice == nil && f.Cgroup == nil && f.OOMScoreAdj == nil
}

func (f Fields) String() string {
	parts := make([]string, 0, 5)
	if f.Nice != nil {
		parts = append(parts, fmt.Sprintf("nice=%d", *f.Nice))
	}
	if f.IOClass != nil {
		parts = append(parts, fmt.Sprintf("ioclass=%s", *f.IOClass))
	}
	if f.IONice != nil {
		parts = append(parts, fmt.Sprintf("ionice=%d", *f.IONice))
	}
	if f.Cgroup != nil {
		parts = append(parts, fmt.Sprintf("cgroup=%s", *f.Cgroup))
	}
	if f.OOMScoreAdj != nil {
		parts = append(parts, fmt.Sprintf("oom_score_adj=%d", *f.OOMScoreAdj))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// Type is a named, reusable policy fragment.
type Type struct {
	Name string
	Fields
}

// Rule is keyed by executable basename and may reference a Type.
type Rule struct {
	Name     string
	TypeName string
	Fields
}

// CgroupDefinition describes one CPU-quota cgroup; CPUQuota is a percentage in [0,100].
type CgroupDefinition struct {
	Name     string
	CPUQuota int
}

// EffectivePolicy is the per-process merge of a Rule over its Type.
type EffectivePolicy struct {
	Fields
}

func intPtr(v int) *int { return &v }

func ioClassPtr(v IOClass) *IOClass { return &v }

func stringPtr(v string) *string { return &v }
