package policy

import (
	"strings"

	"github.com/core-tools/hsu-renice/pkg/errors"

	"gopkg.in/yaml.v3"
)

// One record per line. Lines are JSON objects in practice; since JSON is a
// subset of YAML flow style they are decoded with yaml.v3, which also accepts
// the unquoted `{name: foo}` form.

type rawFields struct {
	Nice        *int    `yaml:"nice"`
	IOClass     *string `yaml:"io-class"`
	IOClassAlt  *string `yaml:"ioclass"`
	IONice      *int    `yaml:"ionice"`
	Cgroup      *string `yaml:"cgroup"`
	OOMScoreAdj *int    `yaml:"oom_score_adj"`
}

type rawType struct {
	Name      string    `yaml:"name"`
	TypeAlias string    `yaml:"type"`
	Fields    rawFields `yaml:",inline"`
}

type rawRule struct {
	Name   string    `yaml:"name"`
	Type   string    `yaml:"type"`
	Fields rawFields `yaml:",inline"`
}

type rawCgroup struct {
	Cgroup      string `yaml:"cgroup"`
	CPUQuota    *int   `yaml:"CPUQuota"`
	CPUQuotaAlt *int   `yaml:"cpu_quota"`
}

func decodeLine(line string, out interface{}) error {
	if !strings.HasPrefix(strings.TrimSpace(line), "{") {
		return errors.NewConfigParseError("record must be a single-line mapping", nil)
	}
	if err := yaml.Unmarshal([]byte(line), out); err != nil {
		return errors.NewConfigParseError("failed to parse record", err)
	}
	return nil
}

func (r rawFields) toFields() (Fields, error) {
	f := Fields{
		Nice:        r.Nice,
		IONice:      r.IONice,
		Cgroup:      r.Cgroup,
		OOMScoreAdj: r.OOMScoreAdj,
	}

	class := r.IOClass
	if class == nil {
		class = r.IOClassAlt
	} else if r.IOClassAlt != nil && *r.IOClassAlt != *r.IOClass {
		return Fields{}, errors.NewConfigParseError("conflicting io-class and ioclass values", nil)
	}
	if class != nil {
		c, err := ParseIOClass(*class)
		if err != nil {
			return Fields{}, errors.NewValidationError("invalid io class", err)
		}
		f.IOClass = &c
	}

	if err := ValidateFields(f); err != nil {
		return Fields{}, err
	}
	return f, nil
}

// DecodeType parses and validates one `.types` line.
func DecodeType(line string) (Type, error) {
	var raw rawType
	if err := decodeLine(line, &raw); err != nil {
		return Type{}, err
	}

	name := raw.Name
	if name == "" {
		name = raw.TypeAlias
	} else if raw.TypeAlias != "" && raw.TypeAlias != name {
		return Type{}, errors.NewConfigParseError("conflicting name and type keys", nil).WithContext("name", name)
	}
	if name == "" {
		return Type{}, errors.NewValidationError("type record has no name", nil)
	}

	fields, err := raw.Fields.toFields()
	if err != nil {
		if de, ok := err.(*errors.DomainError); ok {
			de.WithContext("type", name)
		}
		return Type{}, err
	}
	return Type{Name: name, Fields: fields}, nil
}

// DecodeRule parses and validates one `.rules` line.
func DecodeRule(line string) (Rule, error) {
	var raw rawRule
	if err := decodeLine(line, &raw); err != nil {
		return Rule{}, err
	}
	if raw.Name == "" {
		return Rule{}, errors.NewValidationError("rule record has no name", nil)
	}

	fields, err := raw.Fields.toFields()
	if err != nil {
		if de, ok := err.(*errors.DomainError); ok {
			de.WithContext("rule", raw.Name)
		}
		return Rule{}, err
	}
	return Rule{Name: raw.Name, TypeName: raw.Type, Fields: fields}, nil
}

// DecodeCgroup parses and validates one `.cgroups` line.
func DecodeCgroup(line string) (CgroupDefinition, error) {
	var raw rawCgroup
	if err := decodeLine(line, &raw); err != nil {
		return CgroupDefinition{}, err
	}
	if raw.Cgroup == "" {
		return CgroupDefinition{}, errors.NewValidationError("cgroup record has no name", nil)
	}

	quota := raw.CPUQuota
	if quota == nil {
		quota = raw.CPUQuotaAlt
	}
	if quota == nil {
		return CgroupDefinition{}, errors.NewValidationError("cgroup record has no CPUQuota", nil).
			WithContext("cgroup", raw.Cgroup)
	}
	if err := ValidateCPUQuota(*quota); err != nil {
		return CgroupDefinition{}, err.(*errors.DomainError).WithContext("cgroup", raw.Cgroup)
	}
	return CgroupDefinition{Name: raw.Cgroup, CPUQuota: *quota}, nil
}
