package policy

import "sort"

// Resolve merges rule over t field by field: the rule's own value wins, then
// the type's, otherwise the aspect stays unset. t may be nil.
func Resolve(rule Rule, t *Type) EffectivePolicy {
	eff := EffectivePolicy{Fields: rule.Fields}
	if t == nil {
		return eff
	}
	if eff.Nice == nil {
		eff.Nice = t.Nice
	}
	if eff.IOClass == nil {
		eff.IOClass = t.IOClass
	}
	if eff.IONice == nil {
		eff.IONice = t.IONice
	}
	if eff.Cgroup == nil {
		eff.Cgroup = t.Cgroup
	}
	if eff.OOMScoreAdj == nil {
		eff.OOMScoreAdj = t.OOMScoreAdj
	}
	return eff
}

// Tables is the immutable policy built once at startup.
type Tables struct {
	Types   map[string]Type
	Rules   map[string]Rule
	Cgroups map[string]CgroupDefinition
}

func NewTables() *Tables {
	return &Tables{
		Types:   make(map[string]Type),
		Rules:   make(map[string]Rule),
		Cgroups: make(map[string]CgroupDefinition),
	}
}

// Lookup resolves the policy for an executable basename. It reports false when
// no rule matches or the resolved policy sets nothing.
func (t *Tables) Lookup(basename string) (EffectivePolicy, bool) {
	rule, ok := t.Rules[basename]
	if !ok {
		return EffectivePolicy{}, false
	}

	var ref *Type
	if rule.TypeName != "" {
		if typ, ok := t.Types[rule.TypeName]; ok {
			ref = &typ
		}
	}

	eff := Resolve(rule, ref)
	if eff.IsEmpty() {
		return EffectivePolicy{}, false
	}
	return eff, true
}

// CgroupDefinitions returns the cgroup definitions sorted by name.
func (t *Tables) CgroupDefinitions() []CgroupDefinition {
	defs := make([]CgroupDefinition, 0, len(t.Cgroups))
	for _, def := range t.Cgroups {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// DanglingTypeRefs lists rules whose type reference names no loaded Type.
func (t *Tables) DanglingTypeRefs() []string {
	var names []string
	for name, rule := range t.Rules {
		if rule.TypeName == "" {
			continue
		}
		if _, ok := t.Types[rule.TypeName]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// CgroupRefs returns every cgroup name referenced by a type or a rule.
func (t *Tables) CgroupRefs() []string {
	seen := make(map[string]struct{})
	for _, typ := range t.Types {
		if typ.Cgroup != nil {
			seen[*typ.Cgroup] = struct{}{}
		}
	}
	for _, rule := range t.Rules {
		if rule.Cgroup != nil {
			seen[*rule.Cgroup] = struct{}{}
		}
	}
	refs := make([]string, 0, len(seen))
	for name := range seen {
		refs = append(refs, name)
	}
	sort.Strings(refs)
	return refs
}
