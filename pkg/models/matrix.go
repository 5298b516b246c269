package models

import (
	"maps"
	"sort"
)

// Matrix declares the variable axes a job expands over. Each combination of
// axis values produces one independent job instance.
type Matrix struct {
	Axes    map[string][]any `json:"axes"`
	Include []map[string]any `json:"include,omitempty"`
	Exclude []map[string]any `json:"exclude,omitempty"`
}

// Expand computes the cartesian product of the axes in deterministic order
// (axis names sorted, values in declaration order), removes excluded
// combinations, then applies include entries. Include entries whose axis
// values match an existing combination extend it with their extra keys;
// entries matching nothing are appended as standalone combinations.
func (m *Matrix) Expand() []map[string]any {
	names := make([]string, 0, len(m.Axes))
	for name := range m.Axes {
		names = append(names, name)
	}

	sort.Strings(names)

	combinations := []map[string]any{{}}

	for _, name := range names {
		values := m.Axes[name]
		if len(values) == 0 {
			continue
		}

		expanded := make([]map[string]any, 0, len(combinations)*len(values))

		for _, combination := range combinations {
			for _, value := range values {
				next := maps.Clone(combination)
				next[name] = value
				expanded = append(expanded, next)
			}
		}

		combinations = expanded
	}

	combinations = m.applyExclude(combinations)

	return m.applyInclude(combinations)
}

func (m *Matrix) applyExclude(combinations []map[string]any) []map[string]any {
	if len(m.Exclude) == 0 {
		return combinations
	}

	kept := make([]map[string]any, 0, len(combinations))

	for _, combination := range combinations {
		excluded := false

		for _, rule := range m.Exclude {
			if subsetOf(rule, combination) {
				excluded = true

				break
			}
		}

		if !excluded {
			kept = append(kept, combination)
		}
	}

	return kept
}

func (m *Matrix) applyInclude(combinations []map[string]any) []map[string]any {
	for _, entry := range m.Include {
		axisPart := make(map[string]any)

		for key, value := range entry {
			if _, isAxis := m.Axes[key]; isAxis {
				axisPart[key] = value
			}
		}

		matched := false

		for _, combination := range combinations {
			if len(axisPart) > 0 && subsetOf(axisPart, combination) {
				matched = true

				for key, value := range entry {
					if _, isAxis := m.Axes[key]; !isAxis {
						combination[key] = value
					}
				}
			}
		}

		if !matched {
			combinations = append(combinations, maps.Clone(entry))
		}
	}

	return combinations
}

// subsetOf reports whether every key in part is present in whole with an
// equal value.
func subsetOf(part, whole map[string]any) bool {
	for key, value := range part {
		if whole[key] != value {
			return false
		}
	}

	return true
}
