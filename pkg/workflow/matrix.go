package workflow

import (
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Matrix declares the axes whose cross product generates a job's cells.
// Axis and value order follow the YAML declaration so cell generation is
// deterministic.
type Matrix struct {
	axes    []axis
	exclude []map[string]string
}

type axis struct {
	name   string
	values []string
}

// Cell is one concrete assignment of every matrix axis, bound to a job.
// Cells are immutable: created at plan time, discarded when the run ends.
type Cell struct {
	Job    string            `json:"job"`
	Label  string            `json:"label"`
	Values map[string]string `json:"values"`
}

// OS returns the value of the "os" axis, or "" if the matrix has none.
func (c Cell) OS() string {
	return c.Values["os"]
}

// UnmarshalYAML decodes the matrix mapping, keeping axis declaration order.
// The "exclude" key is reserved; every other key is an axis with a sequence
// of scalar values.
func (m *Matrix) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return errors.New("matrix must be a mapping")
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]

		if key == "exclude" {
			if err := val.Decode(&m.exclude); err != nil {
				return errors.Wrap(err, "matrix exclude")
			}
			continue
		}

		var values []string
		if err := val.Decode(&values); err != nil {
			return errors.Wrapf(err, "matrix axis %q", key)
		}
		m.axes = append(m.axes, axis{name: key, values: values})
	}

	return nil
}

// WithAxis returns a copy of the matrix with an extra axis appended.
// Mostly useful for building matrices in tests.
func (m Matrix) WithAxis(name string, values ...string) Matrix {
	m.axes = append(m.axes[:len(m.axes):len(m.axes)], axis{name: name, values: values})
	return m
}

// WithExclude returns a copy of the matrix with an exclude entry appended.
func (m Matrix) WithExclude(combo map[string]string) Matrix {
	m.exclude = append(m.exclude[:len(m.exclude):len(m.exclude)], combo)
	return m
}

// AxisNames returns the axis names in declaration order.
func (m Matrix) AxisNames() []string {
	names := make([]string, 0, len(m.axes))
	for _, ax := range m.axes {
		names = append(names, ax.name)
	}
	return names
}

// Empty reports whether the matrix declares no axes.
func (m Matrix) Empty() bool {
	return len(m.axes) == 0
}

func (m Matrix) validate() error {
	seen := map[string]bool{}
	for _, ax := range m.axes {
		if seen[ax.name] {
			return errors.Errorf("duplicate matrix axis %q", ax.name)
		}
		seen[ax.name] = true

		if len(ax.values) == 0 {
			return errors.Errorf("matrix axis %q has no values", ax.name)
		}

		vseen := map[string]bool{}
		for _, v := range ax.values {
			if vseen[v] {
				return errors.Errorf("matrix axis %q has duplicate value %q", ax.name, v)
			}
			vseen[v] = true
		}
	}

	for _, ex := range m.exclude {
		for key := range ex {
			if !seen[key] {
				return errors.Errorf("matrix exclude references unknown axis %q", key)
			}
		}
	}

	return nil
}

// Cells materializes the full cross product of the declared axes, minus
// excluded combinations, in deterministic declaration order. A matrix with
// no axes yields a single unparameterized cell, so every job runs at least
// once.
func (m Matrix) Cells(job string) []Cell {
	if len(m.axes) == 0 {
		return []Cell{{Job: job, Label: job, Values: map[string]string{}}}
	}

	combos := []map[string]string{{}}
	for _, ax := range m.axes {
		next := make([]map[string]string, 0, len(combos)*len(ax.values))
		for _, combo := range combos {
			for _, v := range ax.values {
				c := make(map[string]string, len(combo)+1)
				for k, cv := range combo {
					c[k] = cv
				}
				c[ax.name] = v
				next = append(next, c)
			}
		}
		combos = next
	}

	cells := make([]Cell, 0, len(combos))
	for _, combo := range combos {
		if m.excluded(combo) {
			continue
		}
		cells = append(cells, Cell{
			Job:    job,
			Label:  m.label(job, combo),
			Values: combo,
		})
	}

	return cells
}

// excluded reports whether every key of an exclude entry matches the combo.
func (m Matrix) excluded(combo map[string]string) bool {
	for _, ex := range m.exclude {
		if len(ex) == 0 {
			continue
		}
		match := true
		for k, v := range ex {
			if combo[k] != v {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// label renders "job (v1, v2, ...)" with values in axis declaration order.
func (m Matrix) label(job string, combo map[string]string) string {
	parts := make([]string, 0, len(m.axes))
	for _, ax := range m.axes {
		parts = append(parts, combo[ax.name])
	}
	return job + " (" + strings.Join(parts, ", ") + ")"
}
