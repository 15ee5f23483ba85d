// Package workflow contains the workflow document model shared between the
// CLI, the controller and the worker: triggers, jobs, matrices, steps and
// the guard predicate language.
package workflow

import (
	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Workflow is a parsed workflow document.
type Workflow struct {
	Name string   `yaml:"name"`
	On   Triggers `yaml:"on"`
	Jobs JobSet   `yaml:"jobs"`
}

// Job is a named unit of a workflow. Its steps run once per matrix cell.
type Job struct {
	Needs    []string          `yaml:"needs"`
	Strategy Strategy          `yaml:"strategy"`
	Env      map[string]string `yaml:"env"`
	Steps    []Step            `yaml:"steps"`
}

// Strategy controls how a job's cells are generated and scheduled.
// FailFast defaults to false: one cell's failure leaves sibling cells running.
type Strategy struct {
	Matrix   Matrix `yaml:"matrix"`
	FailFast bool   `yaml:"fail-fast"`
}

// Step is one ordered shell command group within a job. The json tags
// matter because steps travel inside queue payloads.
type Step struct {
	Name       string            `yaml:"name" json:"name"`
	Run        string            `yaml:"run" json:"run"`
	If         string            `yaml:"if" json:"if,omitempty"`
	Env        map[string]string `yaml:"env" json:"env,omitempty"`
	WorkingDir string            `yaml:"working-directory" json:"working_dir,omitempty"`
}

// JobSet is an ordered job map. YAML mappings lose declaration order when
// decoded into a plain map; scheduling and planning need it back.
type JobSet struct {
	names []string
	jobs  map[string]*Job
}

// Names returns the job names in declaration order.
func (js *JobSet) Names() []string {
	return js.names
}

// Get returns the job with the given name, or nil.
func (js *JobSet) Get(name string) *Job {
	return js.jobs[name]
}

// Len returns the number of jobs.
func (js *JobSet) Len() int {
	return len(js.names)
}

// UnmarshalYAML decodes the jobs mapping while recording declaration order.
func (js *JobSet) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return errors.New("jobs must be a mapping")
	}

	js.jobs = make(map[string]*Job, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		if _, dup := js.jobs[name]; dup {
			return errors.Errorf("duplicate job %q", name)
		}

		job := &Job{}
		if err := node.Content[i+1].Decode(job); err != nil {
			return errors.Wrapf(err, "job %q", name)
		}

		js.names = append(js.names, name)
		js.jobs[name] = job
	}

	return nil
}

// Parse decodes and validates a workflow document.
func Parse(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, errors.Wrap(err, "unable to decode workflow")
	}

	if err := wf.Validate(); err != nil {
		return nil, err
	}

	return &wf, nil
}

// Validate checks the workflow for structural problems: empty jobs, steps
// without commands, unparsable guards, unknown or cyclic needs references.
func (w *Workflow) Validate() error {
	if w.Jobs.Len() == 0 {
		return errors.New("workflow has no jobs")
	}

	for _, name := range w.Jobs.Names() {
		job := w.Jobs.Get(name)

		if len(job.Steps) == 0 {
			return errors.Errorf("job %q has no steps", name)
		}

		axes := job.Strategy.Matrix.AxisNames()
		for i, step := range job.Steps {
			if step.Run == "" {
				return errors.Errorf("job %q step %d has no run command", name, i+1)
			}
			if step.If != "" {
				if err := CheckGuard(step.If, axes); err != nil {
					return errors.Wrapf(err, "job %q step %d", name, i+1)
				}
			}
			if err := checkExpansions(step.Run, axes); err != nil {
				return errors.Wrapf(err, "job %q step %d", name, i+1)
			}
			for _, v := range step.Env {
				if err := checkExpansions(v, axes); err != nil {
					return errors.Wrapf(err, "job %q step %d env", name, i+1)
				}
			}
		}

		for _, need := range job.Needs {
			if w.Jobs.Get(need) == nil {
				return errors.Errorf("job %q needs unknown job %q", name, need)
			}
		}

		if err := job.Strategy.Matrix.validate(); err != nil {
			return errors.Wrapf(err, "job %q", name)
		}
	}

	if _, err := w.JobOrder(); err != nil {
		return err
	}

	return nil
}

// JobOrder returns the job names in a deterministic topological order of the
// needs graph. Independent jobs keep their declaration order.
func (w *Workflow) JobOrder() ([]string, error) {
	index := make(map[string]int, w.Jobs.Len())
	for i, name := range w.Jobs.Names() {
		index[name] = i
	}

	g := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	for _, name := range w.Jobs.Names() {
		if err := g.AddVertex(name); err != nil {
			return nil, errors.Wrapf(err, "unable to add job %q", name)
		}
	}
	for _, name := range w.Jobs.Names() {
		for _, need := range w.Jobs.Get(name).Needs {
			if err := g.AddEdge(need, name); err != nil {
				return nil, errors.Wrapf(err, "job %q needs %q", name, need)
			}
		}
	}

	order, err := graph.StableTopologicalSort(g, func(a, b string) bool {
		return index[a] < index[b]
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to order jobs")
	}

	return order, nil
}
