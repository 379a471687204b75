package planparser

import (
	"fmt"

	"github.com/harrison/conductor/internal/execerrors"
	"gopkg.in/yaml.v3"
)

// yamlPlan is the on-disk YAML shape of a plan document, mirroring the
// Markdown grammar's fields one for one.
type yamlPlan struct {
	Name    string      `yaml:"name,omitempty"`
	Batches []yamlBatch `yaml:"batches"`
}

type yamlBatch struct {
	Number        int        `yaml:"number"`
	Title         string     `yaml:"title"`
	ExecutionMode string     `yaml:"execution_mode,omitempty"`
	Dependencies  []int      `yaml:"dependencies,omitempty"`
	Description   string     `yaml:"description,omitempty"`
	Tasks         []yamlTask `yaml:"tasks"`
}

type yamlTask struct {
	Number            string   `yaml:"number"`
	Title             string   `yaml:"title"`
	Files             []string `yaml:"files,omitempty"`
	Implementation    string   `yaml:"implementation"`
	VerificationSteps []string `yaml:"verification_steps,omitempty"`
	Dependencies      []string `yaml:"depends_on,omitempty"`
}

// ParseYAML parses the contents of a YAML plan document into a Plan,
// supplying the same advisory verification-step default as the Markdown
// grammar when a task omits verification_steps.
func ParseYAML(content string) (*Plan, error) {
	var doc yamlPlan
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return nil, execerrors.Wrap(execerrors.KindPlanMalformedBatch, "invalid YAML plan document", err)
	}
	if len(doc.Batches) == 0 {
		return nil, execerrors.New(execerrors.KindPlanEmpty, "no batches found in plan")
	}

	plan := &Plan{Name: doc.Name}
	for _, yb := range doc.Batches {
		if yb.Number == 0 {
			return nil, execerrors.New(execerrors.KindPlanMalformedBatch,
				fmt.Sprintf("batch %q is missing a number", yb.Title))
		}

		tasks := make([]Task, 0, len(yb.Tasks))
		for _, yt := range yb.Tasks {
			steps := yt.VerificationSteps
			if len(steps) == 0 {
				steps = append([]string(nil), defaultVerificationSteps...)
			}
			tasks = append(tasks, Task{
				Number:            yt.Number,
				Title:             yt.Title,
				BatchNumber:       yb.Number,
				Files:             yt.Files,
				Implementation:    yt.Implementation,
				VerificationSteps: steps,
				Dependencies:      yt.Dependencies,
			})
		}
		sortTasksByNumber(tasks)

		mode := yb.ExecutionMode
		if mode == "" {
			mode = "local"
		}

		plan.Batches = append(plan.Batches, Batch{
			Number:        yb.Number,
			Title:         yb.Title,
			ExecutionMode: mode,
			Dependencies:  yb.Dependencies,
			Description:   yb.Description,
			Tasks:         tasks,
		})
	}

	return plan, nil
}
