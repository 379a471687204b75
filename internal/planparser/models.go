// Package planparser deterministically extracts a batch/task dependency
// graph from a semi-structured plan document (Markdown or YAML). Parsing
// is pure and produces no persistence; internal/orchestrator is responsible
// for turning the result into Session/Batch/Task records.
package planparser

// Plan is the in-memory result of parsing a plan document: an ordered
// sequence of batches, each with nested tasks.
type Plan struct {
	Name     string
	FilePath string
	Batches  []Batch
}

// Batch is one `## Batch N: <title>` section of the plan.
type Batch struct {
	Number        int
	Title         string
	ExecutionMode string
	Dependencies  []int
	Description   string
	Tasks         []Task
}

// Task is one `### Task N.M: <title>` section nested under a batch.
type Task struct {
	Number                 string
	Title                  string
	BatchNumber            int
	Files                  []string
	Implementation         string
	RenderedImplementation string // Implementation rendered to HTML via goldmark; the agent prompt and change request body do not use it
	VerificationSteps      []string
	Dependencies           []string
	SourceFile             string
}

// TotalTasks counts every task across every batch in the plan.
func (p *Plan) TotalTasks() int {
	n := 0
	for _, b := range p.Batches {
		n += len(b.Tasks)
	}
	return n
}
