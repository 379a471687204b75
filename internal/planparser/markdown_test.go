package planparser

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoTaskPlan = `
## Batch 1: Setup
**Dependencies:** None
### Task 1.1: Add file A
**Files:**
  - Create: a.txt
**Implementation:** write the letter A
### Task 1.2: Add file B
**Files:**
  - Create: b.txt
**Implementation:** write the letter B
`

func TestParseMarkdownHappyPath(t *testing.T) {
	plan, err := ParseMarkdown(twoTaskPlan)
	require.NoError(t, err)
	require.Len(t, plan.Batches, 1)

	batch := plan.Batches[0]
	assert.Equal(t, 1, batch.Number)
	assert.Equal(t, "Setup", batch.Title)
	assert.Empty(t, batch.Dependencies)
	require.Len(t, batch.Tasks, 2)
	assert.Equal(t, "1.1", batch.Tasks[0].Number)
	assert.Equal(t, []string{"a.txt"}, batch.Tasks[0].Files)
	assert.Contains(t, batch.Tasks[0].Implementation, "write the letter A")
}

func TestParseMarkdownNoBatchesIsEmpty(t *testing.T) {
	_, err := ParseMarkdown("just some text, no headers")
	require.Error(t, err)
}

func TestParseMarkdownDependencyBatches(t *testing.T) {
	const plan = `
## Batch 2: Build
**Dependencies:** Batch 1, Batch 3
### Task 2.1: Do a thing
**Implementation:** do it
`
	p, err := ParseMarkdown(plan)
	require.NoError(t, err)
	require.Len(t, p.Batches, 1)
	assert.ElementsMatch(t, []int{1, 3}, p.Batches[0].Dependencies)
}

func TestParseMarkdownDropsMalformedTaskKeepsSiblings(t *testing.T) {
	const plan = `
## Batch 1: Setup
### Task 1.1: Good task
**Implementation:** do the thing
### Task 1.2: Missing its body
### Task 1.3: Also good
**Implementation:** do another thing
`
	p, err := ParseMarkdown(plan)
	require.NoError(t, err)
	require.Len(t, p.Batches, 1)

	var numbers []string
	for _, task := range p.Batches[0].Tasks {
		numbers = append(numbers, task.Number)
	}
	assert.Contains(t, numbers, "1.1")
	assert.Contains(t, numbers, "1.3")
	assert.NotContains(t, numbers, "1.2")
}

func TestParseMarkdownDropsTaskMissingImplementationLabel(t *testing.T) {
	const plan = `
## Batch 1: Setup
### Task 1.1: Good task
**Implementation:** do the thing
### Task 1.2: Files only, no implementation
**Files:**
  - Create: a.txt
### Task 1.3: Also good
**Implementation:** do another thing
`
	p, err := ParseMarkdown(plan)
	require.NoError(t, err)
	require.Len(t, p.Batches, 1)

	var numbers []string
	for _, task := range p.Batches[0].Tasks {
		numbers = append(numbers, task.Number)
	}
	assert.Contains(t, numbers, "1.1")
	assert.Contains(t, numbers, "1.3")
	assert.NotContains(t, numbers, "1.2")
}

func TestParseMarkdownVerificationDefault(t *testing.T) {
	const plan = `
## Batch 1: Setup
### Task 1.1: No verification given
**Implementation:** do the thing
`
	p, err := ParseMarkdown(plan)
	require.NoError(t, err)
	assert.Equal(t, defaultVerificationSteps, p.Batches[0].Tasks[0].VerificationSteps)
}

func TestParseMarkdownVerificationExplicit(t *testing.T) {
	const plan = `
## Batch 1: Setup
### Task 1.1: Has verification
**Implementation:** do the thing
**Verification:**
- go test ./...
- go vet ./...
`
	p, err := ParseMarkdown(plan)
	require.NoError(t, err)
	assert.Equal(t, []string{"go test ./...", "go vet ./..."}, p.Batches[0].Tasks[0].VerificationSteps)
}

func TestTaskSortKeyOrdering(t *testing.T) {
	tasks := []Task{
		{Number: "1.10"}, {Number: "1.2"}, {Number: "1.1"}, {Number: "2.1"}, {Number: "1.1a"}, {Number: "10.1"},
	}
	sortTasksByNumber(tasks)
	var got []string
	for _, t := range tasks {
		got = append(got, t.Number)
	}
	assert.Equal(t, []string{"1.1", "1.1a", "1.2", "1.10", "2.1", "10.1"}, got)
}

func TestParserDeterminism(t *testing.T) {
	first, err := ParseMarkdown(twoTaskPlan)
	require.NoError(t, err)
	second, err := ParseMarkdown(twoTaskPlan)
	require.NoError(t, err)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("parsing the same plan twice produced different graphs (-first +second):\n%s", diff)
	}
}
