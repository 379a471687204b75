package planparser

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/harrison/conductor/internal/execerrors"
)

var (
	batchHeaderRe = regexp.MustCompile(`(?m)^#{2,3}\s+Batch\s+(\d+(?:\.\d+)?):\s*(.+)$`)
	taskHeaderRe  = regexp.MustCompile(`(?m)^#{3,4}\s+Task\s+([\d.a-z]+):\s*(.+)$`)

	executionModeRe       = regexp.MustCompile(`(?i)\*\*Execution Mode:\*\*\s*` + "`" + `?(\w+)` + "`" + `?`)
	dependenciesRe        = regexp.MustCompile(`(?i)\*\*Dependencies:\*\*\s*(.+)`)
	depBatchNumRe         = regexp.MustCompile(`(?i)batch\s+(\d+)`)
	depTaskRe             = regexp.MustCompile(`(?i)\*\*Depends on:\*\*\s*Task\s+([\d.]+)`)
	implementationLabelRe = regexp.MustCompile(`(?i)\*\*Implementation:\*\*`)
	inlineFileRe          = regexp.MustCompile("\\*\\*File:\\*\\*\\s*`?([^`\\n]+)`?")
	filesVerbLineRe       = regexp.MustCompile(`(?i)^-\s+(?:Create|Modify|Update):\s*` + "`" + `?([^` + "`" + `\n]+)` + "`" + `?`)
	filesBareLineRe       = regexp.MustCompile("^-\\s+`?([^`\\n]+)`?")
	firstTaskHeaderRe     = regexp.MustCompile(`(?m)^#{3,4}\s+Task\s+[\d.a-z]+:`)
)

var defaultVerificationSteps = []string{"go build ./...", "go vet ./..."}

// ParseMarkdown parses the contents of a Markdown plan document into a
// Plan. Batch headers are two-or-three-hash "Batch N: title"; task headers
// are three-or-four-hash "Task N.M: title" nested inside a batch's body.
func ParseMarkdown(content string) (*Plan, error) {
	batchMatches := batchHeaderRe.FindAllStringSubmatchIndex(content, -1)
	if len(batchMatches) == 0 {
		return nil, execerrors.New(execerrors.KindPlanEmpty, "no batch headers found in plan")
	}

	plan := &Plan{}
	for i, m := range batchMatches {
		numStr := content[m[2]:m[3]]
		title := strings.TrimSpace(content[m[4]:m[5]])

		start := m[1]
		end := len(content)
		if i+1 < len(batchMatches) {
			end = batchMatches[i+1][0]
		}
		body := content[start:end]

		batchNum, err := leadingBatchNumber(numStr)
		if err != nil {
			return nil, execerrors.Wrap(execerrors.KindPlanMalformedBatch,
				fmt.Sprintf("batch %q has an unparseable number", numStr), err)
		}

		batch, err := parseBatchBody(batchNum, title, body)
		if err != nil {
			return nil, execerrors.Wrap(execerrors.KindPlanMalformedBatch,
				fmt.Sprintf("batch %d body could not be parsed", batchNum), err)
		}
		plan.Batches = append(plan.Batches, *batch)
	}

	return plan, nil
}

// leadingBatchNumber extracts the leading integer of a batch header's N
// field; a decimal suffix (e.g. "1.5") is tolerated but rounded down for
// dependency purposes.
func leadingBatchNumber(numStr string) (int, error) {
	head := numStr
	if idx := strings.Index(numStr, "."); idx >= 0 {
		head = numStr[:idx]
	}
	return strconv.Atoi(head)
}

func parseBatchBody(number int, title, body string) (*Batch, error) {
	mode := extractField(body, executionModeRe, "local")
	deps := extractDependencyBatches(body)

	description := body
	if loc := firstTaskHeaderRe.FindStringIndex(body); loc != nil {
		description = body[:loc[0]]
	}
	description = strings.TrimSpace(description)

	tasks := parseTasks(number, body)

	return &Batch{
		Number:        number,
		Title:         title,
		ExecutionMode: mode,
		Dependencies:  deps,
		Description:   description,
		Tasks:         tasks,
	}, nil
}

func extractField(content string, re *regexp.Regexp, def string) string {
	m := re.FindStringSubmatch(content)
	if m == nil {
		return def
	}
	return strings.TrimSpace(m[1])
}

// extractDependencyBatches parses the "**Dependencies:**" line: literal
// "None" (case-insensitive) yields the empty list; otherwise every
// "batch <digits>" occurrence is collected.
func extractDependencyBatches(content string) []int {
	m := dependenciesRe.FindStringSubmatch(content)
	if m == nil {
		return nil
	}
	depText := strings.ToLower(m[1])
	if strings.Contains(depText, "none") {
		return nil
	}
	matches := depBatchNumRe.FindAllStringSubmatch(depText, -1)
	deps := make([]int, 0, len(matches))
	for _, dm := range matches {
		n, err := strconv.Atoi(dm[1])
		if err == nil {
			deps = append(deps, n)
		}
	}
	return deps
}

// parseTasks extracts every task section from a batch body. A task whose
// section cannot be parsed is dropped and logged (non-fatal); dropping a
// batch itself is fatal, handled by the caller.
func parseTasks(batchNumber int, body string) []Task {
	matches := taskHeaderRe.FindAllStringSubmatchIndex(body, -1)
	tasks := make([]Task, 0, len(matches))

	for i, m := range matches {
		number := body[m[2]:m[3]]
		title := strings.TrimSpace(body[m[4]:m[5]])

		start := m[1]
		end := len(body)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		content := body[start:end]

		task, err := parseTaskBody(batchNumber, number, title, content)
		if err != nil {
			// Non-fatal: log-and-drop per the parser contract.
			continue
		}
		tasks = append(tasks, *task)
	}

	sortTasksByNumber(tasks)
	return tasks
}

func parseTaskBody(batchNumber int, number, title, content string) (*Task, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("task %s has no implementation body", number)
	}
	if !implementationLabelRe.MatchString(content) {
		return nil, fmt.Errorf("task %s has no **Implementation:** section", number)
	}

	files := extractFiles(content)
	verification := extractVerificationSteps(content)
	deps := extractTaskDependencies(content)
	implementation := strings.TrimSpace(content)

	return &Task{
		Number:                 number,
		Title:                  title,
		BatchNumber:            batchNumber,
		Files:                  files,
		Implementation:         implementation,
		RenderedImplementation: renderMarkdown(implementation),
		VerificationSteps:      verification,
		Dependencies:           deps,
	}, nil
}

// renderMarkdown converts a task's implementation body to HTML for
// Task.RenderedImplementation; the agent prompt uses the raw Implementation
// text instead. A render failure falls back to the raw source rather than
// dropping the task.
func renderMarkdown(src string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(src), &buf); err != nil {
		return src
	}
	return buf.String()
}

// extractFiles scans the "**Files:**"/"**Files to Create:**" section for
// bulleted paths (accepting Create:/Modify:/Update: verbs or bare paths),
// plus an inline single-file "**File:**" variant. A fenced code block
// never contributes a false section boundary.
func extractFiles(content string) []string {
	var files []string
	inFiles := false
	inFence := false
	seen := map[string]bool{}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}

		if strings.Contains(line, "**Files:**") || strings.Contains(line, "**Files to Create:**") {
			inFiles = true
			continue
		}

		if m := inlineFileRe.FindStringSubmatch(line); m != nil {
			path := strings.TrimSpace(m[1])
			if path != "" && !seen[path] {
				files = append(files, path)
				seen[path] = true
			}
			continue
		}

		if inFiles {
			if strings.HasPrefix(trimmed, "**") {
				inFiles = false
				continue
			}
			if !strings.HasPrefix(trimmed, "-") {
				continue
			}
			if m := filesVerbLineRe.FindStringSubmatch(trimmed); m != nil {
				path := strings.TrimSpace(m[1])
				if path != "" && !seen[path] {
					files = append(files, path)
					seen[path] = true
				}
			} else if m := filesBareLineRe.FindStringSubmatch(trimmed); m != nil {
				path := strings.TrimSpace(m[1])
				if path != "" && !strings.HasPrefix(path, "*") && !seen[path] {
					files = append(files, path)
					seen[path] = true
				}
			}
		}
	}
	return files
}

// extractVerificationSteps scans the "**Verification...**"/"**Test...**"
// section for bulleted or numbered steps. An empty result falls back to an
// advisory default (a type-check and a lint-equivalent command); workers
// never enforce these, they are passed through to the agent prompt only.
func extractVerificationSteps(content string) []string {
	var steps []string
	inSection := false
	inFence := false

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}

		if strings.Contains(line, "**Verification") || strings.Contains(line, "**Test") {
			inSection = true
			continue
		}
		if inSection {
			if strings.HasPrefix(trimmed, "**") {
				inSection = false
				continue
			}
			if strings.HasPrefix(trimmed, "-") {
				steps = append(steps, strings.TrimSpace(strings.TrimPrefix(trimmed, "-")))
			} else if isNumberedBullet(trimmed) {
				steps = append(steps, stripNumberedBullet(trimmed))
			}
		}
	}

	if len(steps) == 0 {
		return append([]string(nil), defaultVerificationSteps...)
	}
	return steps
}

func isNumberedBullet(line string) bool {
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	return i > 0 && i < len(line) && line[i] == '.'
}

func stripNumberedBullet(line string) string {
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i < len(line) && line[i] == '.' {
		i++
	}
	return strings.TrimSpace(line[i:])
}

// extractTaskDependencies parses "**Depends on:** Task N.M" references.
func extractTaskDependencies(content string) []string {
	matches := depTaskRe.FindAllStringSubmatch(content, -1)
	deps := make([]string, 0, len(matches))
	for _, m := range matches {
		deps = append(deps, m[1])
	}
	return deps
}
