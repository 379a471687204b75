package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePlan = `## Batch 1: Setup

**Execution Mode:** parallel

### Task 1.1: Add config loader

**Files:**
- internal/config/config.go

**Implementation:** Implement the config loader.

**Verification:**
- go build ./...
`

func TestValidatePlanPathAcceptsWellFormedPlan(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.md")
	require.NoError(t, os.WriteFile(path, []byte(samplePlan), 0644))

	var buf bytes.Buffer
	err := validatePlanPath(path, &buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "plan is valid")
	assert.Contains(t, buf.String(), "batch 1: Setup")
}

func TestValidatePlanPathRejectsMissingFile(t *testing.T) {
	var buf bytes.Buffer
	err := validatePlanPath(filepath.Join(t.TempDir(), "missing.md"), &buf)
	assert.Error(t, err)
	assert.Contains(t, buf.String(), "failed to access")
}

func TestValidatePlanPathRejectsEmptyPlan(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.md")
	require.NoError(t, os.WriteFile(path, []byte("# Not a plan\n"), 0644))

	var buf bytes.Buffer
	err := validatePlanPath(path, &buf)
	assert.Error(t, err)
}
