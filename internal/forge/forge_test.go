package forge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeGh installs a shell-scripted `gh` on PATH that dispatches on its
// first two arguments, so Client can be exercised without a real forge.
func fakeGh(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake gh script requires a POSIX shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "gh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755))

	oldPath := os.Getenv("PATH")
	os.Setenv("PATH", dir+string(os.PathListSeparator)+oldPath)
	t.Cleanup(func() { os.Setenv("PATH", oldPath) })
	return dir
}

func TestFindOpenChangeRequestNone(t *testing.T) {
	fakeGh(t, `echo '[]'`)
	c := NewClient(t.TempDir(), "main")
	cr, err := c.FindOpenChangeRequest(context.Background(), "feature/x")
	require.NoError(t, err)
	require.Nil(t, cr)
}

func TestFindOpenChangeRequestExisting(t *testing.T) {
	fakeGh(t, `echo '[{"number":42,"url":"https://example.test/pr/42","state":"OPEN","mergeable":"MERGEABLE"}]'`)
	c := NewClient(t.TempDir(), "main")
	cr, err := c.FindOpenChangeRequest(context.Background(), "feature/x")
	require.NoError(t, err)
	require.NotNil(t, cr)
	require.Equal(t, 42, cr.Number)
	require.True(t, cr.Mergeable)
}

func TestCreateChangeRequestReturnsExistingWithoutCreating(t *testing.T) {
	fakeGh(t, `
if [ "$1" = "pr" ] && [ "$2" = "list" ]; then
  echo '[{"number":7,"url":"https://example.test/pr/7","state":"OPEN","mergeable":"MERGEABLE"}]'
  exit 0
fi
echo "should not create a new PR when one is open" >&2
exit 1
`)
	c := NewClient(t.TempDir(), "main")
	cr, err := c.CreateChangeRequest(context.Background(), "feature/x", "Task 1.1", "body")
	require.NoError(t, err)
	require.Equal(t, 7, cr.Number)
}

func TestMergeChangeRequestReportsMerged(t *testing.T) {
	fakeGh(t, `
if [ "$1" = "pr" ] && [ "$2" = "merge" ]; then
  echo "Merged pull request #9"
  exit 0
fi
exit 1
`)
	c := NewClient(t.TempDir(), "main")
	res, err := c.MergeChangeRequest(context.Background(), 9)
	require.NoError(t, err)
	require.True(t, res.Merged)
}

func TestMergeChangeRequestNotMergeableReported(t *testing.T) {
	fakeGh(t, `
if [ "$1" = "pr" ] && [ "$2" = "merge" ]; then
  echo "pull request is not mergeable"
  exit 0
fi
exit 1
`)
	c := NewClient(t.TempDir(), "main")
	res, err := c.MergeChangeRequest(context.Background(), 9)
	require.NoError(t, err)
	require.False(t, res.Merged)
}

func TestRunSurfacesVCSErrorKind(t *testing.T) {
	fakeGh(t, `echo "boom" >&2; exit 1`)
	c := NewClient(t.TempDir(), "main")
	_, err := c.FindOpenChangeRequest(context.Background(), "feature/x")
	require.Error(t, err)
	require.Contains(t, fmt.Sprint(err), "exec.vcs_error")
}
