package planparser

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/harrison/conductor/internal/execerrors"
	"github.com/harrison/conductor/internal/fileutil"
)

// Format is the on-disk format of a plan document.
type Format int

const (
	FormatUnknown Format = iota
	FormatMarkdown
	FormatYAML
)

func (f Format) String() string {
	switch f {
	case FormatMarkdown:
		return "markdown"
	case FormatYAML:
		return "yaml"
	default:
		return "unknown"
	}
}

// DetectFormat infers a plan's format from its file extension.
func DetectFormat(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".md", ".markdown":
		return FormatMarkdown
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatUnknown
	}
}

// ParseFile parses a single plan document (or, if path is a directory, a
// set of numbered plan fragments merged via ParseDirectory). Fails with
// KindPlanNotFound if the path does not exist.
func ParseFile(path string) (*Plan, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, execerrors.Wrap(execerrors.KindPlanNotFound, fmt.Sprintf("plan not found: %s", path), err)
	}

	if info.IsDir() {
		return ParseDirectory(path)
	}

	plan, err := parseFile(path)
	if err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	plan.FilePath = absPath
	return plan, nil
}

func parseFile(path string) (*Plan, error) {
	format := DetectFormat(path)
	if format == FormatUnknown {
		return nil, execerrors.New(execerrors.KindPlanMalformedBatch,
			fmt.Sprintf("unknown plan format: %s (supported: .md, .markdown, .yaml, .yml)", path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, execerrors.Wrap(execerrors.KindPlanNotFound, fmt.Sprintf("failed to read plan: %s", path), err)
	}

	var plan *Plan
	switch format {
	case FormatMarkdown:
		plan, err = ParseMarkdown(string(data))
	case FormatYAML:
		plan, err = ParseYAML(string(data))
	}
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// IsSplitPlan reports whether dirname contains numbered plan fragments
// (1-*.md, 2-*.yaml, ...).
func IsSplitPlan(dirname string) bool {
	entries, err := os.ReadDir(dirname)
	if err != nil {
		return false
	}
	pattern := regexp.MustCompile(`^\d+-`)
	for _, entry := range entries {
		if !entry.IsDir() && pattern.MatchString(entry.Name()) && DetectFormat(entry.Name()) != FormatUnknown {
			return true
		}
	}
	return false
}

// ParseDirectory loads every numbered plan fragment in a directory, in
// ascending numeric order, and merges them into a single Plan. A plan too
// large for one file can be split this way — a case the source system
// this was adapted from does not support.
func ParseDirectory(dirname string) (*Plan, error) {
	info, err := os.Stat(dirname)
	if err != nil {
		return nil, execerrors.Wrap(execerrors.KindPlanNotFound, fmt.Sprintf("plan directory not found: %s", dirname), err)
	}
	if !info.IsDir() {
		return nil, execerrors.New(execerrors.KindPlanNotFound, fmt.Sprintf("not a directory: %s", dirname))
	}

	entries, err := os.ReadDir(dirname)
	if err != nil {
		return nil, fmt.Errorf("read plan directory: %w", err)
	}

	type fragment struct {
		index int
		path  string
		name  string
	}

	var fragments []fragment
	pattern := regexp.MustCompile(`^(\d+)-`)
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		m := pattern.FindStringSubmatch(entry.Name())
		if m == nil || DetectFormat(entry.Name()) == FormatUnknown {
			continue
		}
		var idx int
		fmt.Sscanf(m[1], "%d", &idx)
		fragments = append(fragments, fragment{idx, filepath.Join(dirname, entry.Name()), entry.Name()})
	}

	if len(fragments) == 0 {
		return nil, execerrors.New(execerrors.KindPlanEmpty, fmt.Sprintf("no plan fragments found in %s", dirname))
	}

	sort.Slice(fragments, func(i, j int) bool { return fragments[i].index < fragments[j].index })

	plans := make([]*Plan, 0, len(fragments))
	for _, f := range fragments {
		p, err := parseFile(f.path)
		if err != nil {
			return nil, fmt.Errorf("parse fragment %s: %w", f.name, err)
		}
		plans = append(plans, p)
	}

	merged, err := MergePlans(plans...)
	if err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(dirname)
	if err != nil {
		absPath = dirname
	}
	merged.FilePath = absPath
	return merged, nil
}

// MergePlans combines multiple plans into one, detecting duplicate batch
// numbers across fragments and stamping each task's SourceFile with the
// fragment it came from for audit purposes.
func MergePlans(plans ...*Plan) (*Plan, error) {
	if len(plans) == 0 {
		return &Plan{}, nil
	}

	seenBatches := map[int]bool{}
	merged := &Plan{}
	for _, p := range plans {
		if p == nil {
			continue
		}
		if merged.Name == "" {
			merged.Name = p.Name
		}
		for _, b := range p.Batches {
			if seenBatches[b.Number] {
				return nil, execerrors.New(execerrors.KindPlanMalformedBatch,
					fmt.Sprintf("duplicate batch number: %d", b.Number))
			}
			seenBatches[b.Number] = true
			for i := range b.Tasks {
				b.Tasks[i].SourceFile = p.FilePath
			}
			merged.Batches = append(merged.Batches, b)
		}
	}

	sort.Slice(merged.Batches, func(i, j int) bool { return merged.Batches[i].Number < merged.Batches[j].Number })
	return merged, nil
}

// FilterPlanFiles accepts files and/or directories and returns a
// deduplicated, sorted list of absolute paths matching the plan-* naming
// convention (plan-01-setup.md, plan-features.yaml, ...).
func FilterPlanFiles(paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no paths provided")
	}

	planPattern := regexp.MustCompile(`^plan-.*\.(md|markdown|yaml|yml)$`)
	opts := fileutil.ScanOptions{
		Pattern:    "^plan-.*",
		Extensions: []string{".md", ".markdown", ".yaml", ".yml"},
		Recursive:  true,
	}

	found := make(map[string]bool)
	for _, path := range paths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve path %q: %w", path, err)
		}
		info, err := os.Stat(absPath)
		if err != nil {
			return nil, fmt.Errorf("access path %q: %w", absPath, err)
		}

		if info.IsDir() {
			result, err := fileutil.ScanDirectory(absPath, opts)
			if err != nil {
				return nil, fmt.Errorf("scan directory %q: %w", absPath, err)
			}
			for _, f := range result.Files {
				found[f] = true
			}
			continue
		}

		if planPattern.MatchString(filepath.Base(absPath)) {
			found[absPath] = true
		}
	}

	if len(found) == 0 {
		return nil, fmt.Errorf("no plan files found matching pattern plan-*.{md,markdown,yaml,yml}")
	}

	result := make([]string, 0, len(found))
	for p := range found {
		result = append(result, p)
	}
	sort.Strings(result)
	return result, nil
}
