package planparser

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var taskNumberSegmentRe = regexp.MustCompile(`^(\d+)([a-z]*)`)

type taskSegment struct {
	n      int
	suffix string
}

// taskSortKey implements invariant I5: split the task number on ".", and
// compare by (leading-integer, trailing-alpha) per segment.
func taskSortKey(number string) []taskSegment {
	parts := strings.Split(number, ".")
	key := make([]taskSegment, len(parts))
	for i, part := range parts {
		if m := taskNumberSegmentRe.FindStringSubmatch(part); m != nil {
			n, _ := strconv.Atoi(m[1])
			key[i] = taskSegment{n: n, suffix: m[2]}
		} else {
			key[i] = taskSegment{n: -1, suffix: part}
		}
	}
	return key
}

func lessTaskSegments(a, b []taskSegment) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i].n != b[i].n {
			return a[i].n < b[i].n
		}
		if a[i].suffix != b[i].suffix {
			return a[i].suffix < b[i].suffix
		}
	}
	return len(a) < len(b)
}

func sortTasksByNumber(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return lessTaskSegments(taskSortKey(tasks[i].Number), taskSortKey(tasks[j].Number))
	})
}
