package store

import "time"

// SessionStatus is the lifecycle state of an execution session.
type SessionStatus string

const (
	SessionStarted   SessionStatus = "started"
	SessionExecuting SessionStatus = "executing"
	SessionComplete  SessionStatus = "complete"
	SessionFailed    SessionStatus = "failed"
	SessionPaused    SessionStatus = "paused"
)

// BatchStatus is the lifecycle state of a batch.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchReady     BatchStatus = "ready"
	BatchExecuting BatchStatus = "executing"
	BatchComplete  BatchStatus = "complete"
	BatchFailed    BatchStatus = "failed"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskPRCreated  TaskStatus = "pr_created"
	TaskReviewing  TaskStatus = "reviewing"
	TaskFixing     TaskStatus = "fixing"
	TaskApproved   TaskStatus = "approved"
	TaskMerged     TaskStatus = "merged"
	TaskFailed     TaskStatus = "failed"
)

// ReviewVerdict is the outcome of a single review round.
type ReviewVerdict string

const (
	VerdictApproved         ReviewVerdict = "approved"
	VerdictChangesRequested ReviewVerdict = "changes_requested"
)

// ExecutionMode controls whether a session's batches run sequentially or
// in parallel across workers.
type ExecutionMode string

const (
	ModeSequential ExecutionMode = "sequential"
	ModeParallel   ExecutionMode = "parallel"
)

// Session is one "start execution" request over a plan's batch range.
type Session struct {
	ID              string
	PlanPath        string
	BatchLo         int
	BatchHi         int
	Mode            ExecutionMode
	Status          SessionStatus
	CurrentBatch    *int
	TasksCompleted  int
	TasksTotal      int
	AutoPublish     bool
	MaxReviewRounds int
	StartedAt       time.Time
	CompletedAt     *time.Time
	Extra           map[string]any
}

// Batch is one parsed batch within a session's range.
type Batch struct {
	ID           string
	SessionID    string
	BatchNumber  int
	Dependencies []int
	Status       BatchStatus
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time
	Extra        map[string]any
}

// Task is one parsed task within a batch.
type Task struct {
	ID           string
	BatchID      string
	TaskNumber   string
	Title        string
	BranchName   string
	ChangeNumber *int
	ChangeURL    string
	Commits      []string
	Status       TaskStatus
	ReviewRounds int
	Error        string
	StartedAt    *time.Time
	CompletedAt  *time.Time
	Extra        TaskExtra
}

// TaskExtra carries the task's execution payload: the implementation
// prompt text, the target file list, and the verification steps, plus an
// open-ended bag for anything else (per the "tagged record with open-ended
// extras" design note).
type TaskExtra struct {
	ImplementationText string         `json:"implementation_text"`
	Files               []string       `json:"files"`
	VerificationSteps   []string       `json:"verification_steps"`
	Dependencies        []string       `json:"dependencies,omitempty"`
	Other               map[string]any `json:"other,omitempty"`
}

// Review is one append-only review round on a task's published change.
type Review struct {
	ID        string
	TaskID    string
	Round     int
	Reviewer  string
	Verdict   ReviewVerdict
	Comments  []string
	CreatedAt time.Time
}

// SessionSnapshot is the external status projection for a session
// (§4.2 SessionStatus).
type SessionSnapshot struct {
	ID             string
	Status         SessionStatus
	CurrentBatch   *int
	TasksTotal     int
	TasksCompleted int
	OpenChanges    []OpenChange
	StartedAt      time.Time
	CompletedAt    *time.Time
}

// OpenChange names a task currently holding an open change request.
type OpenChange struct {
	TaskID       string
	TaskNumber   string
	ChangeNumber int
	ChangeURL    string
}
