package progress

import "time"

// Kind identifies a class of backend job. Each kind has its own phase profile
// and its own tracker instance.
type Kind string

const (
	KindReport       Kind = "report"
	KindPresentation Kind = "presentation"
)

// Lifecycle is the overall state of the job owned by a tracker.
type Lifecycle string

const (
	LifecycleIdle       Lifecycle = "idle"
	LifecycleSubmitting Lifecycle = "submitting"
	LifecycleRunning    Lifecycle = "running"
	LifecycleSuccess    Lifecycle = "success"
	LifecycleError      Lifecycle = "error"
	LifecycleStopped    Lifecycle = "stopped"
)

// Active reports whether a job is in flight (timers and polling may run).
func (l Lifecycle) Active() bool {
	return l == LifecycleSubmitting || l == LifecycleRunning
}

// Terminal reports whether the lifecycle is waiting on its display hold.
func (l Lifecycle) Terminal() bool {
	return l == LifecycleSuccess || l == LifecycleError || l == LifecycleStopped
}

// validTransitions lists the lifecycle moves a tracker may make. Terminal
// states accept a new Start or a recovery result as well as the hold reset.
var validTransitions = map[Lifecycle][]Lifecycle{
	LifecycleIdle:       {LifecycleIdle, LifecycleSubmitting, LifecycleRunning, LifecycleSuccess, LifecycleError},
	LifecycleSubmitting: {LifecycleIdle, LifecycleRunning, LifecycleSuccess, LifecycleError, LifecycleStopped},
	LifecycleRunning:    {LifecycleIdle, LifecycleSuccess, LifecycleError, LifecycleStopped},
	LifecycleSuccess:    {LifecycleIdle, LifecycleSubmitting, LifecycleRunning, LifecycleSuccess, LifecycleError},
	LifecycleError:      {LifecycleIdle, LifecycleSubmitting, LifecycleRunning, LifecycleSuccess, LifecycleError},
	LifecycleStopped:    {LifecycleIdle, LifecycleSubmitting, LifecycleRunning, LifecycleSuccess, LifecycleError},
}

// CanTransitionTo reports whether moving from l to target is allowed.
func (l Lifecycle) CanTransitionTo(target Lifecycle) bool {
	for _, allowed := range validTransitions[l] {
		if allowed == target {
			return true
		}
	}
	return false
}

// PhaseStatus is the status of a single phase or workflow node.
type PhaseStatus string

const (
	PhasePending  PhaseStatus = "pending"
	PhaseRunning  PhaseStatus = "running"
	PhaseFinished PhaseStatus = "finished"
	PhaseFailed   PhaseStatus = "failed"
)

// NodeStatus is one sub-node of a multi-node backend workflow.
// Zero times mean unknown.
type NodeStatus struct {
	Name      string
	Status    PhaseStatus
	StartedAt time.Time
	EndedAt   time.Time
}

// Snapshot is one status signal from the backend. It is transient: only used to
// compute the next estimate.
type Snapshot struct {
	PhaseName   string
	PhaseIndex  int      // <0 when the backend only reports a name
	RawProgress *float64 // optional 0..100
	PhaseStatus PhaseStatus
	ServerTime  time.Time
	TerminalURL string // set once the final artifact exists

	Queued  bool   // backend has accepted but not started the job
	Stopped bool   // backend reports the job was stopped elsewhere
	Message string // short human-friendly status line

	Nodes []NodeStatus
}

// Terminal reports whether the snapshot carries the final artifact reference.
func (s Snapshot) Terminal() bool {
	return s.TerminalURL != ""
}

// Raw returns a pointer to v, for filling Snapshot.RawProgress.
func Raw(v float64) *float64 {
	return &v
}

// JobHandle identifies one in-flight attempt.
type JobHandle struct {
	ResourceID  string
	ExecutionID string
	Kind        Kind
	StartedAt   time.Time
}

// Artifact is the terminal output reference of a successful job.
type Artifact struct {
	URL  string
	Name string
}

// NoticeKind classifies a dismissible user-facing notice.
type NoticeKind string

const (
	NoticeStillProcessing  NoticeKind = "still_processing"
	NoticeSubmissionFailed NoticeKind = "submission_failed"
	NoticeJobFailed        NoticeKind = "job_failed"
	NoticeAbortFailed      NoticeKind = "abort_failed"
)

// Notice is emitted at most once per occurrence; the UI may dismiss it.
type Notice struct {
	Kind    NoticeKind
	Message string
	At      time.Time
}

// State is the published view model of a tracker.
// Displayed is 0..100 and reaches 100 only when Lifecycle is LifecycleSuccess.
type State struct {
	Kind        Kind
	ResourceID  string
	ExecutionID string

	Lifecycle   Lifecycle
	Displayed   float64
	PhaseIndex  int
	PhaseName   string
	PhaseStatus PhaseStatus
	Message     string

	LastError string
	Result    *Artifact
	Notice    *Notice
}

// Reporter is implemented by any observer interested in tracker state changes.
// Calls happen on the UI loop and must not block.
type Reporter interface {
	Update(s State)
	Notify(n Notice)
}
