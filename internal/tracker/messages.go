package tracker

import (
	"time"

	"dvtrack/internal/backend"
	"dvtrack/internal/progress"
)

// Every message carries the id of the tracker that scheduled it. Timer
// messages also carry the generation tag current when they were scheduled;
// bumping the tag is how a tracker cancels a timer.

type tickMsg struct {
	tracker int64
	tag     int
	at      time.Time
}

type pollTickMsg struct {
	tracker int64
	tag     int
}

type holdExpiredMsg struct {
	tracker int64
	tag     int
}

type submitResultMsg struct {
	tracker    int64
	attempt    int
	resourceID string
	sub        backend.Submission
	err        error
}

type pollResultMsg struct {
	tracker     int64
	resourceID  string
	executionID string
	snap        progress.Snapshot
	err         error
}

type recoveryResultMsg struct {
	tracker    int64
	attempt    int
	resourceID string
	rec        backend.Recovery
	err        error
}

type abortResultMsg struct {
	tracker     int64
	resourceID  string
	executionID string
	err         error
}
