package tracker

import "errors"

var (
	// ErrSubmissionFailed wraps errors returned while starting a job.
	ErrSubmissionFailed = errors.New("submission failed")
	// ErrPollFailed wraps transient status errors. They are retried silently.
	ErrPollFailed = errors.New("status poll failed")
	// ErrPollExhausted reports that the tracker stopped watching a job that may
	// still be running server-side.
	ErrPollExhausted = errors.New("still processing, check back later")
	// ErrJobFailed wraps an explicit failure reported by the backend.
	ErrJobFailed = errors.New("job failed")
	// ErrAbortFailed wraps abort delivery errors. Local state is reset anyway.
	ErrAbortFailed = errors.New("abort failed")
)
