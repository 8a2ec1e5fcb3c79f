package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"dvtrack/internal/backend"
	"dvtrack/internal/progress"
)

// ReportClient runs report generation for interview sessions. Resource ids are
// session ids.
//
// The server generates reports inside the POST request and publishes stage
// progress on a separate endpoint. Submit therefore keeps the POST running in
// the background under a client-assigned execution id and PollStatus merges
// its outcome with the published stage.
type ReportClient struct {
	c             *Client
	acceptWindow  time.Duration
	submitTimeout time.Duration

	mu   sync.Mutex
	runs map[string]*reportRun
}

type reportRun struct {
	executionID string
	cancel      context.CancelFunc
	finished    chan struct{}

	// guarded by ReportClient.mu
	done     bool
	artifact *progress.Artifact
	err      error
}

var _ backend.Backend = (*ReportClient)(nil)

// ReportOption configures a ReportClient.
type ReportOption func(*ReportClient)

// WithAcceptWindow sets how long Submit waits for an early answer from the
// generate request before returning the execution id.
func WithAcceptWindow(d time.Duration) ReportOption {
	return func(r *ReportClient) { r.acceptWindow = d }
}

// WithSubmitTimeout bounds the background generate request.
func WithSubmitTimeout(d time.Duration) ReportOption {
	return func(r *ReportClient) { r.submitTimeout = d }
}

// NewReportClient returns a report adapter on top of c.
func NewReportClient(c *Client, opts ...ReportOption) *ReportClient {
	r := &ReportClient{
		c:             c,
		acceptWindow:  1500 * time.Millisecond,
		submitTimeout: 10 * time.Minute,
		runs:          make(map[string]*reportRun),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type generateReportResponse struct {
	Success     bool   `json:"success"`
	ReportPath  string `json:"report_path"`
	ReportName  string `json:"report_name"`
	AIGenerated bool   `json:"ai_generated"`
}

type reportStatus struct {
	Active      bool     `json:"active"`
	State       string   `json:"state"`
	StageIndex  *int     `json:"stage_index"`
	TotalStages int      `json:"total_stages"`
	Progress    *float64 `json:"progress"`
	Message     string   `json:"message"`
	UpdatedAt   flexTime `json:"updated_at"`
}

const (
	reportStateQueued    = "queued"
	reportStateCompleted = "completed"
	reportStateFailed    = "failed"
)

// Submit starts generating a report for session sessionID. A generate request
// still running for the same session is joined instead of duplicated.
func (r *ReportClient) Submit(ctx context.Context, sessionID string) (backend.Submission, error) {
	r.mu.Lock()
	if run, ok := r.runs[sessionID]; ok && !run.done {
		r.mu.Unlock()
		return backend.Submission{ExecutionID: run.executionID}, nil
	}
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.submitTimeout)
	run := &reportRun{
		executionID: uuid.NewString(),
		cancel:      cancel,
		finished:    make(chan struct{}),
	}
	r.runs[sessionID] = run
	r.mu.Unlock()

	go r.generate(runCtx, sessionID, run)

	timer := time.NewTimer(r.acceptWindow)
	defer timer.Stop()
	select {
	case <-run.finished:
	case <-timer.C:
		return backend.Submission{ExecutionID: run.executionID}, nil
	case <-ctx.Done():
		r.forget(sessionID, run)
		return backend.Submission{}, ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case run.artifact != nil:
		return backend.Submission{Artifact: run.artifact}, nil
	case run.err != nil:
		var se *StatusError
		if errors.As(run.err, &se) {
			delete(r.runs, sessionID)
			return backend.Submission{}, run.err
		}
	}
	// Transport failures fall through to status polling: the server may still
	// be generating.
	return backend.Submission{ExecutionID: run.executionID}, nil
}

func (r *ReportClient) generate(ctx context.Context, sessionID string, run *reportRun) {
	defer close(run.finished)
	defer run.cancel()

	var resp generateReportResponse
	_, err := r.c.do(ctx, http.MethodPost, "/api/sessions/"+escape(sessionID)+"/generate-report", nil, nil, &resp)

	r.mu.Lock()
	defer r.mu.Unlock()
	run.done = true
	switch {
	case err != nil:
		run.err = err
		r.c.logger.Info("backend.report.generate_error", "session", sessionID, "execution_id", run.executionID, "error", err)
	case !resp.Success:
		run.err = &backend.JobError{Message: "server did not confirm the report"}
	default:
		run.artifact = &progress.Artifact{
			URL:  r.c.resolve("/api/reports/" + escape(resp.ReportName)),
			Name: resp.ReportName,
		}
		r.c.logger.Info("backend.report.generated", "session", sessionID, "report", resp.ReportName, "ai_generated", resp.AIGenerated)
	}
}

// PollStatus merges the outcome of the generate request with the published
// generation stage.
func (r *ReportClient) PollStatus(ctx context.Context, sessionID, executionID string) (progress.Snapshot, error) {
	run, done, artifact, runErr := r.lookup(sessionID)
	if run != nil && run.executionID == executionID && done {
		if artifact != nil {
			return progress.Snapshot{PhaseIndex: -1, TerminalURL: artifact.URL, Message: artifact.Name}, nil
		}
		var se *StatusError
		if errors.As(runErr, &se) {
			return progress.Snapshot{}, &backend.JobError{Message: se.Body}
		}
		var je *backend.JobError
		if errors.As(runErr, &je) {
			return progress.Snapshot{}, je
		}
	}

	st, err := r.status(ctx, sessionID)
	if err != nil {
		return progress.Snapshot{}, err
	}
	pending := run != nil && !done
	return r.snapshot(sessionID, st, pending)
}

// RecoveryStatus reports the generation state of sessionID. Server-side jobs
// started by another client get a deterministic execution id so repeated
// recoveries agree.
func (r *ReportClient) RecoveryStatus(ctx context.Context, sessionID string) (backend.Recovery, error) {
	run, done, artifact, runErr := r.lookup(sessionID)
	if run != nil && done {
		if artifact != nil {
			return backend.Recovery{Kind: backend.RecoveryDone, Artifact: artifact}, nil
		}
		var se *StatusError
		if errors.As(runErr, &se) {
			return backend.Recovery{Kind: backend.RecoveryFailed, Message: se.Body}, nil
		}
	}

	st, err := r.status(ctx, sessionID)
	if err != nil {
		return backend.Recovery{}, err
	}

	executionID := r.recoveryID(sessionID)
	if run != nil && !done {
		executionID = run.executionID
		if !st.Active && st.State == "" {
			return backend.Recovery{
				Kind:        backend.RecoveryInFlight,
				ExecutionID: executionID,
				Snapshot:    progress.Snapshot{PhaseIndex: 0, Queued: true},
			}, nil
		}
	}

	switch {
	case st.Active:
		snap, err := r.snapshot(sessionID, st, true)
		if err != nil {
			return backend.Recovery{Kind: backend.RecoveryFailed, Message: err.Error()}, nil
		}
		return backend.Recovery{Kind: backend.RecoveryInFlight, ExecutionID: executionID, Snapshot: snap}, nil
	case st.State == reportStateCompleted:
		return backend.Recovery{Kind: backend.RecoveryDone, Artifact: r.sessionArtifact(sessionID)}, nil
	case st.State == reportStateFailed:
		return backend.Recovery{Kind: backend.RecoveryFailed, Message: st.Message}, nil
	default:
		return backend.Recovery{Kind: backend.RecoveryIdle}, nil
	}
}

// Abort cancels the pending generate request. The server has no stop endpoint
// for reports, so generation already under way finishes server-side.
func (r *ReportClient) Abort(_ context.Context, sessionID, executionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[sessionID]
	if !ok || run.executionID != executionID {
		return nil
	}
	run.cancel()
	delete(r.runs, sessionID)
	return nil
}

func (r *ReportClient) status(ctx context.Context, sessionID string) (reportStatus, error) {
	var st reportStatus
	_, err := r.c.do(ctx, http.MethodGet, "/api/status/report-generation/"+escape(sessionID), nil, nil, &st)
	return st, err
}

func (r *ReportClient) snapshot(sessionID string, st reportStatus, pending bool) (progress.Snapshot, error) {
	switch {
	case st.State == reportStateFailed:
		return progress.Snapshot{}, &backend.JobError{Message: st.Message}
	case !st.Active && st.State == "":
		return progress.Snapshot{PhaseIndex: 0, Queued: true}, nil
	case !st.Active && st.State == reportStateCompleted && !pending:
		return progress.Snapshot{PhaseIndex: -1, TerminalURL: r.sessionArtifact(sessionID).URL, Message: st.Message}, nil
	}

	snap := progress.Snapshot{
		PhaseName:   st.State,
		PhaseIndex:  -1,
		RawProgress: st.Progress,
		PhaseStatus: progress.PhaseRunning,
		ServerTime:  st.UpdatedAt.Time,
		Queued:      st.State == reportStateQueued,
		Message:     st.Message,
	}
	if st.StageIndex != nil {
		snap.PhaseIndex = *st.StageIndex
	}
	if st.State == reportStateCompleted {
		snap.PhaseStatus = progress.PhaseFinished
	}
	return snap, nil
}

func (r *ReportClient) lookup(sessionID string) (run *reportRun, done bool, artifact *progress.Artifact, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run = r.runs[sessionID]
	if run == nil {
		return nil, false, nil, nil
	}
	return run, run.done, run.artifact, run.err
}

func (r *ReportClient) forget(sessionID string, run *reportRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs[sessionID] == run {
		run.cancel()
		delete(r.runs, sessionID)
	}
}

func (r *ReportClient) recoveryID(sessionID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(r.c.BaseURL()+"/api/status/report-generation/"+sessionID)).String()
}

func (r *ReportClient) sessionArtifact(sessionID string) *progress.Artifact {
	return &progress.Artifact{URL: r.c.resolve("/api/sessions/" + escape(sessionID)), Name: sessionID}
}
