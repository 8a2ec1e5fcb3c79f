package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"dvtrack/internal/backend"
	"dvtrack/internal/progress"
)

// PresentationClient derives slide decks from reports through the server's
// workflow integration. Resource ids are report file names.
type PresentationClient struct {
	c              *Client
	discoverWindow time.Duration
	submitTimeout  time.Duration
	abortBackoff   func() backoff.BackOff

	mu    sync.Mutex
	posts map[string]context.CancelFunc
}

var _ backend.Backend = (*PresentationClient)(nil)

// PresentationOption configures a PresentationClient.
type PresentationOption func(*PresentationClient)

// WithDiscoverWindow bounds how long Submit waits for the server to register
// the new workflow execution.
func WithDiscoverWindow(d time.Duration) PresentationOption {
	return func(p *PresentationClient) { p.discoverWindow = d }
}

// WithPresentationSubmitTimeout bounds the background submit request.
func WithPresentationSubmitTimeout(d time.Duration) PresentationOption {
	return func(p *PresentationClient) { p.submitTimeout = d }
}

// WithAbortRetry sets the retry schedule of Abort.
func WithAbortRetry(initial time.Duration, retries uint64) PresentationOption {
	return func(p *PresentationClient) {
		p.abortBackoff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.MaxElapsedTime = 0
			return backoff.WithMaxRetries(b, retries)
		}
	}
}

// NewPresentationClient returns a presentation adapter on top of c.
func NewPresentationClient(c *Client, opts ...PresentationOption) *PresentationClient {
	p := &PresentationClient{
		c:              c,
		discoverWindow: 45 * time.Second,
		submitTimeout:  15 * time.Minute,
		posts:          make(map[string]context.CancelFunc),
	}
	WithAbortRetry(500*time.Millisecond, 3)(p)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type reflyResponse struct {
	Error                string          `json:"error"`
	Message              string          `json:"message"`
	ExecutionID          string          `json:"execution_id"`
	Processing           bool            `json:"processing"`
	Stopped              bool            `json:"stopped"`
	Mismatch             bool            `json:"mismatch"`
	OwnerReport          string          `json:"owner_report"`
	PDFURL               string          `json:"pdf_url"`
	PresentationLocalURL string          `json:"presentation_local_url"`
	ReflyStatus          *reflyStatus    `json:"refly_status"`
	ReflyResponse        json.RawMessage `json:"refly_response"`
}

type reflyStatus struct {
	Status  string `json:"status"`
	Payload struct {
		Data struct {
			Status         string          `json:"status"`
			NodeExecutions []nodeExecution `json:"nodeExecutions"`
		} `json:"data"`
	} `json:"payload"`
}

type nodeExecution struct {
	NodeID    string   `json:"nodeId"`
	Title     string   `json:"title"`
	Status    string   `json:"status"`
	StartTime flexTime `json:"startTime"`
	EndTime   flexTime `json:"endTime"`
}

type presentationStatus struct {
	Exists               bool   `json:"exists"`
	PDFURL               string `json:"pdf_url"`
	PresentationLocalURL string `json:"presentation_local_url"`
	ExecutionID          string `json:"execution_id"`
	Processing           bool   `json:"processing"`
	Stopped              bool   `json:"stopped"`
}

type abortResponse struct {
	Success     bool   `json:"success"`
	ExecutionID string `json:"execution_id"`
	Warning     string `json:"warning"`
}

// Workflow states reported by the job runner.
const (
	workflowExecuting = "executing"
	workflowFinish    = "finish"
	workflowFailed    = "failed"
)

type postOutcome struct {
	sub backend.Submission
	err error
}

// Submit starts a presentation for report. The server only answers the submit
// request once the workflow is done, so the request runs in the background
// and Submit returns as soon as the server has registered the execution.
func (p *PresentationClient) Submit(ctx context.Context, report string) (backend.Submission, error) {
	before, err := p.presentationStatus(ctx, report)
	if err != nil {
		return backend.Submission{}, err
	}
	if before.Processing && before.ExecutionID != "" {
		return backend.Submission{ExecutionID: before.ExecutionID}, nil
	}

	results := p.startPost(ctx, report)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = p.discoverWindow
	ticker := backoff.NewTicker(backoff.WithContext(b, ctx))
	defer ticker.Stop()

	for {
		select {
		case out := <-results:
			return out.sub, out.err
		case _, ok := <-ticker.C:
			if !ok {
				p.cancelPost(report)
				if ctx.Err() != nil {
					return backend.Submission{}, ctx.Err()
				}
				return backend.Submission{}, fmt.Errorf("presentation for %s was not registered within %s", report, p.discoverWindow)
			}
			st, err := p.presentationStatus(ctx, report)
			if err != nil {
				p.c.logger.Debug("backend.presentation.discover_error", "report", report, "error", err)
				continue
			}
			if st.Processing && st.ExecutionID != "" && st.ExecutionID != before.ExecutionID {
				return backend.Submission{ExecutionID: st.ExecutionID}, nil
			}
		}
	}
}

func (p *PresentationClient) startPost(ctx context.Context, report string) <-chan postOutcome {
	results := make(chan postOutcome, 1)
	postCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.submitTimeout)

	p.mu.Lock()
	if prev, ok := p.posts[report]; ok {
		prev()
	}
	p.posts[report] = cancel
	p.mu.Unlock()

	go func() {
		defer cancel()
		var resp reflyResponse
		code, err := p.c.do(postCtx, http.MethodPost, "/api/reports/"+escape(report)+"/refly", nil, nil, &resp, http.StatusConflict)
		results <- p.submission(report, code, resp, err)
	}()
	return results
}

func (p *PresentationClient) submission(report string, code int, resp reflyResponse, err error) postOutcome {
	switch {
	case err != nil:
		return postOutcome{err: err}
	case code == http.StatusConflict || resp.Mismatch:
		return postOutcome{err: fmt.Errorf("%w: %s is owned by %s", backend.ErrMismatch, resp.ExecutionID, resp.OwnerReport)}
	case resp.PDFURL != "":
		return postOutcome{sub: backend.Submission{Artifact: &progress.Artifact{URL: p.c.resolve(resp.PDFURL), Name: report}}}
	case resp.Stopped:
		return postOutcome{sub: backend.Submission{Stopped: true}}
	case resp.ExecutionID != "":
		return postOutcome{sub: backend.Submission{ExecutionID: resp.ExecutionID}}
	default:
		return postOutcome{err: fmt.Errorf("submit presentation for %s: server returned no execution id", report)}
	}
}

// PollStatus queries one workflow execution.
func (p *PresentationClient) PollStatus(ctx context.Context, report, executionID string) (progress.Snapshot, error) {
	var resp reflyResponse
	q := url.Values{"execution_id": {executionID}}
	code, err := p.c.do(ctx, http.MethodGet, "/api/reports/"+escape(report)+"/refly/status", q, nil, &resp, http.StatusConflict)
	if err != nil {
		return progress.Snapshot{}, err
	}
	if code == http.StatusConflict || resp.Mismatch {
		return progress.Snapshot{}, fmt.Errorf("%w: %s is owned by %s", backend.ErrMismatch, executionID, resp.OwnerReport)
	}
	return p.snapshot(resp)
}

func (p *PresentationClient) snapshot(resp reflyResponse) (progress.Snapshot, error) {
	switch {
	case resp.PDFURL != "":
		return progress.Snapshot{PhaseIndex: -1, TerminalURL: p.c.resolve(resp.PDFURL)}, nil
	case resp.Stopped:
		return progress.Snapshot{PhaseIndex: -1, Stopped: true, Message: resp.Message}, nil
	case resp.ReflyStatus == nil:
		// The job runner timed out; nothing new to report.
		return progress.Snapshot{PhaseIndex: -1, Message: resp.Message}, nil
	}

	rs := resp.ReflyStatus
	status := rs.Payload.Data.Status
	if status == "" {
		status = rs.Status
	}
	nodes := make([]progress.NodeStatus, 0, len(rs.Payload.Data.NodeExecutions))
	for _, n := range rs.Payload.Data.NodeExecutions {
		name := n.Title
		if name == "" {
			name = n.NodeID
		}
		nodes = append(nodes, progress.NodeStatus{
			Name:      name,
			Status:    nodeStatus(n.Status),
			StartedAt: n.StartTime.Time,
			EndedAt:   n.EndTime.Time,
		})
	}

	switch strings.ToLower(status) {
	case workflowFailed:
		msg := "workflow failed"
		for _, n := range nodes {
			if n.Status == progress.PhaseFailed {
				msg = fmt.Sprintf("workflow failed at %q", n.Name)
				break
			}
		}
		return progress.Snapshot{}, &backend.JobError{Message: msg}
	case workflowFinish:
		return progress.Snapshot{PhaseName: "exporting", PhaseIndex: -1, PhaseStatus: progress.PhaseRunning, Message: resp.Message}, nil
	default:
		return progress.Snapshot{
			PhaseName:   "executing",
			PhaseIndex:  -1,
			PhaseStatus: progress.PhaseRunning,
			Message:     resp.Message,
			Nodes:       nodes,
		}, nil
	}
}

func nodeStatus(s string) progress.PhaseStatus {
	switch strings.ToLower(s) {
	case workflowFinish, "finished", "success":
		return progress.PhaseFinished
	case workflowFailed:
		return progress.PhaseFailed
	case workflowExecuting, "running":
		return progress.PhaseRunning
	default:
		return progress.PhasePending
	}
}

// RecoveryStatus reads the presentation record of report.
func (p *PresentationClient) RecoveryStatus(ctx context.Context, report string) (backend.Recovery, error) {
	st, err := p.presentationStatus(ctx, report)
	if err != nil {
		return backend.Recovery{}, err
	}
	switch {
	case st.Processing && st.ExecutionID != "":
		return backend.Recovery{
			Kind:        backend.RecoveryInFlight,
			ExecutionID: st.ExecutionID,
			Snapshot:    progress.Snapshot{PhaseName: "executing", PhaseIndex: -1, PhaseStatus: progress.PhaseRunning},
		}, nil
	case st.PDFURL != "":
		return backend.Recovery{Kind: backend.RecoveryDone, Artifact: &progress.Artifact{URL: p.c.resolve(st.PDFURL), Name: report}}, nil
	case st.PresentationLocalURL != "":
		return backend.Recovery{Kind: backend.RecoveryDone, Artifact: &progress.Artifact{URL: p.c.resolve(st.PresentationLocalURL), Name: report}}, nil
	default:
		return backend.Recovery{Kind: backend.RecoveryIdle}, nil
	}
}

// Abort stops a workflow execution. Delivery is retried on transport errors and
// 5xx answers; ErrAbortUnconfirmed is returned when the server only managed to
// mark the job stopped locally.
func (p *PresentationClient) Abort(ctx context.Context, report, executionID string) error {
	p.cancelPost(report)

	var (
		resp  abortResponse
		final error
	)
	q := url.Values{"execution_id": {executionID}}
	op := func() error {
		_, err := p.c.do(ctx, http.MethodPost, "/api/reports/"+escape(report)+"/presentation/abort", q, nil, &resp)
		var se *StatusError
		if errors.As(err, &se) && !se.Temporary() {
			final = err
			return nil
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(p.abortBackoff(), ctx)); err != nil {
		return fmt.Errorf("abort %s: %w", executionID, err)
	}
	if final != nil {
		return fmt.Errorf("abort %s: %w", executionID, final)
	}
	if resp.Warning != "" {
		return fmt.Errorf("%w: %s", backend.ErrAbortUnconfirmed, resp.Warning)
	}
	return nil
}

func (p *PresentationClient) presentationStatus(ctx context.Context, report string) (presentationStatus, error) {
	var st presentationStatus
	_, err := p.c.do(ctx, http.MethodGet, "/api/reports/"+escape(report)+"/presentation/status", nil, nil, &st)
	return st, err
}

func (p *PresentationClient) cancelPost(report string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cancel, ok := p.posts[report]; ok {
		cancel()
		delete(p.posts, report)
	}
}
