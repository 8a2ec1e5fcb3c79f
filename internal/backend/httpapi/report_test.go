package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dvtrack/internal/backend"
	"dvtrack/internal/progress"
)

// reportServer fakes the generate and status endpoints of one session.
type reportServer struct {
	mu      sync.Mutex
	status  map[string]any
	release chan struct{}
	posts   atomic.Int32
	genCode int
	genBody map[string]any
}

func newReportServer() *reportServer {
	return &reportServer{
		status:  map[string]any{"active": false, "state": "", "progress": nil},
		genCode: http.StatusOK,
		genBody: map[string]any{"success": true, "report_path": "/data/reports/s1-report.md", "report_name": "s1-report.md", "ai_generated": true},
	}
}

func (s *reportServer) setStatus(v map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = v
}

func (s *reportServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/sessions/s1/generate-report":
		s.posts.Add(1)
		if s.release != nil {
			select {
			case <-s.release:
			case <-r.Context().Done():
				return
			}
		}
		writeJSON(w, s.genCode, s.genBody)
	case r.Method == http.MethodGet && r.URL.Path == "/api/status/report-generation/s1":
		s.mu.Lock()
		st := s.status
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, st)
	default:
		http.NotFound(w, r)
	}
}

func newReportClient(t *testing.T, s *reportServer, opts ...ReportOption) *ReportClient {
	t.Helper()
	c, _ := newTestClient(t, s)
	if s.release != nil {
		// Registered after the server's Close so it runs first.
		t.Cleanup(func() {
			select {
			case <-s.release:
			default:
				close(s.release)
			}
		})
	}
	return NewReportClient(c, opts...)
}

func TestReport_SubmitFastCompletion(t *testing.T) {
	s := newReportServer()
	r := newReportClient(t, s)

	sub, err := r.Submit(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, sub.Artifact)
	assert.Equal(t, "s1-report.md", sub.Artifact.Name)
	assert.Contains(t, sub.Artifact.URL, "/api/reports/s1-report.md")
	assert.Empty(t, sub.ExecutionID)
}

func TestReport_SubmitRejected(t *testing.T) {
	s := newReportServer()
	s.genCode = http.StatusNotFound
	s.genBody = map[string]any{"error": "会话不存在"}
	r := newReportClient(t, s)

	_, err := r.Submit(context.Background(), "s1")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "会话不存在", se.Body)
}

func TestReport_SlowGenerationIsPolled(t *testing.T) {
	s := newReportServer()
	s.release = make(chan struct{})
	r := newReportClient(t, s, WithAcceptWindow(20*time.Millisecond))

	sub, err := r.Submit(context.Background(), "s1")
	require.NoError(t, err)
	require.NotEmpty(t, sub.ExecutionID)
	assert.Nil(t, sub.Artifact)

	// Before the server has published a stage the job reads as queued.
	snap, err := r.PollStatus(context.Background(), "s1", sub.ExecutionID)
	require.NoError(t, err)
	assert.True(t, snap.Queued)
	assert.Equal(t, 0, snap.PhaseIndex)

	s.setStatus(map[string]any{
		"active": true, "state": "generating", "stage_index": 2, "total_stages": 6,
		"progress": 65, "message": "AI generating", "updated_at": "2026-03-01T09:30:00Z",
	})
	snap, err = r.PollStatus(context.Background(), "s1", sub.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, "generating", snap.PhaseName)
	assert.Equal(t, 2, snap.PhaseIndex)
	require.NotNil(t, snap.RawProgress)
	assert.Equal(t, 65.0, *snap.RawProgress)
	assert.Equal(t, "AI generating", snap.Message)
	assert.False(t, snap.ServerTime.IsZero())

	// Completed on the status endpoint but the request has not returned yet.
	s.setStatus(map[string]any{"active": false, "state": "completed", "stage_index": 5, "progress": 100})
	snap, err = r.PollStatus(context.Background(), "s1", sub.ExecutionID)
	require.NoError(t, err)
	assert.False(t, snap.Terminal())
	assert.Equal(t, progress.PhaseFinished, snap.PhaseStatus)

	// A second submit joins the pending request.
	again, err := r.Submit(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, sub.ExecutionID, again.ExecutionID)
	assert.EqualValues(t, 1, s.posts.Load())

	close(s.release)
	require.Eventually(t, func() bool {
		snap, err = r.PollStatus(context.Background(), "s1", sub.ExecutionID)
		return err == nil && snap.Terminal()
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, snap.TerminalURL, "/api/reports/s1-report.md")
	assert.Equal(t, "s1-report.md", snap.Message)
}

func TestReport_FailedStage(t *testing.T) {
	s := newReportServer()
	s.release = make(chan struct{})
	r := newReportClient(t, s, WithAcceptWindow(10*time.Millisecond))

	sub, err := r.Submit(context.Background(), "s1")
	require.NoError(t, err)

	s.setStatus(map[string]any{"active": false, "state": "failed", "message": "AI unavailable"})
	_, err = r.PollStatus(context.Background(), "s1", sub.ExecutionID)
	var je *backend.JobError
	require.True(t, errors.As(err, &je))
	assert.Equal(t, "AI unavailable", je.Message)
}

func TestReport_RecoveryStatus(t *testing.T) {
	tests := []struct {
		name   string
		status map[string]any
		want   backend.RecoveryKind
	}{
		{name: "idle", status: map[string]any{"active": false, "state": ""}, want: backend.RecoveryIdle},
		{name: "active", status: map[string]any{"active": true, "state": "saving", "stage_index": 4, "progress": 90}, want: backend.RecoveryInFlight},
		{name: "completed", status: map[string]any{"active": false, "state": "completed", "progress": 100}, want: backend.RecoveryDone},
		{name: "failed", status: map[string]any{"active": false, "state": "failed", "message": "boom"}, want: backend.RecoveryFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newReportServer()
			s.setStatus(tt.status)
			r := newReportClient(t, s)

			rec, err := r.RecoveryStatus(context.Background(), "s1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.Kind)

			again, err := r.RecoveryStatus(context.Background(), "s1")
			require.NoError(t, err)
			assert.Equal(t, rec, again, "recovery is idempotent")

			switch tt.want {
			case backend.RecoveryInFlight:
				assert.NotEmpty(t, rec.ExecutionID)
				assert.Equal(t, "saving", rec.Snapshot.PhaseName)
				assert.Equal(t, 4, rec.Snapshot.PhaseIndex)
			case backend.RecoveryDone:
				require.NotNil(t, rec.Artifact)
				assert.Contains(t, rec.Artifact.URL, "/api/sessions/s1")
			case backend.RecoveryFailed:
				assert.Equal(t, "boom", rec.Message)
			}
		})
	}
}

func TestReport_AbortCancelsPendingRequest(t *testing.T) {
	s := newReportServer()
	s.release = make(chan struct{})
	r := newReportClient(t, s, WithAcceptWindow(10*time.Millisecond))

	sub, err := r.Submit(context.Background(), "s1")
	require.NoError(t, err)

	require.NoError(t, r.Abort(context.Background(), "s1", "other"))
	run, _, _, _ := r.lookup("s1")
	require.NotNil(t, run, "abort for another execution is ignored")

	require.NoError(t, r.Abort(context.Background(), "s1", sub.ExecutionID))
	run, _, _, _ = r.lookup("s1")
	assert.Nil(t, run)

	next, err := r.Submit(context.Background(), "s1")
	require.NoError(t, err)
	assert.NotEqual(t, sub.ExecutionID, next.ExecutionID)
}
