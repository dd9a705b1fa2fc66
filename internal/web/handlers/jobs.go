package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/kozaktomas/facegate/internal/constants"
	"github.com/kozaktomas/facegate/internal/enrollment"
)

// JobStatus represents the status of an async job.
type JobStatus string

// JobStatus constants define the lifecycle states of an async job.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// TrainJob represents an async enrollment of one person's pending photos.
type TrainJob struct {
	EventBroadcaster

	ID              string
	Label           int
	Status          JobStatus
	Total           int
	Processed       int
	Error           string
	CancelRequested bool
	StartedAt       time.Time
	CompletedAt     *time.Time
	Result          *enrollment.Result

	stateMu sync.RWMutex
	done    chan struct{} // closed when the job's goroutine has returned
}

func newTrainJob(id string, label int) *TrainJob {
	return &TrainJob{
		ID:        id,
		Label:     label,
		Status:    JobStatusPending,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// Done is closed once the job's work, including any writes it commits, has finished.
func (j *TrainJob) Done() <-chan struct{} {
	return j.done
}

// release marks the job's goroutine as returned.
func (j *TrainJob) release() {
	close(j.done)
}

// active reports whether the job may still change the store.
func (j *TrainJob) active() bool {
	select {
	case <-j.done:
		return false
	default:
		return true
	}
}

// GetStatus returns the current job status (implements SSEJob).
func (j *TrainJob) GetStatus() JobStatus {
	j.stateMu.RLock()
	defer j.stateMu.RUnlock()
	return j.Status
}

// View returns a copy of the job state that is safe to encode.
func (j *TrainJob) View() TrainJobView {
	j.stateMu.RLock()
	defer j.stateMu.RUnlock()
	return TrainJobView{
		ID:              j.ID,
		Label:           j.Label,
		Status:          j.Status,
		Total:           j.Total,
		Processed:       j.Processed,
		Error:           j.Error,
		CancelRequested: j.CancelRequested,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
		Result:          j.Result,
	}
}

// Cancel asks the job to stop. The status changes only when the job returns: a job that
// already committed its enrollment still ends as completed.
func (j *TrainJob) Cancel() {
	j.stateMu.Lock()
	if isJobTerminal(j.Status) {
		j.stateMu.Unlock()
		return
	}
	j.CancelRequested = true
	j.stateMu.Unlock()
	j.EventBroadcaster.Cancel()
}

func (j *TrainJob) setRunning() {
	j.stateMu.Lock()
	if j.Status == JobStatusPending {
		j.Status = JobStatusRunning
	}
	j.stateMu.Unlock()
}

func (j *TrainJob) setProgress(done, total int) {
	j.stateMu.Lock()
	j.Processed = done
	j.Total = total
	j.stateMu.Unlock()
}

// finish moves the job to a terminal state.
func (j *TrainJob) finish(status JobStatus, res *enrollment.Result, errMsg string) {
	now := time.Now()
	j.stateMu.Lock()
	defer j.stateMu.Unlock()
	j.Status = status
	j.Result = res
	j.Error = errMsg
	j.CompletedAt = &now
}

// TrainJobView is the JSON form of a TrainJob.
type TrainJobView struct {
	ID              string             `json:"id"`
	Label           int                `json:"person_id"`
	Status          JobStatus          `json:"status"`
	Total           int                `json:"total_images"`
	Processed       int                `json:"processed_images"`
	Error           string             `json:"error,omitempty"`
	CancelRequested bool               `json:"cancel_requested,omitempty"` // set even when the job completed anyway
	StartedAt       time.Time          `json:"started_at"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
	Result          *enrollment.Result `json:"result,omitempty"`
}

// JobEvent represents an event from a job.
type JobEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// EventBroadcaster provides listener management and event broadcasting for async jobs.
// Embed this in job structs to get AddListener, RemoveListener, and SendEvent methods.
type EventBroadcaster struct {
	cancel    context.CancelFunc
	listeners []chan JobEvent
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan JobEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan JobEvent, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener.
func (b *EventBroadcaster) RemoveListener(ch chan JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners.
func (b *EventBroadcaster) SendEvent(event JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

func (b *EventBroadcaster) setCancel(cancel context.CancelFunc) {
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()
}

// Cancel cancels the job via context and sends a cancel_requested event.
func (b *EventBroadcaster) Cancel() {
	b.mu.RLock()
	cancel := b.cancel
	b.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	b.SendEvent(JobEvent{Type: "cancel_requested", Message: "Cancellation requested by user"})
}

// SSEJob is the interface required by streamSSEEvents to stream job events via SSE.
type SSEJob interface {
	AddListener() chan JobEvent
	RemoveListener(ch chan JobEvent)
	GetStatus() JobStatus
}

// JobManager manages async jobs. Finished jobs are kept for ttl so clients can read the
// outcome, then dropped when the next job is created.
type JobManager struct {
	jobs map[string]*TrainJob
	ttl  time.Duration
	mu   sync.RWMutex
}

// NewJobManager creates a new job manager.
func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*TrainJob),
		ttl:  constants.FinishedJobTTL,
	}
}

// CreateIfIdle creates a train job for label unless one is still active. The check and the
// insert happen under one lock, so at most one job per person runs at a time. When a job is
// active it is returned as active and no job is created.
func (m *JobManager) CreateIfIdle(id string, label int) (job, active *TrainJob) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, j := range m.jobs {
		if j.Label == label && j.active() {
			return nil, j
		}
	}
	m.pruneLocked(time.Now())

	job = newTrainJob(id, label)
	m.jobs[id] = job
	return job, nil
}

// pruneLocked drops jobs that finished more than ttl ago. Must be called with m.mu held.
func (m *JobManager) pruneLocked(now time.Time) {
	for id, j := range m.jobs {
		if j.active() {
			continue
		}
		j.stateMu.RLock()
		completed := j.CompletedAt
		j.stateMu.RUnlock()
		if completed != nil && now.Sub(*completed) > m.ttl {
			delete(m.jobs, id)
		}
	}
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *TrainJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// ActiveJob returns the job of a person whose goroutine has not returned yet, if any.
func (m *JobManager) ActiveJob(label int) *TrainJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, job := range m.jobs {
		if job.Label == label && job.active() {
			return job
		}
	}
	return nil
}

// DeleteJob removes a job. Start uses it to drop a job that was never launched.
func (m *JobManager) DeleteJob(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
}

// CancelAll cancels every unfinished job.
func (m *JobManager) CancelAll() {
	for _, job := range m.ListJobs() {
		if job.active() {
			job.Cancel()
		}
	}
}

// Wait blocks until every active job has returned or ctx is done.
func (m *JobManager) Wait(ctx context.Context) error {
	for _, job := range m.ListJobs() {
		select {
		case <-job.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// ListJobs returns all jobs.
func (m *JobManager) ListJobs() []*TrainJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]*TrainJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}
