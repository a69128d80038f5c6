package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/herdctl/herdctl/internal/domain"
	"github.com/herdctl/herdctl/internal/events"
	"github.com/herdctl/herdctl/internal/runtime"
)

type memStore struct {
	mu      sync.Mutex
	records map[string][]domain.OutputRecord
	jobs    map[string]domain.Job
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string][]domain.OutputRecord), jobs: make(map[string]domain.Job)}
}

func (m *memStore) AppendOutputRecord(jobID string, rec domain.OutputRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[jobID] = append(m.records[jobID], rec)
	return nil
}

func (m *memStore) WriteJobMetadata(job domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

func (m *memStore) get(jobID string) domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[jobID]
}

func (m *memStore) recordCount(jobID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records[jobID])
}

// scriptedRuntime is a test double for runtime.Runtime: send populates the
// message channel however the test script wants, honoring (or, for S4,
// deliberately ignoring) ctx cancellation.
type scriptedRuntime struct {
	send func(ctx context.Context, out chan<- runtime.Message)
}

func (s *scriptedRuntime) Execute(ctx context.Context, req runtime.ExecuteRequest) (<-chan runtime.Message, error) {
	out := make(chan runtime.Message, 8)
	go func() {
		defer close(out)
		s.send(ctx, out)
	}()
	return out, nil
}

func TestRunRecordsOutputAndCompletesSuccessfully(t *testing.T) {
	store := newMemStore()
	bus := events.New()
	rt := &scriptedRuntime{
		send: func(ctx context.Context, out chan<- runtime.Message) {
			out <- runtime.Message{Type: runtime.MessageAssistant, Content: "hello"}
			out <- runtime.Message{Type: runtime.MessageDone}
		},
	}
	e := New(store, bus, rt, nil)

	job := domain.Job{ID: "job-2026-07-30-aaaaaaaa", Agent: "scout"}
	final := e.Run(context.Background(), job, domain.Agent{Name: "scout"}, "do thing", "")

	require.Equal(t, domain.JobCompleted, final.Status)
	require.Equal(t, domain.ExitSuccess, final.ExitReason)
	require.Equal(t, 1, store.recordCount(job.ID))
	require.Equal(t, domain.JobCompleted, store.get(job.ID).Status)
}

func TestRunTranslatesRuntimeErrorToFailed(t *testing.T) {
	store := newMemStore()
	bus := events.New()
	rt := &scriptedRuntime{
		send: func(ctx context.Context, out chan<- runtime.Message) {
			out <- runtime.Message{Type: runtime.MessageError, Content: "boom"}
		},
	}
	e := New(store, bus, rt, nil)

	job := domain.Job{ID: "job-2026-07-30-bbbbbbbb", Agent: "scout"}
	final := e.Run(context.Background(), job, domain.Agent{Name: "scout"}, "x", "")

	require.Equal(t, domain.JobFailed, final.Status)
	require.Equal(t, domain.ExitError, final.ExitReason)
	require.Equal(t, "boom", final.ErrorMessage)
}

func TestCancelJobGracefulStop(t *testing.T) {
	store := newMemStore()
	bus := events.New()
	rt := &scriptedRuntime{
		send: func(ctx context.Context, out chan<- runtime.Message) {
			<-ctx.Done()
		},
	}
	e := New(store, bus, rt, nil)

	job := domain.Job{ID: "job-2026-07-30-cccccccc", Agent: "scout"}
	runDone := make(chan domain.Job, 1)
	go func() {
		runDone <- e.Run(context.Background(), job, domain.Agent{Name: "scout"}, "x", "")
	}()

	time.Sleep(20 * time.Millisecond) // let Run register the job as in-flight
	require.True(t, e.IsRunning(job.ID))

	result, err := e.CancelJob(job.ID, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, "graceful", result.TerminationType)

	final := <-runDone
	require.Equal(t, domain.JobCancelled, final.Status)
}

func TestCancelJobEscalatesToForcedOnTimeout(t *testing.T) {
	store := newMemStore()
	bus := events.New()
	rt := &scriptedRuntime{
		send: func(ctx context.Context, out chan<- runtime.Message) {
			// Ignores ctx cancellation entirely, simulating a misbehaving
			// runtime (spec §8 S4).
			time.Sleep(2 * time.Second)
		},
	}
	e := New(store, bus, rt, nil)

	job := domain.Job{ID: "job-2026-07-30-dddddddd", Agent: "scout"}
	go e.Run(context.Background(), job, domain.Agent{Name: "scout"}, "x", "")

	time.Sleep(20 * time.Millisecond)
	result, err := e.CancelJob(job.ID, 100*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "forced", result.TerminationType)
}

func TestCancelJobUnknownJobReturnsNotFound(t *testing.T) {
	store := newMemStore()
	e := New(store, events.New(), &scriptedRuntime{}, nil)
	_, err := e.CancelJob("job-2026-07-30-eeeeeeee", 0)
	require.Error(t, err)
}
