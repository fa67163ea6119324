package datatable

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"backoffice/internal/actor"
	"backoffice/internal/audit"
	dErrors "backoffice/pkg/domain-errors"
	"backoffice/pkg/platform/sentinel"
)

type jobMap struct {
	mu   sync.Mutex
	jobs map[string]Job
	// honorCancel makes Update fail on a done context, as network-backed stores do.
	honorCancel bool
}

func newJobMap() *jobMap { return &jobMap{jobs: map[string]Job{}} }

func (m *jobMap) Create(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	return nil
}

func (m *jobMap) Get(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &j, nil
}

func (m *jobMap) Update(ctx context.Context, id string, mutate func(*Job) error) (*Job, error) {
	if m.honorCancel && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := mutate(&j); err != nil {
		return nil, err
	}
	m.jobs[id] = j
	return &j, nil
}

type blobMap struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	putErr  error
	lastTTL time.Duration
	// stall, when set, is signalled by Put, which then waits for ctx to end.
	stall chan struct{}
}

func newBlobMap() *blobMap { return &blobMap{blobs: map[string][]byte{}} }

func (b *blobMap) Put(ctx context.Context, key string, r io.Reader, ttl time.Duration) (string, error) {
	if b.stall != nil {
		b.stall <- struct{}{}
		<-ctx.Done()
		return "", ctx.Err()
	}
	if b.putErr != nil {
		return "", b.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[key] = data
	b.lastTTL = ttl
	return "mem://" + key, nil
}

func (b *blobMap) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key, ok := strings.CutPrefix(ref, "mem://")
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	data, found := b.blobs[key]
	if !found {
		return nil, sentinel.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAuditor) Emit(_ context.Context, e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingAuditor) actions() []audit.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.Action, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

type AsyncExporterSuite struct {
	suite.Suite
	ctx      context.Context
	table    *peopleTable
	jobs     *jobMap
	blobs    *blobMap
	auditor  *recordingAuditor
	exporter *AsyncExporter
	now      time.Time
}

func TestAsyncExporterSuite(t *testing.T) {
	suite.Run(t, new(AsyncExporterSuite))
}

func (s *AsyncExporterSuite) SetupTest() {
	s.ctx = context.Background()
	s.table = newPeopleTable(samplePeople()...)
	b := NewBuilder(NewEngine())
	Register[person](b, s.table)
	reg, err := b.Build()
	s.Require().NoError(err)

	s.jobs = newJobMap()
	s.blobs = newBlobMap()
	s.auditor = &recordingAuditor{}
	s.now = time.Now()
	s.exporter = NewAsyncExporter(reg, s.jobs, s.blobs,
		WithQueueSize(2),
		WithLinkTTL(time.Hour),
		WithAuditor(s.auditor),
		WithClock(func() time.Time { return s.now }),
	)
}

func (s *AsyncExporterSuite) runWorkers() (stop func()) {
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.exporter.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func (s *AsyncExporterSuite) waitTerminal(id string) *Job {
	var job *Job
	s.Require().Eventually(func() bool {
		j, err := s.exporter.Poll(s.ctx, id, "actor-1")
		if err != nil {
			return false
		}
		job = j
		return j.Status.Terminal()
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func (s *AsyncExporterSuite) TestSubmitAndDownload() {
	dctx := readerContext()
	dctx.Actor = reader(nil)
	in := Input{Params: Params{"f-like-email": "example"}, ExportFileName: "people list"}

	job, err := s.exporter.Submit(s.ctx, "test.people", in, dctx)
	s.Require().NoError(err)
	s.Equal(JobQueued, job.Status)
	s.Equal("people_list.csv", job.FileName)
	s.Equal(s.now.Add(time.Hour), job.ExpiresAt)

	stop := s.runWorkers()
	defer stop()

	done := s.waitTerminal(job.ID)
	s.Require().Equal(JobSucceeded, done.Status, done.Error)
	s.Equal(2, done.RowCount)

	rc, _, err := s.exporter.Open(s.ctx, job.ID, "actor-1")
	s.Require().NoError(err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	s.Require().NoError(err)
	s.Equal("id,name,email\n1,Alice,alice@example.com\n4,Dave,dave@example.com\n", string(body))
	s.Equal(time.Hour, s.blobs.lastTTL)

	s.Equal([]audit.Action{audit.ActionExportSubmitted, audit.ActionExportCompleted}, s.auditor.actions())
}

func (s *AsyncExporterSuite) TestSubmitChecksSynchronously() {
	s.Run("forbidden", func() {
		dctx := readerContext()
		dctx.Actor = actor.New("x", "admin", nil, nil)
		_, err := s.exporter.Submit(s.ctx, "test.people", Input{Params: Params{}}, dctx)
		s.ErrorIs(err, ErrForbidden)
	})

	s.Run("bad filter", func() {
		_, err := s.exporter.Submit(s.ctx, "test.people", Input{Params: Params{"f-kind": "robot"}}, readerContext())
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("unknown table", func() {
		_, err := s.exporter.Submit(s.ctx, "test.nope", Input{}, readerContext())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Empty(s.jobs.jobs, "nothing recorded for rejected submissions")
}

func (s *AsyncExporterSuite) TestFullQueueFailsJob() {
	for range 2 {
		_, err := s.exporter.Submit(s.ctx, "test.people", Input{Params: Params{}}, readerContext())
		s.Require().NoError(err)
	}

	_, err := s.exporter.Submit(s.ctx, "test.people", Input{Params: Params{}}, readerContext())
	s.Require().Error(err)
	s.True(dErrors.IsRetryable(err))

	failed := 0
	for _, j := range s.jobs.jobs {
		if j.Status == JobFailed {
			failed++
			s.Equal("export queue is full", j.Error)
		}
	}
	s.Equal(1, failed)
}

func (s *AsyncExporterSuite) TestStorageFailureRecordedOnJob() {
	s.blobs.putErr = errors.New("disk full")

	job, err := s.exporter.Submit(s.ctx, "test.people", Input{Params: Params{}}, readerContext())
	s.Require().NoError(err)

	stop := s.runWorkers()
	defer stop()

	done := s.waitTerminal(job.ID)
	s.Equal(JobFailed, done.Status)
	s.Equal("failed to store export", done.Error)
	s.Empty(done.ResultRef)

	_, _, err = s.exporter.Open(s.ctx, job.ID, "actor-1")
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *AsyncExporterSuite) TestShutdownFailsQueuedJobs() {
	s.jobs.honorCancel = true
	var ids []string
	for range 2 {
		job, err := s.exporter.Submit(s.ctx, "test.people", Input{Params: Params{}}, readerContext())
		s.Require().NoError(err)
		ids = append(ids, job.ID)
	}

	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	s.Require().NoError(s.exporter.Run(ctx))

	for _, id := range ids {
		job, err := s.exporter.Poll(s.ctx, id, "actor-1")
		s.Require().NoError(err)
		s.Equal(JobFailed, job.Status)
		s.Equal("export cancelled by shutdown", job.Error)
	}
}

func (s *AsyncExporterSuite) TestShutdownFailsRunningJob() {
	s.jobs.honorCancel = true
	s.blobs.stall = make(chan struct{})

	job, err := s.exporter.Submit(s.ctx, "test.people", Input{Params: Params{}}, readerContext())
	s.Require().NoError(err)

	stop := s.runWorkers()
	select {
	case <-s.blobs.stall:
	case <-time.After(2 * time.Second):
		s.FailNow("export never reached storage")
	}
	stop()

	done, err := s.exporter.Poll(s.ctx, job.ID, "actor-1")
	s.Require().NoError(err)
	s.Equal(JobFailed, done.Status)
	s.Equal("failed to store export", done.Error)
}

func (s *AsyncExporterSuite) TestPoll() {
	job, err := s.exporter.Submit(s.ctx, "test.people", Input{Params: Params{}}, readerContext())
	s.Require().NoError(err)

	s.Run("repeated polls return the same job", func() {
		a, err := s.exporter.Poll(s.ctx, job.ID, "actor-1")
		s.Require().NoError(err)
		b, err := s.exporter.Poll(s.ctx, job.ID, "actor-1")
		s.Require().NoError(err)
		s.Equal(a, b)
	})

	s.Run("download before completion conflicts", func() {
		_, _, err := s.exporter.Open(s.ctx, job.ID, "actor-1")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("other actors cannot see the job", func() {
		_, err := s.exporter.Poll(s.ctx, job.ID, "someone-else")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("missing job", func() {
		_, err := s.exporter.Poll(s.ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ", "actor-1")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("expired job", func() {
		s.now = s.now.Add(2 * time.Hour)
		_, err := s.exporter.Poll(s.ctx, job.ID, "actor-1")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func TestJobStatus_CanTransition(t *testing.T) {
	assert.True(t, JobQueued.CanTransition(JobRunning))
	assert.True(t, JobQueued.CanTransition(JobFailed))
	assert.False(t, JobQueued.CanTransition(JobSucceeded))
	assert.True(t, JobRunning.CanTransition(JobSucceeded))
	assert.True(t, JobRunning.CanTransition(JobFailed))
	assert.False(t, JobRunning.CanTransition(JobQueued))
	for _, terminal := range []JobStatus{JobSucceeded, JobFailed} {
		for _, to := range []JobStatus{JobQueued, JobRunning, JobSucceeded, JobFailed} {
			assert.False(t, terminal.CanTransition(to))
		}
	}
}

func TestAsyncExporter_WorkerRebuildsContext(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	x := &AsyncExporter{settings: Settings{DefaultPerPage: 10, MaxPerPage: 50, AppTimezone: time.UTC}}

	a := reader(map[string]any{"sees_guests": "true"})
	a.SessionID = "sess-1"
	req := snapshot(Input{}, Context{Actor: a, UserTimezone: berlin, UnknownFilterMode: UnknownFilterError})
	dctx := x.contextFor(req)

	require.NotNil(t, dctx.Actor)
	assert.Equal(t, "actor-1", dctx.Actor.ID)
	assert.Equal(t, "sess-1", dctx.Actor.SessionID)
	assert.True(t, dctx.Actor.HasPermission("people.read"))
	assert.Equal(t, berlin.String(), dctx.Location().String())
	assert.Equal(t, UnknownFilterError, dctx.UnknownFilterMode)
	assert.Equal(t, 50, dctx.MaxPerPage)
}
