package server

import (
	"context"
	"sync"
	"time"

	"github.com/arturoeanton/wshbox/cache"
	"github.com/arturoeanton/wshbox/engine"
	"github.com/arturoeanton/wshbox/ioc"
	"github.com/arturoeanton/wshbox/report"

	"github.com/google/uuid"
)

// JobState is the lifecycle of a submission.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobDone      JobState = "done"
	JobCancelled JobState = "cancelled"
)

// Job is one submitted sample and, once finished, its result.
type Job struct {
	ID        string
	Sample    string
	Submitted time.Time

	data   []byte
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	state    JobState
	result   *engine.Result
	events   []ioc.Event
	watchers map[chan ioc.Event]struct{}
}

// JobStatus is a consistent copy of a job.
type JobStatus struct {
	ID        string          `json:"id"`
	Sample    string          `json:"sample"`
	State     JobState        `json:"state"`
	Submitted time.Time       `json:"submitted"`
	Events    int             `json:"events"`
	Result    *engine.Result  `json:"-"`
	Summary   *report.Summary `json:"summary,omitempty"`
}

func newJob(name string, data []byte) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	return &Job{
		ID:        uuid.NewString(),
		Sample:    name,
		Submitted: time.Now().UTC(),
		data:      data,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     JobQueued,
		watchers:  make(map[chan ioc.Event]struct{}),
	}
}

// Status returns a snapshot of the job.
func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	st := JobStatus{
		ID:        j.ID,
		Sample:    j.Sample,
		State:     j.state,
		Submitted: j.Submitted,
		Events:    len(j.events),
		Result:    j.result,
	}
	if j.result != nil {
		st.Events = len(j.result.Events)
		summary := report.Summarize(j.result)
		st.Summary = &summary
	}
	return st
}

// Events returns the events recorded so far.
func (j *Job) Events() []ioc.Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.result != nil {
		return j.result.Events
	}
	return append([]ioc.Event(nil), j.events...)
}

// Done is closed when the job finished or was cancelled.
func (j *Job) Done() <-chan struct{} { return j.done }

// start moves a queued job to running. It fails when the job was
// cancelled while waiting.
func (j *Job) start() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != JobQueued {
		return false
	}
	j.state = JobRunning
	return true
}

// observe receives the live events of the run.
func (j *Job) observe(e ioc.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
	for w := range j.watchers {
		select {
		case w <- e:
		default:
			// slow watcher, it catches up from Events
		}
	}
}

// Watch returns the events recorded so far and a channel receiving the
// following ones. The channel is closed when the job ends.
func (j *Job) Watch() ([]ioc.Event, <-chan ioc.Event, func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	ch := make(chan ioc.Event, 256)
	past := append([]ioc.Event(nil), j.events...)
	if j.result != nil {
		past = j.result.Events
	}
	if j.state == JobDone || j.state == JobCancelled {
		close(ch)
		return past, ch, func() {}
	}
	j.watchers[ch] = struct{}{}
	stop := func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		if _, ok := j.watchers[ch]; ok {
			delete(j.watchers, ch)
			close(ch)
		}
	}
	return past, ch, stop
}

func (j *Job) finish(state JobState, res *engine.Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.finishLocked(state, res)
}

func (j *Job) finishLocked(state JobState, res *engine.Result) {
	if j.state == JobDone || j.state == JobCancelled {
		return
	}
	j.state = state
	j.result = res
	j.events = nil
	j.data = nil
	for w := range j.watchers {
		delete(j.watchers, w)
		close(w)
	}
	close(j.done)
}

// Kill cancels the job. A queued job never starts; a running one is
// interrupted and keeps its partial result.
func (j *Job) Kill() {
	j.cancel()
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == JobQueued {
		j.finishLocked(JobCancelled, nil)
	}
}

// Registry tracks active jobs; finished ones stay available in a cache
// for the result TTL.
type Registry struct {
	mu       sync.Mutex
	active   map[string]*Job
	finished *cache.Cache
}

// NewRegistry creates a registry keeping finished jobs for ttl.
func NewRegistry(ttl time.Duration, maxFinished int) *Registry {
	return &Registry{
		active:   make(map[string]*Job),
		finished: cache.NewCache(ttl, maxFinished),
	}
}

func (r *Registry) add(j *Job) {
	r.mu.Lock()
	r.active[j.ID] = j
	r.mu.Unlock()
}

// Get looks a job up among the active and the finished ones.
func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.Lock()
	j, ok := r.active[id]
	r.mu.Unlock()
	if ok {
		return j, true
	}
	v, ok := r.finished.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*Job), true
}

// retire moves a finished job to the result cache, unless it was removed.
func (r *Registry) retire(j *Job) {
	r.mu.Lock()
	_, ok := r.active[j.ID]
	delete(r.active, j.ID)
	r.mu.Unlock()
	if ok {
		r.finished.Set(j.ID, j)
	}
}

// Remove kills id and forgets it.
func (r *Registry) Remove(id string) bool {
	j, ok := r.Get(id)
	if !ok {
		return false
	}
	j.Kill()
	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()
	r.finished.Delete(id)
	return true
}

// Active lists the queued and running jobs.
func (r *Registry) Active() []JobStatus {
	r.mu.Lock()
	jobs := make([]*Job, 0, len(r.active))
	for _, j := range r.active {
		jobs = append(jobs, j)
	}
	r.mu.Unlock()

	out := make([]JobStatus, len(jobs))
	for i, j := range jobs {
		out[i] = j.Status()
	}
	return out
}

// KillAll cancels every active job.
func (r *Registry) KillAll() {
	r.mu.Lock()
	jobs := make([]*Job, 0, len(r.active))
	for _, j := range r.active {
		jobs = append(jobs, j)
	}
	r.mu.Unlock()
	for _, j := range jobs {
		j.Kill()
	}
}

// Close releases the result cache.
func (r *Registry) Close() { r.finished.Close() }
