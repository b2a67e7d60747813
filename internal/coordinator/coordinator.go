// Package coordinator implements the single build-wide actor from spec
// §4.6: it serializes every mutation of the in-flight job set, the
// pending-job queue, the loaded-library set, and the timing session
// behind one request-handling goroutine, the way the teacher's
// core/scheduler.go serializes task-graph state behind its own execution
// loop. Callers talk to it only through the exported methods below; each
// one except Subscribe sends a request down an internal channel and blocks
// for the synchronous reply, exactly mirroring the request/reply message
// shapes spec §4.6 names.
package coordinator

import (
	"github.com/exmake/exmake/internal/config"
	"github.com/exmake/exmake/internal/graph"
	"github.com/exmake/exmake/internal/runner"
	"github.com/exmake/exmake/internal/util"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Job is one in-flight or queued unit of work.
type Job struct {
	Vertex *graph.Vertex
	Data   string
	Owner  string
	ID     string
}

// Done is what the Coordinator forwards to a job's owner once its Runner
// reports in.
type Done struct {
	Rule   string
	Data   string
	Result runner.Result
}

// TimingSession accumulates whatever timing hooks the Worker driver installs;
// kept opaque here since only the driver interprets it.
type TimingSession struct {
	Entries []string
}

type request struct {
	kind  string
	cfg   config.Configuration
	job   Job
	libID string
	fn    func(*TimingSession) *TimingSession
	reply chan response
}

type response struct {
	cfg  config.Configuration
	libs []string
	job  Job
}

// Coordinator is the singleton build actor. Exactly one exists per
// process (see spec §5's "shared resources"). Subscribe must be called for
// every owner before Start, since owners is only read/written from the
// single serializing goroutine once Start runs.
type Coordinator struct {
	requests chan request
	owners   map[string]chan Done

	config    config.Configuration
	sem       *semaphore.Weighted
	jobs      map[string]Job
	queue     []Job
	libraries util.StringSet
	timing    *TimingSession

	launch func(job Job)
}

// Result is the internal channel payload a launched Runner reports
// through; it is the same shape runner.Result already returns.
type Result = runner.Result

// New returns a Coordinator whose background goroutine is not yet started;
// call Start to begin serving requests.
func New() *Coordinator {
	c := &Coordinator{
		requests:  make(chan request),
		owners:    make(map[string]chan Done),
		jobs:      make(map[string]Job),
		libraries: util.NewStringSet(),
		sem:       semaphore.NewWeighted(1),
	}
	return c
}

// Start launches the Coordinator's single serializing goroutine. run is
// invoked once per enqueued job, in its own goroutine; the Result it returns
// is forwarded to the job's owner as a Done message.
func (c *Coordinator) Start(run func(job Job) runner.Result) {
	completions := make(chan struct {
		job    Job
		result runner.Result
	})

	go func() {
		for {
			select {
			case req := <-c.requests:
				c.handle(req, completions)
			case fin := <-completions:
				c.finish(fin.job, fin.result)
			}
		}
	}()

	c.launch = func(job Job) {
		go func() {
			result := run(job)
			completions <- struct {
				job    Job
				result runner.Result
			}{job, result}
		}()
	}
}

func (c *Coordinator) handle(req request, completions chan struct {
	job    Job
	result runner.Result
}) {
	switch req.kind {
	case "set_cfg":
		c.config = req.cfg
		c.sem = semaphore.NewWeighted(int64(req.cfg.Jobs()))
		req.reply <- response{}
	case "get_cfg":
		req.reply <- response{cfg: c.config}
	case "enqueue":
		job := req.job
		if job.ID == "" {
			job.ID = uuid.NewString()
		}
		if c.sem.TryAcquire(1) {
			c.jobs[job.ID] = job
			c.launch(job)
		} else {
			c.queue = append(c.queue, job)
		}
		req.reply <- response{job: job}
	case "apply_timer":
		c.timing = req.fn(c.timing)
		req.reply <- response{}
	case "get_libs":
		req.reply <- response{libs: c.libraries.List()}
	case "add_lib":
		c.libraries.Add(req.libID)
		req.reply <- response{}
	case "del_lib":
		c.libraries.Delete(req.libID)
		req.reply <- response{}
	case "clear_libs":
		c.libraries = util.NewStringSet()
		req.reply <- response{}
	default:
		req.reply <- response{}
	}
}

// finish removes a completed job from the in-flight set, forwards its
// result to the owner's channel, and dequeues the next waiting job if the
// queue is non-empty.
func (c *Coordinator) finish(job Job, result runner.Result) {
	delete(c.jobs, job.ID)
	c.sem.Release(1)
	if ch, ok := c.owners[job.Owner]; ok {
		ch <- Done{Rule: job.Vertex.ID, Data: job.Data, Result: result}
	}
	if len(c.queue) > 0 && c.sem.TryAcquire(1) {
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.jobs[next.ID] = next
		c.launch(next)
	}
}

func (c *Coordinator) call(req request) response {
	req.reply = make(chan response, 1)
	c.requests <- req
	return <-req.reply
}

// SetConfig installs cfg and derives the worker-pool bound from it.
func (c *Coordinator) SetConfig(cfg config.Configuration) {
	c.call(request{kind: "set_cfg", cfg: cfg})
}

// GetConfig returns the currently installed Configuration.
func (c *Coordinator) GetConfig() config.Configuration {
	return c.call(request{kind: "get_cfg"}).cfg
}

// Subscribe registers owner as a recipient of Done messages and returns the
// channel it will receive them on. Must be called before the first Enqueue
// naming that owner.
func (c *Coordinator) Subscribe(owner string) <-chan Done {
	ch := make(chan Done, 64)
	c.owners[owner] = ch
	return ch
}

// Enqueue launches vertex's recipe if a worker slot is free, otherwise
// queues it; it always returns immediately.
func (c *Coordinator) Enqueue(vertex *graph.Vertex, data, owner string) {
	c.call(request{kind: "enqueue", job: Job{Vertex: vertex, Data: data, Owner: owner}})
}

// ApplyTimer replaces the timing session with fn's result, the same
// single-mutator shape as every other Coordinator state change.
func (c *Coordinator) ApplyTimer(fn func(*TimingSession) *TimingSession) {
	c.call(request{kind: "apply_timer", fn: fn})
}

// Libraries returns the set of library identifiers already loaded this
// build, used by the loader façade to deduplicate on_load invocations.
func (c *Coordinator) Libraries() []string {
	return c.call(request{kind: "get_libs"}).libs
}

// AddLibrary records libID as loaded this build.
func (c *Coordinator) AddLibrary(libID string) {
	c.call(request{kind: "add_lib", libID: libID})
}

// DeleteLibrary removes libID from the loaded set.
func (c *Coordinator) DeleteLibrary(libID string) {
	c.call(request{kind: "del_lib", libID: libID})
}

// ClearLibraries empties the loaded-library set; called at the start of
// every build (spec §4.7 step 1).
func (c *Coordinator) ClearLibraries() {
	c.call(request{kind: "clear_libs"})
}
