// Package worker runs processing jobs with per-session fairness and a bounded
// number of concurrent slots.
package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"datamask/internal/logging"
)

var (
	// ErrDispatcherBusy is returned when the pending queue is full.
	ErrDispatcherBusy = errors.New("server is busy, please retry")
	// ErrDispatcherStopped is returned once Stop has been called.
	ErrDispatcherStopped = errors.New("dispatcher stopped")
	// ErrJobCancelled is passed to Abort when a queued job is dropped.
	ErrJobCancelled = errors.New("job cancelled")
)

// Job is one unit of work owned by a browser session. Ctx, when set, is the
// caller's context; a job whose Ctx is already done when its turn comes is dropped.
// Abort, when set, is called instead of Run for a dropped job.
type Job struct {
	SessionID string
	Ctx       context.Context
	Run       func(ctx context.Context)
	Abort     func(err error)
}

func (j Job) abort(err error) {
	if j.Abort != nil {
		j.Abort(err)
	}
}

type sessionQueue struct {
	jobs     []Job
	enqueued bool
}

// Stats is a point-in-time view of the dispatcher.
type Stats struct {
	Pending int
	Running int
}

type Dispatcher struct {
	jobs   chan Job
	slots  *semaphore.Weighted
	limit  int
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	loop   sync.WaitGroup
	active sync.WaitGroup

	mu        sync.Mutex
	pending   int
	running   int
	stopped   bool
	queues    map[string]*sessionQueue // per-session backlog
	ready     *list.List               // sessions with work, least recently served first
	positions map[string]*list.Element
}

// NewDispatcher starts a dispatcher running at most maxWorkers jobs at once and
// holding at most queueSize jobs that have not started yet.
func NewDispatcher(maxWorkers, queueSize int, logger *zap.Logger) *Dispatcher {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		jobs:      make(chan Job, queueSize),
		slots:     semaphore.NewWeighted(int64(maxWorkers)),
		limit:     queueSize,
		logger:    logging.Or(logger),
		ctx:       ctx,
		cancel:    cancel,
		queues:    make(map[string]*sessionQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
	}
	d.loop.Add(1)
	go d.run()
	return d
}

// Submit queues the job without waiting for it to run.
func (d *Dispatcher) Submit(job Job) error {
	if job.Run == nil {
		return errors.New("job has no run function")
	}
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return ErrDispatcherStopped
	}
	if d.pending >= d.limit {
		d.mu.Unlock()
		return ErrDispatcherBusy
	}
	d.pending++
	d.mu.Unlock()

	// pending never exceeds the channel capacity, so this send does not block
	d.jobs <- job
	return nil
}

// Do runs fn on the dispatcher and waits for its result.
func (d *Dispatcher) Do(ctx context.Context, sessionID string, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	err := d.Submit(Job{
		SessionID: sessionID,
		Ctx:       ctx,
		Run:       func(ctx context.Context) { done <- fn(ctx) },
		Abort:     func(err error) { done <- err },
	})
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-d.ctx.Done():
		return ErrDispatcherStopped
	}
}

// CancelSession drops every job of the session that has not started yet. Their
// waiters in Do get ErrJobCancelled.
func (d *Dispatcher) CancelSession(sessionID string) {
	d.drain()
	d.mu.Lock()
	var dropped []Job
	if q, ok := d.queues[sessionID]; ok {
		dropped = q.jobs
		d.pending -= len(q.jobs)
		delete(d.queues, sessionID)
	}
	if elem, ok := d.positions[sessionID]; ok {
		d.ready.Remove(elem)
		delete(d.positions, sessionID)
	}
	d.mu.Unlock()

	if len(dropped) > 0 {
		d.logger.Debug("cancelled queued jobs", zap.String("session", sessionID), zap.Int("count", len(dropped)))
	}
	for _, job := range dropped {
		job.abort(ErrJobCancelled)
	}
}

// Stats reports queued and running job counts.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{Pending: d.pending, Running: d.running}
}

// Stop rejects new jobs, cancels running ones and waits for every goroutine to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	d.cancel()
	d.loop.Wait()
	d.active.Wait()
}

func (d *Dispatcher) run() {
	defer d.loop.Done()
	for {
		d.drain()
		if !d.hasReady() {
			select {
			case job := <-d.jobs:
				d.enqueueJob(job)
			case <-d.ctx.Done():
				return
			}
			continue
		}
		if err := d.slots.Acquire(d.ctx, 1); err != nil {
			return
		}
		// jobs that arrived while waiting for the slot compete fairly
		d.drain()
		job, ok := d.pop()
		if !ok {
			d.slots.Release(1)
			continue
		}
		d.start(job)
	}
}

// drain moves every job waiting in the channel into its session queue.
func (d *Dispatcher) drain() {
	for {
		select {
		case job := <-d.jobs:
			d.enqueueJob(job)
		default:
			return
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.SessionID]
	if q == nil {
		q = &sessionQueue{}
		d.queues[job.SessionID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.SessionID] = d.ready.PushBack(job.SessionID)
}

func (d *Dispatcher) hasReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready.Len() > 0
}

// pop takes one job from the least recently served session and moves that
// session to the back of the line.
func (d *Dispatcher) pop() (Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	elem := d.ready.Front()
	if elem == nil {
		return Job{}, false
	}
	sessionID := elem.Value.(string)
	q := d.queues[sessionID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		d.ready.Remove(elem)
		delete(d.positions, sessionID)
		delete(d.queues, sessionID)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.pending--
	return job, true
}

// start runs job on the slot already acquired by the caller.
func (d *Dispatcher) start(job Job) {
	if job.Ctx != nil && job.Ctx.Err() != nil {
		d.logger.Debug("dropping cancelled job", zap.String("session", job.SessionID))
		d.slots.Release(1)
		job.abort(job.Ctx.Err())
		return
	}

	d.mu.Lock()
	d.running++
	d.mu.Unlock()
	d.active.Add(1)

	runCtx, runCancel := d.ctx, context.CancelFunc(func() {})
	if job.Ctx != nil {
		runCtx, runCancel = mergeContexts(d.ctx, job.Ctx)
	}
	go func() {
		defer d.active.Done()
		defer d.slots.Release(1)
		defer func() {
			d.mu.Lock()
			d.running--
			d.mu.Unlock()
		}()
		defer runCancel()
		d.logger.Debug("running job", zap.String("session", job.SessionID))
		job.Run(runCtx)
	}()
}

// mergeContexts returns a context cancelled when either parent is; values come from b.
func mergeContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(b)
	stop := context.AfterFunc(a, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
