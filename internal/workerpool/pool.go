// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package workerpool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/googlecloudplatform/staticd/internal/locker"
	"github.com/googlecloudplatform/staticd/internal/logger"
	"github.com/googlecloudplatform/staticd/metrics"
	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
)

// Pool runs submitted tasks on a fixed number of long-lived workers. Tasks
// are dequeued in submission order from an unbounded queue.
//
// Shutdown moves the pool to its terminal state in one of two modes fixed at
// construction: graceful shutdown lets the workers drain the queue first,
// immediate shutdown drops whatever is still queued. In both modes a task
// that is already running is allowed to finish.
type Pool struct {
	/////////////////////////
	// Constant data
	/////////////////////////

	workers      int
	graceful     bool
	metricHandle metrics.MetricHandle
	clock        timeutil.Clock

	/////////////////////////
	// Mutable state
	/////////////////////////

	// Guards the queue and the lifecycle flags. Never held while a task runs.
	mu syncutil.InvariantMutex

	// Signalled once per submitted task, broadcast on shutdown. Uses mu.
	cond *sync.Cond

	// GUARDED_BY(mu)
	queue taskQueue

	// GUARDED_BY(mu)
	started bool

	// Set once by Shutdown and never cleared.
	//
	// GUARDED_BY(mu)
	stop bool

	// The number of workers that have left their loop.
	//
	// GUARDED_BY(mu)
	exited int

	// Guards active. Kept apart from mu so that activity bookkeeping never
	// contends with enqueue and dequeue.
	activeMu locker.RWLocker

	// The number of workers currently executing a task.
	//
	// GUARDED_BY(activeMu)
	active int

	wg       sync.WaitGroup
	done     chan struct{}
	doneOnce sync.Once
}

// Option configures optional collaborators of a Pool.
type Option func(*Pool)

// WithMetrics records task counts and latencies on h.
func WithMetrics(h metrics.MetricHandle) Option {
	return func(p *Pool) {
		p.metricHandle = h
	}
}

// WithClock overrides the clock used to time tasks.
func WithClock(c timeutil.Clock) Option {
	return func(p *Pool) {
		p.clock = c
	}
}

// New creates an idle pool of the given size. No goroutine runs before Start.
func New(workers int, graceful bool, opts ...Option) (*Pool, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("workerpool: invalid number of workers: %d", workers)
	}

	p := &Pool{
		workers:      workers,
		graceful:     graceful,
		metricHandle: metrics.NewNoopMetrics(),
		clock:        timeutil.RealClock(),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.mu = syncutil.NewInvariantMutex(p.checkInvariants)
	p.cond = sync.NewCond(&p.mu)
	p.activeMu = locker.NewRW("workerpool.active", p.checkActive)

	return p, nil
}

////////////////////////////////////////////////////////////////////////
// Invariants
////////////////////////////////////////////////////////////////////////

// LOCKS_REQUIRED(p.mu)
func (p *Pool) checkInvariants() {
	// INVARIANT: (queue.head == nil) == (queue.tail == nil) == (queue.size == 0)
	if (p.queue.head == nil) != (p.queue.size == 0) || (p.queue.tail == nil) != (p.queue.size == 0) {
		panic(fmt.Sprintf("Queue ends out of sync with size %d", p.queue.size))
	}

	// INVARIANT: 0 <= exited <= workers
	if p.exited < 0 || p.exited > p.workers {
		panic(fmt.Sprintf("Illegal exited worker count: %d of %d", p.exited, p.workers))
	}

	// INVARIANT: exited > 0 implies started && stop
	if p.exited > 0 && !(p.started && p.stop) {
		panic(fmt.Sprintf("%d workers exited before shutdown", p.exited))
	}

	// INVARIANT: stop && !graceful implies queue is empty
	if p.stop && !p.graceful && !p.queue.isEmpty() {
		panic(fmt.Sprintf("%d tasks queued after immediate shutdown", p.queue.size))
	}
}

// LOCKS_REQUIRED(p.activeMu)
func (p *Pool) checkActive() {
	// INVARIANT: 0 <= active <= workers
	if p.active < 0 || p.active > p.workers {
		panic(fmt.Sprintf("Illegal active worker count: %d of %d", p.active, p.workers))
	}
}

////////////////////////////////////////////////////////////////////////
// Public interface
////////////////////////////////////////////////////////////////////////

// Start spawns the workers. Tasks submitted before Start wait in the queue.
//
// LOCKS_EXCLUDED(p.mu)
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrPoolStarted
	}
	if p.stop {
		return ErrPoolClosed
	}
	p.started = true

	p.wg.Add(p.workers)
	for i := range p.workers {
		go p.worker(i)
	}
	logger.Debugf("workerpool: started %d workers (graceful shutdown: %t)", p.workers, p.graceful)
	return nil
}

// Submit appends task to the queue and wakes one idle worker. It returns
// without waiting for the task to run.
//
// LOCKS_EXCLUDED(p.mu)
func (p *Pool) Submit(task Task) error {
	if task == nil {
		return ErrNilTask
	}
	if f, ok := task.(TaskFunc); ok && f == nil {
		return ErrNilTask
	}

	p.mu.Lock()
	if p.stop {
		p.mu.Unlock()
		p.metricHandle.PoolTaskCount(1, metrics.TaskStatusRejected)
		return ErrPoolClosed
	}
	p.queue.push(&instrumentedTask{pool: p, inner: task}, p.clock.Now())
	p.cond.Signal()
	p.mu.Unlock()

	p.metricHandle.PoolTaskCount(1, metrics.TaskStatusAccepted)
	return nil
}

// Shutdown stops accepting tasks, wakes every worker and blocks until all of
// them have exited. Calling it again is a no-op apart from that wait.
//
// LOCKS_EXCLUDED(p.mu)
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if !p.stop {
		p.stop = true
		if !p.graceful || !p.started {
			if dropped := p.queue.clear(); dropped > 0 {
				logger.Warnf("workerpool: dropped %d queued tasks on shutdown", dropped)
			}
		}
		p.cond.Broadcast()
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.doneOnce.Do(func() {
		close(p.done)
		logger.Debugf("workerpool: all workers exited")
	})
}

// Close shuts the pool down with the mode chosen at construction. It lets
// owners tear the pool down with a deferred call.
func (p *Pool) Close() error {
	p.Shutdown()
	return nil
}

// Done returns a channel that is closed once the pool has reached its
// terminal state.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

// Stopped reports whether shutdown has begun.
//
// LOCKS_EXCLUDED(p.mu)
func (p *Pool) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop
}

// Graceful reports whether queued tasks are drained on shutdown.
func (p *Pool) Graceful() bool {
	return p.graceful
}

// Workers returns the fixed number of workers.
func (p *Pool) Workers() int {
	return p.workers
}

// ActiveWorkers returns the number of workers currently executing a task.
//
// LOCKS_EXCLUDED(p.activeMu)
func (p *Pool) ActiveWorkers() int {
	p.activeMu.RLock()
	defer p.activeMu.RUnlock()
	return p.active
}

// QueueLen returns the number of tasks waiting for a worker.
//
// LOCKS_EXCLUDED(p.mu)
func (p *Pool) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.len()
}

////////////////////////////////////////////////////////////////////////
// Workers
////////////////////////////////////////////////////////////////////////

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		qt := p.next()
		if qt == nil {
			logger.Tracef("workerpool: worker %d exiting", id)
			return
		}
		p.metricHandle.PoolQueueWait(context.Background(), p.clock.Now().Sub(qt.enqueuedAt))
		qt.task.Execute()
	}
}

// next blocks until there is a task to run or the worker has to exit, in
// which case it returns nil.
//
// LOCKS_EXCLUDED(p.mu)
func (p *Pool) next() *queuedTask {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.queue.isEmpty() && !p.stop {
		p.cond.Wait()
	}

	// Under graceful shutdown keep draining until the queue is empty. Under
	// immediate shutdown leave at once.
	if p.stop && (!p.graceful || p.queue.isEmpty()) {
		p.exited++
		return nil
	}
	return p.queue.pop()
}

// LOCKS_EXCLUDED(p.activeMu)
func (p *Pool) markActive() {
	p.activeMu.Lock()
	p.active++
	p.activeMu.Unlock()
}

// LOCKS_EXCLUDED(p.activeMu)
func (p *Pool) markIdle() {
	p.activeMu.Lock()
	p.active--
	p.activeMu.Unlock()
}

// instrumentedTask brackets the caller's task with activity bookkeeping. A
// panic is logged and counted, and the worker carries on with the next task.
type instrumentedTask struct {
	pool  *Pool
	inner Task
}

func (t *instrumentedTask) Execute() {
	p := t.pool
	p.markActive()
	start := p.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("workerpool: task panicked: %v\n%s", r, debug.Stack())
			p.metricHandle.PoolTaskPanicCount(1)
		}
		p.metricHandle.PoolTaskLatency(context.Background(), p.clock.Now().Sub(start))
		p.markIdle()
	}()

	t.inner.Execute()
}
