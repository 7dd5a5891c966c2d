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

import "errors"

var (
	// ErrPoolClosed is returned by Submit once shutdown has begun. The task
	// was not accepted and will never run.
	ErrPoolClosed = errors.New("workerpool: pool is shut down")

	// ErrPoolStarted is returned by a second call to Start.
	ErrPoolStarted = errors.New("workerpool: pool already started")

	// ErrNilTask is returned by Submit when given a nil task.
	ErrNilTask = errors.New("workerpool: nil task")
)

// Task interface defines the contract for a runnable task.
type Task interface {
	Execute()
}

// TaskFunc adapts an ordinary function to the Task interface.
type TaskFunc func()

func (f TaskFunc) Execute() {
	f()
}

type WorkerPool interface {
	// Start spawns the workers. It must be called at most once.
	Start() error

	// Submit queues a task for execution. It never blocks and fails with
	// ErrPoolClosed once Shutdown has been called.
	Submit(task Task) error

	// Shutdown stops the pool and waits for every worker to exit. Whether
	// queued tasks still run depends on the mode chosen at construction.
	Shutdown()
}
