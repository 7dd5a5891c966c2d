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

import "time"

// queuedTask is an accepted task waiting for a worker.
type queuedTask struct {
	task       *instrumentedTask
	enqueuedAt time.Time
	next       *queuedTask
}

// taskQueue is an unbounded FIFO of accepted tasks, implemented as a singly
// linked list. Not safe for concurrent use.
type taskQueue struct {
	head, tail *queuedTask
	size       int
}

func (q *taskQueue) isEmpty() bool {
	return q.size == 0
}

func (q *taskQueue) len() int {
	return q.size
}

// push appends t at the tail.
func (q *taskQueue) push(t *instrumentedTask, enqueuedAt time.Time) {
	n := &queuedTask{task: t, enqueuedAt: enqueuedAt}
	if q.tail == nil {
		q.head = n
	} else {
		q.tail.next = n
	}
	q.tail = n
	q.size++
}

// pop removes and returns the head. It returns nil if the queue is empty.
func (q *taskQueue) pop() *queuedTask {
	n := q.head
	if n == nil {
		return nil
	}
	q.head = n.next
	if q.head == nil {
		q.tail = nil
	}
	n.next = nil
	q.size--
	return n
}

// clear drops every queued task and returns how many there were.
func (q *taskQueue) clear() int {
	dropped := q.size
	q.head, q.tail, q.size = nil, nil, 0
	return dropped
}
