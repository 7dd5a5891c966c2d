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

package ratelimit

import (
	"fmt"
	"math"

	"github.com/jacobsa/timeutil"
	"golang.org/x/time/rate"
)

// RequestLimiter decides whether an incoming request may be served now.
type RequestLimiter interface {
	// Return the maximum number of requests admitted in a single burst.
	Capacity() (c uint64)

	// Take one token from the underlying token bucket. Returns false without
	// waiting if none is available.
	Allow() bool
}

type limiter struct {
	*rate.Limiter
	clock timeutil.Clock
}

// ChooseLimiterCapacity returns the burst size used for a limit of rateHz
// requests per second: one second's worth of requests, and never less than
// one.
func ChooseLimiterCapacity(rateHz float64) (capacity int, err error) {
	if rateHz <= 0 || math.IsInf(rateHz, 0) || math.IsNaN(rateHz) {
		err = fmt.Errorf("Illegal rate: %f", rateHz)
		return
	}

	c := math.Ceil(rateHz)
	if c > math.MaxInt32 {
		err = fmt.Errorf("Can't use a token bucket to limit to %f Hz (result is a capacity of %f)", rateHz, c)
		return
	}

	capacity = max(int(c), 1)
	return
}

// NewRequestLimiter returns a limiter admitting rateHz requests per second on
// average.
func NewRequestLimiter(rateHz float64, clock timeutil.Clock) (RequestLimiter, error) {
	capacity, err := ChooseLimiterCapacity(rateHz)
	if err != nil {
		return nil, err
	}

	l := &limiter{
		Limiter: rate.NewLimiter(rate.Limit(rateHz), capacity),
		clock:   clock,
	}
	return l, nil
}

func (l *limiter) Capacity() (c uint64) {
	return uint64(l.Burst())
}

func (l *limiter) Allow() bool {
	return l.AllowN(l.clock.Now(), 1)
}
