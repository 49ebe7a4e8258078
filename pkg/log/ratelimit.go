// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
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

package log

import (
	"fmt"
	"sync"
	"time"

	goxrate "golang.org/x/time/rate"
)

// Rate specifies maximum per-message logging rate.
type Rate struct {
	// rate limit
	Limit goxrate.Limit
	// allowed bursts
	Burst int
	// optional message window size
	Window int
}

// ratelimited implements rate-limited logging.
type ratelimited struct {
	Logger
	sync.Mutex
	rate   Rate
	window []string
	limits map[string]*limit
	now    func() time.Time
}

// limit is the limiter of a single message.
type limit struct {
	*goxrate.Limiter
	suppressed int
}

const (
	// DefaultWindow is the default message window size for rate limiting.
	DefaultWindow = 256
	// MinimumWindow is the smalled message window size for rate limiting.
	MinimumWindow = 32
)

// Every defines a rate limit for the given interval.
func Every(interval time.Duration) goxrate.Limit {
	return goxrate.Every(interval)
}

// Interval returns a Rate for the given interval.
func Interval(interval time.Duration) Rate {
	return Rate{Limit: Every(interval), Burst: 1}
}

// RateLimit returns a ratelimited version of the given logger.
func RateLimit(log Logger, rate Rate) Logger {
	switch {
	case rate.Window == 0:
		rate.Window = DefaultWindow
	case rate.Window < MinimumWindow:
		rate.Window = MinimumWindow
	}
	if rate.Burst < 1 {
		rate.Burst = 1
	}
	return &ratelimited{
		Logger: log,
		rate:   rate,
		limits: make(map[string]*limit),
		window: make([]string, 0, rate.Window),
		now:    time.Now,
	}
}

func (rl *ratelimited) Debug(format string, args ...interface{}) {
	if msg := rl.filter(format, args...); msg != "" {
		rl.Logger.Debug("<rate-limited> %s", msg)
	}
}

func (rl *ratelimited) Info(format string, args ...interface{}) {
	if msg := rl.filter(format, args...); msg != "" {
		rl.Logger.Info("<rate-limited> %s", msg)
	}
}

func (rl *ratelimited) Warn(format string, args ...interface{}) {
	if msg := rl.filter(format, args...); msg != "" {
		rl.Logger.Warn("<rate-limited> %s", msg)
	}
}

func (rl *ratelimited) Error(format string, args ...interface{}) {
	if msg := rl.filter(format, args...); msg != "" {
		rl.Logger.Error("<rate-limited> %s", msg)
	}
}

// filter returns the message if its rate allows emitting it, noting how
// many times it was suppressed since it was last emitted.
func (rl *ratelimited) filter(format string, args ...interface{}) string {
	msg := fmt.Sprintf(format, args...)
	lim := rl.getMessageLimit(msg)

	rl.Lock()
	defer rl.Unlock()

	if !lim.AllowN(rl.now(), 1) {
		lim.suppressed++
		return ""
	}
	if lim.suppressed > 0 {
		msg = fmt.Sprintf("%s (suppressed %d times)", msg, lim.suppressed)
		lim.suppressed = 0
	}
	return msg
}

// getMessageLimit returns the limiter for a message, creating one if necessary.
// Messages shifted out of the window lose their limiter.
func (rl *ratelimited) getMessageLimit(msg string) *limit {
	rl.Lock()
	defer rl.Unlock()

	if lim, ok := rl.limits[msg]; ok {
		return lim
	}

	if len(rl.window) == cap(rl.window) {
		delete(rl.limits, rl.window[0])
		copy(rl.window, rl.window[1:])
		rl.window = rl.window[:len(rl.window)-1]
	}
	rl.window = append(rl.window, msg)

	lim := &limit{Limiter: goxrate.NewLimiter(rl.rate.Limit, rl.rate.Burst)}
	rl.limits[msg] = lim
	return lim
}
