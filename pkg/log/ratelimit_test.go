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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimitWindow(t *testing.T) {
	ratelimit := RateLimit(Default(), Rate{Window: MinimumWindow, Limit: Every(time.Second)})
	rl := ratelimit.(*ratelimited)

	limiters := make(map[string]*limit)

	messages := make([]string, 0, MinimumWindow)
	for idx := 0; idx < cap(messages); idx++ {
		msg := fmt.Sprintf("message #%d", idx)
		messages = append(messages, msg)
		limiters[msg] = rl.getMessageLimit(msg)
	}
	for msg, limiter := range limiters {
		require.True(t, rl.getMessageLimit(msg) == limiter, "limiter for %s", msg)
	}

	recent := make([]string, 0, MinimumWindow/4)
	for i := 0; i < cap(recent); i++ {
		msg := fmt.Sprintf("message #%d", len(messages)+i)
		recent = append(recent, msg)
		limiters[msg] = rl.getMessageLimit(msg)
	}
	for _, msg := range recent {
		require.True(t, rl.getMessageLimit(msg) == limiters[msg], "limiter for recent %s", msg)
	}

	// still in window
	for _, msg := range messages[len(recent):] {
		require.True(t, rl.getMessageLimit(msg) == limiters[msg], "limiter for old %s", msg)
	}
	require.Len(t, rl.limits, MinimumWindow)
}

func TestRateLimitSuppression(t *testing.T) {
	setupTestBackend(t)
	rl := RateLimit(NewLogger("ratelimit-test"), Interval(time.Hour))

	rl.Info("same message")
	rl.Info("same message")
	rl.Warn("other message")
	require.Equal(t, []string{
		"info ratelimit-test <rate-limited> same message",
		"warning ratelimit-test <rate-limited> other message",
	}, recorder.take())
}

func TestRateLimitSuppressedCount(t *testing.T) {
	setupTestBackend(t)
	now := time.Unix(0, 0)
	rl := RateLimit(NewLogger("ratelimit-test"), Interval(time.Minute)).(*ratelimited)
	rl.now = func() time.Time { return now }

	rl.Error("filter failed")
	rl.Error("filter failed")
	rl.Error("filter failed")
	now = now.Add(time.Minute)
	rl.Error("filter failed")
	require.Equal(t, []string{
		"error ratelimit-test <rate-limited> filter failed",
		"error ratelimit-test <rate-limited> filter failed (suppressed 2 times)",
	}, recorder.take())
}
