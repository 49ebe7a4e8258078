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
	"os"
	"os/signal"
	"sync"
)

var toggle struct {
	sync.Mutex
	signals chan os.Signal
}

// SetupDebugToggleSignal sets up a signal handler to toggle full debugging on/off.
func SetupDebugToggleSignal(sig os.Signal) {
	toggle.Lock()
	defer toggle.Unlock()

	clearDebugToggleSignal()

	toggle.signals = make(chan os.Signal, 1)
	signal.Notify(toggle.signals, sig)

	go func(signals <-chan os.Signal) {
		state := map[bool]string{false: "off", true: "on"}
		for range signals {
			log.Lock()
			log.forced = !log.forced
			forced := log.forced
			log.Unlock()
			deflog.Warn("forced full debugging is now %s...", state[forced])
		}
	}(toggle.signals)
}

// ClearDebugToggleSignal removes any signal handlers for toggling debug on/off.
func ClearDebugToggleSignal() {
	toggle.Lock()
	defer toggle.Unlock()
	clearDebugToggleSignal()
}

func clearDebugToggleSignal() {
	if toggle.signals != nil {
		signal.Stop(toggle.signals)
		close(toggle.signals)
		toggle.signals = nil
	}
}
