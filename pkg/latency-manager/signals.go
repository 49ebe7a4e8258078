// Copyright 2022 Intel Corporation. All Rights Reserved.
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

package latencymgr

import (
	"os"
	"os/signal"
	"syscall"

	logger "github.com/intel/latency-manager/pkg/log"
)

// signalHandler relays reload signals to a LatencyManager.
type signalHandler struct {
	signals chan os.Signal
	done    chan struct{}
}

// setupSignals reloads on SIGHUP and SIGUSR1 and toggles debugging on SIGUSR2.
func (m *latencymgr) setupSignals() *signalHandler {
	h := &signalHandler{
		signals: make(chan os.Signal, 1),
		done:    make(chan struct{}),
	}
	signal.Notify(h.signals, syscall.SIGHUP, syscall.SIGUSR1)
	logger.SetupDebugToggleSignal(syscall.SIGUSR2)

	go func() {
		defer close(h.done)
		for sig := range h.signals {
			m.Info("received signal %v, reloading...", sig)
			m.Reload()
		}
	}()

	return h
}

func (h *signalHandler) stop() {
	if h == nil {
		return
	}
	signal.Stop(h.signals)
	close(h.signals)
	<-h.done
	logger.ClearDebugToggleSignal()
}
