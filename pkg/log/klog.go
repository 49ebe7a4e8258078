// Copyright 2020 Intel Corporation. All Rights Reserved.
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
	"flag"
	"fmt"
	"strings"

	"k8s.io/klog/v2"
)

const (
	// KlogBackendName is the name of the klog-based logging backend.
	KlogBackendName = "klog"
	// klogDepth is the call depth of the logging call site from klog.
	klogDepth = 3
)

// klogBackend emits messages through k8s.io/klog/v2.
type klogBackend struct{}

func createKlogBackend() Backend {
	return &klogBackend{}
}

func (*klogBackend) Name() string {
	return KlogBackendName
}

func (k *klogBackend) Log(level Level, source, format string, args ...interface{}) {
	k.emit(level, "["+source+"] "+fmt.Sprintf(format, args...))
}

func (k *klogBackend) Block(level Level, source, prefix, format string, args ...interface{}) {
	for _, line := range strings.Split(fmt.Sprintf(format, args...), "\n") {
		k.emit(level, "["+source+"] "+prefix+line)
	}
}

func (k *klogBackend) emit(level Level, msg string) {
	switch level {
	case LevelDebug:
		klog.InfoDepth(klogDepth, "DEBUG: "+msg)
	case LevelInfo:
		klog.InfoDepth(klogDepth, msg)
	case LevelWarn:
		klog.WarningDepth(klogDepth, msg)
	default:
		klog.ErrorDepth(klogDepth, msg)
	}
}

func (*klogBackend) Flush() {
	klog.Flush()
}

func (*klogBackend) Sync() {
	klog.Flush()
}

func (*klogBackend) Stop() {
	klog.Flush()
}

func (*klogBackend) SetSourceAlignment(int) {}

// klogFlags are the klog command line flags, prefixed to avoid collisions.
var klogFlags = flag.NewFlagSet("klog", flag.ContinueOnError)

// KlogFlag sets a klog option, for instance "v" or "logtostderr".
func KlogFlag(name, value string) error {
	if err := klogFlags.Set(name, value); err != nil {
		return loggerError("failed to set klog flag %s=%s: %v", name, value, err)
	}
	return nil
}

func init() {
	klog.InitFlags(klogFlags)
	RegisterBackend(KlogBackendName, createKlogBackend)
}
