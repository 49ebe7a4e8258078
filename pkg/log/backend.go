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
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

//
// Logging backend interface and default fmt-based backend implementation.
//

// BackendFn is a functions that creates a Backend instance.
type BackendFn func() Backend

// Backend can format and emit log messages.
type Backend interface {
	// Name returns the name of this backend.
	Name() string
	// Log emits log messages with the given severity, source, and Printf-like arguments.
	Log(Level, string, string, ...interface{})
	// Block emits a multi-line log messages, with an additional line prefix.
	Block(Level, string, string, string, ...interface{})
	// Flush flushes any buffered messages.
	Flush()
	// Sync waits for all messages to get emitted.
	Sync()
	// Stop stops the backend instance.
	Stop()
	// SetSourceAlignment sets the maximum source length for optional alignment.
	SetSourceAlignment(int)
}

// RegisterBackend registers a logger backend.
func RegisterBackend(name string, fn BackendFn) {
	log.Lock()
	defer log.Unlock()
	log.backends[name] = fn
}

const (
	// FmtBackendName is the name of our simple fmt-based logging backend.
	FmtBackendName = "fmt"
)

// severity tags fmtBackend uses to prefix emitted messages with.
var fmtTags = map[Level]string{
	LevelDebug: "D:",
	LevelInfo:  "I:",
	LevelWarn:  "W:",
	LevelError: "E:",
	LevelFatal: "FATAL ERROR:",
	LevelPanic: "PANIC:",
}

// fmtBackend is our simple, default fmt.Fprintf-based Backend.
type fmtBackend struct {
	sync.Mutex
	w     *bufio.Writer
	align int
}

// createFmtBackend creates an fmt Backend writing to stderr.
func createFmtBackend() Backend {
	return newFmtBackend(os.Stderr)
}

func newFmtBackend(w io.Writer) *fmtBackend {
	return &fmtBackend{w: bufio.NewWriter(w)}
}

func (*fmtBackend) Name() string {
	return FmtBackendName
}

func (f *fmtBackend) Log(level Level, source, format string, args ...interface{}) {
	f.emit(level, source, "", fmt.Sprintf(format, args...))
}

func (f *fmtBackend) Block(level Level, source, prefix, format string, args ...interface{}) {
	f.emit(level, source, prefix, fmt.Sprintf(format, args...))
}

func (f *fmtBackend) Flush() {
	f.Lock()
	defer f.Unlock()
	f.w.Flush()
}

func (f *fmtBackend) Sync() {
	f.Flush()
}

func (f *fmtBackend) Stop() {
	f.Flush()
}

func (f *fmtBackend) SetSourceAlignment(align int) {
	f.Lock()
	defer f.Unlock()
	f.align = align
}

// emit formats and writes a message, one line at a time.
func (f *fmtBackend) emit(level Level, source, prefix, msg string) {
	f.Lock()
	defer f.Unlock()

	pad := f.align - len(source)
	if pad < 0 {
		pad = 0
	}
	src := "[" + source + "]" + strings.Repeat(" ", pad)
	if prefix != "" {
		src += " " + prefix
	}

	for _, line := range strings.Split(msg, "\n") {
		fmt.Fprintln(f.w, fmtTags[level], src, line)
	}
	f.w.Flush()
}
