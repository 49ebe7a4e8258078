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
	"os"
)

// Level describes the severity of log messages.
type Level int

const (
	// LevelDebug is the severity for debug messages.
	LevelDebug Level = iota
	// LevelInfo is the severity for informational messages.
	LevelInfo
	// LevelWarn is the severity for warnings.
	LevelWarn
	// LevelError is the severity for errors.
	LevelError
	// LevelPanic is the severity for panic messages.
	LevelPanic
	// LevelFatal is the severity for fatal errors.
	LevelFatal
)

// Logger is the interface for producing log messages for/from a particular source.
type Logger interface {
	// Debug formats and emits a debug message.
	Debug(format string, args ...interface{})
	// Info formats and emits an informational message.
	Info(format string, args ...interface{})
	// Warn formats and emits a warning message.
	Warn(format string, args ...interface{})
	// Error formats and emits an error message.
	Error(format string, args ...interface{})
	// Panic formats and emits an error message then panics with the same.
	Panic(format string, args ...interface{})
	// Fatal formats and emits an error message and os.Exit()'s with status 1.
	Fatal(format string, args ...interface{})

	// DebugBlock formats and emits a multiline debug message.
	DebugBlock(prefix string, format string, args ...interface{})
	// InfoBlock formats and emits a multiline information message.
	InfoBlock(prefix string, format string, args ...interface{})
	// WarnBlock formats and emits a multiline warning message.
	WarnBlock(prefix string, format string, args ...interface{})
	// ErrorBlock formats and emits a multiline error message.
	ErrorBlock(prefix string, format string, args ...interface{})

	// EnableDebug enables debug messages for this Logger.
	EnableDebug(bool) bool
	// DebugEnabled checks if debug messages are enabled for this Logger.
	DebugEnabled() bool

	// Source returns the source name of this Logger.
	Source() string
}

// source is the runtime state of a single named log source.
type source struct {
	name      string
	logging   bool
	debugging bool
}

// logger implements Logger for a source.
type logger struct {
	src *source
}

// EnableDebug enables/disables debug logging for this logger.
func (l logger) EnableDebug(state bool) bool {
	log.Lock()
	defer log.Unlock()

	old := l.src.debugging
	l.src.debugging = state
	return old
}

// DebugEnabled checks debug logging is enabled for this logger.
func (l logger) DebugEnabled() bool {
	log.RLock()
	defer log.RUnlock()
	return l.src.debugging || log.forced
}

// Source returns the source for the given logger.
func (l logger) Source() string {
	return l.src.name
}

func (l logger) Debug(format string, args ...interface{}) {
	if b := l.backend(LevelDebug); b != nil {
		b.Log(LevelDebug, l.src.name, format, args...)
	}
}

func (l logger) Info(format string, args ...interface{}) {
	if b := l.backend(LevelInfo); b != nil {
		b.Log(LevelInfo, l.src.name, format, args...)
	}
}

func (l logger) Warn(format string, args ...interface{}) {
	if b := l.backend(LevelWarn); b != nil {
		b.Log(LevelWarn, l.src.name, format, args...)
	}
}

func (l logger) Error(format string, args ...interface{}) {
	if b := l.backend(LevelError); b != nil {
		b.Log(LevelError, l.src.name, format, args...)
	}
}

// Fatal logs a fatal error message and os.Exit(1)'s.
func (l logger) Fatal(format string, args ...interface{}) {
	b := l.backend(LevelFatal)
	b.Log(LevelFatal, l.src.name, format, args...)
	b.Sync()
	os.Exit(1)
}

// Panic logs a panic message and panic()'s.
func (l logger) Panic(format string, args ...interface{}) {
	b := l.backend(LevelPanic)
	b.Log(LevelPanic, l.src.name, format, args...)
	b.Sync()
	panic(fmt.Sprintf("["+l.src.name+"] "+format, args...))
}

func (l logger) DebugBlock(prefix string, format string, args ...interface{}) {
	if b := l.backend(LevelDebug); b != nil {
		b.Block(LevelDebug, l.src.name, prefix, format, args...)
	}
}

func (l logger) InfoBlock(prefix string, format string, args ...interface{}) {
	if b := l.backend(LevelInfo); b != nil {
		b.Block(LevelInfo, l.src.name, prefix, format, args...)
	}
}

func (l logger) WarnBlock(prefix string, format string, args ...interface{}) {
	if b := l.backend(LevelWarn); b != nil {
		b.Block(LevelWarn, l.src.name, prefix, format, args...)
	}
}

func (l logger) ErrorBlock(prefix string, format string, args ...interface{}) {
	if b := l.backend(LevelError); b != nil {
		b.Block(LevelError, l.src.name, prefix, format, args...)
	}
}

// backend returns the active backend if a message of level should be emitted.
func (l logger) backend(level Level) Backend {
	log.RLock()
	defer log.RUnlock()

	switch {
	case level == LevelDebug:
		if l.src.debugging || log.forced {
			return log.active
		}
		return nil
	case level >= LevelPanic:
		return log.active
	case level < log.level:
		return nil
	case level == LevelInfo && !l.src.logging:
		return nil
	}
	return log.active
}
