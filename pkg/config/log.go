// Copyright 2019 Intel Corporation. All Rights Reserved.
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

package config

import (
	"fmt"
)

//
// pkg/log configures itself through this package, so we can't import it
// without an import cycle. Instead pkg/log plugs its functions in here.
//

// Logger is our set of logging functions.
type Logger struct {
	Debug func(string, ...interface{})
	Info  func(string, ...interface{})
	Warn  func(string, ...interface{})
	Error func(string, ...interface{})
}

// log is our Logger.
var log = Logger{
	Debug: discard,
	Info:  discard,
	Warn:  printer("W"),
	Error: printer("E"),
}

// SetLogger sets the functions we log with.
func SetLogger(logger Logger) {
	if logger.Debug != nil {
		log.Debug = logger.Debug
	}
	if logger.Info != nil {
		log.Info = logger.Info
	}
	if logger.Warn != nil {
		log.Warn = logger.Warn
	}
	if logger.Error != nil {
		log.Error = logger.Error
	}
}

func discard(string, ...interface{}) {}

func printer(tag string) func(string, ...interface{}) {
	return func(format string, args ...interface{}) {
		fmt.Printf(tag+": [config] "+format+"\n", args...)
	}
}
