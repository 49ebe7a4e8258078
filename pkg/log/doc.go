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

var configHelp = `
Logging and debugging messages.

To control logging and debug messages include a logger fragment in the
configuration file. You can control the lowest severity of messages to
pass through, which log sources are enabled, which log sources produce
debug messages, and which backend emits the messages.

The available severity levels are error, warning, and info. By default all
log sources produce messages of all severity and none of them produce debug
messages. For instance to pass through only warnings and errors, and turn on
debugging for the engine and the native scheduler use this fragment:

  logger:
    level: warning
    debug: engine,scheduler-native

Prefix a source or a list of sources with 'off:' or 'on:' to toggle them.
For instance, to debug everything except the procfs snapshot source:

  logger:
    debug: on:*,off:procstats

Source names can be glob patterns. As an alternative for '*' you can also
use 'all'. The same settings are available on the command line with the
--logger-level, --logger-sources and --logger-debug options. The backend
is either 'fmt' (the default) or 'klog'.
`
