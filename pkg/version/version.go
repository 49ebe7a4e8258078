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

// Package version tags binaries with version metadata set at link time:
//
//	go build -ldflags "-X=github.com/intel/latency-manager/pkg/version.Version=<git describe> \
//	  -X=github.com/intel/latency-manager/pkg/version.Build=<git sha1>"
//
// Importing the package adds a -version command line option.
package version

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// Overridden by the linker.
var (
	// Version is our version as given by 'git describe'.
	Version = "unknown"
	// Build is the SHA1 of the repository we've been built from.
	Build = "unknown"
)

// Info is the version metadata of the running binary.
type Info struct {
	Binary    string `json:"binary"`
	Version   string `json:"version"`
	Build     string `json:"build"`
	GoVersion string `json:"goVersion"`
}

// Get returns the version metadata of the running binary.
func Get() Info {
	return Info{
		Binary:    filepath.Base(os.Args[0]),
		Version:   Version,
		Build:     Build,
		GoVersion: runtime.Version(),
	}
}

// String returns the version and build in a single line.
func String() string {
	return fmt.Sprintf("%s (build %s)", Version, Build)
}

// Fprint writes the version metadata to w.
func Fprint(w io.Writer) {
	i := Get()
	fmt.Fprintf(w, "%s version information:\n", i.Binary)
	fmt.Fprintf(w, "  - version: %s\n", i.Version)
	fmt.Fprintf(w, "  - build:   %s\n", i.Build)
	fmt.Fprintf(w, "  - go:      %s\n", i.GoVersion)
}

// PrintVersionInfo prints version information about this binary.
func PrintVersionInfo() {
	Fprint(os.Stdout)
}

// versionFlag prints version information and exits when set.
type versionFlag struct{}

func (versionFlag) IsBoolFlag() bool {
	return true
}

func (versionFlag) Set(value string) error {
	print, err := strconv.ParseBool(value)
	if err != nil {
		return err
	}
	if print {
		PrintVersionInfo()
		os.Exit(0)
	}
	return nil
}

func (versionFlag) String() string {
	return "false"
}

func init() {
	flag.Var(versionFlag{}, "version", "Print version information and exit.")
}
