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

package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"github.com/intel/latency-manager/pkg/latency-manager/filter"
)

// DefaultPattern selects the rule files of a rules directory.
const DefaultPattern = "*.yaml"

// Load loads the rule files matching pattern in dir, in file name order.
// Rule sets which fail to load are left out and their errors returned
// together with the rest.
func Load(dir, pattern string) ([]*RuleSet, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, rulesError("invalid rule file pattern %q: %v", pattern, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read rules directory %q", dir)
	}

	files := []string{}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if ok, _ := filepath.Match(pattern, entry.Name()); ok {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)

	var errs *multierror.Error
	sets := []*RuleSet{}
	for _, file := range files {
		rs, err := LoadFile(file)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		log.Info("loaded %d rules from %s", len(rs.Rules), file)
		sets = append(sets, rs)
	}

	return sets, errs.ErrorOrNil()
}

// LoadFile loads a single rule file.
func LoadFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read rule file %q", path)
	}
	return Parse(path, data)
}

// Parse parses and validates rules in YAML format.
func Parse(file string, data []byte) (*RuleSet, error) {
	rs := &RuleSet{}
	if err := yaml.UnmarshalStrict(data, rs); err != nil {
		return nil, rulesError("%s: failed to parse: %v", file, err)
	}
	rs.File = file
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return rs, nil
}

// Filters creates filters for the rules of the given rule sets. Filter
// names are prefixed with the name of their rule file, without extension
// unless that would clash with an earlier file.
func Filters(sets []*RuleSet, opts *filter.Options) []filter.Filter {
	filters := []filter.Filter{}
	prefixes := map[string]struct{}{}
	for _, rs := range sets {
		base := filepath.Base(rs.File)
		prefix := strings.TrimSuffix(base, filepath.Ext(base))
		if _, clash := prefixes[prefix]; clash {
			prefix = base
		}
		prefixes[prefix] = struct{}{}
		for _, r := range rs.Rules {
			filters = append(filters, NewFilter(prefix, r, opts))
		}
	}
	return filters
}

// rulesError returns a package-specific formatted error.
func rulesError(format string, args ...interface{}) error {
	return fmt.Errorf("rules: "+format, args...)
}
