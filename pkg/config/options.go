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

// Option is an option applicable to a fragment registration.
type Option interface {
	apply(*registration) error
}

// registration collects the options given to Register.
type registration struct {
	notify []NotifyFn
}

// WithNotify injects an update notification callback for a fragment.
func WithNotify(fn NotifyFn) Option {
	return funcOption(func(r *registration) error {
		if fn == nil {
			return configError("WithNotify: nil notifier")
		}
		r.notify = append(r.notify, fn)
		return nil
	})
}

// funcOption is a generic functional option.
type funcOption func(*registration) error

func (fo funcOption) apply(r *registration) error {
	return fo(r)
}
