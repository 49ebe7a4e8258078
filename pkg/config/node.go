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

package config

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode"

	"github.com/hashicorp/go-multierror"
	"sigs.k8s.io/yaml"
)

// A node in our configuration tree.
//
// Leaf nodes hold registered configuration fragments. Internal nodes
// link fragments together according to their registered paths. An
// internal node can have a fragment of its own, in which case the
// fields of the fragment appear next to the child nodes in the data.
type node struct {
	path     Path             // path from the root of the configuration
	ptr      Fragment         // fragment registered for this node, if any
	notify   []NotifyFn       // notifiers registered with the fragment
	children map[string]*node // child nodes, by canonical name
	cfgType  reflect.Type     // struct type generated for this subtree
	cfgValue reflect.Value    // instance of cfgType, linked to the fragments
}

func newNode(path Path) *node {
	return &node{
		path:     path.Clone(),
		children: map[string]*node{},
	}
}

// Reset all fragments in this subtree to their defaults.
func (n *node) Reset() {
	for _, c := range n.sortedChildren() {
		c.Reset()
	}
	if n.ptr != nil {
		n.ptr.Reset()
	}
}

// Validate all fragments in this subtree.
func (n *node) Validate() error {
	var errs *multierror.Error

	for _, c := range n.sortedChildren() {
		if err := c.Validate(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if v, ok := n.ptr.(FragmentValidator); ok {
		if err := v.Validate(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%q: %w", n.path.String(), err))
		}
	}

	return errs.ErrorOrNil()
}

// SetYAML resets the subtree then applies the given YAML data to it.
func (n *node) SetYAML(raw []byte) error {
	if err := n.compile(); err != nil {
		return err
	}

	n.Reset()
	if err := yaml.UnmarshalStrict(raw, n.cfgValue.Interface()); err != nil {
		return err
	}

	return n.Validate()
}

// GetYAML returns the current data of the subtree as YAML.
func (n *node) GetYAML() ([]byte, error) {
	if err := n.compile(); err != nil {
		return nil, err
	}
	return yaml.Marshal(n.cfgValue.Interface())
}

func (n *node) isLeaf() bool {
	return len(n.children) == 0
}

func (n *node) isCompiled() bool {
	return n.cfgValue.IsValid()
}

func (n *node) add(path Path, ptr Fragment, notify []NotifyFn) error {
	if err := path.Validate(); err != nil {
		return err
	}
	if n.isCompiled() {
		return fmt.Errorf("can't register %q, configuration already in use", path.String())
	}

	p := n
	for idx, name := range path.Canonical() {
		c, ok := p.children[name]
		if !ok {
			c = newNode(path.Sub(0, idx+1))
			p.children[name] = c
		}
		p = c
	}

	if p.ptr != nil {
		return fmt.Errorf("%q conflicts with %q (%T)", path.String(), p.path.String(), p.ptr)
	}

	p.path = path.Clone()
	p.ptr = ptr
	p.notify = notify

	return nil
}

func (n *node) get(path string) *node {
	p := n
	for _, name := range makePath(path).Canonical() {
		c, ok := p.children[name]
		if !ok {
			return nil
		}
		p = c
	}
	return p
}

func (n *node) sortedChildren() []*node {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)

	children := make([]*node, 0, len(names))
	for _, name := range names {
		children = append(children, n.children[name])
	}
	return children
}

// walk calls fn for every node of the subtree in pre-order.
func (n *node) walk(fn func(*node, int), level int) {
	fn(n, level)
	for _, c := range n.sortedChildren() {
		c.walk(fn, level+1)
	}
}

// compile generates and instantiates the struct type for this subtree.
//
// Leaf nodes use their fragment type as such. Internal nodes get a
// generated struct with a pointer field for every child and a pointer
// field for every exported field of their own fragment, if they have one.
// Compilation happens once. No more fragments can be registered after it.
func (n *node) compile() error {
	if n.isCompiled() {
		return nil
	}

	if n.isLeaf() {
		if n.ptr == nil {
			n.cfgType = reflect.TypeOf(struct{}{})
			n.cfgValue = reflect.New(n.cfgType)
			return nil
		}
		n.cfgType = reflect.TypeOf(n.ptr).Elem()
		n.cfgValue = reflect.ValueOf(n.ptr)
		return nil
	}

	children := n.sortedChildren()
	for _, c := range children {
		if err := c.compile(); err != nil {
			return err
		}
	}

	fields := []reflect.StructField{}
	var own []reflect.StructField

	if n.ptr != nil {
		for _, f := range reflect.VisibleFields(reflect.TypeOf(n.ptr).Elem()) {
			if !f.IsExported() || f.Anonymous {
				continue
			}
			ftype := f.Type
			if ftype.Kind() != reflect.Pointer {
				ftype = reflect.PointerTo(ftype)
			}
			own = append(own, f)
			fields = append(fields, reflect.StructField{
				Name: f.Name,
				Type: ftype,
				Tag:  f.Tag,
			})
		}
	}

	for _, c := range children {
		fields = append(fields, reflect.StructField{
			Name: c.path.FieldName(),
			Type: reflect.PointerTo(c.cfgType),
			Tag:  reflect.StructTag(c.path.StructTags()),
		})
	}

	n.cfgType = reflect.StructOf(fields)
	n.cfgValue = reflect.New(n.cfgType)

	if n.ptr != nil {
		v := reflect.ValueOf(n.ptr).Elem()
		for _, f := range own {
			if f.Type.Kind() == reflect.Pointer {
				n.cfgValue.Elem().FieldByName(f.Name).Set(v.FieldByIndex(f.Index))
			} else {
				n.cfgValue.Elem().FieldByName(f.Name).Set(v.FieldByIndex(f.Index).Addr())
			}
		}
	}

	for _, c := range children {
		n.cfgValue.Elem().FieldByName(c.path.FieldName()).Set(c.cfgValue)
	}

	return nil
}

func (n *node) describe() string {
	b := strings.Builder{}
	n.walk(func(p *node, level int) {
		if p.ptr == nil {
			return
		}
		b.WriteString(fmt.Sprintf("%*s%s:\n", 2*level, "", p.path.String()))
		for _, line := range strings.Split(strings.TrimSpace(p.ptr.Describe()), "\n") {
			b.WriteString(fmt.Sprintf("%*s  %s\n", 2*level, "", line))
		}
	}, 0)
	return b.String()
}

const (
	pathSep = "."
	wordSep = "-"
)

// Path is the location of a fragment in the configuration.
type Path []string

func makePath(s string) Path {
	if s == "" {
		return Path{}
	}
	return strings.Split(s, pathSep)
}

// Validate checks that the path is non-empty and has no empty names.
func (p Path) Validate() error {
	if p.Len() == 0 {
		return fmt.Errorf("invalid empty path")
	}
	for _, name := range p {
		if name == "" || goName(name) == "" {
			return fmt.Errorf("invalid path %q, has empty name", p.String())
		}
	}
	return nil
}

func (p Path) String() string {
	return strings.Join(p, pathSep)
}

// Clone returns a copy of the path.
func (p Path) Clone() Path {
	c := make(Path, p.Len())
	copy(c, p)
	return c
}

// Sub returns a slice of the path.
func (p Path) Sub(beg, end int) Path {
	return p[beg:end]
}

// Name returns the last name of the path.
func (p Path) Name() string {
	return p[p.Len()-1]
}

// FieldName returns the Go field name used for the path.
func (p Path) FieldName() string {
	return goName(p.Name())
}

// StructTags returns the struct tags used for the path.
func (p Path) StructTags() string {
	return fmt.Sprintf(`json:"%s,omitempty"`, p.Name())
}

// Canonical returns the path with all names converted to Go field names.
func (p Path) Canonical() Path {
	c := make(Path, 0, p.Len())
	for _, word := range p {
		c = append(c, goName(word))
	}
	return c
}

// Len returns the number of names in the path.
func (p Path) Len() int {
	return len(p)
}

// goName converts a dash-separated name to CamelCase.
func goName(name string) string {
	b := strings.Builder{}
	for _, w := range strings.Split(name, wordSep) {
		if w == "" {
			continue
		}
		r := []rune(w)
		b.WriteRune(unicode.ToUpper(r[0]))
		b.WriteString(string(r[1:]))
	}
	return b.String()
}
