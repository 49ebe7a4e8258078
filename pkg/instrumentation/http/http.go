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

package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	logger "github.com/intel/latency-manager/pkg/log"
)

const (
	// httpServer is used in log messages.
	httpServer = "HTTP server"
	// readHeaderTimeout limits the time clients get to send request headers.
	readHeaderTimeout = 10 * time.Second
	// shutdownTimeout limits the time a graceful shutdown may take.
	shutdownTimeout = 5 * time.Second
)

// Our logger instance.
var log = logger.NewLogger("http")

// ServeMux is an HTTP request multiplexer with removable handlers.
type ServeMux struct {
	sync.RWMutex
	handlers map[string]http.Handler
	mux      *http.ServeMux
}

// NewServeMux creates a new HTTP request multiplexer.
func NewServeMux() *ServeMux {
	return &ServeMux{
		handlers: make(map[string]http.Handler),
		mux:      http.NewServeMux(),
	}
}

// Handle registers a handler for the given pattern. A pattern can only
// be registered once.
func (mux *ServeMux) Handle(pattern string, handler http.Handler) error {
	mux.Lock()
	defer mux.Unlock()

	if _, ok := mux.handlers[pattern]; ok {
		return httpError("duplicate handler for %q", pattern)
	}

	log.Debug("registering handler for %q...", pattern)

	mux.handlers[pattern] = handler
	mux.mux.Handle(pattern, handler)

	return nil
}

// HandleFunc registers a handler function for the given pattern.
func (mux *ServeMux) HandleFunc(pattern string, fn func(http.ResponseWriter, *http.Request)) error {
	return mux.Handle(pattern, http.HandlerFunc(fn))
}

// Unregister removes the handler for the given pattern.
func (mux *ServeMux) Unregister(pattern string) (http.Handler, bool) {
	mux.Lock()
	defer mux.Unlock()

	h, ok := mux.handlers[pattern]
	if !ok {
		return nil, false
	}

	log.Debug("unregistering handler for %q...", pattern)

	// http.ServeMux can't forget patterns, so we rebuild it without this one.
	delete(mux.handlers, pattern)
	mux.mux = http.NewServeMux()
	for pattern, handler := range mux.handlers {
		mux.mux.Handle(pattern, handler)
	}

	return h, true
}

// Patterns returns the registered patterns, sorted.
func (mux *ServeMux) Patterns() []string {
	mux.RLock()
	defer mux.RUnlock()

	patterns := make([]string, 0, len(mux.handlers))
	for pattern := range mux.handlers {
		patterns = append(patterns, pattern)
	}
	sort.Strings(patterns)

	return patterns
}

// ServeHTTP serves a HTTP request.
func (mux *ServeMux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux.RLock()
	handler := mux.mux
	mux.RUnlock()

	log.Debug("serving %s %s...", r.Method, r.URL)
	handler.ServeHTTP(w, r)
}

// ServeJSON replies with the given object in indented JSON.
func ServeJSON(w http.ResponseWriter, obj interface{}) {
	data, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(append(data, '\n')); err != nil {
		log.Warn("failed to write reply: %v", err)
	}
}

// Server is our HTTP server, with support for unregistering handlers.
type Server struct {
	sync.RWMutex
	server *http.Server
	mux    *ServeMux
}

// NewServer creates a new server instance.
func NewServer() *Server {
	return &Server{
		mux: NewServeMux(),
	}
}

// GetMux returns the mux for this server.
func (s *Server) GetMux() *ServeMux {
	return s.mux
}

// GetAddress returns the address the server is listening on, or an empty
// string if it is not running.
func (s *Server) GetAddress() string {
	s.RLock()
	defer s.RUnlock()

	if s.server == nil {
		return ""
	}
	return s.server.Addr
}

// Start starts serving on the given address. An empty address disables
// the server.
func (s *Server) Start(addr string) error {
	if addr == "" {
		log.Info("%s is disabled", httpServer)
		return nil
	}

	s.Lock()
	defer s.Unlock()

	if s.server != nil {
		return httpError("%s already running on %s", httpServer, s.server.Addr)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return httpError("can't listen on HTTP TCP address %q: %v", addr, err)
	}

	s.server = &http.Server{
		// with port 0 we need the address we actually got
		Addr:              ln.Addr().String(),
		Handler:           s.mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	log.Info("starting %s on %s...", httpServer, s.server.Addr)

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("%s failed: %v", httpServer, err)
		}
	}(s.server)

	return nil
}

// Stop closes the server immediately.
func (s *Server) Stop() {
	s.Lock()
	defer s.Unlock()

	if s.server == nil {
		return
	}

	log.Info("stopping %s...", httpServer)

	s.server.Close()
	s.server = nil
}

// Shutdown shuts down the server gracefully, optionally waiting for the
// shutdown hooks of the server to finish.
func (s *Server) Shutdown(wait bool) {
	s.Lock()
	defer s.Unlock()

	if s.server == nil {
		return
	}

	log.Info("shutting down %s...", httpServer)

	done := make(chan struct{})
	s.server.RegisterOnShutdown(func() {
		close(done)
	})

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		log.Warn("%s shutdown: %v", httpServer, err)
	}
	if wait {
		<-done
	}

	s.server = nil
}

// Reconfigure restarts the server if its address has changed.
func (s *Server) Reconfigure(addr string) error {
	if cur := s.GetAddress(); cur == addr || (addr == "" && cur == "") {
		return nil
	}
	return s.Restart(addr)
}

// Restart restarts the server on the given address.
func (s *Server) Restart(addr string) error {
	log.Info("restarting %s...", httpServer)

	s.Stop()
	return s.Start(addr)
}

// httpError returns a formatted instrumentation/http-specific error.
func httpError(format string, args ...interface{}) error {
	return fmt.Errorf("instrumentation/http: "+format, args...)
}
