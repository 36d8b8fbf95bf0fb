// Copyright The Platformd Authors. All Rights Reserved.
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
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	logger "github.com/platformd/platformd/pkg/log"
	"github.com/platformd/platformd/pkg/utils"
)

const (
	// shutdownTimeout is the duration to wait for active requests to finish.
	shutdownTimeout = 3 * time.Second
)

var log = logger.Get("http")

// Server is an HTTP server with a dynamically adjustable request multiplexer.
// It serves all our HTTP endpoints (status reports, metrics, health checks).
// An empty endpoint leaves the server disabled; endpoints of the form
// "unix://path" bind a unix-domain socket, anything else a TCP address.
type Server struct {
	sync.Mutex
	mux      *ServeMux
	server   *http.Server
	listener net.Listener
	endpoint string
}

// NewServer creates a new HTTP server instance.
func NewServer() *Server {
	return &Server{
		mux: NewServeMux(),
	}
}

// Start starts the server to listen on the given endpoint.
func (s *Server) Start(endpoint string) error {
	s.Lock()
	defer s.Unlock()
	return s.start(endpoint)
}

// Stop stops the server, waiting briefly for active requests to finish.
func (s *Server) Stop() {
	s.Lock()
	defer s.Unlock()
	s.stop()
}

// Reconfigure restarts the server if the endpoint has changed.
func (s *Server) Reconfigure(endpoint string) error {
	s.Lock()
	defer s.Unlock()

	if s.endpoint == endpoint {
		return nil
	}

	s.stop()
	return s.start(endpoint)
}

// GetMux returns the request multiplexer of the server.
func (s *Server) GetMux() *ServeMux {
	return s.mux
}

// GetAddress returns the address the server is listening on.
func (s *Server) GetAddress() string {
	s.Lock()
	defer s.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) start(endpoint string) error {
	if endpoint == "" {
		log.Info("no endpoint set, HTTP server disabled")
		s.endpoint = ""
		return nil
	}

	ln, err := listen(endpoint)
	if err != nil {
		return httpError("failed to listen on %q: %v", endpoint, err)
	}

	log.Info("starting HTTP server on %q...", endpoint)

	s.listener = ln
	s.endpoint = endpoint
	s.server = &http.Server{Handler: s.mux}

	go func(server *http.Server, ln net.Listener) {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server exited: %v", err)
		}
	}(s.server, ln)

	return nil
}

func (s *Server) stop() {
	if s.server == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		log.Warn("failed to shut down HTTP server: %v", err)
		s.server.Close()
	}

	s.server = nil
	s.listener = nil
	s.endpoint = ""
}

// listen creates a listener for the endpoint, cleaning up a stale socket
// file first for unix-domain endpoints.
func listen(endpoint string) (net.Listener, error) {
	if path, ok := strings.CutPrefix(endpoint, "unix://"); ok {
		if err := utils.RemoveStaleSocket(path); err != nil {
			return nil, err
		}
		return net.Listen("unix", path)
	}
	return net.Listen("tcp", endpoint)
}

// ServeMux is an HTTP request multiplexer with support for unregistering
// and re-registering handlers, which plain http.ServeMux lacks.
type ServeMux struct {
	sync.RWMutex
	handlers map[string]http.Handler
}

// NewServeMux creates a new request multiplexer.
func NewServeMux() *ServeMux {
	return &ServeMux{
		handlers: make(map[string]http.Handler),
	}
}

// Handle registers the handler for the given pattern.
func (m *ServeMux) Handle(pattern string, handler http.Handler) {
	m.Lock()
	defer m.Unlock()

	if _, ok := m.handlers[pattern]; ok {
		log.Warn("replacing existing handler for %q", pattern)
	}
	m.handlers[pattern] = handler
}

// HandleFunc registers the handler function for the given pattern.
func (m *ServeMux) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	m.Handle(pattern, http.HandlerFunc(handler))
}

// Unregister removes the handler for the given pattern, if any.
func (m *ServeMux) Unregister(pattern string) {
	m.Lock()
	defer m.Unlock()
	delete(m.handlers, pattern)
}

// ServeHTTP dispatches the request to the handler whose pattern matches
// the request path. An exact match wins over the longest matching subtree
// pattern (one with a trailing slash).
func (m *ServeMux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	handler := m.lookup(r.URL.Path)
	if handler == nil {
		http.NotFound(w, r)
		return
	}
	handler.ServeHTTP(w, r)
}

func (m *ServeMux) lookup(path string) http.Handler {
	m.RLock()
	defer m.RUnlock()

	if h, ok := m.handlers[path]; ok {
		return h
	}

	var (
		best    http.Handler
		bestLen int
	)
	for pattern, h := range m.handlers {
		if !strings.HasSuffix(pattern, "/") {
			continue
		}
		if strings.HasPrefix(path, pattern) && len(pattern) > bestLen {
			best, bestLen = h, len(pattern)
		}
	}
	return best
}

// httpError returns a package-specific formatted error.
func httpError(format string, args ...interface{}) error {
	return fmt.Errorf("http: "+format, args...)
}
