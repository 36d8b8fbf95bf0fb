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

package healthz

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	xhttp "github.com/platformd/platformd/pkg/http"
	logger "github.com/platformd/platformd/pkg/log"
)

// Status describes the health of a component or the daemon as a whole.
type Status int

const (
	// Healthy components work normally.
	Healthy Status = iota
	// Degraded components work, but not at full capacity.
	Degraded
	// NonFunctional components do not work at all.
	NonFunctional
)

// CheckFn reports the current health of a single component.
type CheckFn func() (Status, error)

var (
	lock     sync.Mutex
	checkers = map[string]CheckFn{}
	sorted   []string

	log = logger.NewLogger("health-check")
)

// Setup prepares the given HTTP request multiplexer for serving healthz.
func Setup(mux *xhttp.ServeMux) {
	mux.HandleFunc("/healthz", serve)
}

// RegisterHealthChecker registers the health checker of a component. It
// panics if a checker is already registered with the same name.
func RegisterHealthChecker(name string, fn CheckFn) {
	lock.Lock()
	defer lock.Unlock()

	if _, conflict := checkers[name]; conflict {
		panic(fmt.Sprintf("health checker %q already registered", name))
	}

	checkers[name] = fn
	sorted = append(sorted, name)
	sort.Strings(sorted)
}

// serve serves a single healthz request.
func serve(w http.ResponseWriter, _ *http.Request) {
	status, details := check()
	if status == Healthy {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			log.Errorf("failed to write response: %v", err)
		}
		return
	}

	names := make([]string, 0, len(details))
	for name := range details {
		names = append(names, name)
	}
	sort.Strings(names)

	b := strings.Builder{}
	for _, name := range names {
		fmt.Fprintf(&b, "%s: %v\n", name, details[name])
	}
	w.WriteHeader(http.StatusInternalServerError)
	if _, err := w.Write([]byte(b.String())); err != nil {
		log.Errorf("failed to write response: %v", err)
	}
}

// check runs all registered checkers, reporting the worst status found.
func check() (Status, map[string]error) {
	lock.Lock()
	defer lock.Unlock()

	status := Healthy
	details := map[string]error{}

	for _, name := range sorted {
		s, err := checkers[name]()
		if s == Healthy {
			continue
		}
		if s > status {
			status = s
		}
		if err != nil {
			details[name] = err
			log.Errorf("component %s reported unhealthy: %v", name, err)
		}
	}

	return status, details
}
