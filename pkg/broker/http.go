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

package broker

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"sigs.k8s.io/yaml"

	xhttp "github.com/platformd/platformd/pkg/http"
)

// sessionsEndpoint is the HTTP endpoint for session introspection.
// GET requests against it are served as follows:
//
//	/sessions/                 summary of all open sessions
//	/sessions/<label>          device report of one session
//	/sessions/<label>/devices  same as above
//
// Responses are JSON by default, YAML with '?format=yaml'.
const sessionsEndpoint = "/sessions/"

// sessionSummary is the per-session entry of the index endpoint.
type sessionSummary struct {
	Label       string   `json:"label"`
	Devices     []string `json:"devices,omitempty"`
	MemUsed     uint64   `json:"memUsed"`
	MemGranted  uint64   `json:"memGranted"`
	CapsUsed    uint64   `json:"capsUsed"`
	CapsGranted uint64   `json:"capsGranted"`
	DMABuffers  int      `json:"dmaBuffers"`
}

// Mount registers the broker's introspection endpoints with the mux.
func (b *Broker) Mount(mux *xhttp.ServeMux) {
	mux.HandleFunc(sessionsEndpoint, b.serveSessions)
}

// Unmount removes the broker's introspection endpoints from the mux.
func (b *Broker) Unmount(mux *xhttp.ServeMux) {
	mux.Unregister(sessionsEndpoint)
}

func (b *Broker) serveSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "only GET is supported", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, sessionsEndpoint)
	if rest == "" {
		respond(w, r, b.summarize())
		return
	}

	label, obj, _ := strings.Cut(rest, "/")
	s := b.Session(label)
	if s == nil {
		http.NotFound(w, r)
		return
	}

	switch obj {
	case "", "devices":
		respond(w, r, s.DevicesReport())
	default:
		http.NotFound(w, r)
	}
}

func (b *Broker) summarize() []*sessionSummary {
	var summary []*sessionSummary

	for _, label := range b.Sessions() {
		s := b.Session(label)
		if s == nil {
			continue
		}
		memUsed, memGranted, capsUsed, capsGranted := s.QuotaUsage()
		summary = append(summary, &sessionSummary{
			Label:       label,
			Devices:     s.OwnedDevices(),
			MemUsed:     memUsed,
			MemGranted:  memGranted,
			CapsUsed:    capsUsed,
			CapsGranted: capsGranted,
			DMABuffers:  s.DMABufferCount(),
		})
	}
	return summary
}

func respond(w http.ResponseWriter, r *http.Request, obj interface{}) {
	var (
		data []byte
		err  error
	)

	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		w.Header().Set("Content-Type", "application/json")
		data, err = json.Marshal(obj)
	case "yaml":
		w.Header().Set("Content-Type", "application/yaml")
		data, err = yaml.Marshal(obj)
	default:
		http.Error(w, fmt.Sprintf("unknown format %q", format),
			http.StatusBadRequest)
		return
	}

	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if len(data) == 0 || data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}
	w.Write(data)
}
