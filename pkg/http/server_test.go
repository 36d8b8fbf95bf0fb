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
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStartStop(t *testing.T) {
	srv := NewServer()
	require.NotNil(t, srv)

	require.NoError(t, srv.Start(":0"))
	addr := srv.GetAddress()
	require.NotEmpty(t, addr)

	srv.GetMux().HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})

	body, status := get(t, addr, "/ping")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "pong", body)

	srv.Stop()
	require.Empty(t, srv.GetAddress())
}

func TestDisabledServer(t *testing.T) {
	srv := NewServer()
	require.NoError(t, srv.Start(""))
	require.Empty(t, srv.GetAddress())
	srv.Stop()
}

func TestUnregister(t *testing.T) {
	srv := NewServer()
	require.NoError(t, srv.Start(":0"))
	defer srv.Stop()

	mux := srv.GetMux()
	mux.HandleFunc("/gone", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("here"))
	})

	addr := srv.GetAddress()
	_, status := get(t, addr, "/gone")
	require.Equal(t, http.StatusOK, status)

	mux.Unregister("/gone")
	_, status = get(t, addr, "/gone")
	require.Equal(t, http.StatusNotFound, status)
}

func TestSubtreeMatch(t *testing.T) {
	mux := NewServeMux()
	mux.HandleFunc("/sub/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/sub/leaf", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	srv := NewServer()
	srv.mux = mux
	require.NoError(t, srv.Start(":0"))
	defer srv.Stop()

	addr := srv.GetAddress()
	_, status := get(t, addr, "/sub/anything")
	require.Equal(t, http.StatusOK, status)
	_, status = get(t, addr, "/sub/leaf")
	require.Equal(t, http.StatusTeapot, status)
	_, status = get(t, addr, "/other")
	require.Equal(t, http.StatusNotFound, status)
}

func get(t *testing.T, addr, path string) (string, int) {
	t.Helper()

	rpl, err := http.Get("http://" + addr + path)
	require.NoError(t, err)
	defer rpl.Body.Close()

	body, err := io.ReadAll(rpl.Body)
	require.NoError(t, err)

	return string(body), rpl.StatusCode
}
