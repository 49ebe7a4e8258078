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
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStartStop(t *testing.T) {
	srv := NewServer()

	require.NoError(t, srv.Start(""))
	require.Equal(t, "", srv.GetAddress(), "empty address disables the server")

	require.NoError(t, srv.Start("127.0.0.1:0"))
	require.Error(t, srv.Start("127.0.0.1:0"), "already running")
	srv.Stop()

	require.NoError(t, srv.Start("127.0.0.1:0"))
	addr := srv.GetAddress()
	require.NoError(t, srv.Reconfigure(addr))
	require.Equal(t, addr, srv.GetAddress(), "same address, no restart")

	require.NoError(t, srv.Reconfigure("127.0.0.1:0"))
	require.NotEmpty(t, srv.GetAddress())

	require.NoError(t, srv.Reconfigure(""))
	require.Equal(t, "", srv.GetAddress())
}

type testHandler struct {
	response string
}

func (h *testHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte(h.response))
}

func checkURL(t *testing.T, srv *Server, path, response string, status int) {
	url := "http://" + srv.GetAddress() + path

	res, err := http.Get(url)
	require.NoError(t, err, "GET %s", url)
	defer res.Body.Close()
	require.Equal(t, status, res.StatusCode, "GET %s", url)

	txt, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Equal(t, response, string(txt), "GET %s", url)
}

func TestPatterns(t *testing.T) {
	srv := NewServer()
	mux := srv.GetMux()

	require.NoError(t, srv.Start("127.0.0.1:0"))
	defer srv.Stop()

	require.NoError(t, mux.Handle("/a", &testHandler{"a"}))
	checkURL(t, srv, "/a", "a", http.StatusOK)
	require.Error(t, mux.Handle("/a", &testHandler{"again"}))

	require.NoError(t, mux.Handle("/b", &testHandler{"b"}))
	checkURL(t, srv, "/b", "b", http.StatusOK)

	require.NoError(t, mux.Handle("/", &testHandler{"/"}))
	checkURL(t, srv, "/b", "b", http.StatusOK)

	_, ok := mux.Unregister("/b")
	require.True(t, ok)
	checkURL(t, srv, "/b", "/", http.StatusOK)
	_, ok = mux.Unregister("/b")
	require.False(t, ok)

	require.NoError(t, mux.HandleFunc("/b", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("c"))
	}))
	checkURL(t, srv, "/b", "c", http.StatusOK)

	require.Equal(t, []string{"/", "/a", "/b"}, mux.Patterns())
}

func TestShutdown(t *testing.T) {
	srv := NewServer()
	require.NoError(t, srv.GetMux().HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong"))
	}))

	require.NoError(t, srv.Start("127.0.0.1:0"))
	checkURL(t, srv, "/ping", "pong", http.StatusOK)

	srv.Shutdown(false)
	require.Equal(t, "", srv.GetAddress())
	srv.Shutdown(true)
}

func TestServeJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	ServeJSON(rec, map[string]int{"pid": 1})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `{"pid": 1}`, rec.Body.String())

	rec = httptest.NewRecorder()
	ServeJSON(rec, make(chan int))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
