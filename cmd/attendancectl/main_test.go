package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeAgent(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/background/start":
			_, _ = w.Write([]byte(`{"registered":true}`))
		case "/api/v1/attendance/manual":
			_, _ = w.Write([]byte(`{"ok":true,"result":{"attemptId":"a-1","source":"manual","outcome":"SUCCESS","message":"Attendance marked"}}`))
		case "/api/v1/status":
			_, _ = w.Write([]byte(`{"registered":true,"regionCount":2,"lastMarked":"2024-05-06","notificationsEnabled":false}`))
		case "/api/v1/token":
			body, _ := io.ReadAll(r.Body)
			var req map[string]string
			assert.NoError(t, json.Unmarshal(body, &req))
			assert.Equal(t, "abc", req["token"])
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "nope", http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	srv, calls := fakeAgent(t)

	out, err := run(t, "--agent", srv.URL, "background", "start")
	require.NoError(t, err)
	assert.Contains(t, out, "Background attendance started")

	out, err = run(t, "--agent", srv.URL, "check")
	require.NoError(t, err)
	assert.Contains(t, out, "Outcome: SUCCESS")
	assert.Contains(t, out, "Attendance marked")

	out, err = run(t, "--agent", srv.URL, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Last marked:   2024-05-06")
	assert.Contains(t, out, "Regions:       2")

	_, err = run(t, "--agent", srv.URL, "login", "abc")
	require.NoError(t, err)

	_, err = run(t, "--agent", srv.URL, "geofence", "refresh")
	assert.ErrorContains(t, err, "404")

	assert.Equal(t, []string{
		"POST /api/v1/background/start",
		"POST /api/v1/attendance/manual",
		"GET /api/v1/status",
		"PUT /api/v1/token",
		"POST /api/v1/geofence/refresh",
	}, *calls)
}
