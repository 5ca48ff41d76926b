package api_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestListSessionsEmpty(t *testing.T) {
	env := newTestEnv(t, 2, nil)
	var sessions []map[string]any
	getJSON(t, env.srv.URL+"/api/sessions", &sessions)
	assert.NotNil(t, sessions)
	assert.Empty(t, sessions)
}

func TestListSessionsAfterRun(t *testing.T) {
	env := newTestEnv(t, 2, nil)
	a := env.becomeMaster(t)
	a.send(map[string]any{"exec": "run", "name": "xterm"})
	run := a.expect("run")
	a.expect("load")

	var sessions []map[string]any
	getJSON(t, env.srv.URL+"/api/sessions", &sessions)
	require.Len(t, sessions, 1)
	assert.Equal(t, run.UUID, sessions[0]["id"])
	assert.Equal(t, "xterm", sessions[0]["name"])
	assert.Equal(t, "running", sessions[0]["state"])
	assert.Equal(t, float64(run.Port), sessions[0]["proxy_port"])
	assert.Equal(t, float64(10), sessions[0]["display"])
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, 2, nil)

	var h map[string]any
	getJSON(t, env.srv.URL+"/healthz", &h)
	assert.Equal(t, map[string]any{"status": "ok", "sessions": float64(0), "clients": float64(0), "master": false}, h)

	env.becomeMaster(t)
	getJSON(t, env.srv.URL+"/healthz", &h)
	assert.Equal(t, float64(1), h["clients"])
	assert.Equal(t, true, h["master"])
}

func deleteSession(t *testing.T, url string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestDeleteSession(t *testing.T) {
	env := newTestEnv(t, 1, nil)
	a := env.becomeMaster(t)
	a.send(map[string]any{"exec": "run", "name": "xterm"})
	run := a.expect("run")
	a.expect("load")

	assert.Equal(t, http.StatusNoContent, deleteSession(t, env.srv.URL+"/api/sessions/"+run.UUID))
	assert.Zero(t, env.manager.Len())
	assert.Zero(t, env.manager.Pool().InUse())
	assert.Equal(t, []int{10}, env.launcher.KilledDisplays())

	assert.Equal(t, http.StatusNotFound, deleteSession(t, env.srv.URL+"/api/sessions/"+run.UUID))
}

func TestDeleteUnknownSession(t *testing.T) {
	env := newTestEnv(t, 1, nil)
	assert.Equal(t, http.StatusNotFound, deleteSession(t, env.srv.URL+"/api/sessions/nope"))
}
