package cycle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/hydropi/hydropi/controller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(c *Controller, method, path string) *httptest.ResponseRecorder {
	r := mux.NewRouter()
	c.LoadAPI(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestAPIHistory(t *testing.T) {
	r := newRig(t, nil)
	var last controller.DecisionRecord
	for i := 0; i < 3; i++ {
		rec, err := r.ctrl.RunCycle(context.Background())
		require.NoError(t, err)
		last = rec
	}

	w := serve(r.ctrl, "GET", "/api/cycle/history?n=2")
	require.Equal(t, http.StatusOK, w.Code)
	var recs []controller.DecisionRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, last.ID, recs[1].ID)

	w = serve(r.ctrl, "GET", "/api/cycle/history/"+last.ID)
	require.Equal(t, http.StatusOK, w.Code)
	var one controller.DecisionRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &one))
	assert.Equal(t, last.ID, one.ID)

	assert.Equal(t, http.StatusNotFound, serve(r.ctrl, "GET", "/api/cycle/history/nope").Code)
	assert.Equal(t, http.StatusBadRequest, serve(r.ctrl, "GET", "/api/cycle/history?n=zero").Code)
}

func TestAPIStatusAndLog(t *testing.T) {
	r := newRig(t, nil)
	w := serve(r.ctrl, "GET", "/api/cycle/status")
	require.Equal(t, http.StatusOK, w.Code)
	var idle Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &idle))
	assert.Nil(t, idle.Last)
	assert.Empty(t, idle.Actuators)

	rec, err := r.ctrl.RunCycle(context.Background())
	require.NoError(t, err)
	off := controller.SafeDefaults()
	off.Light = controller.Off
	_, err = r.ctrl.deps.Executor.Apply(context.Background(), off)
	require.NoError(t, err)
	require.False(t, r.outlets[controller.DeviceLight].On())

	w = serve(r.ctrl, "GET", "/api/cycle/status")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var st Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, 1, st.Cycles)
	require.NotNil(t, st.Last)
	assert.True(t, st.Actuators[controller.DeviceLight].On)
	assert.Equal(t, rec.State[controller.DeviceLight].On, st.Actuators[controller.DeviceLight].On)
	assert.Len(t, st.Actuators, len(rec.State))

	w = serve(r.ctrl, "GET", "/api/cycle/log")
	var logs []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &logs))
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0], "Cycle accepted: light=on")
}

func TestAPIRunConflict(t *testing.T) {
	r := newRig(t, nil)
	r.oracle.entered = make(chan struct{})
	r.oracle.release = make(chan struct{})

	w := serve(r.ctrl, "POST", "/api/cycle/run")
	require.Equal(t, http.StatusAccepted, w.Code)
	<-r.oracle.entered

	w = serve(r.ctrl, "POST", "/api/cycle/run")
	assert.Equal(t, http.StatusConflict, w.Code)

	close(r.oracle.release)
	require.Eventually(t, func() bool { return r.ctrl.Status().Cycles == 1 }, time.Second, 5*time.Millisecond)
}
