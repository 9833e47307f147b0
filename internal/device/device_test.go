package device

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpst/pstbench/internal/httputil"
	"github.com/openpst/pstbench/internal/timeutil"
)

// fakeDevice is an in-memory control device serving the HTTP surface the
// proxy speaks: JSON attributes, commands with a small observation state
// machine, and SSE change events.
type fakeDevice struct {
	mu       sync.Mutex
	attrs    map[string]json.RawMessage
	subs     map[string][]chan json.RawMessage
	commands map[string]*CommandStatus
	nextID   int

	srv *httptest.Server
}

// allowedStates is the observation states each command may run from.
var allowedStates = map[string][]ObsState{
	"On":            {ObsEmpty, ObsIdle},
	"Off":           {ObsEmpty, ObsIdle, ObsReady, ObsAborted, ObsFault},
	"ConfigureScan": {ObsIdle, ObsReady},
	"Scan":          {ObsReady},
	"EndScan":       {ObsScanning},
	"GoToIdle":      {ObsReady},
	"Abort":         {ObsIdle, ObsConfiguring, ObsReady, ObsScanning},
	"ObsReset":      {ObsAborted, ObsFault},
	"GoToFault":     {ObsIdle, ObsConfiguring, ObsReady, ObsScanning, ObsAborting},
}

// transitions is the observation states a command walks through.
var transitions = map[string][]ObsState{
	"On":            {ObsIdle},
	"Off":           {},
	"ConfigureScan": {ObsConfiguring, ObsReady},
	"Scan":          {ObsScanning},
	"EndScan":       {ObsReady},
	"GoToIdle":      {ObsIdle},
	"Abort":         {ObsAborting, ObsAborted},
	"ObsReset":      {ObsResetting, ObsIdle},
	"GoToFault":     {ObsFault},
}

func newFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()

	d := &fakeDevice{
		attrs: map[string]json.RawMessage{
			"obsState":   mustJSON(ObsEmpty),
			"subarrayId": json.RawMessage("1"),
		},
		subs:     make(map[string][]chan json.RawMessage),
		commands: make(map[string]*CommandStatus),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /attributes/{name}", d.handleReadAttribute)
	mux.HandleFunc("PUT /attributes/{name}", d.handleWriteAttribute)
	mux.HandleFunc("POST /commands/{name}", d.handleCommand)
	mux.HandleFunc("GET /commands/status/{id}", d.handleCommandStatus)
	mux.HandleFunc("GET /events/{name}", d.handleEvents)

	d.srv = httptest.NewServer(mux)
	t.Cleanup(d.srv.Close)
	return d
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func (d *fakeDevice) proxy() *Proxy {
	return NewProxy(d.srv.URL, "test/device/01")
}

func (d *fakeDevice) setAttribute(name string, value json.RawMessage) {
	d.mu.Lock()
	d.attrs[name] = value
	for _, ch := range d.subs[name] {
		select {
		case ch <- value:
		default:
		}
	}
	d.mu.Unlock()
}

func (d *fakeDevice) obsState() ObsState {
	d.mu.Lock()
	defer d.mu.Unlock()
	var state ObsState
	if err := json.Unmarshal(d.attrs["obsState"], &state); err != nil {
		panic(err)
	}
	return state
}

func (d *fakeDevice) handleReadAttribute(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	value, ok := d.attrs[r.PathValue("name")]
	d.mu.Unlock()
	if !ok {
		httputil.NotFound(w, "no such attribute")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]json.RawMessage{"value": value})
}

func (d *fakeDevice) handleWriteAttribute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	d.setAttribute(r.PathValue("name"), body.Value)
	w.WriteHeader(http.StatusNoContent)
}

func (d *fakeDevice) handleCommand(w http.ResponseWriter, r *http.Request) {
	command := r.PathValue("name")
	allowed, ok := allowedStates[command]
	if !ok {
		httputil.NotFound(w, "no such command")
		return
	}

	state := d.obsState()
	permitted := false
	for _, s := range allowed {
		if s == state {
			permitted = true
		}
	}
	if !permitted {
		httputil.Conflict(w, fmt.Sprintf("%s command not permitted in observation state %s", command, state))
		return
	}

	d.mu.Lock()
	d.nextID++
	id := fmt.Sprintf("cmd-%d", d.nextID)
	d.commands[id] = &CommandStatus{CommandID: id, Status: TaskQueued}
	d.mu.Unlock()

	go d.runCommand(id, command)

	result := CommandResult{ResultCode: ResultQueued, CommandID: id}
	if command == "Abort" {
		result.ResultCode = ResultStarted
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (d *fakeDevice) runCommand(id, command string) {
	d.mu.Lock()
	d.commands[id].Status = TaskInProgress
	d.mu.Unlock()

	for _, state := range transitions[command] {
		time.Sleep(5 * time.Millisecond)
		d.setAttribute("obsState", mustJSON(state))
	}

	d.mu.Lock()
	d.commands[id].Status = TaskCompleted
	d.mu.Unlock()
}

func (d *fakeDevice) handleCommandStatus(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	status, ok := d.commands[r.PathValue("id")]
	var snapshot CommandStatus
	if ok {
		snapshot = *status
	}
	d.mu.Unlock()
	if !ok {
		httputil.NotFound(w, "no such command")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snapshot)
}

func (d *fakeDevice) handleEvents(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	d.mu.Lock()
	initial, ok := d.attrs[name]
	var ch chan json.RawMessage
	if ok {
		ch = make(chan json.RawMessage, 16)
		d.subs[name] = append(d.subs[name], ch)
	}
	d.mu.Unlock()
	if !ok {
		httputil.NotFound(w, "no such attribute")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	fmt.Fprintf(w, "data: %s\n\n", initial)
	w.(http.Flusher).Flush()

	for {
		select {
		case value := <-ch:
			fmt.Fprintf(w, "data: %s\n\n", value)
			w.(http.Flusher).Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func TestProxyAttributes(t *testing.T) {
	t.Parallel()

	proxy := newFakeDevice(t).proxy()
	ctx := context.Background()

	value, err := proxy.ReadAttribute(ctx, "subarrayId")
	require.NoError(t, err)
	assert.JSONEq(t, "1", string(value))

	require.NoError(t, proxy.WriteAttribute(ctx, "subarrayId", 7))
	value, err = proxy.ReadAttribute(ctx, "subarrayId")
	require.NoError(t, err)
	assert.JSONEq(t, "7", string(value))

	_, err = proxy.ReadAttribute(ctx, "bogus")
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusNotFound, reqErr.StatusCode)
}

func TestProxyObsState(t *testing.T) {
	t.Parallel()

	d := newFakeDevice(t)
	proxy := d.proxy()

	state, err := proxy.ObsState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ObsEmpty, state)

	d.setAttribute("obsState", mustJSON(ObsScanning))
	state, err = proxy.ObsState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ObsScanning, state)
}

func TestSubscribeChangeEvent(t *testing.T) {
	t.Parallel()

	d := newFakeDevice(t)
	proxy := d.proxy()

	var mu sync.Mutex
	var seen []string
	sub, err := proxy.SubscribeChangeEvent(context.Background(), "subarrayId", func(event json.RawMessage) {
		mu.Lock()
		seen = append(seen, string(event))
		mu.Unlock()
	})
	require.NoError(t, err)

	// The initial value arrives on subscription, then one per update.
	d.setAttribute("subarrayId", json.RawMessage("2"))
	d.setAttribute("subarrayId", json.RawMessage("3"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"1", "2", "3"}, seen)
	mu.Unlock()

	sub.Unsubscribe()

	_, err = proxy.SubscribeChangeEvent(context.Background(), "bogus", func(json.RawMessage) {})
	assert.Error(t, err)
}

func TestAttributesMonitor(t *testing.T) {
	t.Parallel()

	d := newFakeDevice(t)
	monitor := NewAttributesMonitor(d.proxy(), "obsState", "subarrayId")
	require.NoError(t, monitor.Setup(context.Background()))
	defer monitor.Teardown()

	value, err := monitor.CurrentValue("obsState")
	require.NoError(t, err)
	assert.Equal(t, `"EMPTY"`, value)

	monitor.CaptureCurrentValues()
	assert.False(t, monitor.ValuesChanged())

	// Repeated identical values collapse in the history.
	d.setAttribute("subarrayId", json.RawMessage("5"))
	d.setAttribute("subarrayId", json.RawMessage("5"))
	require.NoError(t, monitor.WaitForUpdate("subarrayId", 2*time.Second))

	assert.Equal(t, []string{"1", "5"}, monitor.History("subarrayId"))
	assert.True(t, monitor.ValuesChanged())

	values := monitor.CurrentValues()
	assert.Equal(t, "5", values["subarrayId"])
	assert.False(t, monitor.ValuesChanged())

	require.NoError(t, monitor.AssertAttribute("subarrayId", func(v string) bool { return v == "5" }))
	assert.Error(t, monitor.AssertAttribute("subarrayId", func(v string) bool { return v == "1" }))

	assert.Error(t, monitor.WaitForUpdate("subarrayId", 50*time.Millisecond))
	_, err = monitor.CurrentValue("bogus")
	assert.Error(t, err)
}

func TestCommandTrackerScanCycle(t *testing.T) {
	t.Parallel()

	d := newFakeDevice(t)
	tracker := NewCommandTracker(d.proxy(), 0)
	ctx := context.Background()

	scanConfig := map[string]any{"interface": "test", "common": map[string]any{"config_id": "abc"}}

	steps := []struct {
		command  string
		argument any
		want     ObsState
	}{
		{"On", nil, ObsIdle},
		{"ConfigureScan", scanConfig, ObsReady},
		{"Scan", "42", ObsScanning},
		{"EndScan", nil, ObsReady},
		{"GoToIdle", nil, ObsIdle},
		{"Abort", nil, ObsAborted},
		{"ObsReset", nil, ObsIdle},
	}
	for _, step := range steps {
		require.NoError(t, tracker.PerformCommand(ctx, step.command, step.argument), step.command)
		assert.Equal(t, step.want, d.obsState(), step.command)
	}

	assert.Equal(t, "ObsReset", tracker.PreviousCommand())
	assert.Equal(t, ObsAborted, tracker.PreviousObsState())
	assert.NoError(t, tracker.PreviousCommandError())
	assert.Error(t, tracker.AssertPreviousCommandFailed())
}

func TestCommandTrackerRejection(t *testing.T) {
	t.Parallel()

	d := newFakeDevice(t)
	tracker := NewCommandTracker(d.proxy(), 0)
	ctx := context.Background()

	// Scan straight from EMPTY is refused by the device.
	err := tracker.PerformCommand(ctx, "Scan", "42")
	require.Error(t, err)

	assert.NoError(t, tracker.AssertPreviousCommandFailed())
	assert.NoError(t, tracker.AssertPreviousCommandRejected())
	assert.NoError(t, tracker.AssertPreviousCommandErrorMatches("not permitted"))
	assert.Error(t, tracker.AssertPreviousCommandErrorMatches("disk full"))
}

func TestCommandTrackerValidation(t *testing.T) {
	t.Parallel()

	tracker := NewCommandTracker(NewProxy("http://localhost:0", "unused"), time.Second)

	assert.ErrorContains(t, tracker.PerformCommand(context.Background(), "SelfDestruct", nil), "unknown command")
	assert.ErrorContains(t, tracker.PerformCommand(context.Background(), "Scan", nil), "requires an argument")
}

func TestStateNamesRoundTrip(t *testing.T) {
	t.Parallel()

	for state, name := range obsStateNames {
		parsed, err := ParseObsState(name)
		require.NoError(t, err)
		assert.Equal(t, state, parsed)

		data, err := json.Marshal(state)
		require.NoError(t, err)
		var back ObsState
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, state, back)
	}

	_, err := ParseObsState("SLEEPING")
	assert.Error(t, err)
	_, err = ParseResultCode("MAYBE")
	assert.Error(t, err)
	_, err = ParseTaskStatus("NAPPING")
	assert.Error(t, err)

	assert.True(t, TaskCompleted.Terminal())
	assert.True(t, TaskRejected.Terminal())
	assert.False(t, TaskInProgress.Terminal())
	assert.Equal(t, "STARTED", ResultStarted.String())
}

func TestProxyWithMockClient(t *testing.T) {
	t.Parallel()

	mock := &httputil.MockClient{}
	mock.AddResponse(http.StatusOK, `{"value":"READY"}`).
		AddResponse(http.StatusNotFound, `{"error":"no such attribute"}`)

	proxy := NewProxyWithClient("http://device.local", "test/device/01", mock)

	state, err := proxy.ObsState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ObsReady, state)

	_, err = proxy.ReadAttribute(context.Background(), "bogus")
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusNotFound, reqErr.StatusCode)

	requests := mock.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, "/attributes/obsState", requests[0].URL.Path)
}

func TestWaitForCommandOnMockClock(t *testing.T) {
	t.Parallel()

	type result struct {
		status CommandStatus
		err    error
	}

	// The poll ticker runs off the injected clock: advancing it drives the
	// second status request, which completes the command.
	mock := &httputil.MockClient{}
	mock.AddResponse(http.StatusOK, `{"command_id":"cmd-9","status":"IN_PROGRESS"}`).
		AddResponse(http.StatusOK, `{"command_id":"cmd-9","status":"COMPLETED"}`)

	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	proxy := NewProxyWithClient("http://device.local", "test/device/01", mock)
	proxy.clock = clock

	done := make(chan result, 1)
	go func() {
		status, err := proxy.WaitForCommand(context.Background(), "cmd-9", time.Second)
		done <- result{status, err}
	}()

	var got result
	require.Eventually(t, func() bool {
		clock.Advance(10 * time.Millisecond)
		select {
		case got = <-done:
			return true
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, got.err)
	assert.Equal(t, TaskCompleted, got.status.Status)

	// A command that never completes times out on the same clock.
	mock = &httputil.MockClient{}
	for i := 0; i < 20; i++ {
		mock.AddResponse(http.StatusOK, `{"command_id":"cmd-10","status":"IN_PROGRESS"}`)
	}

	clock = timeutil.NewMockClock(time.Unix(1700000000, 0))
	proxy = NewProxyWithClient("http://device.local", "test/device/01", mock)
	proxy.clock = clock

	done = make(chan result, 1)
	go func() {
		status, err := proxy.WaitForCommand(context.Background(), "cmd-10", 5*time.Millisecond)
		done <- result{status, err}
	}()

	require.Eventually(t, func() bool {
		clock.Advance(time.Millisecond)
		select {
		case got = <-done:
			return true
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
	require.Error(t, got.err)
	assert.Contains(t, got.err.Error(), "did not finish")
	assert.Equal(t, TaskInProgress, got.status.Status)
}
