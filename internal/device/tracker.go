package device

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/openpst/pstbench/internal/monitoring"
	"github.com/openpst/pstbench/internal/timeutil"
)

// DefaultCommandTimeout bounds how long a tracked command may take to
// complete and produce its observation state transitions.
const DefaultCommandTimeout = 5 * time.Second

// commandSpec describes the expected behaviour of one device command: the
// result code its invocation returns and the observation states it moves
// through, in order.
type commandSpec struct {
	result    ResultCode
	obsStates []ObsState
	// needsArgument commands reject a nil argument before touching the
	// device.
	needsArgument bool
}

var commandSpecs = map[string]commandSpec{
	"On":            {result: ResultQueued, obsStates: []ObsState{ObsIdle}},
	"Off":           {result: ResultQueued},
	"ConfigureScan": {result: ResultQueued, obsStates: []ObsState{ObsConfiguring, ObsReady}, needsArgument: true},
	"Scan":          {result: ResultQueued, obsStates: []ObsState{ObsScanning}, needsArgument: true},
	"EndScan":       {result: ResultQueued, obsStates: []ObsState{ObsReady}},
	"GoToIdle":      {result: ResultQueued, obsStates: []ObsState{ObsIdle}},
	"Abort":         {result: ResultStarted, obsStates: []ObsState{ObsAborting, ObsAborted}},
	"ObsReset":      {result: ResultQueued, obsStates: []ObsState{ObsResetting, ObsIdle}},
	"GoToFault":     {result: ResultQueued, obsStates: []ObsState{ObsFault}, needsArgument: true},
}

// CommandTracker issues device commands and tracks them to completion: the
// result code, the long-running command status, and the observation state
// transitions the command causes. Failures are recorded alongside the state
// the device was in, so rejection tests can assert on them afterwards.
type CommandTracker struct {
	proxy   *Proxy
	clock   timeutil.Clock
	timeout time.Duration

	prevCommand  string
	prevObsState ObsState
	prevErr      error
}

// NewCommandTracker creates a tracker for a device proxy. A non-positive
// timeout uses DefaultCommandTimeout.
func NewCommandTracker(proxy *Proxy, timeout time.Duration) *CommandTracker {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &CommandTracker{proxy: proxy, clock: timeutil.RealClock{}, timeout: timeout}
}

// PerformCommand executes a named command and waits for it to complete with
// the expected observation state transitions. The error, the command name
// and the observation state before the command are recorded for later
// assertions; the error is also returned.
func (t *CommandTracker) PerformCommand(ctx context.Context, command string, argument any) error {
	spec, ok := commandSpecs[command]
	if !ok {
		return fmt.Errorf("unknown command %q", command)
	}
	if spec.needsArgument && argument == nil {
		return fmt.Errorf("command %s requires an argument", command)
	}

	state, err := t.proxy.ObsState(ctx)
	if err != nil {
		return fmt.Errorf("read observation state: %w", err)
	}
	t.prevObsState = state
	t.prevCommand = command
	t.prevErr = t.runCommand(ctx, command, argument, spec)
	if t.prevErr != nil {
		monitoring.Logf("command %s on %s failed: %v", command, t.proxy.Name, t.prevErr)
	}
	return t.prevErr
}

func (t *CommandTracker) runCommand(ctx context.Context, command string, argument any, spec commandSpec) error {
	var mu sync.Mutex
	var observed []ObsState

	sub, err := t.proxy.SubscribeChangeEvent(ctx, "obsState", func(event json.RawMessage) {
		var state ObsState
		if err := json.Unmarshal(event, &state); err != nil {
			monitoring.Logf("ignoring malformed obsState event %q: %v", event, err)
			return
		}
		mu.Lock()
		observed = append(observed, state)
		mu.Unlock()
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	result, err := t.proxy.Command(ctx, command, argument)
	if err != nil {
		return err
	}
	switch result.ResultCode {
	case ResultRejected, ResultFailed:
		return fmt.Errorf("command %s returned %s: %s", command, result.ResultCode, result.Message)
	case spec.result:
	default:
		return fmt.Errorf("command %s returned %s, expected %s", command, result.ResultCode, spec.result)
	}

	if result.CommandID != "" {
		status, err := t.proxy.WaitForCommand(ctx, result.CommandID, t.timeout)
		if err != nil {
			return err
		}
		if status.Status != TaskCompleted {
			return fmt.Errorf("command %s finished with status %s: %s", command, status.Status, status.Message)
		}
	}

	if len(spec.obsStates) == 0 {
		return nil
	}

	deadline := t.clock.NewTimer(t.timeout)
	defer deadline.Stop()
	ticker := t.clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		mu.Lock()
		events := append([]ObsState(nil), observed...)
		mu.Unlock()
		if containsInOrder(events, spec.obsStates) {
			return nil
		}

		select {
		case <-deadline.C():
			return fmt.Errorf("command %s: observation states %v did not include %v within %s",
				command, events, spec.obsStates, t.timeout)
		case <-ticker.C():
		}
	}
}

// containsInOrder reports whether want appears in events as a subsequence.
func containsInOrder(events, want []ObsState) bool {
	i := 0
	for _, e := range events {
		if i < len(want) && e == want[i] {
			i++
		}
	}
	return i == len(want)
}

// PreviousCommand returns the last command name issued.
func (t *CommandTracker) PreviousCommand() string { return t.prevCommand }

// PreviousObsState returns the observation state the device was in before
// the last command.
func (t *CommandTracker) PreviousObsState() ObsState { return t.prevObsState }

// PreviousCommandError returns the recorded error of the last command, or
// nil if it succeeded.
func (t *CommandTracker) PreviousCommandError() error { return t.prevErr }

// AssertPreviousCommandFailed checks that the last command recorded an
// error.
func (t *CommandTracker) AssertPreviousCommandFailed() error {
	if t.prevErr == nil {
		return fmt.Errorf("previous command %s did not fail", t.prevCommand)
	}
	return nil
}

// AssertPreviousCommandErrorMatches checks the recorded error message of
// the last command against a regular expression.
func (t *CommandTracker) AssertPreviousCommandErrorMatches(pattern string) error {
	if t.prevErr == nil {
		return fmt.Errorf("previous command %s did not fail", t.prevCommand)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("bad error pattern: %w", err)
	}
	if !re.MatchString(t.prevErr.Error()) {
		return fmt.Errorf("error message %q does not match %q", t.prevErr.Error(), pattern)
	}
	return nil
}

// AssertPreviousCommandRejected checks that the last command was refused
// because of the observation state the device was in.
func (t *CommandTracker) AssertPreviousCommandRejected() error {
	return t.AssertPreviousCommandErrorMatches(fmt.Sprintf(
		"%s command not permitted in observation state %s", t.prevCommand, t.prevObsState))
}
