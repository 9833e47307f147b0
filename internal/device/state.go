// Package device drives a signal processing control device over its HTTP
// surface: attribute reads and writes, commands, and server-sent change
// events. On top of the raw proxy it provides attribute history monitoring
// and long-running command tracking for bench assertions.
package device

import (
	"encoding/json"
	"fmt"
)

// ObsState is the observation state of a device.
type ObsState int

const (
	ObsEmpty ObsState = iota
	ObsIdle
	ObsConfiguring
	ObsReady
	ObsScanning
	ObsAborting
	ObsAborted
	ObsResetting
	ObsFault
)

var obsStateNames = map[ObsState]string{
	ObsEmpty:       "EMPTY",
	ObsIdle:        "IDLE",
	ObsConfiguring: "CONFIGURING",
	ObsReady:       "READY",
	ObsScanning:    "SCANNING",
	ObsAborting:    "ABORTING",
	ObsAborted:     "ABORTED",
	ObsResetting:   "RESETTING",
	ObsFault:       "FAULT",
}

func (s ObsState) String() string {
	if name, ok := obsStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ObsState(%d)", int(s))
}

// ParseObsState parses an observation state name.
func ParseObsState(name string) (ObsState, error) {
	for state, n := range obsStateNames {
		if n == name {
			return state, nil
		}
	}
	return 0, fmt.Errorf("unknown observation state %q", name)
}

// MarshalJSON encodes the state by name.
func (s ObsState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a state name.
func (s *ObsState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	state, err := ParseObsState(name)
	if err != nil {
		return err
	}
	*s = state
	return nil
}

// ResultCode is the immediate result of invoking a command.
type ResultCode int

const (
	ResultOK ResultCode = iota
	ResultStarted
	ResultQueued
	ResultFailed
	ResultRejected
)

var resultCodeNames = map[ResultCode]string{
	ResultOK:       "OK",
	ResultStarted:  "STARTED",
	ResultQueued:   "QUEUED",
	ResultFailed:   "FAILED",
	ResultRejected: "REJECTED",
}

func (c ResultCode) String() string {
	if name, ok := resultCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ResultCode(%d)", int(c))
}

// ParseResultCode parses a result code name.
func ParseResultCode(name string) (ResultCode, error) {
	for code, n := range resultCodeNames {
		if n == name {
			return code, nil
		}
	}
	return 0, fmt.Errorf("unknown result code %q", name)
}

// MarshalJSON encodes the code by name.
func (c ResultCode) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes a code name.
func (c *ResultCode) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	code, err := ParseResultCode(name)
	if err != nil {
		return err
	}
	*c = code
	return nil
}

// TaskStatus is the lifecycle state of a long-running command.
type TaskStatus int

const (
	TaskQueued TaskStatus = iota
	TaskInProgress
	TaskCompleted
	TaskAborted
	TaskFailed
	TaskRejected
)

var taskStatusNames = map[TaskStatus]string{
	TaskQueued:     "QUEUED",
	TaskInProgress: "IN_PROGRESS",
	TaskCompleted:  "COMPLETED",
	TaskAborted:    "ABORTED",
	TaskFailed:     "FAILED",
	TaskRejected:   "REJECTED",
}

func (s TaskStatus) String() string {
	if name, ok := taskStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("TaskStatus(%d)", int(s))
}

// Terminal reports whether the status is a final one.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskAborted, TaskFailed, TaskRejected:
		return true
	}
	return false
}

// ParseTaskStatus parses a task status name.
func ParseTaskStatus(name string) (TaskStatus, error) {
	for status, n := range taskStatusNames {
		if n == name {
			return status, nil
		}
	}
	return 0, fmt.Errorf("unknown task status %q", name)
}

// MarshalJSON encodes the status by name.
func (s TaskStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a status name.
func (s *TaskStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	status, err := ParseTaskStatus(name)
	if err != nil {
		return err
	}
	*s = status
	return nil
}
