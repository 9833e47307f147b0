package device

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openpst/pstbench/internal/httputil"
	"github.com/openpst/pstbench/internal/monitoring"
	"github.com/openpst/pstbench/internal/timeutil"
)

// Proxy is an HTTP client for one control device. Attributes are read and
// written as JSON values, commands return a result code plus a command id
// for long-running tracking, and change events arrive as a server-sent
// event stream per attribute.
type Proxy struct {
	// Name is the device designation, e.g. "low-pst/beam/01".
	Name string

	baseURL string
	client  httputil.Doer
	clock   timeutil.Clock
}

// NewProxy creates a proxy for the device served at baseURL.
func NewProxy(baseURL, name string) *Proxy {
	return NewProxyWithClient(baseURL, name, httputil.NewStandardClient(&http.Client{}))
}

// NewProxyWithClient creates a proxy using an explicit HTTP client.
func NewProxyWithClient(baseURL, name string, client httputil.Doer) *Proxy {
	return &Proxy{
		Name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		clock:   timeutil.RealClock{},
	}
}

// RequestError is a non-2xx response from the device.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("device returned %d: %s", e.StatusCode, e.Message)
}

// CommandResult is the immediate response to a command invocation.
type CommandResult struct {
	ResultCode ResultCode `json:"result_code"`
	CommandID  string     `json:"command_id,omitempty"`
	Message    string     `json:"message,omitempty"`
}

// CommandStatus is a snapshot of a long-running command.
type CommandStatus struct {
	CommandID string     `json:"command_id"`
	Status    TaskStatus `json:"status"`
	Message   string     `json:"message,omitempty"`
}

func (p *Proxy) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read response: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RequestError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}

// ReadAttribute reads the current value of an attribute.
func (p *Proxy) ReadAttribute(ctx context.Context, name string) (json.RawMessage, error) {
	var out struct {
		Value json.RawMessage `json:"value"`
	}
	if err := p.do(ctx, http.MethodGet, "/attributes/"+name, nil, &out); err != nil {
		return nil, err
	}
	return out.Value, nil
}

// WriteAttribute sets an attribute value.
func (p *Proxy) WriteAttribute(ctx context.Context, name string, value any) error {
	body := map[string]any{"value": value}
	return p.do(ctx, http.MethodPut, "/attributes/"+name, body, nil)
}

// ObsState reads the device observation state.
func (p *Proxy) ObsState(ctx context.Context) (ObsState, error) {
	raw, err := p.ReadAttribute(ctx, "obsState")
	if err != nil {
		return 0, err
	}
	var state ObsState
	if err := json.Unmarshal(raw, &state); err != nil {
		return 0, fmt.Errorf("decode obsState: %w", err)
	}
	return state, nil
}

// Command invokes a named command with an optional JSON argument.
func (p *Proxy) Command(ctx context.Context, name string, argument any) (CommandResult, error) {
	body := map[string]any{}
	if argument != nil {
		body["argument"] = argument
	}
	var result CommandResult
	if err := p.do(ctx, http.MethodPost, "/commands/"+name, body, &result); err != nil {
		return CommandResult{}, err
	}
	return result, nil
}

// CommandStatus reads the status of a long-running command.
func (p *Proxy) CommandStatus(ctx context.Context, commandID string) (CommandStatus, error) {
	var status CommandStatus
	if err := p.do(ctx, http.MethodGet, "/commands/status/"+commandID, nil, &status); err != nil {
		return CommandStatus{}, err
	}
	return status, nil
}

// WaitForCommand polls a long-running command until it reaches a terminal
// status or the timeout passes.
func (p *Proxy) WaitForCommand(ctx context.Context, commandID string, timeout time.Duration) (CommandStatus, error) {
	deadline := p.clock.NewTimer(timeout)
	defer deadline.Stop()

	ticker := p.clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		status, err := p.CommandStatus(ctx, commandID)
		if err != nil {
			return CommandStatus{}, err
		}
		if status.Status.Terminal() {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-deadline.C():
			return status, fmt.Errorf("command %s did not finish within %s: last status %s",
				commandID, timeout, status.Status)
		case <-ticker.C():
		}
	}
}

// Subscription is a handle on one attribute change event stream.
type Subscription struct {
	Attribute string

	cancel context.CancelFunc
	done   chan struct{}
}

// Unsubscribe stops the event stream and waits for the reader to exit.
// It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.cancel()
	<-s.done
}

// SubscribeChangeEvent opens the change event stream of an attribute and
// invokes callback with each event value, starting with the current value
// the device sends on subscription. The callback runs on the stream reader
// goroutine.
func (p *Proxy) SubscribeChangeEvent(ctx context.Context, attribute string, callback func(json.RawMessage)) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/events/"+attribute, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s.%s: %w", p.Name, attribute, err)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, &RequestError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	sub := &Subscription{
		Attribute: attribute,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go func() {
		defer close(sub.done)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				// Blank separators and ping comments.
				continue
			}
			callback(json.RawMessage(strings.TrimPrefix(line, "data: ")))
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			monitoring.Logf("event stream for %s.%s ended: %v", p.Name, attribute, err)
		}
	}()

	return sub, nil
}
