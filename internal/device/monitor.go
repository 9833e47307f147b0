package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/openpst/pstbench/internal/timeutil"
)

// attributeHistory tracks the distinct values an attribute has held, in
// order. Repeated events with the same value collapse.
type attributeHistory struct {
	mu     sync.Mutex
	values []string
}

func (h *attributeHistory) current() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.values[len(h.values)-1]
}

func (h *attributeHistory) update(value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.values[len(h.values)-1] != value {
		h.values = append(h.values, value)
	}
}

func (h *attributeHistory) history() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.values...)
}

// AttributesMonitor tracks the values of a set of device attributes via
// change event subscriptions. Creating the monitor does nothing; Setup
// starts the subscriptions and Teardown releases them.
type AttributesMonitor struct {
	proxy     *Proxy
	clock     timeutil.Clock
	names     []string
	histories map[string]*attributeHistory
	subs      []*Subscription
	previous  map[string]string
}

// NewAttributesMonitor creates a monitor for the named attributes.
func NewAttributesMonitor(proxy *Proxy, names ...string) *AttributesMonitor {
	return &AttributesMonitor{
		proxy:     proxy,
		clock:     timeutil.RealClock{},
		names:     names,
		histories: make(map[string]*attributeHistory),
		previous:  make(map[string]string),
	}
}

// canonicalValue compacts a JSON value so equal values compare equal.
func canonicalValue(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// Setup reads the initial value of every attribute and subscribes to its
// change events.
func (m *AttributesMonitor) Setup(ctx context.Context) error {
	for _, name := range m.names {
		raw, err := m.proxy.ReadAttribute(ctx, name)
		if err != nil {
			m.Teardown()
			return fmt.Errorf("initial read of %s: %w", name, err)
		}
		value := canonicalValue(raw)
		history := &attributeHistory{values: []string{value}}
		m.histories[name] = history
		m.previous[name] = value

		sub, err := m.proxy.SubscribeChangeEvent(ctx, name, func(event json.RawMessage) {
			history.update(canonicalValue(event))
		})
		if err != nil {
			m.Teardown()
			return fmt.Errorf("subscribe to %s: %w", name, err)
		}
		m.subs = append(m.subs, sub)
	}
	return nil
}

// Teardown releases every change event subscription.
func (m *AttributesMonitor) Teardown() {
	for _, sub := range m.subs {
		sub.Unsubscribe()
	}
	m.subs = nil
}

// CurrentValue returns the latest observed value of an attribute as
// canonical JSON.
func (m *AttributesMonitor) CurrentValue(name string) (string, error) {
	history, ok := m.histories[name]
	if !ok {
		return "", fmt.Errorf("attribute %s is not monitored", name)
	}
	return history.current(), nil
}

// History returns the distinct values an attribute has held, oldest first.
func (m *AttributesMonitor) History(name string) []string {
	history, ok := m.histories[name]
	if !ok {
		return nil
	}
	return history.history()
}

// CurrentValues captures and returns the latest value of every attribute.
func (m *AttributesMonitor) CurrentValues() map[string]string {
	m.CaptureCurrentValues()
	return maps.Clone(m.previous)
}

// CaptureCurrentValues snapshots the latest values so a later call can
// check whether anything changed.
func (m *AttributesMonitor) CaptureCurrentValues() {
	for name, history := range m.histories {
		m.previous[name] = history.current()
	}
}

// ValuesChanged reports whether any attribute differs from the last
// captured snapshot.
func (m *AttributesMonitor) ValuesChanged() bool {
	for name, history := range m.histories {
		if m.previous[name] != history.current() {
			return true
		}
	}
	return false
}

// AssertAttribute checks the latest value of an attribute against a
// predicate.
func (m *AttributesMonitor) AssertAttribute(name string, assertion func(value string) bool) error {
	value, err := m.CurrentValue(name)
	if err != nil {
		return err
	}
	if !assertion(value) {
		return fmt.Errorf("attribute %s did not meet value assertion, current value %s", name, value)
	}
	return nil
}

// WaitForUpdate blocks until the attribute takes a value different from the
// one it held on entry, or the timeout passes.
func (m *AttributesMonitor) WaitForUpdate(name string, timeout time.Duration) error {
	history, ok := m.histories[name]
	if !ok {
		return fmt.Errorf("attribute %s is not monitored", name)
	}
	initial := history.current()

	deadline := m.clock.NewTimer(timeout)
	defer deadline.Stop()
	ticker := m.clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			if history.current() != initial {
				return nil
			}
		case <-deadline.C():
			return fmt.Errorf("attribute %s was not updated within %s", name, timeout)
		}
	}
}
