// Package indicator drives a status LED.
package indicator

import "sync"

// Indicator is an on/off output such as an LED.
type Indicator interface {
	Set(on bool) error
	Close() error
}

// Noop returns an indicator that remembers its state and drives nothing.
func Noop() *Memory {
	return &Memory{}
}

// Memory records the last state it was set to.
type Memory struct {
	mu  sync.Mutex
	on  bool
	set int
}

func (m *Memory) Set(on bool) error {
	m.mu.Lock()
	m.on = on
	m.set++
	m.mu.Unlock()
	return nil
}

func (m *Memory) On() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.on
}

// Changes is the number of Set calls.
func (m *Memory) Changes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set
}

func (m *Memory) Close() error { return nil }
