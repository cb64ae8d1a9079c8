package testutils

import (
	"sync"

	"github.com/evdnx/goguard/types"
)

// MockExecutor implements executor.Executor and executor.Account in-memory.
// It never fills; tests feed fills to the code under test themselves.
type MockExecutor struct {
	mu       sync.RWMutex
	equity   float64
	intents  []types.OrderIntent // captured for assertions
	cancels  []string
	failNext error
}

// NewMockExecutor creates a fresh executor with the supplied starting equity.
func NewMockExecutor(startEquity float64) *MockExecutor {
	return &MockExecutor{equity: startEquity}
}

// Submit records the intent, or returns the error set by FailNext.
func (m *MockExecutor) Submit(o types.OrderIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext; err != nil {
		m.failNext = nil
		return err
	}
	m.intents = append(m.intents, o)
	return nil
}

// Cancel records the order id.
func (m *MockExecutor) Cancel(orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels = append(m.cancels, orderID)
	return nil
}

// FailNext makes the next Submit return err.
func (m *MockExecutor) FailNext(err error) {
	m.mu.Lock()
	m.failNext = err
	m.mu.Unlock()
}

// Equity returns the configured equity.
func (m *MockExecutor) Equity() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.equity
}

func (m *MockExecutor) SetEquity(v float64) {
	m.mu.Lock()
	m.equity = v
	m.mu.Unlock()
}

// Intents returns a copy of all submitted intents (useful for assertions).
func (m *MockExecutor) Intents() []types.OrderIntent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.OrderIntent, len(m.intents))
	copy(out, m.intents)
	return out
}

// Cancels returns a copy of all cancelled order ids.
func (m *MockExecutor) Cancels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.cancels))
	copy(out, m.cancels)
	return out
}

// Reset drops recorded intents and cancels.
func (m *MockExecutor) Reset() {
	m.mu.Lock()
	m.intents = nil
	m.cancels = nil
	m.mu.Unlock()
}
