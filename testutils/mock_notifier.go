package testutils

import (
	"fmt"
	"sync"
)

// MockNotifier records alerts.
type MockNotifier struct {
	mu   sync.Mutex
	sent []string
}

func NewMockNotifier() *MockNotifier { return &MockNotifier{} }

func (n *MockNotifier) Send(msg string) {
	n.mu.Lock()
	n.sent = append(n.sent, msg)
	n.mu.Unlock()
}

func (n *MockNotifier) Sendf(format string, args ...any) { n.Send(fmt.Sprintf(format, args...)) }

// Messages returns a copy of every alert sent.
func (n *MockNotifier) Messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent...)
}
