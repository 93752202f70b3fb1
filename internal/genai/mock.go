package genai

import (
	"context"
	"sync"
)

// MockClient is a scripted oracle for tests. It records every prompt pair it
// receives and replays queued responses in order; when the queue is empty it
// returns Reply (and Err, if set) indefinitely.
type MockClient struct {
	mu        sync.Mutex
	queue     []string
	Reply     string
	Err       error
	Delay     func(ctx context.Context) error // optional hook to simulate latency
	SystemLog []string
	UserLog   []string
}

// NewMockClient creates a mock with a fixed default reply.
func NewMockClient(reply string) *MockClient {
	return &MockClient{Reply: reply}
}

// Queue appends scripted replies consumed before the default.
func (m *MockClient) Queue(replies ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, replies...)
}

func (m *MockClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if m.Delay != nil {
		if err := m.Delay(ctx); err != nil {
			return "", err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SystemLog = append(m.SystemLog, systemPrompt)
	m.UserLog = append(m.UserLog, userPrompt)
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.queue) > 0 {
		reply := m.queue[0]
		m.queue = m.queue[1:]
		return reply, nil
	}
	return m.Reply, nil
}

func (m *MockClient) Model() string { return "mock-model" }

// Calls reports how many completions were requested.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.UserLog)
}
