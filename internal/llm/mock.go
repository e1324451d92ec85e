package llm

import (
	"context"
	"sync"
)

// MockModel is a scripted Model for tests. Responses are consumed in
// order; when the queue is empty the last response repeats.
type MockModel struct {
	mu        sync.Mutex
	ModelName string
	Responses []string
	Err       error
	Calls     []string // user prompts received, in order
}

var _ Model = (*MockModel)(nil)

// NewMockModel creates a mock that replies with the given responses
func NewMockModel(responses ...string) *MockModel {
	return &MockModel{ModelName: "mock", Responses: responses}
}

func (m *MockModel) Name() string { return m.ModelName }

func (m *MockModel) Complete(ctx context.Context, messages []ChatMessage) (*Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(messages) > 0 {
		m.Calls = append(m.Calls, messages[len(messages)-1].Content)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return &Completion{Text: "", Model: m.ModelName}, nil
	}

	text := m.Responses[0]
	if len(m.Responses) > 1 {
		m.Responses = m.Responses[1:]
	}
	return &Completion{
		Text:             text,
		Model:            m.ModelName,
		PromptTokens:     len(messages) * 100,
		CompletionTokens: len(text) / 4,
		LatencyMs:        1,
	}, nil
}

func (m *MockModel) CompleteText(ctx context.Context, systemPrompt, userPrompt string) (*Completion, error) {
	return m.Complete(ctx, []ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	})
}
