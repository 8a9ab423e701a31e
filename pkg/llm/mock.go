package llm

import (
	"context"
	"sync"
)

// MockModel is a mock implementation of LanguageModel for testing.
type MockModel struct {
	InvokeFunc func(ctx context.Context, messages []Message, schema *Schema, opts Options) (*Result, error)

	// Track calls for testing
	InvokeCalls []InvokeCall

	mu sync.Mutex // protects fields above
}

type InvokeCall struct {
	Messages []Message
	Schema   *Schema
	Options  Options
}

// NewMockModel creates a new mock language model.
func NewMockModel() *MockModel {
	return &MockModel{
		InvokeCalls: make([]InvokeCall, 0),
	}
}

// Invoke records the call and delegates to InvokeFunc. With no InvokeFunc
// set, it returns an empty JSON object.
func (m *MockModel) Invoke(ctx context.Context, messages []Message, schema *Schema, opts Options) (*Result, error) {
	m.mu.Lock()
	m.InvokeCalls = append(m.InvokeCalls, InvokeCall{
		Messages: messages,
		Schema:   schema,
		Options:  opts,
	})
	m.mu.Unlock()

	if m.InvokeFunc != nil {
		return m.InvokeFunc(ctx, messages, schema, opts)
	}

	return &Result{Data: []byte(`{}`)}, nil
}

// CallCount returns the number of Invoke calls made so far.
func (m *MockModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.InvokeCalls)
}

// LastCall returns the most recent Invoke call, or nil if none were made.
func (m *MockModel) LastCall() *InvokeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.InvokeCalls) == 0 {
		return nil
	}
	call := m.InvokeCalls[len(m.InvokeCalls)-1]
	return &call
}
