// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package llm

import "context"

// MockProvider returns a fixed Completion (or error) regardless of prompt,
// for runtime tests that need a deterministic model turn.
type MockProvider struct {
	Completion Completion
	Err        error
	Calls      []string
}

// NewMockProvider returns a MockProvider that always yields completion.
func NewMockProvider(completion Completion) *MockProvider {
	return &MockProvider{Completion: completion}
}

// Name implements Provider.
func (m *MockProvider) Name() string { return "mock" }

// Complete implements Provider, recording the prompt it was called with.
func (m *MockProvider) Complete(ctx context.Context, prompt string, reqCtx map[string]interface{}) (Completion, error) {
	m.Calls = append(m.Calls, prompt)
	if m.Err != nil {
		return Completion{}, m.Err
	}
	return m.Completion, nil
}
