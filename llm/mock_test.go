// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockProvider_CompleteReturnsConfiguredCompletion(t *testing.T) {
	m := NewMockProvider(Completion{Content: "hello", TokensUsed: 42, FinishReason: "stop"})
	c, err := m.Complete(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", c.Content)
	assert.EqualValues(t, 42, c.TokensUsed)
	assert.Equal(t, []string{"ping"}, m.Calls)
}

func TestMockProvider_CompleteReturnsConfiguredError(t *testing.T) {
	m := &MockProvider{Err: errors.New("provider unavailable")}
	_, err := m.Complete(context.Background(), "ping", nil)
	assert.EqualError(t, err, "provider unavailable")
}
