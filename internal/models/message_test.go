package models

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateMessageContent(t *testing.T) {
	_, err := ValidateMessageContent("   ")
	assert.Error(t, err)

	_, err = ValidateMessageContent(strings.Repeat("x", MaxMessageLen+1))
	assert.Error(t, err)

	got, err := ValidateMessageContent("  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestNewMessageDefaults(t *testing.T) {
	m, err := NewMessage(uuid.New(), "Alice", "hi there", "", nil)
	require.NoError(t, err)
	assert.Equal(t, MessageTypeText, m.MessageType)
	assert.False(t, m.IsEdited)
	assert.NotNil(t, m.ReadBy)
	assert.Empty(t, m.ReadBy)

	_, err = NewMessage(uuid.New(), "Alice", "hi", "broadcast", nil)
	assert.Error(t, err, "unknown message type")
}

func TestMarkReadIdempotent(t *testing.T) {
	m, err := NewMessage(uuid.New(), "Alice", "hi there", MessageTypeText, nil)
	require.NoError(t, err)

	reader := uuid.New()
	assert.True(t, m.MarkRead(reader, time.Now()))
	assert.False(t, m.MarkRead(reader, time.Now()))
	assert.Len(t, m.ReadBy, 1)

	assert.True(t, m.MarkRead(uuid.New(), time.Now()))
	assert.Len(t, m.ReadBy, 2)
}
