package types

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Builders(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewError(ErrNetwork, "provider unreachable").
		WithCause(cause).
		WithUserMessage("The service is temporarily unavailable.").
		WithRetryable(true).
		WithRetryAfter(2 * time.Second).
		WithProvider("deepgram")

	assert.Equal(t, ErrNetwork, err.Code)
	assert.True(t, err.Retryable)
	assert.Equal(t, 2*time.Second, err.RetryAfter)
	assert.Equal(t, "deepgram", err.Provider)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "NETWORK_ERROR")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewError(ErrTimeout, "t").WithRetryable(true)))
	assert.False(t, IsRetryable(NewError(ErrValidation, "v")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestDetailFromError(t *testing.T) {
	err := NewError(ErrTranscription, "decode failed").
		WithUserMessage("Transcription failed, please retry.").
		WithRetryable(true)

	d := DetailFromError(err, 2)
	require.NotNil(t, d)
	assert.Equal(t, ErrTranscription, d.Kind)
	assert.Equal(t, 2, d.RetryCount)
	assert.True(t, d.Retryable)
	assert.NotEqual(t, d.Message, d.UserMessage)
}
