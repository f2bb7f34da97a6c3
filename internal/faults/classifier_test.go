package faults

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlens/voxlens/types"
)

func TestClassify_Kinds(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		kind      types.ErrorCode
		retryable bool
	}{
		{"timeout", errors.New("request timed out after 30s"), types.ErrTimeout, true},
		{"deadline", context.DeadlineExceeded, types.ErrTimeout, true},
		{"network", errors.New("dial tcp: connection refused"), types.ErrNetwork, true},
		{"transcription", errors.New("transcription failed: unsupported audio codec"), types.ErrTranscription, true},
		{"storage", errors.New("write failed: no space left on device"), types.ErrStorage, true},
		{"validation", errors.New("missing required field: audio"), types.ErrValidation, false},
		{"unknown", errors.New("something odd happened"), types.ErrUnknown, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.err)
			require.NotNil(t, got)
			assert.Equal(t, tc.kind, got.Code)
			assert.Equal(t, tc.retryable, got.Retryable)
			assert.NotEmpty(t, got.UserMessage)
			// The user message never leaks the technical detail.
			assert.NotEqual(t, got.Message, got.UserMessage)
		})
	}
}

func TestClassify_PassthroughTyped(t *testing.T) {
	orig := types.NewError(types.ErrPayloadTooLarge, "audio exceeds 25MB").WithProvider("whisper")
	got := Classify(fmt.Errorf("wrapped: %w", orig))
	assert.Same(t, orig, got)
}

func TestClassify_Nil(t *testing.T) {
	assert.Nil(t, Classify(nil))
}

func TestBackoff_Exponential(t *testing.T) {
	base := time.Second
	assert.Equal(t, 1*time.Second, Backoff(base, 0))
	assert.Equal(t, 2*time.Second, Backoff(base, 1))
	assert.Equal(t, 4*time.Second, Backoff(base, 2))
	assert.Equal(t, 8*time.Second, Backoff(base, 3))
}

func TestBackoff_Defaults(t *testing.T) {
	assert.Equal(t, DefaultRetryAfter, Backoff(0, 0))
	assert.Equal(t, DefaultRetryAfter, Backoff(DefaultRetryAfter, -3))
}
