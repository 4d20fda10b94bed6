package types

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestStatusOnlyMovesForward(t *testing.T) {
	tests := []struct {
		from, to RequestStatus
		want     bool
	}{
		{RequestPending, RequestProcessing, true},
		{RequestPending, RequestCompleted, false},
		{RequestPending, RequestFailed, false},
		{RequestProcessing, RequestCompleted, true},
		{RequestProcessing, RequestFailed, true},
		{RequestProcessing, RequestPending, false},
		{RequestCompleted, RequestFailed, false},
		{RequestFailed, RequestCompleted, false},
		{RequestCompleted, RequestProcessing, false},
		{RequestProcessing, RequestProcessing, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanAdvance(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestPendingRequestCannotSkipProcessing(t *testing.T) {
	req := &GenerationRequest{Status: RequestPending}
	err := req.Complete(map[string]string{"index.html": "x"}, 1, time.Now())
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, RequestPending, req.Status)
	assert.Nil(t, req.Result)

	assert.ErrorIs(t, req.Fail("boom", time.Now()), ErrInvalidTransition)
	assert.Equal(t, RequestPending, req.Status)
}

func TestGenerationRequestComplete(t *testing.T) {
	req := &GenerationRequest{Status: RequestPending}
	require.NoError(t, req.Advance(RequestProcessing))

	now := time.Now()
	require.NoError(t, req.Complete(map[string]string{"app/page.tsx": "x"}, 42, now))
	assert.Equal(t, RequestCompleted, req.Status)
	assert.Equal(t, 42, req.TokensUsed)
	require.NotNil(t, req.ProcessedAt)

	err := req.Fail("late failure", now)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, RequestCompleted, req.Status)
}

func TestParseSettings(t *testing.T) {
	t.Run("reads stack and model", func(t *testing.T) {
		s, err := ParseSettings(map[string]any{
			"stack":   " SvelteKit ",
			"aiModel": "gpt-4o",
			"theme":   123,
		})
		require.NoError(t, err)
		assert.Equal(t, "SvelteKit", s.Stack)
		assert.Equal(t, "gpt-4o", s.PreferredModel)
	})

	t.Run("preferred_model wins over aliases", func(t *testing.T) {
		s, err := ParseSettings(map[string]any{
			"model":           "gemini-1.5-pro",
			"preferred_model": "claude-3-5-sonnet",
		})
		require.NoError(t, err)
		assert.Equal(t, "claude-3-5-sonnet", s.PreferredModel)
	})

	t.Run("rejects non-string values", func(t *testing.T) {
		_, err := ParseSettings(map[string]any{"stack": 7})
		assert.Error(t, err)
	})

	t.Run("empty map", func(t *testing.T) {
		s, err := ParseSettings(nil)
		require.NoError(t, err)
		assert.Equal(t, ProjectSettings{}, s)
	})
}

func TestContainerActive(t *testing.T) {
	assert.True(t, (&Container{Status: ContainerRunning}).Active())
	assert.True(t, (&Container{Status: ContainerError}).Active())
	assert.False(t, (&Container{Status: ContainerStopped}).Active())
}
