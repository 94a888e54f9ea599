package llm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIErrorMessage(t *testing.T) {
	withType := &APIError{Provider: "openai", StatusCode: 429, Message: "slow down", Type: "rate_limit_error"}
	assert.Equal(t, "openai: API error (status 429, type rate_limit_error): slow down", withType.Error())

	withoutType := &APIError{Provider: "gemini", StatusCode: 500, Message: "oops"}
	assert.Equal(t, "gemini: API error (status 500): oops", withoutType.Error())
}

func TestAPIErrorIsTransient(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{status: 0, want: true}, // no HTTP response received
		{status: 429, want: true},
		{status: 500, want: true},
		{status: 503, want: true},
		{status: 400, want: false},
		{status: 401, want: false},
		{status: 404, want: false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			err := &APIError{Provider: "openai", StatusCode: tt.status}
			assert.Equal(t, tt.want, err.IsTransient())
			assert.Equal(t, tt.want, isTransientError(err))
		})
	}
}

func TestIsTransientErrorNonAPIError(t *testing.T) {
	assert.False(t, isTransientError(errors.New("plain")))
	assert.True(t, isTransientError(fmt.Errorf("wrapped: %w", &APIError{StatusCode: 502})))
}
