package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmanError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("connection reset")

	// When: wrapping with AmanError
	amanErr := New(ErrCodeNetwork, "provider unreachable", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, amanErr)
	assert.Equal(t, originalErr, errors.Unwrap(amanErr))
	assert.True(t, errors.Is(amanErr, originalErr))
}

func TestAmanError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{
			name:     "config error",
			code:     ErrCodeConfigNotFound,
			message:  "config file not found",
			expected: "[ERR_101_CONFIG_NOT_FOUND] config file not found",
		},
		{
			name:     "provider error",
			code:     ErrCodeRateLimited,
			message:  "too many requests",
			expected: "[ERR_601_PROVIDER_RATE_LIMITED] too many requests",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestAmanError_Is_MatchesByCode(t *testing.T) {
	// Given: two errors with same code
	err1 := New(ErrCodeAuth, "key A rejected", nil)
	err2 := New(ErrCodeAuth, "key B rejected", nil)

	// Then: they match by code, different codes do not
	assert.True(t, errors.Is(err1, err2))
	assert.False(t, errors.Is(err1, New(ErrCodeBadRequest, "", nil)))
}

func TestNew_DerivesCategoryAndSeverity(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{ErrCodeRateLimited, CategoryProvider, SeverityWarning, true},
		{ErrCodeUnavailable, CategoryProvider, SeverityWarning, true},
		{ErrCodeNetwork, CategoryProvider, SeverityWarning, true},
		{ErrCodeUnknown, CategoryProvider, SeverityWarning, true},
		{ErrCodeAuth, CategoryProvider, SeverityFatal, false},
		{ErrCodeBadRequest, CategoryProvider, SeverityFatal, false},
		{ErrCodeConfigInvalid, CategoryConfig, SeverityError, false},
		{ErrCodePipelineBusy, CategoryRun, SeverityError, false},
		{ErrCodeCorruptIndex, CategoryIO, SeverityFatal, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "x", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestHelpers_SeeThroughWrapping(t *testing.T) {
	// Given: an AmanError wrapped by fmt.Errorf
	inner := New(ErrCodeAuth, "invalid api key", nil)
	wrapped := fmt.Errorf("embed batch: %w", inner)

	// Then: helpers find it in the chain
	assert.Equal(t, ErrCodeAuth, GetCode(wrapped))
	assert.Equal(t, CategoryProvider, GetCategory(wrapped))
	assert.True(t, IsFatal(wrapped))
	assert.False(t, IsRetryable(wrapped))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"rate limited", New(ErrCodeRateLimited, "slow down", nil), KindTransient},
		{"unavailable", New(ErrCodeUnavailable, "503", nil), KindTransient},
		{"network", New(ErrCodeNetwork, "dial tcp", nil), KindTransient},
		{"auth", New(ErrCodeAuth, "401", nil), KindFatal},
		{"bad request", New(ErrCodeBadRequest, "400", nil), KindFatal},
		{"plain error", errors.New("something odd"), KindTransient},
		{"wrapped fatal", fmt.Errorf("call: %w", New(ErrCodeAuth, "403", nil)), KindFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestRetryAfter_ReturnsProviderDelay(t *testing.T) {
	// Given: a rate limit error carrying a provider delay
	err := New(ErrCodeRateLimited, "slow down", nil).WithRetryAfter(7 * time.Second)

	// When: extracting the delay
	d, ok := RetryAfter(fmt.Errorf("wrapped: %w", err))

	// Then: it is found
	assert.True(t, ok)
	assert.Equal(t, 7*time.Second, d)

	_, ok = RetryAfter(errors.New("plain"))
	assert.False(t, ok)
}

func TestFormatForCLI_IncludesHintAndCode(t *testing.T) {
	// Given: an error with a suggestion
	err := New(ErrCodeAuth, "provider rejected credentials", nil).
		WithSuggestion("Set OPENAI_API_KEY")

	// When: formatting for CLI
	out := FormatForCLI(err)

	// Then: message, hint and code are present
	assert.Contains(t, out, "provider rejected credentials")
	assert.Contains(t, out, "Hint: Set OPENAI_API_KEY")
	assert.Contains(t, out, "Code: ERR_604_PROVIDER_AUTH")
}

func TestLogAttrs(t *testing.T) {
	// Given: a plain error and a provider error with a delay
	plain := LogAttrs(errors.New("boom"))
	provider := LogAttrs(New(ErrCodeRateLimited, "slow down", nil).WithRetryAfter(2 * time.Second))

	// Then: the plain error keeps its message, the provider error is described
	require.Len(t, plain, 1)
	assert.Equal(t, "boom", plain[0].Value.String())

	fields := map[string]string{}
	for _, a := range provider {
		fields[a.Key] = a.Value.String()
	}
	assert.Equal(t, ErrCodeRateLimited, fields["error_code"])
	assert.Equal(t, "transient", fields["kind"])
	assert.Equal(t, "2s", fields["retry_after"])
	assert.Nil(t, LogAttrs(nil))
}

func TestFormatJSON(t *testing.T) {
	// Given: a fatal provider error with a suggestion
	err := fmt.Errorf("embed: %w", New(ErrCodeAuth, "provider rejected credentials", nil).
		WithSuggestion("Set OPENAI_API_KEY"))

	// When: rendering it as JSON
	raw, jerr := FormatJSON(err)
	require.NoError(t, jerr)

	// Then: the payload is nested under "error"
	var doc struct {
		Error Payload `json:"error"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, ErrCodeAuth, doc.Error.Code)
	assert.Equal(t, "fatal", doc.Error.Kind)
	assert.False(t, doc.Error.Retryable)
	assert.Equal(t, "Set OPENAI_API_KEY", doc.Error.Suggestion)
}

func TestNewPayload_PlainErrorIsInternal(t *testing.T) {
	p := NewPayload(errors.New("disk full"))

	require.NotNil(t, p)
	assert.Equal(t, ErrCodeInternal, p.Code)
	assert.Equal(t, "disk full", p.Message)
	assert.Empty(t, p.Cause)
	assert.Nil(t, NewPayload(nil))
}
