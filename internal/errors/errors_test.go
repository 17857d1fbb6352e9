package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFusionError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("connection refused")

	// When: wrapping with FusionError
	fe := New(ErrCodeSourceUnavailable, "lexical store down", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, fe)
	assert.Equal(t, originalErr, errors.Unwrap(fe))
	assert.True(t, errors.Is(fe, originalErr))
}

func TestFusionError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      *FusionError
		expected string
	}{
		{
			name:     "without source",
			err:      New(ErrCodeInvalidInput, "weight for vector is negative", nil),
			expected: "[ERR_401_INVALID_INPUT] weight for vector is negative",
		},
		{
			name:     "with source",
			err:      SourceTimeout("graph_global", nil),
			expected: "[ERR_301_SOURCE_TIMEOUT] graph_global: timed out",
		},
		{
			name:     "all sources failed",
			err:      AllSourcesFailed(),
			expected: "[ERR_501_ALL_SOURCES_FAILED] all retrieval sources failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestFusionError_Is_MatchesSentinelByCode(t *testing.T) {
	err := fmt.Errorf("fuse: %w", InvalidInput("weight for %s is negative", "lexical"))

	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.False(t, errors.Is(err, ErrAllSourcesFailed))
}

func TestNew_DerivesCategorySeverityRetryable(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{ErrCodeConfigInvalid, CategoryConfig, SeverityError, false},
		{ErrCodeSnapshotCorrupt, CategoryIO, SeverityError, false},
		{ErrCodeStoreIO, CategoryIO, SeverityError, true},
		{ErrCodeSourceTimeout, CategorySource, SeverityWarning, true},
		{ErrCodeSourceUnavailable, CategorySource, SeverityWarning, true},
		{ErrCodeRerankerUnavailable, CategorySource, SeverityWarning, true},
		{ErrCodeInvalidQuery, CategoryValidation, SeverityWarning, false},
		{ErrCodeInvalidInput, CategoryValidation, SeverityFatal, false},
		{ErrCodeAllSourcesFailed, CategoryFusion, SeverityFatal, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			fe := New(tt.code, "msg", nil)
			assert.Equal(t, tt.category, fe.Category)
			assert.Equal(t, tt.severity, fe.Severity)
			assert.Equal(t, tt.retryable, fe.Retryable)
		})
	}
}

func TestIsFatal_OnlyInvalidInputAndAllSourcesFailed(t *testing.T) {
	assert.True(t, IsFatal(InvalidInput("bad")))
	assert.True(t, IsFatal(fmt.Errorf("wrapped: %w", AllSourcesFailed())))
	assert.False(t, IsFatal(SourceTimeout("vector", nil)))
	assert.False(t, IsFatal(RerankerUnavailable(errors.New("503"))))
	assert.False(t, IsFatal(errors.New("plain")))
	assert.False(t, IsFatal(nil))
}

type timeoutNetErr struct{}

func (timeoutNetErr) Error() string   { return "i/o timeout" }
func (timeoutNetErr) Timeout() bool   { return true }
func (timeoutNetErr) Temporary() bool { return true }

var _ net.Error = timeoutNetErr{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"deadline", context.DeadlineExceeded, ErrCodeSourceTimeout},
		{"wrapped deadline", fmt.Errorf("bm25: %w", context.DeadlineExceeded), ErrCodeSourceTimeout},
		{"net timeout", timeoutNetErr{}, ErrCodeSourceTimeout},
		{"generic", errors.New("connection refused"), ErrCodeSourceUnavailable},
		{"invalid query kept", InvalidQuery("", errors.New("bad syntax")), ErrCodeInvalidQuery},
		{"circuit open", ErrCircuitOpen, ErrCodeSourceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fe := Classify("lexical", tt.err)
			require.NotNil(t, fe)
			assert.Equal(t, tt.code, fe.Code)
			assert.Equal(t, "lexical", fe.Source)
		})
	}

	assert.Nil(t, Classify("lexical", nil))
}

func TestClassify_DoesNotMutateSentinel(t *testing.T) {
	_ = Classify("vector", ErrSourceTimeout)
	assert.Empty(t, ErrSourceTimeout.Source)
}

func TestAllSourcesFailed_JoinsCauses(t *testing.T) {
	a := SourceTimeout("vector", context.DeadlineExceeded)
	b := SourceUnavailable("lexical", errors.New("closed"))

	err := AllSourcesFailed(a, b)

	assert.True(t, errors.Is(err, ErrAllSourcesFailed))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, ErrCodeAllSourcesFailed, GetCode(err))
	assert.Equal(t, CategoryFusion, GetCategory(err))
}

func TestFormatForCLI(t *testing.T) {
	out := FormatForCLI(InvalidInput("weight for vector is negative").WithDetail("weight", "-1"))

	assert.Contains(t, out, "Error: weight for vector is negative")
	assert.Contains(t, out, "weight: -1")
	assert.Contains(t, out, "Hint:")
	assert.Contains(t, out, "[ERR_401_INVALID_INPUT]")

	assert.Equal(t, "Error: boom\n", FormatForCLI(errors.New("boom")))
	assert.Empty(t, FormatForCLI(nil))
}
