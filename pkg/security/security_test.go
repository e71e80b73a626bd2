package security

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jdziat/durable-queue/pkg/core"
)

func TestValidateJobTypeName(t *testing.T) {
	tests := []struct {
		name string
		want error
	}{
		{"send-email", nil},
		{"reports.monthly", nil},
		{"Resize_Image_V2", nil},
		{"x", nil},
		{"", core.ErrInvalidJobTypeName},
		{"2fa-reset", core.ErrInvalidJobTypeName},
		{"_private", core.ErrInvalidJobTypeName},
		{"send email", core.ErrInvalidJobTypeName},
		{"billing:charge", core.ErrInvalidJobTypeName},
		{strings.Repeat("j", MaxJobTypeNameLength+1), core.ErrJobTypeNameTooLong},
	}
	for _, tt := range tests {
		err := ValidateJobTypeName(tt.name)
		if tt.want == nil {
			assert.NoError(t, err, tt.name)
		} else {
			assert.ErrorIs(t, err, tt.want, tt.name)
		}
	}
}

func TestValidateQueueName(t *testing.T) {
	tests := []struct {
		name string
		want error
	}{
		{core.DefaultQueue, nil},
		{"mail-high", nil},
		{"images_v2", nil},
		{"", core.ErrInvalidQueueName},
		{"bad queue!", core.ErrInvalidQueueName},
		{"tenant/1", core.ErrInvalidQueueName},
		{strings.Repeat("q", MaxQueueNameLength+1), core.ErrQueueNameTooLong},
	}
	for _, tt := range tests {
		err := ValidateQueueName(tt.name)
		if tt.want == nil {
			assert.NoError(t, err, tt.name)
		} else {
			assert.ErrorIs(t, err, tt.want, tt.name)
		}
	}
}

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "dial tcp: connection refused", "dial tcp: connection refused"},
		{"keeps whitespace", "panic: boom\n\tgoroutine 1", "panic: boom\n\tgoroutine 1"},
		{"drops control bytes", "bad\x00row\x1b[31m", "badrow[31m"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeErrorMessage(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestSanitizeErrorMessage_Truncation(t *testing.T) {
	longMessage := strings.Repeat("a", 5000)
	result := SanitizeErrorMessage(longMessage)

	assert.LessOrEqual(t, len(result), MaxErrorMessageLength)
	assert.True(t, strings.HasSuffix(result, "..."))
}

func TestValidateArgs(t *testing.T) {
	assert.NoError(t, ValidateArgs([]byte(`{"to":"a@b.c"}`)))
	assert.NoError(t, ValidateArgs(nil))
	assert.ErrorIs(t, ValidateArgs(make([]byte, MaxJobArgsSize+1)), core.ErrJobArgsTooLarge)
}

func TestValidateUniqueKey(t *testing.T) {
	assert.NoError(t, ValidateUniqueKey("invoice:42"))
	assert.ErrorIs(t, ValidateUniqueKey(strings.Repeat("k", 300)), core.ErrUniqueKeyTooLong)
}

func TestClampAttempts(t *testing.T) {
	tests := []struct {
		input    int
		expected int
	}{
		{-1, 1},
		{0, 1},
		{3, 3},
		{100, 100},
		{101, 100},
	}

	for _, tt := range tests {
		result := ClampAttempts(tt.input)
		assert.Equal(t, tt.expected, result, "ClampAttempts(%d)", tt.input)
	}
}

func TestClampPriority(t *testing.T) {
	assert.Equal(t, 7, ClampPriority(7))
	assert.Equal(t, -7, ClampPriority(-7))
	assert.Equal(t, MaxPriority, ClampPriority(1<<40))
	assert.Equal(t, MinPriority, ClampPriority(-(1 << 40)))
}

func TestClampTimeout(t *testing.T) {
	assert.Equal(t, time.Duration(0), ClampTimeout(-time.Second))
	assert.Equal(t, 30*time.Second, ClampTimeout(30*time.Second))
	assert.Equal(t, MaxJobTimeout, ClampTimeout(48*time.Hour))
}

func TestClampMemoryMB(t *testing.T) {
	assert.Equal(t, 0, ClampMemoryMB(-5))
	assert.Equal(t, 128, ClampMemoryMB(128))
	assert.Equal(t, MaxMemoryMB, ClampMemoryMB(MaxMemoryMB+1))
}

func TestConstants(t *testing.T) {
	assert.Equal(t, 255, MaxJobTypeNameLength)
	assert.Equal(t, 1<<20, MaxJobArgsSize) // 1MB
	assert.Equal(t, 100, MaxAttempts)
	assert.Equal(t, 4096, MaxErrorMessageLength)
	assert.Equal(t, 255, MaxQueueNameLength)
	assert.Equal(t, 255, MaxUniqueKeyLength)
}
