package security

import (
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jdziat/durable-queue/pkg/core"
)

// Security limits and configuration
const (
	// MaxJobTypeNameLength is the maximum length for job type names
	MaxJobTypeNameLength = 255

	// MaxJobArgsSize is the maximum size in bytes for job arguments (1MB)
	MaxJobArgsSize = 1 << 20

	// MaxAttempts is the hard limit for attempts per job
	MaxAttempts = 100

	// MaxJobTimeout is the longest hard timeout a job may ask for
	MaxJobTimeout = 24 * time.Hour

	// MaxMemoryMB is the highest worker memory ceiling accepted
	MaxMemoryMB = 1 << 16

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096

	// MaxQueueNameLength is the maximum length for queue names
	MaxQueueNameLength = 255

	// MaxUniqueKeyLength is the maximum length for unique keys
	MaxUniqueKeyLength = 255

	// MinPriority and MaxPriority bound job priorities to what every
	// backend orders identically.
	MinPriority = math.MinInt32
	MaxPriority = math.MaxInt32
)

// validName is shared by job types and queue names. Queue names end up in
// pebble keys, so separators such as ':' and '/' are excluded.
var validName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]*$`)

func validateName(name string, limit int, invalid, tooLong error) error {
	switch {
	case name == "":
		return invalid
	case len(name) > limit:
		return tooLong
	case !validName.MatchString(name):
		return invalid
	}
	return nil
}

// ValidateJobTypeName checks a handler name given to Register or Submit.
func ValidateJobTypeName(name string) error {
	return validateName(name, MaxJobTypeNameLength, core.ErrInvalidJobTypeName, core.ErrJobTypeNameTooLong)
}

// ValidateQueueName checks a queue name.
func ValidateQueueName(name string) error {
	return validateName(name, MaxQueueNameLength, core.ErrInvalidQueueName, core.ErrQueueNameTooLong)
}

// ValidateArgs checks the encoded argument payload size.
func ValidateArgs(payload []byte) error {
	if len(payload) > MaxJobArgsSize {
		return core.ErrJobArgsTooLarge
	}
	return nil
}

// ValidateUniqueKey checks the length of an explicit unique key.
func ValidateUniqueKey(key string) error {
	if len(key) > MaxUniqueKeyLength {
		return core.ErrUniqueKeyTooLong
	}
	return nil
}

// SanitizeErrorMessage drops control characters other than whitespace and
// truncates msg to MaxErrorMessageLength runes before it is persisted in
// failed jobs, attempt history and snapshots.
func SanitizeErrorMessage(msg string) string {
	clean := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			return r
		}
		return -1
	}, msg)
	if utf8.RuneCountInString(clean) <= MaxErrorMessageLength {
		return clean
	}
	runes := []rune(clean)
	return string(runes[:MaxErrorMessageLength-3]) + "..."
}

// ClampAttempts keeps a max-attempts setting within [1, MaxAttempts]
func ClampAttempts(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxAttempts {
		return MaxAttempts
	}
	return n
}

// ClampPriority keeps a priority within [MinPriority, MaxPriority].
func ClampPriority(p int) int {
	return min(max(p, MinPriority), MaxPriority)
}

// ClampTimeout keeps a job timeout within [0, MaxJobTimeout]. Zero means
// no timeout.
func ClampTimeout(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > MaxJobTimeout {
		return MaxJobTimeout
	}
	return d
}

// ClampMemoryMB keeps a memory ceiling within [0, MaxMemoryMB]. Zero
// disables the ceiling.
func ClampMemoryMB(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxMemoryMB {
		return MaxMemoryMB
	}
	return n
}
