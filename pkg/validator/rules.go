package validator

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Required validates that a string is not empty after trimming whitespace.
func Required(field, value string) Rule {
	return newRule(field, "required", "field is required", func() bool {
		return strings.TrimSpace(value) != ""
	})
}

func MinLen(field, value string, min int) Rule {
	return newRule(field, "min_length", fmt.Sprintf("must be at least %d characters long", min), func() bool {
		return len(value) >= min
	})
}

func MaxLen(field, value string, max int) Rule {
	return newRule(field, "max_length", fmt.Sprintf("must be at most %d characters long", max), func() bool {
		return len(value) <= max
	})
}

// RequiredNum validates that a numeric value is not zero.
func RequiredNum[T Numeric](field string, value T) Rule {
	var zero T
	return newRule(field, "required", "field is required", func() bool {
		return value != zero
	})
}

func Min[T Numeric](field string, value, min T) Rule {
	return newRule(field, "min", fmt.Sprintf("must be at least %v", min), func() bool {
		return value >= min
	})
}

func Max[T Numeric](field string, value, max T) Rule {
	return newRule(field, "max", fmt.Sprintf("must be at most %v", max), func() bool {
		return value <= max
	})
}

// MinDuration and MaxDuration format bounds as durations rather than nanoseconds.
func MinDuration(field string, value, min time.Duration) Rule {
	return newRule(field, "min_duration", fmt.Sprintf("must be at least %s", min), func() bool {
		return value >= min
	})
}

func MaxDuration(field string, value, max time.Duration) Rule {
	return newRule(field, "max_duration", fmt.Sprintf("must be at most %s", max), func() bool {
		return value <= max
	})
}

func OneOf[T comparable](field string, value T, options []T) Rule {
	return newRule(field, "in_list", fmt.Sprintf("must be one of: %v", options), func() bool {
		return slices.Contains(options, value)
	})
}

// NotFuture validates that a time is not after now.
func NotFuture(field string, value, now time.Time) Rule {
	return newRule(field, "not_future", "must not be in the future", func() bool {
		return !value.After(now)
	})
}

// ValidUUID validates the canonical 36 character UUID form.
func ValidUUID(field, value string) Rule {
	return newRule(field, "uuid", "must be a valid UUID", func() bool {
		if len(value) != 36 {
			return false
		}
		_, err := uuid.Parse(value)
		return err == nil
	})
}
