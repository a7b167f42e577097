package validator_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobkit/pkg/validator"
)

func TestApply(t *testing.T) {
	t.Parallel()

	t.Run("passing rules", func(t *testing.T) {
		t.Parallel()

		err := validator.Apply(
			validator.Required("name", "invoice"),
			validator.MaxLen("name", "invoice", 10),
		)
		assert.NoError(t, err)
	})

	t.Run("collects failures", func(t *testing.T) {
		t.Parallel()

		err := validator.Apply(
			validator.Required("to", " "),
			validator.ValidEmail("to", " "),
			validator.PositiveAmount("amount", int64(0)),
			validator.Required("subject", "Hello"),
		)
		require.Error(t, err)
		assert.ErrorIs(t, err, validator.ErrValidationFailed)

		verrs := validator.ExtractValidationErrors(fmt.Errorf("wrapped: %w", err))
		require.Len(t, verrs, 3)
		assert.Equal(t, []string{"to", "amount"}, verrs.Fields())
		assert.True(t, verrs.Has("amount"))
		assert.False(t, verrs.Has("subject"))
		assert.Equal(t, []string{"field is required", "must be a valid email address"}, verrs.Messages("to"))
		assert.Equal(t, validator.ValidationError{Field: "amount", Code: "positive_amount", Message: "amount must be positive"}, verrs[2])
		assert.Equal(t, "validation failed: to: field is required; to: must be a valid email address; amount: amount must be positive", err.Error())
	})

	t.Run("plain errors are not validation errors", func(t *testing.T) {
		t.Parallel()

		plain := errors.New("boom")
		assert.Nil(t, validator.ExtractValidationErrors(plain))
		assert.Nil(t, validator.ExtractValidationErrors(nil))
		assert.NotErrorIs(t, plain, validator.ErrValidationFailed)
	})
}

func TestWhen(t *testing.T) {
	t.Parallel()

	failing := validator.Required("since", "")
	assert.True(t, validator.When(false, failing).Check())
	assert.False(t, validator.When(true, failing).Check())
	assert.Equal(t, "since", validator.When(false, failing).Error.Field)
}

func TestRules(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		rule validator.Rule
		ok   bool
	}{
		{"min len ok", validator.MinLen("f", "abc", 3), true},
		{"min len short", validator.MinLen("f", "ab", 3), false},
		{"max len long", validator.MaxLen("f", "abcd", 3), false},
		{"required num", validator.RequiredNum("f", 0), false},
		{"min", validator.Min("f", 5, 1), true},
		{"min below", validator.Min("f", 0, 1), false},
		{"max above", validator.Max("f", 11.5, 10), false},
		{"min duration", validator.MinDuration("f", time.Minute, time.Hour), false},
		{"max duration", validator.MaxDuration("f", time.Hour, 24*time.Hour), true},
		{"one of", validator.OneOf("f", "hubspot", []string{"hubspot", "salesforce"}), true},
		{"not one of", validator.OneOf("f", "pipedrive", []string{"hubspot", "salesforce"}), false},
		{"not future past", validator.NotFuture("f", now.Add(-time.Hour), now), true},
		{"not future now", validator.NotFuture("f", now, now), true},
		{"not future future", validator.NotFuture("f", now.Add(time.Second), now), false},
		{"uuid", validator.ValidUUID("f", "6ba7b810-9dad-11d1-80b4-00c04fd430c8"), true},
		{"uuid without dashes", validator.ValidUUID("f", "6ba7b8109dad11d180b400c04fd430c8"), false},
		{"uuid garbage", validator.ValidUUID("f", "not-a-uuid"), false},
		{"email", validator.ValidEmail("f", "billing@example.com"), true},
		{"email with name", validator.ValidEmail("f", "Billing <billing@example.com>"), false},
		{"email no dot", validator.ValidEmail("f", "user@localhost"), false},
		{"email empty label", validator.ValidEmail("f", "user@example..com"), false},
		{"url", validator.ValidURL("f", "https://api.example.com/v1"), true},
		{"url relative", validator.ValidURL("f", "/v1/sync"), false},
		{"url scheme", validator.ValidURL("f", "ftp://example.com"), false},
		{"url custom scheme", validator.ValidURL("f", "ftp://example.com", "ftp"), true},
		{"amount", validator.PositiveAmount("f", 1250), true},
		{"negative amount", validator.PositiveAmount("f", -1.0), false},
		{"currency", validator.ValidCurrencyCode("f", "BRL"), true},
		{"currency lower", validator.ValidCurrencyCode("f", "brl"), false},
		{"currency unknown", validator.ValidCurrencyCode("f", "XYZ"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.ok, tt.rule.Check())
		})
	}
}

func TestValidationErrors_Empty(t *testing.T) {
	t.Parallel()

	var verrs validator.ValidationErrors
	assert.Equal(t, "validation failed", verrs.Error())
	assert.Empty(t, verrs.Fields())
	assert.False(t, verrs.Has("queue"))
	assert.ErrorIs(t, verrs, validator.ErrValidationFailed)
}
