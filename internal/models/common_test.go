// internal/models/common_test.go
package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStepAtInvertsStepNumber(t *testing.T) {
	for _, key := range StepOrder {
		got, ok := StepAt(StepNumber(key))
		assert.True(t, ok)
		assert.Equal(t, key, got)
	}
}

func TestStepAtRejectsOutOfRangeNumbers(t *testing.T) {
	for _, n := range []int{0, -1, len(StepOrder) + 1, 99} {
		_, ok := StepAt(n)
		assert.False(t, ok, "step number %d", n)
	}
}

func TestStepNumberRejectsUnknownKeys(t *testing.T) {
	assert.Equal(t, 0, StepNumber(StepKey("payment")))
}
