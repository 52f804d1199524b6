// internal/models/application_test.go
package models

import (
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestUnlockStepIsSortedAndDuplicateFree(t *testing.T) {
	app := &Application{UnlockedSteps: pq.Int64Array{1}}

	app.UnlockStep(3)
	app.UnlockStep(2)
	app.UnlockStep(3)
	app.UnlockStep(0)
	app.UnlockStep(len(StepOrder) + 1)

	assert.Equal(t, pq.Int64Array{1, 2, 3}, app.UnlockedSteps)
	assert.True(t, app.StepUnlocked(1))
	assert.True(t, app.StepUnlocked(3))
	assert.False(t, app.StepUnlocked(4))
}
