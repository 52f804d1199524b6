// internal/wizard/steps_test.go
package wizard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivelend/onboarding-backend/internal/apperrors"
	"github.com/drivelend/onboarding-backend/internal/models"
)

func TestValidateBasicsPayload(t *testing.T) {
	require.NoError(t, ValidateStepPayload(models.StepBasics, validBasics()))

	cases := []struct {
		name   string
		mutate func(models.JSONB)
	}{
		{"missing name", func(p models.JSONB) { delete(p, "full_name") }},
		{"bad date format", func(p models.JSONB) { p["date_of_birth"] = "12/04/1990" }},
		{"unknown vehicle category", func(p models.JSONB) { p["vehicle_category"] = "tank" }},
		{"zero amount", func(p models.JSONB) { p["requested_amount"] = 0.0 }},
		{"term too short", func(p models.JSONB) { p["term_months"] = 3 }},
		{"term too long", func(p models.JSONB) { p["term_months"] = 120 }},
		{"no consent", func(p models.JSONB) { p["consent_to_processing"] = false }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := validBasics()
			tc.mutate(payload)
			err := ValidateStepPayload(models.StepBasics, payload)
			require.Error(t, err)
			assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
		})
	}
}

func TestValidateContactPayload(t *testing.T) {
	require.NoError(t, ValidateStepPayload(models.StepContact, validContact()))

	bad := validContact()
	bad["email"] = "not-an-email"
	err := ValidateStepPayload(models.StepContact, bad)
	require.Error(t, err)
	assert.Contains(t, apperrors.Normalize(err).Message, "email")
}

func TestValidateEmploymentPayload(t *testing.T) {
	require.NoError(t, ValidateStepPayload(models.StepEmployment, validEmployment()))

	noRecords := models.JSONB{"credit_score_band": "good", "records": []interface{}{}}
	require.Error(t, ValidateStepPayload(models.StepEmployment, noRecords))

	badBand := validEmployment()
	badBand["credit_score_band"] = "stellar"
	require.Error(t, ValidateStepPayload(models.StepEmployment, badBand))

	// One bad record fails the step even when another is valid.
	mixed := validEmployment()
	mixed["records"] = append(mixed["records"].([]interface{}), map[string]interface{}{
		"employer": "X",
	})
	require.Error(t, ValidateStepPayload(models.StepEmployment, mixed))
}

func TestDocumentsAndReviewSteps(t *testing.T) {
	// Documents completion is gated by uploads, not form fields.
	assert.NoError(t, ValidateStepPayload(models.StepDocuments, models.JSONB{}))

	err := ValidateStepPayload(models.StepReview, models.JSONB{})
	require.Error(t, err)

	err = ValidateStepPayload("garage", models.JSONB{})
	require.Error(t, err)
}

func TestMalformedPayloadShape(t *testing.T) {
	err := ValidateStepPayload(models.StepBasics, models.JSONB{"term_months": "forty-eight"})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}
