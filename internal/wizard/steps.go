// internal/wizard/steps.go
package wizard

import (
	"encoding/json"
	"fmt"

	"github.com/drivelend/onboarding-backend/internal/apperrors"
	"github.com/drivelend/onboarding-backend/internal/models"
	"github.com/drivelend/onboarding-backend/internal/utils"
)

// ValidateStepPayload runs the step's local field-level validation. It
// decodes the opaque payload into the step's typed shape and applies the
// registered validation rules. Employment records validate independently via
// the dive rule, so one bad record names itself without failing the others'
// messages.
func ValidateStepPayload(step models.StepKey, data models.JSONB) error {
	switch step {
	case models.StepBasics:
		var payload models.BasicsPayload
		if err := decodePayload(data, &payload); err != nil {
			return err
		}
		if err := utils.ValidateStruct(&payload); err != nil {
			return apperrors.Normalize(err)
		}
		return nil
	case models.StepContact:
		var payload models.ContactPayload
		if err := decodePayload(data, &payload); err != nil {
			return err
		}
		if err := utils.ValidateStruct(&payload); err != nil {
			return apperrors.Normalize(err)
		}
		return nil
	case models.StepEmployment:
		var payload models.EmploymentPayload
		if err := decodePayload(data, &payload); err != nil {
			return err
		}
		if err := utils.ValidateStruct(&payload); err != nil {
			return apperrors.Normalize(err)
		}
		return nil
	case models.StepDocuments:
		// Completion is gated by the document slots, not by form fields.
		return nil
	case models.StepReview:
		return apperrors.Validation("The review step is submitted through final submission.")
	}
	return apperrors.Validation(fmt.Sprintf("Unknown step %q.", step))
}

func decodePayload(data models.JSONB, target interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return apperrors.Validation("The step payload could not be read.")
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return apperrors.Validation("The step payload has an invalid shape.")
	}
	return nil
}
