// internal/models/application.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Application is the aggregate root of the onboarding wizard. Step payloads
// are upserted by step key, so resubmitting a step replaces rather than
// appends. The aggregate is never hard-deleted; withdrawal is a status change.
type Application struct {
	BaseModel
	UserID           uuid.UUID         `json:"user_id" gorm:"type:uuid;not null;index"`
	Status           ApplicationStatus `json:"status" gorm:"type:varchar(20);default:'draft';index"`
	CurrentStep      int               `json:"current_step" gorm:"default:1"`
	Steps            StepPayloads      `json:"steps" gorm:"type:jsonb"`
	UnlockedSteps    pq.Int64Array     `json:"unlocked_steps" gorm:"type:integer[]"`
	SubmittedAt      *time.Time        `json:"submitted_at"`
	DecidedAt        *time.Time        `json:"decided_at"`
	WithdrawalReason string            `json:"withdrawal_reason,omitempty" gorm:"type:text"`

	// Relationships
	User      User             `json:"-" gorm:"foreignKey:UserID"`
	Documents []DocumentRecord `json:"documents,omitempty" gorm:"foreignKey:ApplicationID"`
}

// StepPayload returns the last-saved payload for a step, or nil.
func (a *Application) StepPayload(key StepKey) JSONB {
	if a.Steps == nil {
		return nil
	}
	return a.Steps[string(key)]
}

// SetStepPayload upserts a step payload by key.
func (a *Application) SetStepPayload(key StepKey, data JSONB) {
	if a.Steps == nil {
		a.Steps = make(StepPayloads)
	}
	a.Steps[string(key)] = data
}

// UnlockStep adds a step number to the unlocked set, keeping it sorted and
// duplicate-free.
func (a *Application) UnlockStep(step int) {
	if step < 1 || step > len(StepOrder) {
		return
	}
	for _, s := range a.UnlockedSteps {
		if int(s) == step {
			return
		}
	}
	a.UnlockedSteps = append(a.UnlockedSteps, int64(step))
	for i := len(a.UnlockedSteps) - 1; i > 0; i-- {
		if a.UnlockedSteps[i] < a.UnlockedSteps[i-1] {
			a.UnlockedSteps[i], a.UnlockedSteps[i-1] = a.UnlockedSteps[i-1], a.UnlockedSteps[i]
		}
	}
}

func (a *Application) StepUnlocked(step int) bool {
	for _, s := range a.UnlockedSteps {
		if int(s) == step {
			return true
		}
	}
	return false
}

// Step payload shapes. The wizard treats payloads as opaque JSONB; these
// typed forms exist for validation and for the documented API contract.

type BasicsPayload struct {
	FullName            string  `json:"full_name" validate:"required,min=2,max=255"`
	DateOfBirth         string  `json:"date_of_birth" validate:"required,datetime=2006-01-02"`
	NationalID          string  `json:"national_id" validate:"required,min=5,max=50"`
	VehicleCategory     string  `json:"vehicle_category" validate:"required,oneof=sedan suv pickup motorcycle commercial"`
	RequestedAmount     float64 `json:"requested_amount" validate:"required,gt=0"`
	TermMonths          int     `json:"term_months" validate:"required,min=6,max=84"`
	ConsentToProcessing bool    `json:"consent_to_processing" validate:"required,eq=true"`
}

type ContactPayload struct {
	Email        string `json:"email" validate:"required,email"`
	Phone        string `json:"phone" validate:"required,min=7,max=20"`
	AddressLine1 string `json:"address_line1" validate:"required,min=3,max=255"`
	AddressLine2 string `json:"address_line2" validate:"omitempty,max=255"`
	City         string `json:"city" validate:"required,min=2,max=100"`
	Region       string `json:"region" validate:"omitempty,max=100"`
	PostalCode   string `json:"postal_code" validate:"omitempty,max=20"`
}

// EmploymentRecord is one repeatable sub-record of the employment step.
// Each record validates independently; the step keeps at least one.
type EmploymentRecord struct {
	Employer      string  `json:"employer" validate:"required,min=2,max=255"`
	Position      string  `json:"position" validate:"required,min=2,max=255"`
	StartDate     string  `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate       string  `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	MonthlyIncome float64 `json:"monthly_income" validate:"required,gt=0"`
	Current       bool    `json:"current"`
}

type EmploymentPayload struct {
	CreditScoreBand string             `json:"credit_score_band" validate:"required,oneof=excellent good fair poor unknown"`
	Records         []EmploymentRecord `json:"records" validate:"required,min=1,dive"`
}
