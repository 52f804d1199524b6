// internal/models/common.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// JSONB type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// StepPayloads maps step keys to their last-saved payloads.
type StepPayloads map[string]JSONB

func (p StepPayloads) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

func (p *StepPayloads) Scan(value interface{}) error {
	if value == nil {
		*p = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, p)
}

// Enums
type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
)

type ApplicationStatus string

const (
	ApplicationStatusDraft         ApplicationStatus = "draft"
	ApplicationStatusInProgress    ApplicationStatus = "in_progress"
	ApplicationStatusPendingReview ApplicationStatus = "pending_review"
	ApplicationStatusUnderReview   ApplicationStatus = "under_review"
	ApplicationStatusApproved      ApplicationStatus = "approved"
	ApplicationStatusRejected      ApplicationStatus = "rejected"
	ApplicationStatusWithdrawn     ApplicationStatus = "withdrawn"
)

// ReadOnly reports whether the application has left the editable phase.
// Withdrawn, rejected and every reviewed state is frozen for audit.
func (s ApplicationStatus) ReadOnly() bool {
	switch s {
	case ApplicationStatusDraft, ApplicationStatusInProgress, ApplicationStatusApproved:
		return false
	}
	return true
}

// Terminal reports whether no further submission can change the application.
func (s ApplicationStatus) Terminal() bool {
	switch s {
	case ApplicationStatusRejected, ApplicationStatusWithdrawn:
		return true
	}
	return false
}

type StepKey string

const (
	StepBasics     StepKey = "basics"
	StepContact    StepKey = "contact"
	StepEmployment StepKey = "employment"
	StepDocuments  StepKey = "documents"
	StepReview     StepKey = "review"
)

// StepOrder is the wizard's linear step sequence; position+1 is the step number.
var StepOrder = []StepKey{StepBasics, StepContact, StepEmployment, StepDocuments, StepReview}

// StepNumber returns the 1-based position of key in the wizard, or 0 if unknown.
func StepNumber(key StepKey) int {
	for i, k := range StepOrder {
		if k == key {
			return i + 1
		}
	}
	return 0
}

// StepAt returns the step key for a 1-based step number.
func StepAt(number int) (StepKey, bool) {
	if number < 1 || number > len(StepOrder) {
		return "", false
	}
	return StepOrder[number-1], true
}

type DocumentType string

const (
	DocumentTypeNID            DocumentType = "nid"
	DocumentTypeDriversLicense DocumentType = "drivers_license"
	DocumentTypeIncomeProof    DocumentType = "income_proof"
	DocumentTypeSelfieLiveness DocumentType = "selfie_liveness"
)

// RequiredDocumentTypes must each hold at least one confirmed file before the
// documents step can complete. The liveness selfie is always optional.
var RequiredDocumentTypes = []DocumentType{
	DocumentTypeNID,
	DocumentTypeDriversLicense,
	DocumentTypeIncomeProof,
}

// AllDocumentTypes enumerates every slot the documents step renders.
var AllDocumentTypes = []DocumentType{
	DocumentTypeNID,
	DocumentTypeDriversLicense,
	DocumentTypeIncomeProof,
	DocumentTypeSelfieLiveness,
}

func ValidDocumentType(t DocumentType) bool {
	for _, dt := range AllDocumentTypes {
		if dt == t {
			return true
		}
	}
	return false
}

// Label returns the human-readable name used in exports and error messages.
func (t DocumentType) Label() string {
	switch t {
	case DocumentTypeNID:
		return "National ID"
	case DocumentTypeDriversLicense:
		return "Driver's License"
	case DocumentTypeIncomeProof:
		return "Proof of Income"
	case DocumentTypeSelfieLiveness:
		return "Liveness Selfie"
	}
	return string(t)
}

type DocumentStatus string

const (
	DocumentStatusNotUploaded DocumentStatus = "not_uploaded"
	DocumentStatusPendingScan DocumentStatus = "pending_scan"
	DocumentStatusUploading   DocumentStatus = "uploading"
	DocumentStatusUploaded    DocumentStatus = "uploaded"
	DocumentStatusVerified    DocumentStatus = "verified"
	DocumentStatusError       DocumentStatus = "error"
)
