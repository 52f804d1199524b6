// internal/services/application_store.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/drivelend/onboarding-backend/internal/apperrors"
	"github.com/drivelend/onboarding-backend/internal/database"
	"github.com/drivelend/onboarding-backend/internal/models"
	"github.com/drivelend/onboarding-backend/internal/wizard"
)

// ApplicationService is the Postgres-backed persistence for onboarding
// applications. Step saves upsert the payload by step key inside the Steps
// JSONB map and advance the persisted progress markers, so resubmitting a
// step with identical data is a no-op beyond the timestamp.
type ApplicationService struct {
	db *gorm.DB
}

func NewApplicationService(db *gorm.DB) *ApplicationService {
	return &ApplicationService{db: db}
}

// ForUser returns the user-scoped store the wizard controller works against.
func (s *ApplicationService) ForUser(userID uuid.UUID) wizard.ApplicationStore {
	return &scopedApplicationStore{svc: s, userID: userID}
}

// Latest returns the user's most recent open application, if any.
func (s *ApplicationService) Latest(ctx context.Context, userID uuid.UUID) (*models.Application, error) {
	var app models.Application
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status NOT IN ?", userID, []models.ApplicationStatus{
			models.ApplicationStatusRejected,
			models.ApplicationStatusWithdrawn,
		}).
		Order("created_at DESC").
		First(&app).Error
	if err != nil {
		return nil, err
	}
	return &app, nil
}

type scopedApplicationStore struct {
	svc    *ApplicationService
	userID uuid.UUID
}

func (s *scopedApplicationStore) Create(ctx context.Context) (*models.Application, error) {
	app := &models.Application{
		UserID:        s.userID,
		Status:        models.ApplicationStatusDraft,
		CurrentStep:   1,
		Steps:         make(models.StepPayloads),
		UnlockedSteps: pq.Int64Array{1},
	}
	if err := s.svc.db.WithContext(ctx).Create(app).Error; err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}
	return app, nil
}

func (s *scopedApplicationStore) Load(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	return s.svc.loadOwned(ctx, id, s.userID)
}

func (s *scopedApplicationStore) SaveBasics(ctx context.Context, id uuid.UUID, data models.JSONB) (models.JSONB, error) {
	return s.svc.saveStep(ctx, id, s.userID, models.StepBasics, data)
}

func (s *scopedApplicationStore) SaveContact(ctx context.Context, id uuid.UUID, data models.JSONB) (models.JSONB, error) {
	return s.svc.saveStep(ctx, id, s.userID, models.StepContact, data)
}

func (s *scopedApplicationStore) SaveEmployment(ctx context.Context, id uuid.UUID, data models.JSONB) (models.JSONB, error) {
	return s.svc.saveStep(ctx, id, s.userID, models.StepEmployment, data)
}

func (s *scopedApplicationStore) SaveDocuments(ctx context.Context, id uuid.UUID, data models.JSONB) (models.JSONB, error) {
	return s.svc.saveStep(ctx, id, s.userID, models.StepDocuments, data)
}

func (s *scopedApplicationStore) Submit(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	return s.svc.submit(ctx, id, s.userID, false)
}

func (s *scopedApplicationStore) SubmitForDocumentsReview(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	return s.svc.submit(ctx, id, s.userID, true)
}

func (s *scopedApplicationStore) Withdraw(ctx context.Context, id uuid.UUID, reason string) (*models.Application, error) {
	return s.svc.withdraw(ctx, id, s.userID, reason)
}

func (s *ApplicationService) loadOwned(ctx context.Context, id, userID uuid.UUID) (*models.Application, error) {
	return loadOwned(s.db.WithContext(ctx), id, userID)
}

func loadOwned(db *gorm.DB, id, userID uuid.UUID) (*models.Application, error) {
	var app models.Application
	err := db.
		Where("id = ? AND user_id = ?", id, userID).
		First(&app).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.Wrap(apperrors.KindNotFound, "Application not found.", err)
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &app, nil
}

// saveStep runs load, status check and write in one transaction so two
// concurrent saves of the same application cannot interleave their
// read-modify-write of the Steps map.
func (s *ApplicationService) saveStep(ctx context.Context, id, userID uuid.UUID, step models.StepKey, data models.JSONB) (models.JSONB, error) {
	var saved models.JSONB
	err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		app, err := loadOwned(tx, id, userID)
		if err != nil {
			return err
		}

		if app.Status.ReadOnly() {
			return apperrors.New(apperrors.KindConflict, "This application can no longer be edited.")
		}

		n := models.StepNumber(step)
		app.SetStepPayload(step, data)
		if app.Status == models.ApplicationStatusDraft {
			app.Status = models.ApplicationStatusInProgress
		}
		if n < len(models.StepOrder) {
			app.UnlockStep(n + 1)
			if app.CurrentStep <= n {
				app.CurrentStep = n + 1
			}
		}

		if err := tx.Save(app).Error; err != nil {
			return fmt.Errorf("failed to save step %s: %w", step, err)
		}

		saved = app.StepPayload(step)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *ApplicationService) submit(ctx context.Context, id, userID uuid.UUID, documentsReview bool) (*models.Application, error) {
	var submitted *models.Application
	err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		app, err := loadOwned(tx, id, userID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if documentsReview {
			// Post-approval document finalization: only an approved application
			// may be resubmitted, and it goes straight to review of the documents.
			if app.Status != models.ApplicationStatusApproved {
				return apperrors.New(apperrors.KindConflict, "This application is not awaiting document review.")
			}
			app.Status = models.ApplicationStatusUnderReview
		} else {
			if app.Status != models.ApplicationStatusDraft && app.Status != models.ApplicationStatusInProgress {
				return apperrors.New(apperrors.KindConflict, "This application has already been submitted.")
			}
			app.Status = models.ApplicationStatusPendingReview
		}
		app.SubmittedAt = &now

		if err := tx.Save(app).Error; err != nil {
			return fmt.Errorf("failed to submit application: %w", err)
		}

		submitted = app
		return nil
	})
	if err != nil {
		return nil, err
	}
	return submitted, nil
}

func (s *ApplicationService) withdraw(ctx context.Context, id, userID uuid.UUID, reason string) (*models.Application, error) {
	var withdrawn *models.Application
	err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		app, err := loadOwned(tx, id, userID)
		if err != nil {
			return err
		}

		if app.Status.Terminal() {
			return apperrors.New(apperrors.KindConflict, "This application is already closed.")
		}

		now := time.Now().UTC()
		app.Status = models.ApplicationStatusWithdrawn
		app.WithdrawalReason = reason
		app.DecidedAt = &now

		if err := tx.Save(app).Error; err != nil {
			return fmt.Errorf("failed to withdraw application: %w", err)
		}

		withdrawn = app
		return nil
	})
	if err != nil {
		return nil, err
	}
	return withdrawn, nil
}
