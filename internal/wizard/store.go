// internal/wizard/store.go
package wizard

import (
	"context"

	"github.com/google/uuid"

	"github.com/drivelend/onboarding-backend/internal/models"
)

// ApplicationStore is the persistence collaborator of the wizard controller.
// Saves upsert by (application, step key), so resubmitting a step with
// identical data is safe. The transport behind it is the backend's choice.
//
// The credit-score and employment payloads travel together: the product's
// third step carries both, keyed as the single "employment" step, so there is
// one save call for it.
type ApplicationStore interface {
	Create(ctx context.Context) (*models.Application, error)
	Load(ctx context.Context, id uuid.UUID) (*models.Application, error)
	SaveBasics(ctx context.Context, id uuid.UUID, data models.JSONB) (models.JSONB, error)
	SaveContact(ctx context.Context, id uuid.UUID, data models.JSONB) (models.JSONB, error)
	SaveEmployment(ctx context.Context, id uuid.UUID, data models.JSONB) (models.JSONB, error)
	SaveDocuments(ctx context.Context, id uuid.UUID, data models.JSONB) (models.JSONB, error)
	Submit(ctx context.Context, id uuid.UUID) (*models.Application, error)
	SubmitForDocumentsReview(ctx context.Context, id uuid.UUID) (*models.Application, error)
	Withdraw(ctx context.Context, id uuid.UUID, reason string) (*models.Application, error)
}

// DocumentGate answers whether every required document slot holds at least
// one server-confirmed file. The wizard consults it before the documents
// step may complete.
type DocumentGate interface {
	RequiredComplete(ctx context.Context, applicationID uuid.UUID) (bool, error)
}
