// internal/wizard/telemetry.go
package wizard

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/drivelend/onboarding-backend/internal/models"
)

// Step and upload lifecycle events.
const (
	EventStepStarted         = "step_started"
	EventStepCompleted       = "step_completed"
	EventStepValidationError = "step_validation_error"
	EventApplicationSubmit   = "application_submitted"
	EventApplicationWithdraw = "application_withdrawn"
	EventUploadStarted       = "document_upload_started"
	EventUploadCompleted     = "document_upload_completed"
	EventUploadFailed        = "document_upload_failed"
	EventCaptureStarted      = "liveness_capture_started"
	EventCaptureConfirmed    = "liveness_capture_confirmed"
)

type Event struct {
	Name          string                 `json:"event"`
	SessionID     string                 `json:"session_id"`
	ApplicationID string                 `json:"application_id,omitempty"`
	Step          string                 `json:"step,omitempty"`
	At            time.Time              `json:"at"`
	Props         map[string]interface{} `json:"props,omitempty"`
}

// Sink receives telemetry events. It is never on the critical path.
type Sink interface {
	Track(ctx context.Context, event Event) error
}

// TelemetrySession is an explicit per-wizard-session value, created at wizard
// start and passed into the controller. Lifecycle:
// init -> UpdateApplicationID -> Track* -> Dispose.
type TelemetrySession struct {
	mu        sync.Mutex
	sink      Sink
	sessionID string
	appID     string
	disposed  bool
}

func NewTelemetrySession(sink Sink) *TelemetrySession {
	return &TelemetrySession{
		sink:      sink,
		sessionID: uuid.NewString(),
	}
}

func (s *TelemetrySession) SessionID() string {
	if s == nil {
		return ""
	}
	return s.sessionID
}

func (s *TelemetrySession) UpdateApplicationID(id uuid.UUID) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.appID = id.String()
	s.mu.Unlock()
}

// Track emits an event, fire-and-forget. It never blocks the caller and a
// failing or panicking sink never fails the save path.
func (s *TelemetrySession) Track(name string, step models.StepKey, props map[string]interface{}) {
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.disposed || s.sink == nil {
		s.mu.Unlock()
		return
	}
	event := Event{
		Name:          name,
		SessionID:     s.sessionID,
		ApplicationID: s.appID,
		Step:          string(step),
		At:            time.Now().UTC(),
		Props:         props,
	}
	sink := s.sink
	s.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logrus.WithField("event", event.Name).Warnf("telemetry sink panicked: %v", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := sink.Track(ctx, event); err != nil {
			logrus.WithError(err).WithField("event", event.Name).Debug("telemetry event dropped")
		}
	}()
}

func (s *TelemetrySession) Dispose() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.disposed = true
	s.mu.Unlock()
}
