// internal/handlers/sessions.go
package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/drivelend/onboarding-backend/internal/apperrors"
	"github.com/drivelend/onboarding-backend/internal/services"
	"github.com/drivelend/onboarding-backend/internal/upload"
	"github.com/drivelend/onboarding-backend/internal/wizard"
)

// Session bundles the per-user wizard state: the step controller, the
// document upload manager, the shared telemetry session, and the camera
// device in use during a liveness capture.
type Session struct {
	Controller *wizard.Controller
	Uploads    *upload.Manager
	Telemetry  *wizard.TelemetrySession

	mu       sync.Mutex
	device   *upload.FrameBufferDevice
	lastSeen time.Time
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// SetCaptureDevice remembers the frame-buffer device of the active capture so
// posted frames can reach it.
func (s *Session) SetCaptureDevice(d *upload.FrameBufferDevice) {
	s.mu.Lock()
	s.device = d
	s.mu.Unlock()
}

func (s *Session) CaptureDevice() *upload.FrameBufferDevice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

func (s *Session) dispose() {
	s.Controller.Dispose()
	s.Uploads.Dispose()
	s.Telemetry.Dispose()
}

// SessionRegistry owns one wizard session per user and evicts idle ones so an
// abandoned session always releases its timers and any held camera stream.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session

	applications *services.ApplicationService
	documents    *services.DocumentService
	sink         wizard.Sink
	debounce     time.Duration
	idleTimeout  time.Duration
	logger       *logrus.Entry
}

func NewSessionRegistry(applications *services.ApplicationService, documents *services.DocumentService, sink wizard.Sink, debounce, idleTimeout time.Duration) *SessionRegistry {
	r := &SessionRegistry{
		sessions:     make(map[uuid.UUID]*Session),
		applications: applications,
		documents:    documents,
		sink:         sink,
		debounce:     debounce,
		idleTimeout:  idleTimeout,
		logger:       logrus.WithField("component", "sessions"),
	}

	// Evict idle sessions every minute
	go r.evictIdle()

	return r
}

// Acquire returns the user's wizard session, creating one on first use.
func (r *SessionRegistry) Acquire(userID uuid.UUID) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[userID]; ok {
		sess.touch()
		return sess
	}

	telemetry := wizard.NewTelemetrySession(r.sink)
	sess := &Session{
		Controller: wizard.NewController(r.applications.ForUser(userID), r.documents, telemetry, r.debounce),
		Uploads:    upload.NewManager(r.documents, telemetry),
		Telemetry:  telemetry,
		lastSeen:   time.Now(),
	}
	r.sessions[userID] = sess
	return sess
}

// Reset discards the user's session so the next request starts fresh.
func (r *SessionRegistry) Reset(userID uuid.UUID) {
	r.mu.Lock()
	sess := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()

	if sess != nil {
		sess.dispose()
	}
}

// Bind points the session at the given application, reloading server state
// when the session is not already on it.
func (r *SessionRegistry) Bind(ctx context.Context, sess *Session, applicationID uuid.UUID) error {
	if current, ok := sess.Controller.ApplicationID(); ok && current == applicationID {
		return nil
	}

	if err := sess.Controller.LoadApplication(ctx, applicationID); err != nil {
		return apperrors.Normalize(err)
	}

	sess.Uploads.SetApplication(applicationID)
	sess.Telemetry.UpdateApplicationID(applicationID)
	if err := sess.Uploads.Refresh(ctx); err != nil {
		return err
	}
	return nil
}

func (r *SessionRegistry) evictIdle() {
	for {
		time.Sleep(time.Minute)

		var expired []*Session
		r.mu.Lock()
		for userID, sess := range r.sessions {
			if time.Since(sess.idleSince()) > r.idleTimeout {
				delete(r.sessions, userID)
				expired = append(expired, sess)
			}
		}
		r.mu.Unlock()

		for _, sess := range expired {
			sess.dispose()
		}
		if len(expired) > 0 {
			r.logger.WithField("count", len(expired)).Info("Evicted idle wizard sessions")
		}
	}
}
