// internal/upload/capture.go
package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/drivelend/onboarding-backend/internal/apperrors"
	"github.com/drivelend/onboarding-backend/internal/models"
	"github.com/drivelend/onboarding-backend/internal/wizard"
)

// The liveness selfie is captured from a live camera instead of a file
// picker. The capture sub-flow is a small state machine layered on top of the
// normal upload path:
//
//	idle -> initializing -> active -> (captured <-> active via retake) -> idle
//
// with a parallel error state reachable from initializing or active. The
// camera device is exclusive and is released on every exit path.

type CaptureState string

const (
	CaptureStateIdle         CaptureState = "idle"
	CaptureStateInitializing CaptureState = "initializing"
	CaptureStateActive       CaptureState = "active"
	CaptureStateCaptured     CaptureState = "captured"
	CaptureStateError        CaptureState = "error"
)

type CaptureCause string

const (
	CausePermissionDenied CaptureCause = "permission_denied"
	CauseNotFound         CaptureCause = "not_found"
	CauseInUse            CaptureCause = "in_use"
	CauseUnknown          CaptureCause = "unknown"
)

// CauseMessage maps each failure cause to its distinct user-facing message.
// Camera errors render inline in the capture surface, not as toasts.
func CauseMessage(cause CaptureCause) string {
	switch cause {
	case CausePermissionDenied:
		return "Camera access was denied. Please allow camera access in your browser settings and try again."
	case CauseNotFound:
		return "No camera was found on this device."
	case CauseInUse:
		return "The camera is in use by another application. Please close it and try again."
	}
	return "The camera could not be started. Please try again."
}

// Stream is an open camera stream that is ready to play. Grab snapshots the
// current frame as a still image.
type Stream interface {
	Grab() ([]byte, error)
	Close() error
}

// Device opens a camera stream. Open returns only once the stream reports
// itself ready, or an *OpenError naming the failure cause.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// OpenError is a camera acquisition failure with its cause.
type OpenError struct {
	Cause CaptureCause
	Err   error
}

func (e *OpenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("camera open failed (%s): %v", e.Cause, e.Err)
	}
	return fmt.Sprintf("camera open failed (%s)", e.Cause)
}

func (e *OpenError) Unwrap() error { return e.Err }

// CaptureSession holds the capture sub-state for one wizard session. Guarded
// by the owning Manager's mutex.
type CaptureSession struct {
	state  CaptureState
	cause  CaptureCause
	device Device
	stream Stream
	still  []byte
}

// CaptureView is the render-ready capture state.
type CaptureView struct {
	State   CaptureState `json:"state"`
	Cause   CaptureCause `json:"cause,omitempty"`
	Message string       `json:"message,omitempty"`
	HasImage bool        `json:"has_image"`
}

// StartLivenessCapture acquires the camera. Acquisition is exclusive: an
// existing session is stopped first. On denial or hardware failure the
// session lands in the error state with its cause.
func (m *Manager) StartLivenessCapture(ctx context.Context, device Device) error {
	m.mu.Lock()
	if m.capture != nil {
		m.releaseCaptureLocked()
	}
	session := &CaptureSession{state: CaptureStateInitializing, device: device}
	m.capture = session
	m.mu.Unlock()

	m.telemetry.Track(wizard.EventCaptureStarted, models.StepDocuments, nil)

	stream, err := device.Open(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.capture != session {
		// Superseded or stopped while opening; release immediately.
		if stream != nil {
			stream.Close()
		}
		return nil
	}

	if err != nil {
		session.state = CaptureStateError
		session.cause = causeOf(err)
		return captureError(session.cause)
	}

	session.stream = stream
	session.state = CaptureStateActive
	return nil
}

// CaptureFrame snapshots the current video frame and releases the camera
// immediately; the session enters the captured review state.
func (m *Manager) CaptureFrame() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := m.capture
	if session == nil || session.state != CaptureStateActive {
		return apperrors.Validation("The camera is not active.")
	}

	frame, err := session.stream.Grab()
	session.stream.Close()
	session.stream = nil

	if err != nil {
		session.state = CaptureStateError
		session.cause = CauseUnknown
		return captureError(CauseUnknown)
	}

	session.still = frame
	session.state = CaptureStateCaptured
	return nil
}

// ConfirmCapture promotes the captured still into the normal upload path for
// the liveness selfie as a single-file batch. The capture session returns to
// idle; the device was already released at capture time.
func (m *Manager) ConfirmCapture(ctx context.Context) error {
	m.mu.Lock()
	session := m.capture
	if session == nil || session.state != CaptureStateCaptured {
		m.mu.Unlock()
		return apperrors.Validation("There is no captured image to confirm.")
	}
	still := session.still
	m.capture = nil
	m.mu.Unlock()

	m.telemetry.Track(wizard.EventCaptureConfirmed, models.StepDocuments, nil)

	payload := FilePayload{
		OriginalName: "selfie_liveness.jpg",
		Size:         int64(len(still)),
		ContentType:  "image/jpeg",
		Data:         still,
	}
	return m.SelectFiles(ctx, models.DocumentTypeSelfieLiveness, []FilePayload{payload})
}

// Retake discards the captured still and re-acquires the camera.
func (m *Manager) Retake(ctx context.Context) error {
	m.mu.Lock()
	session := m.capture
	if session == nil || session.state != CaptureStateCaptured {
		m.mu.Unlock()
		return apperrors.Validation("There is no captured image to retake.")
	}
	device := session.device
	m.capture = nil
	m.mu.Unlock()

	return m.StartLivenessCapture(ctx, device)
}

// StopCapture releases the camera and returns to idle from any state. It is
// idempotent and must be called on session teardown so a camera stream is
// never leaked.
func (m *Manager) StopCapture() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseCaptureLocked()
}

func (m *Manager) releaseCaptureLocked() {
	if m.capture == nil {
		return
	}
	if m.capture.stream != nil {
		m.capture.stream.Close()
		m.capture.stream = nil
	}
	m.capture = nil
}

// Capture returns the render-ready capture state; a nil session is idle.
func (m *Manager) Capture() CaptureView {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.capture == nil {
		return CaptureView{State: CaptureStateIdle}
	}
	view := CaptureView{
		State:    m.capture.state,
		HasImage: len(m.capture.still) > 0,
	}
	if m.capture.state == CaptureStateError {
		view.Cause = m.capture.cause
		view.Message = CauseMessage(m.capture.cause)
	}
	return view
}

func causeOf(err error) CaptureCause {
	var openErr *OpenError
	if errors.As(err, &openErr) {
		return openErr.Cause
	}
	return CauseUnknown
}

func captureError(cause CaptureCause) *apperrors.Error {
	kind := apperrors.KindValidation
	if cause == CauseUnknown {
		kind = apperrors.KindUnknown
	}
	return apperrors.New(kind, CauseMessage(cause))
}

// FrameBufferDevice is the production device for a browser-held camera: the
// client owns the physical camera and delivers the capture frame over the
// API. Open succeeds immediately; Grab returns the most recently submitted
// frame.
type FrameBufferDevice struct {
	mu    sync.Mutex
	frame []byte
}

func NewFrameBufferDevice() *FrameBufferDevice {
	return &FrameBufferDevice{}
}

// SetFrame stores the latest frame delivered by the client.
func (d *FrameBufferDevice) SetFrame(data []byte) {
	d.mu.Lock()
	d.frame = data
	d.mu.Unlock()
}

func (d *FrameBufferDevice) Open(ctx context.Context) (Stream, error) {
	return &frameBufferStream{device: d}, nil
}

type frameBufferStream struct {
	device *FrameBufferDevice
	closed bool
}

func (s *frameBufferStream) Grab() ([]byte, error) {
	if s.closed {
		return nil, errors.New("stream closed")
	}
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	if len(s.device.frame) == 0 {
		return nil, errors.New("no frame delivered")
	}
	return s.device.frame, nil
}

func (s *frameBufferStream) Close() error {
	s.closed = true
	return nil
}

// UnavailableDevice represents a camera the client reported as failed, so
// the session surfaces the client's cause through the normal error path.
type UnavailableDevice struct {
	Cause CaptureCause
}

func (d *UnavailableDevice) Open(ctx context.Context) (Stream, error) {
	return nil, &OpenError{Cause: d.Cause}
}
