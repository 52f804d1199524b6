// internal/upload/capture_test.go
package upload

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivelend/onboarding-backend/internal/models"
)

type trackingStream struct {
	mu     sync.Mutex
	frame  []byte
	closed bool
}

func (s *trackingStream) Grab() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, nil
}

func (s *trackingStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *trackingStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type trackingDevice struct {
	mu      sync.Mutex
	frame   []byte
	streams []*trackingStream
}

func (d *trackingDevice) Open(ctx context.Context) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	stream := &trackingStream{frame: d.frame}
	d.streams = append(d.streams, stream)
	return stream, nil
}

func (d *trackingDevice) allClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.streams {
		if !s.isClosed() {
			return false
		}
	}
	return true
}

func TestCaptureConfirmPromotesSelfieAndReleasesCamera(t *testing.T) {
	store := newFakeDocStore()
	m := newTestManager(store)
	ctx := context.Background()

	device := &trackingDevice{frame: []byte("still-image-bytes")}
	require.NoError(t, m.StartLivenessCapture(ctx, device))
	assert.Equal(t, CaptureStateActive, m.Capture().State)

	require.NoError(t, m.CaptureFrame())
	view := m.Capture()
	assert.Equal(t, CaptureStateCaptured, view.State)
	assert.True(t, view.HasImage)
	// The camera is released the moment the still is taken.
	assert.True(t, device.allClosed())

	require.NoError(t, m.ConfirmCapture(ctx))
	assert.Equal(t, CaptureStateIdle, m.Capture().State)

	// The still traveled through the normal upload path into the selfie slot.
	require.Len(t, store.batches[models.DocumentTypeSelfieLiveness], 1)
	batch := store.batches[models.DocumentTypeSelfieLiveness][0]
	require.Len(t, batch, 1)
	assert.Equal(t, "selfie_liveness.jpg", batch[0].OriginalName)
	assert.Equal(t, "image/jpeg", batch[0].ContentType)
	assert.Equal(t, []byte("still-image-bytes"), batch[0].Data)
	assert.Equal(t, models.DocumentStatusUploaded, m.Status(models.DocumentTypeSelfieLiveness))
}

func TestStopReleasesCameraFromAnyState(t *testing.T) {
	m := newTestManager(newFakeDocStore())
	ctx := context.Background()

	device := &trackingDevice{frame: []byte("frame")}
	require.NoError(t, m.StartLivenessCapture(ctx, device))

	m.StopCapture()
	assert.Equal(t, CaptureStateIdle, m.Capture().State)
	assert.True(t, device.allClosed())

	// Idempotent.
	m.StopCapture()
	assert.Equal(t, CaptureStateIdle, m.Capture().State)
}

func TestRetakeReturnsToActiveWithAFreshStream(t *testing.T) {
	m := newTestManager(newFakeDocStore())
	ctx := context.Background()

	device := &trackingDevice{frame: []byte("frame")}
	require.NoError(t, m.StartLivenessCapture(ctx, device))
	require.NoError(t, m.CaptureFrame())

	require.NoError(t, m.Retake(ctx))
	assert.Equal(t, CaptureStateActive, m.Capture().State)
	assert.False(t, m.Capture().HasImage)

	device.mu.Lock()
	streamCount := len(device.streams)
	firstClosed := device.streams[0].isClosed()
	device.mu.Unlock()
	assert.Equal(t, 2, streamCount)
	assert.True(t, firstClosed)

	m.StopCapture()
	assert.True(t, device.allClosed())
}

func TestStartingOverAnExistingCaptureReleasesTheOldStream(t *testing.T) {
	m := newTestManager(newFakeDocStore())
	ctx := context.Background()

	first := &trackingDevice{frame: []byte("a")}
	require.NoError(t, m.StartLivenessCapture(ctx, first))

	second := &trackingDevice{frame: []byte("b")}
	require.NoError(t, m.StartLivenessCapture(ctx, second))

	assert.True(t, first.allClosed())
	assert.Equal(t, CaptureStateActive, m.Capture().State)
	m.StopCapture()
}

func TestUnavailableCameraSurfacesItsCause(t *testing.T) {
	cases := []struct {
		cause   CaptureCause
		message string
	}{
		{CausePermissionDenied, "Camera access was denied"},
		{CauseNotFound, "No camera was found"},
		{CauseInUse, "in use by another application"},
		{CauseUnknown, "could not be started"},
	}

	for _, tc := range cases {
		t.Run(string(tc.cause), func(t *testing.T) {
			m := newTestManager(newFakeDocStore())

			err := m.StartLivenessCapture(context.Background(), &UnavailableDevice{Cause: tc.cause})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.message)

			view := m.Capture()
			assert.Equal(t, CaptureStateError, view.State)
			assert.Equal(t, tc.cause, view.Cause)
			assert.Contains(t, view.Message, tc.message)
		})
	}
}

func TestConfirmAndRetakeRequireACapturedStill(t *testing.T) {
	m := newTestManager(newFakeDocStore())
	ctx := context.Background()

	require.Error(t, m.ConfirmCapture(ctx))
	require.Error(t, m.Retake(ctx))
	require.Error(t, m.CaptureFrame())
}

func TestFrameBufferDeviceDeliversLatestFrame(t *testing.T) {
	m := newTestManager(newFakeDocStore())
	ctx := context.Background()

	device := NewFrameBufferDevice()
	require.NoError(t, m.StartLivenessCapture(ctx, device))

	// No frame delivered yet: grabbing fails and the session reports it.
	require.Error(t, m.CaptureFrame())
	m.StopCapture()

	require.NoError(t, m.StartLivenessCapture(ctx, device))
	device.SetFrame([]byte("delivered"))
	require.NoError(t, m.CaptureFrame())
	assert.True(t, m.Capture().HasImage)
	m.StopCapture()
}
