// internal/handlers/capture.go
package handlers

import (
	"encoding/base64"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/drivelend/onboarding-backend/internal/upload"
	"github.com/drivelend/onboarding-backend/internal/utils"
)

// CaptureHandler drives the liveness selfie flow. The browser owns the
// physical camera; this side holds the session state machine and receives the
// frame over the API.
type CaptureHandler struct {
	registry *SessionRegistry
}

func NewCaptureHandler(registry *SessionRegistry) *CaptureHandler {
	return &CaptureHandler{registry: registry}
}

func (h *CaptureHandler) session(c *gin.Context) (*Session, bool) {
	return acquireSession(c, h.registry)
}

func captureState(sess *Session) gin.H {
	return gin.H{"capture": sess.Uploads.Capture()}
}

// Start opens a capture session. When the client reports its camera as
// unavailable the reported cause flows through the session's error path so
// the response carries the matching message.
func (h *CaptureHandler) Start(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	var req struct {
		Available bool   `json:"available"`
		Cause     string `json:"cause"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body.", nil)
		return
	}

	var device upload.Device
	if req.Available {
		fb := upload.NewFrameBufferDevice()
		sess.SetCaptureDevice(fb)
		device = fb
	} else {
		sess.SetCaptureDevice(nil)
		device = &upload.UnavailableDevice{Cause: upload.CaptureCause(req.Cause)}
	}

	if err := sess.Uploads.StartLivenessCapture(c.Request.Context(), device); err != nil {
		utils.TaggedErrorResponse(c, err)
		return
	}
	utils.SuccessResponse(c, captureState(sess))
}

// Frame receives the captured still from the client and snapshots it. The
// image arrives either as a raw body or as base64 in a JSON envelope.
func (h *CaptureHandler) Frame(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	device := sess.CaptureDevice()
	if device == nil {
		utils.BadRequestResponse(c, "The camera is not active.", nil)
		return
	}

	frame, err := readFrame(c)
	if err != nil || len(frame) == 0 {
		utils.BadRequestResponse(c, "No image data received.", nil)
		return
	}

	device.SetFrame(frame)
	if err := sess.Uploads.CaptureFrame(); err != nil {
		utils.TaggedErrorResponse(c, err)
		return
	}
	utils.SuccessResponse(c, captureState(sess))
}

func readFrame(c *gin.Context) ([]byte, error) {
	if c.ContentType() == "application/json" {
		var req struct {
			Image string `json:"image" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, err
		}
		return base64.StdEncoding.DecodeString(req.Image)
	}
	return io.ReadAll(c.Request.Body)
}

// Confirm promotes the captured still into the selfie document slot.
func (h *CaptureHandler) Confirm(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	if err := sess.Uploads.ConfirmCapture(c.Request.Context()); err != nil {
		utils.TaggedErrorResponse(c, err)
		return
	}
	sess.SetCaptureDevice(nil)

	utils.SuccessResponse(c, gin.H{
		"capture":           sess.Uploads.Capture(),
		"documents":         sess.Uploads.Slots(),
		"required_complete": sess.Uploads.RequiredComplete(),
	})
}

// Retake discards the captured still and re-acquires the camera.
func (h *CaptureHandler) Retake(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	if err := sess.Uploads.Retake(c.Request.Context()); err != nil {
		utils.TaggedErrorResponse(c, err)
		return
	}
	utils.SuccessResponse(c, captureState(sess))
}

// Stop releases the camera from any state.
func (h *CaptureHandler) Stop(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	sess.Uploads.StopCapture()
	sess.SetCaptureDevice(nil)
	utils.SuccessResponse(c, captureState(sess))
}
