// internal/handlers/application.go
package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/drivelend/onboarding-backend/internal/middleware"
	"github.com/drivelend/onboarding-backend/internal/models"
	"github.com/drivelend/onboarding-backend/internal/services"
	"github.com/drivelend/onboarding-backend/internal/utils"
	"github.com/drivelend/onboarding-backend/internal/wizard"
)

type ApplicationHandler struct {
	registry     *SessionRegistry
	applications *services.ApplicationService
}

func NewApplicationHandler(registry *SessionRegistry, applications *services.ApplicationService) *ApplicationHandler {
	return &ApplicationHandler{registry: registry, applications: applications}
}

// acquireSession resolves the caller's wizard session and binds it to the
// application named in the route. Responds and returns false on any failure.
func acquireSession(c *gin.Context, registry *SessionRegistry) (*Session, bool) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		utils.UnauthorizedResponse(c, "Authentication required.")
		return nil, false
	}

	applicationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid application id.", nil)
		return nil, false
	}

	sess := registry.Acquire(userID)
	if err := registry.Bind(c.Request.Context(), sess, applicationID); err != nil {
		utils.TaggedErrorResponse(c, err)
		return nil, false
	}
	return sess, true
}

func (h *ApplicationHandler) session(c *gin.Context) (*Session, bool) {
	return acquireSession(c, h.registry)
}

// state is the full render-ready view: wizard snapshot plus document slots
// and the capture sub-state.
func sessionState(sess *Session) gin.H {
	return gin.H{
		"wizard":            sess.Controller.Snapshot(),
		"documents":         sess.Uploads.Slots(),
		"required_complete": sess.Uploads.RequiredComplete(),
		"capture":           sess.Uploads.Capture(),
	}
}

// Create starts a new application and points the caller's session at it.
func (h *ApplicationHandler) Create(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		utils.UnauthorizedResponse(c, "Authentication required.")
		return
	}

	app, err := h.applications.ForUser(userID).Create(c.Request.Context())
	if err != nil {
		utils.TaggedErrorResponse(c, err)
		return
	}

	h.registry.Reset(userID)
	sess := h.registry.Acquire(userID)
	if err := h.registry.Bind(c.Request.Context(), sess, app.ID); err != nil {
		utils.TaggedErrorResponse(c, err)
		return
	}

	sess.Telemetry.Track(wizard.EventStepStarted, models.StepBasics, nil)
	utils.CreatedResponse(c, sessionState(sess))
}

// Latest returns the caller's most recent application, bound into the
// session, so a returning applicant resumes where they left off.
func (h *ApplicationHandler) Latest(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		utils.UnauthorizedResponse(c, "Authentication required.")
		return
	}

	app, err := h.applications.Latest(c.Request.Context(), userID)
	if err != nil {
		utils.TaggedErrorResponse(c, err)
		return
	}

	sess := h.registry.Acquire(userID)
	if err := h.registry.Bind(c.Request.Context(), sess, app.ID); err != nil {
		utils.TaggedErrorResponse(c, err)
		return
	}
	utils.SuccessResponse(c, sessionState(sess))
}

func (h *ApplicationHandler) Get(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	utils.SuccessResponse(c, sessionState(sess))
}

// UpdateDraft merges a partial payload into the step's draft. Persistence is
// debounced; the response reflects the in-memory draft immediately.
func (h *ApplicationHandler) UpdateDraft(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	step, ok := stepParam(c)
	if !ok {
		return
	}

	var partial models.JSONB
	if err := c.ShouldBindJSON(&partial); err != nil {
		utils.BadRequestResponse(c, "Invalid request body.", nil)
		return
	}

	sess.Controller.UpdateDraft(step, partial)
	utils.SuccessResponse(c, gin.H{"draft": sess.Controller.StepDraft(step)})
}

// SubmitStep validates and persists one step, unlocking the next on success.
func (h *ApplicationHandler) SubmitStep(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	step, ok := stepParam(c)
	if !ok {
		return
	}

	var data models.JSONB
	if err := c.ShouldBindJSON(&data); err != nil {
		utils.BadRequestResponse(c, "Invalid request body.", nil)
		return
	}

	if err := sess.Controller.SubmitStep(c.Request.Context(), step, data); err != nil {
		utils.TaggedErrorResponse(c, err)
		return
	}
	utils.SuccessResponse(c, sessionState(sess))
}

func (h *ApplicationHandler) AddEmploymentRecord(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	if err := sess.Controller.AddRecord(models.StepEmployment); err != nil {
		utils.TaggedErrorResponse(c, err)
		return
	}
	utils.SuccessResponse(c, gin.H{"draft": sess.Controller.StepDraft(models.StepEmployment)})
}

func (h *ApplicationHandler) RemoveEmploymentRecord(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid record index.", nil)
		return
	}

	if err := sess.Controller.RemoveRecord(models.StepEmployment, index); err != nil {
		utils.TaggedErrorResponse(c, err)
		return
	}
	utils.SuccessResponse(c, gin.H{"draft": sess.Controller.StepDraft(models.StepEmployment)})
}

// Navigate moves the session to an already-unlocked step. Moving to a locked
// future step is refused without side effects.
func (h *ApplicationHandler) Navigate(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	target, err := strconv.Atoi(c.Param("step"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid step number.", nil)
		return
	}
	key, ok := models.StepAt(target)
	if !ok {
		utils.BadRequestResponse(c, "Unknown step.", nil)
		return
	}

	if !sess.Controller.GoToStep(target) {
		utils.ErrorResponse(c, 409, "STEP_LOCKED", "That step is not unlocked yet.", nil)
		return
	}

	state := sessionState(sess)
	state["step"] = key
	utils.SuccessResponse(c, state)
}

// FinalSubmit performs the review-step submission.
func (h *ApplicationHandler) FinalSubmit(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	var req struct {
		Consent bool `json:"consent"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body.", nil)
		return
	}

	app, err := sess.Controller.FinalSubmit(c.Request.Context(), req.Consent)
	if err != nil {
		utils.TaggedErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"application": app,
		"state":       sessionState(sess),
	})
}

func (h *ApplicationHandler) Withdraw(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "A withdrawal reason is required.", nil)
		return
	}

	app, err := sess.Controller.Withdraw(c.Request.Context(), req.Reason)
	if err != nil {
		utils.TaggedErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"application": app,
		"state":       sessionState(sess),
	})
}

func stepParam(c *gin.Context) (models.StepKey, bool) {
	step := models.StepKey(c.Param("step"))
	if models.StepNumber(step) == 0 {
		utils.BadRequestResponse(c, "Unknown step.", nil)
		return "", false
	}
	return step, true
}
