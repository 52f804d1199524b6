// internal/wizard/controller.go
package wizard

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/drivelend/onboarding-backend/internal/apperrors"
	"github.com/drivelend/onboarding-backend/internal/models"
)

const DefaultDraftDebounce = 500 * time.Millisecond

// Controller drives one applicant through the ordered onboarding steps:
// per-step drafts, per-step errors, unlock gating and navigation. It persists
// one step at a time through the ApplicationStore and only ever advances
// after a save has resolved successfully.
//
// Concurrency: a single mutex guards all session state. A per-step saving
// flag blocks concurrent submission of the same step, a reloading flag gives
// LoadApplication priority over debounced draft writes, and per-step
// generation counters discard save responses that resolve after a newer
// mutation of the same step.
type Controller struct {
	mu        sync.Mutex
	store     ApplicationStore
	gate      DocumentGate
	telemetry *TelemetrySession
	logger    *logrus.Entry

	debounceWindow time.Duration

	appID       uuid.UUID
	hasApp      bool
	status      models.ApplicationStatus
	currentStep int
	steps       models.StepPayloads
	drafts      map[models.StepKey]models.JSONB
	pending     map[models.StepKey]models.JSONB
	timers      map[models.StepKey]*time.Timer
	stepErrs    map[models.StepKey]*apperrors.Error
	saving      map[models.StepKey]bool
	unlocked    map[int]bool
	gen         map[models.StepKey]uint64
	reloading   bool
}

// Snapshot is the render-ready view of the session for the HTTP layer.
type Snapshot struct {
	ApplicationID string                             `json:"application_id,omitempty"`
	Status        models.ApplicationStatus           `json:"status"`
	CurrentStep   int                                `json:"current_step"`
	UnlockedSteps []int                              `json:"unlocked_steps"`
	Steps         models.StepPayloads                `json:"steps"`
	Drafts        map[models.StepKey]models.JSONB    `json:"drafts"`
	Errors        map[models.StepKey]*apperrors.Error `json:"errors,omitempty"`
	Saving        map[models.StepKey]bool            `json:"saving,omitempty"`
	ReadOnly      bool                               `json:"read_only"`
}

func NewController(store ApplicationStore, gate DocumentGate, telemetry *TelemetrySession, debounce time.Duration) *Controller {
	if debounce <= 0 {
		debounce = DefaultDraftDebounce
	}
	c := &Controller{
		store:          store,
		gate:           gate,
		telemetry:      telemetry,
		logger:         logrus.WithField("component", "wizard"),
		debounceWindow: debounce,
	}
	c.resetLocked()
	return c
}

// resetLocked puts the session into a fresh, step-1 state. Caller holds the
// mutex (or owns the controller exclusively during construction).
func (c *Controller) resetLocked() {
	c.appID = uuid.Nil
	c.hasApp = false
	c.status = models.ApplicationStatusDraft
	c.currentStep = 1
	c.steps = make(models.StepPayloads)
	c.drafts = make(map[models.StepKey]models.JSONB)
	c.pending = make(map[models.StepKey]models.JSONB)
	c.stepErrs = make(map[models.StepKey]*apperrors.Error)
	c.saving = make(map[models.StepKey]bool)
	c.unlocked = map[int]bool{1: true}
	if c.gen == nil {
		c.gen = make(map[models.StepKey]uint64)
	}
	for key := range c.gen {
		c.gen[key]++
	}
	c.stopTimersLocked()
}

func (c *Controller) stopTimersLocked() {
	for key, t := range c.timers {
		t.Stop()
		delete(c.timers, key)
	}
	if c.timers == nil {
		c.timers = make(map[models.StepKey]*time.Timer)
	}
	c.pending = make(map[models.StepKey]models.JSONB)
}

// LoadApplication fetches the application and replaces the session state with
// the server's copy. While the reload is in flight every debounced draft
// write is suppressed, so a stale timer can never overwrite freshly loaded
// data. An unresolvable id leaves the session in a fresh step-1 state and
// surfaces a not-found error.
func (c *Controller) LoadApplication(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	c.reloading = true
	c.stopTimersLocked()
	c.mu.Unlock()

	app, err := c.store.Load(ctx, id)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.reloading = false

	if err != nil {
		c.resetLocked()
		return apperrors.Normalize(err)
	}

	c.applyLocked(app)
	c.telemetry.UpdateApplicationID(app.ID)
	return nil
}

// applyLocked merges a server copy into the session: payloads become drafts,
// the persisted current step is restored, and steps unlock wherever the
// preceding step's data already exists so a reload resumes exactly where the
// applicant left off.
func (c *Controller) applyLocked(app *models.Application) {
	c.appID = app.ID
	c.hasApp = true
	c.status = app.Status
	c.currentStep = app.CurrentStep
	if c.currentStep < 1 || c.currentStep > len(models.StepOrder) {
		c.currentStep = 1
	}

	c.steps = make(models.StepPayloads)
	c.drafts = make(map[models.StepKey]models.JSONB)
	for key, payload := range app.Steps {
		c.steps[key] = cloneJSONB(payload)
		c.drafts[models.StepKey(key)] = cloneJSONB(payload)
	}

	c.unlocked = map[int]bool{1: true}
	for i := range models.StepOrder {
		if app.StepUnlocked(i + 1) {
			c.unlocked[i+1] = true
		}
	}
	for i, key := range models.StepOrder {
		if app.StepPayload(key) != nil {
			c.unlocked[i+1] = true
			if i+2 <= len(models.StepOrder) {
				c.unlocked[i+2] = true
			}
		}
	}
	if c.status.ReadOnly() {
		for i := range models.StepOrder {
			c.unlocked[i+1] = true
		}
	}

	c.stepErrs = make(map[models.StepKey]*apperrors.Error)
	c.saving = make(map[models.StepKey]bool)
	for key := range c.gen {
		c.gen[key]++
	}
}

// UpdateDraft merges a partial, local-only edit into the step's draft after
// the debounce window elapses. Edits arriving during a reload are dropped:
// the reload always wins over a stale debounced write.
func (c *Controller) UpdateDraft(step models.StepKey, partial models.JSONB) {
	if models.StepNumber(step) == 0 || len(partial) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reloading || c.status.ReadOnly() {
		return
	}

	if c.pending[step] == nil {
		c.pending[step] = models.JSONB{}
	}
	for k, v := range partial {
		c.pending[step][k] = v
	}

	if t := c.timers[step]; t != nil {
		t.Stop()
	}
	c.timers[step] = time.AfterFunc(c.debounceWindow, func() {
		c.flushDraft(step)
	})
}

func (c *Controller) flushDraft(step models.StepKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.timers, step)
	if c.reloading {
		delete(c.pending, step)
		return
	}

	staged := c.pending[step]
	if staged == nil {
		return
	}
	delete(c.pending, step)

	if c.drafts[step] == nil {
		c.drafts[step] = models.JSONB{}
	}
	for k, v := range staged {
		c.drafts[step][k] = v
	}
}

// SubmitStep validates and persists one step. On success the canonical
// payload returned by the store replaces the draft, the next step unlocks and
// the current step advances. On failure the draft is preserved verbatim, the
// current step stays put, and a tagged error lands in the step's error slot.
// Validation errors are the exception and are returned to the caller only.
func (c *Controller) SubmitStep(ctx context.Context, step models.StepKey, data models.JSONB) error {
	n := models.StepNumber(step)
	if n == 0 {
		return apperrors.Validation("Unknown step.")
	}

	c.mu.Lock()
	if c.status.ReadOnly() {
		c.mu.Unlock()
		return apperrors.New(apperrors.KindConflict, "This application can no longer be edited.")
	}
	if n != c.currentStep && !c.unlocked[n] {
		c.mu.Unlock()
		return apperrors.Validation("This step is not available yet.")
	}
	if c.saving[step] {
		c.mu.Unlock()
		return apperrors.New(apperrors.KindConflict, "A save for this step is already in progress.")
	}

	// The submitted data becomes the draft immediately, so a failed save
	// keeps the applicant's input exactly as submitted.
	if t := c.timers[step]; t != nil {
		t.Stop()
		delete(c.timers, step)
	}
	delete(c.pending, step)
	c.drafts[step] = cloneJSONB(data)
	c.mu.Unlock()

	c.telemetry.Track(EventStepStarted, step, nil)

	if err := ValidateStepPayload(step, data); err != nil {
		tagged := apperrors.Normalize(err)
		c.telemetry.Track(EventStepValidationError, step, map[string]interface{}{"message": tagged.Message})
		return tagged
	}

	c.mu.Lock()
	if c.saving[step] {
		c.mu.Unlock()
		return apperrors.New(apperrors.KindConflict, "A save for this step is already in progress.")
	}
	c.saving[step] = true
	if !c.hasApp {
		if step != models.StepBasics {
			c.saving[step] = false
			c.mu.Unlock()
			return apperrors.Validation("The application must be started from the first step.")
		}
		// Created implicitly on the first save of step 1.
		c.mu.Unlock()
		app, err := c.store.Create(ctx)
		c.mu.Lock()
		if err != nil {
			c.saving[step] = false
			tagged := apperrors.Normalize(err)
			c.stepErrs[step] = tagged
			c.mu.Unlock()
			return tagged
		}
		c.appID = app.ID
		c.hasApp = true
		c.status = app.Status
		c.telemetry.UpdateApplicationID(app.ID)
	}

	c.gen[step]++
	gen := c.gen[step]
	appID := c.appID
	c.mu.Unlock()

	canonical, err := c.saveStep(ctx, appID, step, data)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.saving[step] = false

	if gen != c.gen[step] {
		// The session moved on (reload or newer submit of this step) while
		// this save was in flight: discard the stale response.
		c.logger.WithField("step", step).Debug("discarding stale save response")
		return nil
	}

	if err != nil {
		tagged := apperrors.Normalize(err)
		if tagged.Kind != apperrors.KindValidation {
			c.stepErrs[step] = tagged
		}
		return tagged
	}

	c.steps[string(step)] = cloneJSONB(canonical)
	c.drafts[step] = cloneJSONB(canonical)
	delete(c.stepErrs, step)
	if c.status == models.ApplicationStatusDraft {
		c.status = models.ApplicationStatusInProgress
	}
	if n < len(models.StepOrder) {
		c.unlocked[n+1] = true
		if c.currentStep <= n {
			c.currentStep = n + 1
		}
	}

	c.telemetry.Track(EventStepCompleted, step, nil)
	return nil
}

func (c *Controller) saveStep(ctx context.Context, appID uuid.UUID, step models.StepKey, data models.JSONB) (models.JSONB, error) {
	switch step {
	case models.StepBasics:
		return c.store.SaveBasics(ctx, appID, data)
	case models.StepContact:
		return c.store.SaveContact(ctx, appID, data)
	case models.StepEmployment:
		return c.store.SaveEmployment(ctx, appID, data)
	case models.StepDocuments:
		complete, err := c.gate.RequiredComplete(ctx, appID)
		if err != nil {
			return nil, err
		}
		if !complete {
			return nil, apperrors.Validation("All required documents must be uploaded before continuing.")
		}
		return c.store.SaveDocuments(ctx, appID, models.JSONB{"completed": true})
	}
	return nil, apperrors.Validation("This step cannot be saved directly.")
}

// GoToStep moves the step pointer. Navigation to a locked future step is a
// no-op and reports false; once the application reaches a read-only status
// every step becomes freely viewable for audit.
func (c *Controller) GoToStep(step int) bool {
	if step < 1 || step > len(models.StepOrder) {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.unlocked[step] && !c.status.ReadOnly() {
		return false
	}
	c.currentStep = step
	return true
}

// FinalSubmit performs the terminal submission from the review step. The same
// review screen serves two workflows: a first-time submission and the
// post-approval document finalization; the application's status decides
// which terminal store call applies.
func (c *Controller) FinalSubmit(ctx context.Context, consent bool) (*models.Application, error) {
	c.mu.Lock()
	if !c.hasApp {
		c.mu.Unlock()
		return nil, apperrors.Validation("No application to submit.")
	}
	if c.status.ReadOnly() {
		c.mu.Unlock()
		return nil, apperrors.New(apperrors.KindConflict, "This application has already been submitted.")
	}
	if !consent {
		c.mu.Unlock()
		return nil, apperrors.Validation("Consent is required before submitting.")
	}
	for n := 1; n <= len(models.StepOrder); n++ {
		if !c.unlocked[n] {
			c.mu.Unlock()
			return nil, apperrors.Validation("All steps must be completed before submitting.")
		}
	}
	if c.saving[models.StepReview] {
		c.mu.Unlock()
		return nil, apperrors.New(apperrors.KindConflict, "A submission is already in progress.")
	}
	c.saving[models.StepReview] = true
	status := c.status
	appID := c.appID
	c.mu.Unlock()

	c.telemetry.Track(EventStepStarted, models.StepReview, nil)

	var app *models.Application
	var err error
	if status == models.ApplicationStatusApproved {
		app, err = c.store.SubmitForDocumentsReview(ctx, appID)
	} else {
		app, err = c.store.Submit(ctx, appID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.saving[models.StepReview] = false

	if err != nil {
		tagged := apperrors.Normalize(err)
		if tagged.Kind != apperrors.KindValidation {
			c.stepErrs[models.StepReview] = tagged
		}
		return nil, tagged
	}

	c.applyLocked(app)
	c.telemetry.Track(EventApplicationSubmit, models.StepReview, map[string]interface{}{
		"status": string(app.Status),
	})
	return app, nil
}

// Withdraw transitions the application to withdrawn. It is a status change,
// never a deletion.
func (c *Controller) Withdraw(ctx context.Context, reason string) (*models.Application, error) {
	c.mu.Lock()
	if !c.hasApp {
		c.mu.Unlock()
		return nil, apperrors.Validation("No application to withdraw.")
	}
	if c.status.Terminal() {
		c.mu.Unlock()
		return nil, apperrors.New(apperrors.KindConflict, "This application is already closed.")
	}
	appID := c.appID
	c.mu.Unlock()

	app, err := c.store.Withdraw(ctx, appID, reason)
	if err != nil {
		return nil, apperrors.Normalize(err)
	}

	c.mu.Lock()
	c.applyLocked(app)
	c.mu.Unlock()

	c.telemetry.Track(EventApplicationWithdraw, "", map[string]interface{}{"reason": reason})
	return app, nil
}

// AddRecord appends an empty sub-record to the step's repeatable record list.
// Only the employment step carries repeatable records.
func (c *Controller) AddRecord(step models.StepKey) error {
	if step != models.StepEmployment {
		return apperrors.Validation("This step has no repeatable records.")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status.ReadOnly() {
		return apperrors.New(apperrors.KindConflict, "This application can no longer be edited.")
	}

	records := c.draftRecordsLocked(step)
	records = append(records, map[string]interface{}{})
	c.setDraftRecordsLocked(step, records)
	return nil
}

// RemoveRecord removes one sub-record by index. At least one record always
// remains: removing the last one is a no-op.
func (c *Controller) RemoveRecord(step models.StepKey, index int) error {
	if step != models.StepEmployment {
		return apperrors.Validation("This step has no repeatable records.")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status.ReadOnly() {
		return apperrors.New(apperrors.KindConflict, "This application can no longer be edited.")
	}

	records := c.draftRecordsLocked(step)
	if len(records) <= 1 {
		return nil
	}
	if index < 0 || index >= len(records) {
		return apperrors.Validation("No such record.")
	}

	records = append(records[:index], records[index+1:]...)
	c.setDraftRecordsLocked(step, records)
	return nil
}

func (c *Controller) draftRecordsLocked(step models.StepKey) []interface{} {
	draft := c.drafts[step]
	if draft == nil {
		return []interface{}{map[string]interface{}{}}
	}
	records, ok := draft["records"].([]interface{})
	if !ok || len(records) == 0 {
		return []interface{}{map[string]interface{}{}}
	}
	return records
}

func (c *Controller) setDraftRecordsLocked(step models.StepKey, records []interface{}) {
	if c.drafts[step] == nil {
		c.drafts[step] = models.JSONB{}
	}
	c.drafts[step]["records"] = records
}

// State accessors.

func (c *Controller) CurrentStep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentStep
}

func (c *Controller) IsStepUnlocked(step int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unlocked[step] || c.status.ReadOnly()
}

func (c *Controller) StepDraft(step models.StepKey) models.JSONB {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneJSONB(c.drafts[step])
}

func (c *Controller) StepError(step models.StepKey) *apperrors.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stepErrs[step]
}

func (c *Controller) IsSaving(step models.StepKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saving[step]
}

func (c *Controller) Status() models.ApplicationStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) ApplicationID() (uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appID, c.hasApp
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Status:      c.status,
		CurrentStep: c.currentStep,
		Steps:       make(models.StepPayloads, len(c.steps)),
		Drafts:      make(map[models.StepKey]models.JSONB, len(c.drafts)),
		Errors:      make(map[models.StepKey]*apperrors.Error, len(c.stepErrs)),
		Saving:      make(map[models.StepKey]bool, len(c.saving)),
		ReadOnly:    c.status.ReadOnly(),
	}
	if c.hasApp {
		snap.ApplicationID = c.appID.String()
	}
	for n := 1; n <= len(models.StepOrder); n++ {
		if c.unlocked[n] || c.status.ReadOnly() {
			snap.UnlockedSteps = append(snap.UnlockedSteps, n)
		}
	}
	for key, payload := range c.steps {
		snap.Steps[key] = cloneJSONB(payload)
	}
	for key, draft := range c.drafts {
		snap.Drafts[key] = cloneJSONB(draft)
	}
	for key, err := range c.stepErrs {
		snap.Errors[key] = err
	}
	for key, saving := range c.saving {
		if saving {
			snap.Saving[key] = true
		}
	}
	return snap
}

// Dispose stops pending timers and closes the telemetry session. In-flight
// saves are abandoned, not cancelled: a save resolving after disposal is
// discarded by its generation check.
func (c *Controller) Dispose() {
	c.mu.Lock()
	c.stopTimersLocked()
	for key := range c.gen {
		c.gen[key]++
	}
	c.mu.Unlock()
	c.telemetry.Dispose()
}

func cloneJSONB(src models.JSONB) models.JSONB {
	if src == nil {
		return nil
	}
	dst := make(models.JSONB, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
