// internal/handlers/document.go
package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/drivelend/onboarding-backend/internal/models"
	"github.com/drivelend/onboarding-backend/internal/upload"
	"github.com/drivelend/onboarding-backend/internal/utils"
)

type DocumentHandler struct {
	registry *SessionRegistry
}

func NewDocumentHandler(registry *SessionRegistry) *DocumentHandler {
	return &DocumentHandler{registry: registry}
}

func (h *DocumentHandler) session(c *gin.Context) (*Session, bool) {
	return acquireSession(c, h.registry)
}

func docTypeParam(c *gin.Context) (models.DocumentType, bool) {
	docType := models.DocumentType(c.Param("type"))
	if !models.ValidDocumentType(docType) {
		utils.BadRequestResponse(c, "Unknown document type.", nil)
		return "", false
	}
	return docType, true
}

// Upload accepts a multipart batch for one document slot. The whole batch is
// validated before anything is sent; a single bad file rejects the batch.
func (h *DocumentHandler) Upload(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	docType, ok := docTypeParam(c)
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		utils.BadRequestResponse(c, "Expected a multipart upload.", nil)
		return
	}

	headers := form.File["files"]
	files := make([]upload.FilePayload, 0, len(headers))
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			utils.InternalErrorResponse(c, "Could not read the uploaded file.")
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			utils.InternalErrorResponse(c, "Could not read the uploaded file.")
			return
		}

		contentType := header.Header.Get("Content-Type")
		if contentType == "" && len(data) > 0 {
			contentType = http.DetectContentType(data)
		}

		files = append(files, upload.FilePayload{
			OriginalName: header.Filename,
			Size:         header.Size,
			ContentType:  contentType,
			Data:         data,
		})
	}

	if err := sess.Uploads.SelectFiles(c.Request.Context(), docType, files); err != nil {
		utils.TaggedErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"documents":         sess.Uploads.Slots(),
		"required_complete": sess.Uploads.RequiredComplete(),
	})
}

// Retry resubmits the retained batch of a failed slot, unchanged.
func (h *DocumentHandler) Retry(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	docType, ok := docTypeParam(c)
	if !ok {
		return
	}

	if err := sess.Uploads.Retry(c.Request.Context(), docType); err != nil {
		utils.TaggedErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"documents":         sess.Uploads.Slots(),
		"required_complete": sess.Uploads.RequiredComplete(),
	})
}

// RemoveFile removes the file at index from a slot. A staged (not yet
// uploaded) batch is trimmed in memory; an uploaded file is deleted from
// storage as well.
func (h *DocumentHandler) RemoveFile(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	docType, ok := docTypeParam(c)
	if !ok {
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid file index.", nil)
		return
	}

	if len(sess.Uploads.PendingBatch(docType)) > 0 {
		if err := sess.Uploads.RemoveFile(docType, index); err != nil {
			utils.TaggedErrorResponse(c, err)
			return
		}
	} else {
		record := slotFor(sess, docType)
		if record == nil || index < 0 || index >= len(record.Files) {
			utils.NotFoundResponse(c, "No such file.")
			return
		}
		filename := record.Files[index].Filename
		if err := sess.Uploads.DeleteFile(c.Request.Context(), docType, filename); err != nil {
			utils.TaggedErrorResponse(c, err)
			return
		}
	}

	utils.SuccessResponse(c, gin.H{
		"documents":         sess.Uploads.Slots(),
		"required_complete": sess.Uploads.RequiredComplete(),
	})
}

func slotFor(sess *Session, docType models.DocumentType) *upload.SlotView {
	for _, slot := range sess.Uploads.Slots() {
		if slot.Type == docType {
			s := slot
			return &s
		}
	}
	return nil
}

// DownloadFile serves one stored file. With S3 configured the response is a
// redirect to a short-lived presigned link; the local fallback streams the
// bytes directly.
func (h *DocumentHandler) DownloadFile(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	docType, ok := docTypeParam(c)
	if !ok {
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid file index.", nil)
		return
	}

	record := slotFor(sess, docType)
	if record == nil || index < 0 || index >= len(record.Files) {
		utils.NotFoundResponse(c, "No such file.")
		return
	}
	file := record.Files[index]

	appID, ok := sess.Controller.ApplicationID()
	if !ok {
		utils.NotFoundResponse(c, "No such file.")
		return
	}

	link, err := h.registry.documents.PresignFile(c.Request.Context(), appID, file.Filename)
	if err != nil {
		utils.TaggedErrorResponse(c, err)
		return
	}
	if link != "" {
		c.Redirect(http.StatusFound, link)
		return
	}

	data, err := h.registry.documents.DownloadOne(c.Request.Context(), appID, file.Filename)
	if err != nil {
		utils.TaggedErrorResponse(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, file.OriginalName))
	c.Data(http.StatusOK, file.ContentType, data)
}

// List renders every slot plus the aggregate readiness of the required set.
func (h *DocumentHandler) List(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	utils.SuccessResponse(c, gin.H{
		"documents":         sess.Uploads.Slots(),
		"required_complete": sess.Uploads.RequiredComplete(),
		"capture":           sess.Uploads.Capture(),
	})
}

// Archive streams a zip of every stored document. Files that fail to
// download are skipped and named in a trailer header rather than failing the
// whole archive.
func (h *DocumentHandler) Archive(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	result, err := sess.Uploads.DownloadAll(c.Request.Context())
	if err != nil {
		utils.TaggedErrorResponse(c, err)
		return
	}

	filename := fmt.Sprintf("documents_%s.zip", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	if result.Skipped > 0 {
		c.Header("X-Skipped-Files", strconv.Itoa(result.Skipped))
	}
	c.Data(http.StatusOK, "application/zip", result.Data)
}
