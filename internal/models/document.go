// internal/models/document.go
package models

import (
	"database/sql/driver"
	"encoding/json"

	"github.com/google/uuid"
)

// DocumentFile is one server-confirmed file inside a document slot.
type DocumentFile struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"original_name"`
	Size         int64  `json:"size"`
	ContentType  string `json:"content_type,omitempty"`
	Side         string `json:"side,omitempty"`
}

type DocumentFiles []DocumentFile

func (f DocumentFiles) Value() (driver.Value, error) {
	if f == nil {
		return nil, nil
	}
	return json.Marshal(f)
}

func (f *DocumentFiles) Scan(value interface{}) error {
	if value == nil {
		*f = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, f)
}

// DocumentRecord holds the confirmed file list for one document slot of an
// application. Files only change through a confirmed store response to an
// upload or delete call; in-flight progress lives outside the record.
type DocumentRecord struct {
	BaseModel
	ApplicationID uuid.UUID      `json:"application_id" gorm:"type:uuid;not null;uniqueIndex:idx_document_records_app_type"`
	Type          DocumentType   `json:"type" gorm:"type:varchar(30);not null;uniqueIndex:idx_document_records_app_type"`
	Files         DocumentFiles  `json:"files" gorm:"type:jsonb"`
	Status        DocumentStatus `json:"status" gorm:"type:varchar(20);default:'not_uploaded'"`

	// Relationships
	Application Application `json:"-" gorm:"foreignKey:ApplicationID"`
}

// HasFiles reports whether at least one confirmed file exists.
func (r *DocumentRecord) HasFiles() bool {
	return r != nil && len(r.Files) > 0
}

// FindFile returns the confirmed file with the given stored filename.
func (r *DocumentRecord) FindFile(filename string) (DocumentFile, bool) {
	for _, f := range r.Files {
		if f.Filename == filename {
			return f, true
		}
	}
	return DocumentFile{}, false
}
