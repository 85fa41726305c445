package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

const (
	BatchPending    = "pending"
	BatchProcessing = "processing"
	BatchCompleted  = "completed"
	BatchFailed     = "failed"
)

type IngestBatch struct {
	ID           uuid.UUID
	ProjectID    uuid.UUID
	OwnerID      uuid.UUID
	FileCount    int
	Status       string
	ErrorMessage sql.NullString
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Terminal reports whether processing of the batch has finished.
func (b *IngestBatch) Terminal() bool {
	return b.Status == BatchCompleted || b.Status == BatchFailed
}
