package models

type CreateProjectRequest struct {
	Title string `json:"title" binding:"required" example:"Quarterly review"`
}

// ProcessingWebhookRequest is sent by an external processor when it has
// finished deriving artifacts for a batch.
type ProcessingWebhookRequest struct {
	BatchID string          `json:"batch_id" binding:"required"`
	Status  string          `json:"status" binding:"required,oneof=completed failed"`
	Error   string          `json:"error,omitempty"`
	Assets  []DerivedUpload `json:"assets,omitempty"`
}

// DerivedUpload is one artifact produced from an original. Content is
// base64 in JSON.
type DerivedUpload struct {
	SourceID    string `json:"source_id" binding:"required"`
	Filename    string `json:"filename" binding:"required"`
	Role        string `json:"role" binding:"required"`
	ContentType string `json:"content_type,omitempty"`
	Content     []byte `json:"content"`
}
