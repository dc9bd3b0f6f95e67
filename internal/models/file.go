package models

import "time"

// FileStatus mirrors the server-side processing status of an upload.
type FileStatus string

const (
	FileStatusPending    FileStatus = "pending"
	FileStatusProcessing FileStatus = "processing"
	FileStatusCompleted  FileStatus = "completed"
	FileStatusFailed     FileStatus = "failed"
)

// FileRecord is the server's view of an uploaded document.
type FileRecord struct {
	ID               int64            `json:"id"`
	User             int64            `json:"user"`
	File             string           `json:"file"`
	OriginalFilename string           `json:"original_filename"`
	FileType         string           `json:"file_type"`
	Status           FileStatus       `json:"status"`
	UploadedAt       time.Time        `json:"uploaded_at"`
	ProcessedAt      *time.Time       `json:"processed_at"`
	ProcessingLogs   []*ProcessingLog `json:"processing_logs,omitempty"`
	PIIDetections    []*Detection     `json:"pii_detections,omitempty"`
}

// ProcessingLog records one processing attempt for a file.
type ProcessingLog struct {
	ID             int64      `json:"id"`
	FileUpload     int64      `json:"file_upload"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at"`
	Success        bool       `json:"success"`
	ErrorMessage   string     `json:"error_message"`
	ProcessingTime *float64   `json:"processing_time"` // seconds
}

// ProcessResult is the body returned by the process endpoint.
type ProcessResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
