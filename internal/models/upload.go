package models

import "time"

// Upload is the local history entry that carries navigation state from the
// upload page to the result page.
type Upload struct {
	ID             int64      `json:"id"`
	SessionID      string     `json:"session_id"`
	FileID         int64      `json:"file_id"` // server id, 0 when processing was simulated
	FileName       string     `json:"file_name"`
	FileType       string     `json:"file_type"`
	Size           int64      `json:"size"`
	Status         FileStatus `json:"status"`
	ProcessingTime string     `json:"processing_time"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Simulated reports whether the upload never reached the server.
func (u *Upload) Simulated() bool {
	return u != nil && u.FileID == 0
}
