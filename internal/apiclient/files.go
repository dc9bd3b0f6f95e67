package apiclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"datamask/internal/models"
)

// Upload is the file handed to UploadFile.
type Upload struct {
	Name        string
	ContentType string
	Reader      io.Reader
}

// UploadFile posts the file as multipart form field "file".
func (c *Client) UploadFile(ctx context.Context, file Upload) (*models.FileRecord, error) {
	if file.Reader == nil {
		return nil, fmt.Errorf("upload file: no content")
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(file.Name)))
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := io.Copy(part, file.Reader); err != nil {
		return nil, fmt.Errorf("copy upload body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/files/", nil, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var record models.FileRecord
	if err := c.do(req, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// GetFilesList returns the caller's uploads.
func (c *Client) GetFilesList(ctx context.Context) ([]*models.FileRecord, error) {
	var files []*models.FileRecord
	if err := c.doJSON(ctx, http.MethodGet, "/files/", nil, nil, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// GetFileDetails returns one upload with its logs and detections.
func (c *Client) GetFileDetails(ctx context.Context, fileID int64) (*models.FileRecord, error) {
	var record models.FileRecord
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/files/%d/", fileID), nil, nil, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// ProcessFile triggers server-side PII detection for the file.
func (c *Client) ProcessFile(ctx context.Context, fileID int64) (*models.ProcessResult, error) {
	var result models.ProcessResult
	if err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/files/%d/process/", fileID), nil, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetProcessingLogs lists processing attempts for the file.
func (c *Client) GetProcessingLogs(ctx context.Context, fileID int64) ([]*models.ProcessingLog, error) {
	var logs []*models.ProcessingLog
	if err := c.doJSON(ctx, http.MethodGet, "/logs/", fileQuery(fileID), nil, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// GetPIIDetections lists detections for the file.
func (c *Client) GetPIIDetections(ctx context.Context, fileID int64) ([]*models.Detection, error) {
	var detections []*models.Detection
	if err := c.doJSON(ctx, http.MethodGet, "/detections/", fileQuery(fileID), nil, &detections); err != nil {
		return nil, err
	}
	return detections, nil
}

func fileQuery(fileID int64) url.Values {
	return url.Values{"file_upload": []string{strconv.FormatInt(fileID, 10)}}
}

func escapeQuotes(s string) string {
	return strings.NewReplacer("\\", "\\\\", `"`, "\\\"").Replace(s)
}
