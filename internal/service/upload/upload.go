// Package upload drives the predict page: sending a document for processing and
// rebuilding the result view from the local upload history.
package upload

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"datamask/internal/apiclient"
	"datamask/internal/apperr"
	"datamask/internal/auth"
	"datamask/internal/logging"
	"datamask/internal/models"
	"datamask/internal/worker"
)

// State is the position of a browser on the predict page.
type State string

const (
	StateIdle         State = "idle"
	StateFileSelected State = "file-selected"
	StateUploading    State = "uploading"
	StateResult       State = "result"
	StateUploadError  State = "upload-error"
)

const (
	MsgSelectFile   = "Please select a file to upload"
	MsgUploadFailed = "File upload failed"
	MsgInFlight     = "A request is already in progress"
	MsgLoadResults  = "Could not load results"
	MsgLoadFiles    = "Could not load files"

	UnknownFile = "Unknown File"
	UnknownType = "Unknown Type"
)

const formUpload = "upload"

// FileAPI is the part of the REST client the flow uses.
type FileAPI interface {
	UploadFile(ctx context.Context, file apiclient.Upload) (*models.FileRecord, error)
	ProcessFile(ctx context.Context, fileID int64) (*models.ProcessResult, error)
	GetFilesList(ctx context.Context) ([]*models.FileRecord, error)
	GetFileDetails(ctx context.Context, fileID int64) (*models.FileRecord, error)
	GetProcessingLogs(ctx context.Context, fileID int64) ([]*models.ProcessingLog, error)
	GetPIIDetections(ctx context.Context, fileID int64) ([]*models.Detection, error)
}

// SelectedFile is the document chosen for one upload attempt.
type SelectedFile struct {
	Name        string
	ContentType string
	Size        int64
	Reader      io.Reader
}

// Options tune processing.
type Options struct {
	Simulate       bool
	SimulateDelay  time.Duration
	EnforceLimits  bool
	MaxUploadBytes int64
}

// Outcome is the result of a submit.
type Outcome struct {
	State    State
	Redirect string
	Notice   string
	Upload   *models.Upload
	Err      *apperr.Error
}

// ResultView is everything the result page renders.
type ResultView struct {
	FileName       string
	FileType       string
	Detections     []models.DetectionView
	ProcessingTime string
	Simulated      bool
	Err            *apperr.Error
}

type Flow struct {
	api        FileAPI
	store      *Store
	dispatcher *worker.Dispatcher
	guard      *auth.InFlight
	opts       Options
	logger     *zap.Logger
}

func NewFlow(api FileAPI, store *Store, dispatcher *worker.Dispatcher, guard *auth.InFlight, opts Options, logger *zap.Logger) *Flow {
	if guard == nil {
		guard = auth.NewInFlight()
	}
	if opts.Simulate && opts.SimulateDelay < 0 {
		opts.SimulateDelay = 0
	}
	return &Flow{
		api:        api,
		store:      store,
		dispatcher: dispatcher,
		guard:      guard,
		opts:       opts,
		logger:     logging.Or(logger),
	}
}

// Submit sends the file for processing and records it in the session history.
// A nil file is a no-op that leaves the page idle.
func (f *Flow) Submit(ctx context.Context, sessionID string, file *SelectedFile) Outcome {
	if file == nil || file.Reader == nil {
		return Outcome{State: StateIdle, Notice: MsgSelectFile}
	}
	release, err := f.guard.Begin(sessionID, formUpload)
	if err != nil {
		return Outcome{
			State: StateUploading,
			Err:   &apperr.Error{Category: apperr.CategoryValidation, Message: MsgInFlight, Err: err},
		}
	}
	defer release()

	if f.opts.EnforceLimits {
		reader, verr := checkLimits(file, f.opts.MaxUploadBytes)
		if verr != nil {
			return Outcome{State: StateUploadError, Err: verr}
		}
		file.Reader = reader
	}

	var record *models.Upload
	err = f.dispatcher.Do(ctx, sessionID, func(ctx context.Context) error {
		var err error
		record, err = f.process(ctx, sessionID, file)
		return err
	})
	if err != nil {
		f.logger.Warn("upload failed",
			zap.String("session", sessionID),
			zap.String("file", file.Name),
			zap.Error(err),
		)
		if errors.Is(err, worker.ErrDispatcherBusy) {
			return Outcome{
				State: StateUploadError,
				Err:   &apperr.Error{Category: apperr.CategoryServer, Message: err.Error(), Err: err},
			}
		}
		return Outcome{State: StateUploadError, Err: apperr.Normalize(err, MsgUploadFailed)}
	}

	f.logger.Info("upload processed",
		zap.String("session", sessionID),
		zap.Int64("upload_id", record.ID),
		zap.Int64("file_id", record.FileID),
	)
	return Outcome{
		State:    StateResult,
		Redirect: "/result?upload=" + strconv.FormatInt(record.ID, 10),
		Upload:   record,
	}
}

func (f *Flow) process(ctx context.Context, sessionID string, file *SelectedFile) (*models.Upload, error) {
	record := &models.Upload{
		SessionID: sessionID,
		FileName:  file.Name,
		FileType:  file.ContentType,
		Size:      file.Size,
	}

	if f.opts.Simulate {
		timer := time.NewTimer(f.opts.SimulateDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
		record.Status = models.FileStatusCompleted
		record.ProcessingTime = models.SampleProcessingTime
	} else {
		uploaded, err := f.api.UploadFile(ctx, apiclient.Upload{
			Name:        file.Name,
			ContentType: file.ContentType,
			Reader:      file.Reader,
		})
		if err != nil {
			return nil, fmt.Errorf("upload file: %w", err)
		}
		record.FileID = uploaded.ID
		record.Status = uploaded.Status
		result, err := f.api.ProcessFile(ctx, uploaded.ID)
		if err != nil {
			return nil, fmt.Errorf("process file %d: %w", uploaded.ID, err)
		}
		if result != nil && result.Status != "" {
			record.Status = models.FileStatus(result.Status)
		}
	}

	if err := f.store.Create(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Result rebuilds the result page for ?upload=<param>. Unknown or foreign ids
// render the placeholder name and type.
func (f *Flow) Result(ctx context.Context, sessionID, param string) *ResultView {
	view := &ResultView{FileName: UnknownFile, FileType: UnknownType}

	var record *models.Upload
	if id, err := strconv.ParseInt(param, 10, 64); err == nil && id > 0 {
		record, err = f.store.Get(ctx, sessionID, id)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			f.logger.Warn("load upload", zap.Int64("upload_id", id), zap.Error(err))
		}
	}
	if record != nil {
		if record.FileName != "" {
			view.FileName = record.FileName
		}
		if record.FileType != "" {
			view.FileType = record.FileType
		}
	}

	if record == nil || record.Simulated() {
		view.Simulated = true
		view.Detections = models.SampleDetections()
		view.ProcessingTime = models.SampleProcessingTime
		return view
	}

	detections, err := f.api.GetPIIDetections(ctx, record.FileID)
	if err != nil {
		view.Err = apperr.Normalize(err, MsgLoadResults)
		return view
	}
	view.Detections = make([]models.DetectionView, 0, len(detections))
	for _, d := range detections {
		view.Detections = append(view.Detections, d.View())
	}

	status := record.Status
	if details, err := f.api.GetFileDetails(ctx, record.FileID); err != nil {
		f.logger.Warn("load file details", zap.Int64("file_id", record.FileID), zap.Error(err))
	} else if details.Status != "" {
		status = details.Status
	}

	view.ProcessingTime = record.ProcessingTime
	logs, err := f.api.GetProcessingLogs(ctx, record.FileID)
	if err != nil {
		f.logger.Warn("load processing logs", zap.Int64("file_id", record.FileID), zap.Error(err))
	} else if latest := latestLog(logs); latest != nil {
		view.ProcessingTime = formatSeconds(*latest.ProcessingTime)
	}

	if view.ProcessingTime != record.ProcessingTime || status != record.Status {
		if err := f.store.UpdateResult(ctx, record.ID, status, view.ProcessingTime); err != nil {
			f.logger.Warn("update upload result", zap.Int64("upload_id", record.ID), zap.Error(err))
		}
	}
	return view
}

// Files lists the signed-in user's documents on the server.
func (f *Flow) Files(ctx context.Context) ([]*models.FileRecord, *apperr.Error) {
	files, err := f.api.GetFilesList(ctx)
	if err != nil {
		return nil, apperr.Normalize(err, MsgLoadFiles)
	}
	return files, nil
}

// History lists the session's recent uploads.
func (f *Flow) History(ctx context.Context, sessionID string) ([]*models.Upload, error) {
	return f.store.ListBySession(ctx, sessionID, 20)
}

// CancelPending drops the session's uploads that are still queued.
func (f *Flow) CancelPending(sessionID string) {
	f.dispatcher.CancelSession(sessionID)
}

// NeedsToken reports whether uploads go to the remote API and so need a
// signed-in browser.
func (f *Flow) NeedsToken() bool {
	return !f.opts.Simulate
}

// Submitting reports whether the session has an upload outstanding.
func (f *Flow) Submitting(sessionID string) bool {
	return f.guard.Busy(sessionID, formUpload)
}

// latestLog picks the most recently started log that has a processing time.
func latestLog(logs []*models.ProcessingLog) *models.ProcessingLog {
	timed := make([]*models.ProcessingLog, 0, len(logs))
	for _, l := range logs {
		if l != nil && l.ProcessingTime != nil {
			timed = append(timed, l)
		}
	}
	if len(timed) == 0 {
		return nil
	}
	sort.SliceStable(timed, func(i, j int) bool {
		return timed[i].StartedAt.After(timed[j].StartedAt)
	})
	return timed[0]
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + " seconds"
}
