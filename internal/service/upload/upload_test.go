package upload

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datamask/internal/apiclient"
	"datamask/internal/apperr"
	"datamask/internal/auth"
	"datamask/internal/config"
	"datamask/internal/models"
	"datamask/internal/storage"
	"datamask/internal/worker"
)

type fakeFileAPI struct {
	mu         sync.Mutex
	uploadErr  error
	processErr error
	uploaded   []string
	processed  []int64
	detections []*models.Detection
	logs       []*models.ProcessingLog
	files      []*models.FileRecord
	block      chan struct{}
	entered    chan struct{}
}

func (f *fakeFileAPI) UploadFile(ctx context.Context, file apiclient.Upload) (*models.FileRecord, error) {
	if f.entered != nil {
		close(f.entered)
	}
	if f.block != nil {
		<-f.block
	}
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	body, err := io.ReadAll(file.Reader)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploaded = append(f.uploaded, string(body))
	return &models.FileRecord{ID: 42, OriginalFilename: file.Name, Status: models.FileStatusPending}, nil
}

func (f *fakeFileAPI) ProcessFile(ctx context.Context, fileID int64) (*models.ProcessResult, error) {
	if f.processErr != nil {
		return nil, f.processErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, fileID)
	return &models.ProcessResult{Status: "completed"}, nil
}

func (f *fakeFileAPI) GetFilesList(ctx context.Context) ([]*models.FileRecord, error) {
	return f.files, nil
}

func (f *fakeFileAPI) GetFileDetails(ctx context.Context, fileID int64) (*models.FileRecord, error) {
	return &models.FileRecord{ID: fileID, Status: models.FileStatusCompleted}, nil
}

func (f *fakeFileAPI) GetProcessingLogs(ctx context.Context, fileID int64) ([]*models.ProcessingLog, error) {
	return f.logs, nil
}

func (f *fakeFileAPI) GetPIIDetections(ctx context.Context, fileID int64) ([]*models.Detection, error) {
	return f.detections, nil
}

func newTestFlow(t *testing.T, api FileAPI, opts Options) (*Flow, *sql.DB) {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}},
	}
	db, err := storage.Open("sqlite3", cfg)
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db, "sqlite3"))
	_, err = db.Exec(`INSERT INTO browser_sessions (id, token, created_at, updated_at, expires_at) VALUES
		('s1', 'tok', ?, ?, ?), ('s2', '', ?, ?, ?)`,
		time.Now(), time.Now(), time.Now().Add(time.Hour),
		time.Now(), time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)

	d := worker.NewDispatcher(2, 8, nil)
	t.Cleanup(func() {
		d.Stop()
		db.Close()
	})
	return NewFlow(api, NewStore(db), d, auth.NewInFlight(), opts, nil), db
}

func textFile(name, body string) *SelectedFile {
	return &SelectedFile{Name: name, ContentType: "text/plain", Size: int64(len(body)), Reader: strings.NewReader(body)}
}

func TestSubmitWithoutFileIsNoop(t *testing.T) {
	api := &fakeFileAPI{}
	flow, _ := newTestFlow(t, api, Options{})

	out := flow.Submit(context.Background(), "s1", nil)
	assert.Equal(t, StateIdle, out.State)
	assert.Equal(t, MsgSelectFile, out.Notice)
	assert.Nil(t, out.Err)
	assert.Empty(t, api.uploaded)
}

func TestSubmitRealModeUploadsAndProcesses(t *testing.T) {
	score := 1.25
	api := &fakeFileAPI{
		detections: []*models.Detection{
			{PIIType: models.PIIEmail, Context: "bob@example.com", LineNumber: 3},
		},
		logs: []*models.ProcessingLog{
			{StartedAt: time.Now().Add(-time.Hour), ProcessingTime: &score, Success: true},
		},
	}
	flow, _ := newTestFlow(t, api, Options{})

	out := flow.Submit(context.Background(), "s1", textFile("notes.txt", "hello"))
	require.Nil(t, out.Err)
	assert.Equal(t, StateResult, out.State)
	require.NotNil(t, out.Upload)
	assert.Equal(t, "/result?upload="+itoa(out.Upload.ID), out.Redirect)
	assert.Equal(t, int64(42), out.Upload.FileID)
	assert.Equal(t, []string{"hello"}, api.uploaded)
	assert.Equal(t, []int64{42}, api.processed)

	view := flow.Result(context.Background(), "s1", itoa(out.Upload.ID))
	assert.Equal(t, "notes.txt", view.FileName)
	assert.Equal(t, "text/plain", view.FileType)
	assert.False(t, view.Simulated)
	assert.Equal(t, []models.DetectionView{{Type: "Email Address", Value: "bob@example.com", Line: 3}}, view.Detections)
	assert.Equal(t, "1.25 seconds", view.ProcessingTime)

	history, err := flow.History(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.FileStatusCompleted, history[0].Status)
	assert.Equal(t, "1.25 seconds", history[0].ProcessingTime)
}

func TestSubmitSimulatedShowsSample(t *testing.T) {
	api := &fakeFileAPI{}
	flow, _ := newTestFlow(t, api, Options{Simulate: true, SimulateDelay: 5 * time.Millisecond})

	start := time.Now()
	out := flow.Submit(context.Background(), "s1", textFile("a.pdf", "%PDF-1.4"))
	require.Nil(t, out.Err)
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
	assert.True(t, out.Upload.Simulated())
	assert.Empty(t, api.uploaded)

	view := flow.Result(context.Background(), "s1", itoa(out.Upload.ID))
	assert.True(t, view.Simulated)
	assert.Equal(t, "a.pdf", view.FileName)
	assert.Equal(t, models.SampleDetections(), view.Detections)
	assert.Equal(t, "0.5 seconds", view.ProcessingTime)
}

func TestSubmitFailureMessages(t *testing.T) {
	api := &fakeFileAPI{uploadErr: &apiclient.Error{Status: http.StatusInternalServerError}}
	flow, _ := newTestFlow(t, api, Options{})

	out := flow.Submit(context.Background(), "s1", textFile("a.txt", "x"))
	assert.Equal(t, StateUploadError, out.State)
	require.NotNil(t, out.Err)
	assert.Equal(t, MsgUploadFailed, out.Err.Message)
	assert.Equal(t, apperr.CategoryServer, out.Err.Category)

	api.uploadErr = nil
	api.processErr = &apiclient.Error{Status: http.StatusBadRequest, Message: "unsupported document"}
	out = flow.Submit(context.Background(), "s1", textFile("a.txt", "x"))
	require.NotNil(t, out.Err)
	assert.Equal(t, "unsupported document", out.Err.Message)
	assert.Equal(t, apperr.CategoryValidation, out.Err.Category)
	assert.False(t, flow.Submitting("s1"))

	history, err := flow.History(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, history, "failed uploads are not recorded")
}

func TestResultUnknownAndForeign(t *testing.T) {
	api := &fakeFileAPI{}
	flow, _ := newTestFlow(t, api, Options{Simulate: true})

	for _, param := range []string{"", "abc", "-1", "999"} {
		view := flow.Result(context.Background(), "s1", param)
		assert.Equal(t, UnknownFile, view.FileName, param)
		assert.Equal(t, UnknownType, view.FileType, param)
		assert.Len(t, view.Detections, 2, param)
	}

	out := flow.Submit(context.Background(), "s1", textFile("mine.txt", "x"))
	require.Nil(t, out.Err)
	view := flow.Result(context.Background(), "s2", itoa(out.Upload.ID))
	assert.Equal(t, UnknownFile, view.FileName, "other sessions must not see the upload")
}

func TestResultNoDetections(t *testing.T) {
	api := &fakeFileAPI{detections: []*models.Detection{}}
	flow, _ := newTestFlow(t, api, Options{})

	out := flow.Submit(context.Background(), "s1", textFile("clean.txt", "nothing here"))
	require.Nil(t, out.Err)
	view := flow.Result(context.Background(), "s1", itoa(out.Upload.ID))
	assert.NotNil(t, view.Detections)
	assert.Empty(t, view.Detections)
	assert.Nil(t, view.Err)
}

func TestEnforcedLimits(t *testing.T) {
	api := &fakeFileAPI{}
	flow, _ := newTestFlow(t, api, Options{EnforceLimits: true, MaxUploadBytes: 16})

	big := textFile("big.txt", strings.Repeat("a", 32))
	out := flow.Submit(context.Background(), "s1", big)
	require.NotNil(t, out.Err)
	assert.Equal(t, "file too large", out.Err.Message)

	png := &SelectedFile{Name: "x.png", ContentType: "image/png", Size: 8, Reader: strings.NewReader("\x89PNG\r\n\x1a\n")}
	out = flow.Submit(context.Background(), "s1", png)
	require.NotNil(t, out.Err)
	assert.Equal(t, "unsupported file type", out.Err.Message)
	assert.Empty(t, api.uploaded)

	out = flow.Submit(context.Background(), "s1", textFile("ok.txt", "plain text"))
	require.Nil(t, out.Err)
	assert.Equal(t, []string{"plain text"}, api.uploaded, "sniffed prefix must be replayed")
}

func TestConcurrentUploadRejected(t *testing.T) {
	api := &fakeFileAPI{block: make(chan struct{}), entered: make(chan struct{})}
	flow, _ := newTestFlow(t, api, Options{})

	done := make(chan Outcome)
	go func() { done <- flow.Submit(context.Background(), "s1", textFile("a.txt", "x")) }()
	<-api.entered

	out := flow.Submit(context.Background(), "s1", textFile("b.txt", "y"))
	require.NotNil(t, out.Err)
	assert.Equal(t, MsgInFlight, out.Err.Message)
	assert.True(t, errors.Is(out.Err, auth.ErrInFlight))

	close(api.block)
	first := <-done
	assert.Nil(t, first.Err)
}

func TestCancelPendingFailsQueuedUpload(t *testing.T) {
	api := &fakeFileAPI{}
	flow, _ := newTestFlow(t, api, Options{})
	assert.True(t, flow.NeedsToken())

	gate := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)
	for i := 0; i < 2; i++ {
		require.NoError(t, flow.dispatcher.Submit(worker.Job{SessionID: "busy", Run: func(context.Context) {
			started.Done()
			<-gate
		}}))
	}
	started.Wait()
	defer close(gate)

	done := make(chan Outcome, 1)
	go func() { done <- flow.Submit(context.Background(), "s1", textFile("a.txt", "x")) }()
	require.Eventually(t, func() bool { return flow.dispatcher.Stats().Pending == 1 }, time.Second, 5*time.Millisecond)

	flow.CancelPending("s1")

	select {
	case out := <-done:
		assert.Equal(t, StateUploadError, out.State)
		require.NotNil(t, out.Err)
		assert.True(t, errors.Is(out.Err, worker.ErrJobCancelled))
	case <-time.After(time.Second):
		t.Fatal("submit still waiting after cancel")
	}
	assert.Empty(t, api.uploaded)
}

func TestSimulatedUploadNeedsNoToken(t *testing.T) {
	flow, _ := newTestFlow(t, &fakeFileAPI{}, Options{Simulate: true})
	assert.False(t, flow.NeedsToken())
}

func TestFilesList(t *testing.T) {
	api := &fakeFileAPI{files: []*models.FileRecord{{ID: 1, OriginalFilename: "a.txt"}}}
	flow, _ := newTestFlow(t, api, Options{})

	files, err := flow.Files(context.Background())
	require.Nil(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.txt", files[0].OriginalFilename)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
