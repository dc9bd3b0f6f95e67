package upload

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"datamask/internal/models"
)

// Store persists upload history per browser session.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts the upload and fills in its id and creation time.
func (s *Store) Create(ctx context.Context, u *models.Upload) error {
	if u.SessionID == "" {
		return errors.New("session id required")
	}
	u.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO uploads (session_id, file_id, file_name, file_type, size, status, processing_time, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.SessionID, u.FileID, u.FileName, u.FileType, u.Size, string(u.Status), u.ProcessingTime, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("upload id: %w", err)
	}
	u.ID = id
	return nil
}

// Get returns the upload only when it belongs to the session.
func (s *Store) Get(ctx context.Context, sessionID string, id int64) (*models.Upload, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, file_id, file_name, file_type, size, status, processing_time, created_at
		 FROM uploads WHERE id = ? AND session_id = ?`, id, sessionID,
	)
	u, err := scanUpload(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("query upload: %w", err)
	}
	return u, nil
}

// ListBySession returns the session's uploads, newest first.
func (s *Store) ListBySession(ctx context.Context, sessionID string, limit int) ([]*models.Upload, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, file_id, file_name, file_type, size, status, processing_time, created_at
		 FROM uploads WHERE session_id = ? ORDER BY id DESC LIMIT ?`, sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	var uploads []*models.Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

// UpdateResult stores the latest known status and processing time.
func (s *Store) UpdateResult(ctx context.Context, id int64, status models.FileStatus, processingTime string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE uploads SET status = ?, processing_time = ? WHERE id = ?`,
		string(status), processingTime, id,
	)
	if err != nil {
		return fmt.Errorf("update upload: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUpload(row scanner) (*models.Upload, error) {
	var (
		u      models.Upload
		status string
	)
	if err := row.Scan(&u.ID, &u.SessionID, &u.FileID, &u.FileName, &u.FileType, &u.Size, &status, &u.ProcessingTime, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Status = models.FileStatus(status)
	return &u, nil
}
