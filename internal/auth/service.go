package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"datamask/internal/logging"
	"datamask/internal/models"
	"datamask/internal/redis"
)

const redisSessionPrefix = "dm:session:"

// API is the slice of the remote API the auth wrapper drives.
type API interface {
	LoginUser(ctx context.Context, creds models.Credentials) (*models.LoginResult, error)
	RegisterUser(ctx context.Context, reg models.Registration) (map[string]any, error)
}

// Service owns browser sessions and the API bearer token each one holds.
type Service struct {
	db             *sql.DB
	cache          *redis.Client
	api            API
	logger         *zap.Logger
	sessionTTL     time.Duration
	secure         bool
	cookieName     string
	csrfCookieName string
	csrfFieldName  string
	csrfHeaderName string
	now            func() time.Time
}

// NewService constructs an auth service. cache may be nil.
func NewService(db *sql.DB, cache *redis.Client, api API, ttl time.Duration, logger *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Service{
		db:             db,
		cache:          cache,
		api:            api,
		logger:         logging.Or(logger),
		sessionTTL:     ttl,
		cookieName:     "dm_session",
		csrfCookieName: "dm_csrf",
		csrfFieldName:  "csrf_token",
		csrfHeaderName: "X-CSRF-Token",
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// SetSecureCookies marks cookies Secure; enable behind TLS.
func (s *Service) SetSecureCookies(secure bool) {
	s.secure = secure
}

// EnsureSession returns the live session for id, or creates a fresh anonymous one
// when id is empty, unknown or expired.
func (s *Service) EnsureSession(ctx context.Context, id string) (*models.BrowserSession, bool, error) {
	if id != "" {
		sess, err := s.Session(ctx, id)
		if err == nil {
			return sess, false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, false, err
		}
	}
	now := s.now()
	sess := &models.BrowserSession{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO browser_sessions (id, token, created_at, updated_at, expires_at) VALUES (?, '', ?, ?, ?)`,
		sess.ID, sess.CreatedAt, sess.UpdatedAt, sess.ExpiresAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("create session: %w", err)
	}
	return sess, true, nil
}

// Session loads a live session. Missing or expired sessions yield sql.ErrNoRows.
func (s *Service) Session(ctx context.Context, id string) (*models.BrowserSession, error) {
	if id == "" {
		return nil, sql.ErrNoRows
	}
	if token, err := s.cache.Get(ctx, redisSessionPrefix+id); err == nil {
		return &models.BrowserSession{ID: id, Token: token}, nil
	} else if !errors.Is(err, redis.ErrCacheMiss) {
		s.logger.Warn("session cache lookup failed", zap.Error(err))
	}

	var sess models.BrowserSession
	err := s.db.QueryRowContext(ctx,
		`SELECT id, token, created_at, updated_at, expires_at FROM browser_sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.Token, &sess.CreatedAt, &sess.UpdatedAt, &sess.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	if s.now().After(sess.ExpiresAt) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM browser_sessions WHERE id = ?`, id)
		return nil, sql.ErrNoRows
	}
	s.fillCache(ctx, &sess)
	return &sess, nil
}

// SetToken stores the bearer token for the session, replacing any previous one.
func (s *Service) SetToken(ctx context.Context, sessionID, token string) error {
	if sessionID == "" {
		return errors.New("session id required")
	}
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE browser_sessions SET token = ?, updated_at = ?, expires_at = ? WHERE id = ?`,
		token, now, now.Add(s.sessionTTL), sessionID,
	)
	if err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	if err := s.storeCache(ctx, &models.BrowserSession{ID: sessionID, Token: token, ExpiresAt: now.Add(s.sessionTTL)}); err != nil {
		s.logger.Warn("session cache store failed", zap.Error(err))
	}
	return nil
}

// DeleteToken clears the session's token. Clearing an absent token is not an error.
// The cache keeps an empty token until the session expires, so a concurrent read
// that loaded the old row cannot put the old token back.
func (s *Service) DeleteToken(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE browser_sessions SET token = '', updated_at = ? WHERE id = ?`, s.now(), sessionID,
	); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	if !s.cache.Enabled() {
		return nil
	}
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT expires_at FROM browser_sessions WHERE id = ?`, sessionID,
	).Scan(&expiresAt)
	switch {
	case err == nil:
		if err := s.storeCache(ctx, &models.BrowserSession{ID: sessionID, ExpiresAt: expiresAt}); err != nil {
			s.logger.Warn("session cache clear failed", zap.Error(err))
		}
	case errors.Is(err, sql.ErrNoRows):
		if err := s.cache.Del(ctx, redisSessionPrefix+sessionID); err != nil {
			s.logger.Warn("session cache delete failed", zap.Error(err))
		}
	default:
		return fmt.Errorf("lookup session expiry: %w", err)
	}
	return nil
}

// TokenFor returns the bearer token of the session carried by ctx, or "".
// It re-reads the store so a logout in another request takes effect immediately.
func (s *Service) TokenFor(ctx context.Context) string {
	sess, ok := SessionFromContext(ctx)
	if !ok {
		return ""
	}
	current, err := s.Session(ctx, sess.ID)
	if err != nil {
		return ""
	}
	return current.Token
}

// LoginUser sends credentials and, when the response carries a token, persists it
// for the browser session.
func (s *Service) LoginUser(ctx context.Context, sessionID string, creds models.Credentials) (*models.LoginResult, error) {
	result, err := s.api.LoginUser(ctx, creds)
	if err != nil {
		return nil, err
	}
	if result.Token != "" {
		if err := s.SetToken(ctx, sessionID, result.Token); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// RegisterUser forwards the registration payload.
func (s *Service) RegisterUser(ctx context.Context, reg models.Registration) (map[string]any, error) {
	return s.api.RegisterUser(ctx, reg)
}

// LogoutUser forgets the token locally; the server is not contacted.
func (s *Service) LogoutUser(ctx context.Context, sessionID string) error {
	return s.DeleteToken(ctx, sessionID)
}

// PurgeExpired deletes expired sessions and their upload history.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM browser_sessions WHERE expires_at < ?`, s.now())
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// StartCleaner purges expired sessions every interval until ctx is done.
func (s *Service) StartCleaner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.PurgeExpired(ctx)
				if err != nil {
					s.logger.Warn("purge expired sessions", zap.Error(err))
					continue
				}
				if n > 0 {
					s.logger.Info("purged expired sessions", zap.Int64("count", n))
				}
			}
		}
	}()
}

// storeCache overwrites the cached token. Writers use it after updating the row.
func (s *Service) storeCache(ctx context.Context, sess *models.BrowserSession) error {
	ttl := s.cacheTTL(sess)
	if !s.cache.Enabled() || ttl <= 0 {
		return nil
	}
	return s.cache.Set(ctx, redisSessionPrefix+sess.ID, sess.Token, ttl)
}

// fillCache caches a token read from the database unless a writer got there
// first.
func (s *Service) fillCache(ctx context.Context, sess *models.BrowserSession) {
	ttl := s.cacheTTL(sess)
	if !s.cache.Enabled() || ttl <= 0 {
		return
	}
	if _, err := s.cache.SetNX(ctx, redisSessionPrefix+sess.ID, sess.Token, ttl); err != nil {
		s.logger.Warn("session cache fill failed", zap.Error(err))
	}
}

func (s *Service) cacheTTL(sess *models.BrowserSession) time.Duration {
	ttl := s.sessionTTL
	if !sess.ExpiresAt.IsZero() {
		if remaining := sess.ExpiresAt.Sub(s.now()); remaining < ttl {
			ttl = remaining
		}
	}
	return ttl
}

// CookieName returns the cookie name storing the browser session id.
func (s *Service) CookieName() string {
	return s.cookieName
}

// CSRFCookieName returns the cookie used for CSRF tokens.
func (s *Service) CSRFCookieName() string {
	return s.csrfCookieName
}

// CSRFFieldName returns the hidden form field carrying the CSRF token.
func (s *Service) CSRFFieldName() string {
	return s.csrfFieldName
}

// SessionTTL reports the configured session lifetime.
func (s *Service) SessionTTL() time.Duration {
	return s.sessionTTL
}
