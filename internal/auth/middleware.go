package auth

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"datamask/internal/models"
)

const sessionContextKey = "browser_session"

type ctxKey struct{}

// WithSession returns a context carrying the browser session.
func WithSession(ctx context.Context, sess *models.BrowserSession) context.Context {
	return context.WithValue(ctx, ctxKey{}, sess)
}

// SessionFromContext retrieves the session stored by WithSession.
func SessionFromContext(ctx context.Context) (*models.BrowserSession, bool) {
	sess, ok := ctx.Value(ctxKey{}).(*models.BrowserSession)
	return sess, ok && sess != nil
}

// Middleware resolves (or starts) the browser session from its cookie and stores
// it in both the gin context and the request context.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := c.Cookie(s.cookieName)
		sess, created, err := s.EnsureSession(c.Request.Context(), id)
		if err != nil {
			s.logger.Error("resolve browser session", zap.Error(err))
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		if created {
			s.setCookie(c, &http.Cookie{
				Name:     s.cookieName,
				Value:    sess.ID,
				MaxAge:   int(s.sessionTTL.Seconds()),
				Path:     "/",
				Secure:   s.secure,
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		c.Set(sessionContextKey, sess)
		c.Request = c.Request.WithContext(WithSession(c.Request.Context(), sess))
		c.Next()
	}
}

// RequireLogin redirects anonymous browsers to the login page.
func (s *Service) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, _ := SessionFromGin(c)
		if !sess.Authenticated() {
			RedirectToLogin(c)
			return
		}
		c.Next()
	}
}

// RedirectToLogin sends the browser to the login page, coming back to the
// current URL afterwards.
func RedirectToLogin(c *gin.Context) {
	c.Redirect(http.StatusSeeOther, "/login?next="+url.QueryEscape(c.Request.URL.RequestURI()))
	c.Abort()
}

// SessionFromGin retrieves the session captured by the middleware.
func SessionFromGin(c *gin.Context) (*models.BrowserSession, bool) {
	val, ok := c.Get(sessionContextKey)
	if !ok {
		return nil, false
	}
	sess, ok := val.(*models.BrowserSession)
	return sess, ok && sess != nil
}

func (s *Service) setCookie(c *gin.Context, ck *http.Cookie) {
	if ck == nil {
		return
	}
	http.SetCookie(c.Writer, ck)
}
