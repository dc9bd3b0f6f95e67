package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const csrfContextKey = "csrf_token"

// CSRFMiddleware enforces double-submit CSRF protection: unsafe requests must echo
// the cookie value in the form field or the header.
func (s *Service) CSRFMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cookieToken, err := c.Cookie(s.csrfCookieName)
		if err != nil || cookieToken == "" {
			cookieToken, err = generateToken()
			if err != nil {
				s.logger.Error("issue csrf token", zap.Error(err))
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			s.setCookie(c, &http.Cookie{
				Name:     s.csrfCookieName,
				Value:    cookieToken,
				Path:     "/",
				Secure:   s.secure,
				HttpOnly: false,
				SameSite: http.SameSiteStrictMode,
			})
			// a freshly issued cookie cannot have been echoed yet
			if requiresCSRFCheck(c.Request.Method) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid csrf token"})
				return
			}
		}
		c.Set(csrfContextKey, cookieToken)

		if !requiresCSRFCheck(c.Request.Method) {
			c.Next()
			return
		}
		submitted := c.GetHeader(s.csrfHeaderName)
		if submitted == "" {
			submitted = c.PostForm(s.csrfFieldName)
		}
		if submitted == "" || subtle.ConstantTimeCompare([]byte(submitted), []byte(cookieToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid csrf token"})
			return
		}
		c.Next()
	}
}

// CSRFToken returns the token templates must embed in forms.
func CSRFToken(c *gin.Context) string {
	return c.GetString(csrfContextKey)
}

func requiresCSRFCheck(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
