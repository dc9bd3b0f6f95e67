package models

import "time"

// BrowserSession binds a browser cookie to the API bearer token it holds.
// An empty Token means the browser is anonymous.
type BrowserSession struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Authenticated reports whether the session carries a token.
func (s *BrowserSession) Authenticated() bool {
	return s != nil && s.Token != ""
}
