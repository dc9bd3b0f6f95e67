package apiclient

import (
	"context"
	"net/http"

	"datamask/internal/models"
)

// GetUserDetails returns the signed-in user's profile.
func (c *Client) GetUserDetails(ctx context.Context) (*models.User, error) {
	var user models.User
	if err := c.doJSON(ctx, http.MethodGet, "/users/me/", nil, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// LoginUser posts credentials. Persisting the returned token is the caller's job
// (see auth.Service.LoginUser).
func (c *Client) LoginUser(ctx context.Context, creds models.Credentials) (*models.LoginResult, error) {
	var result models.LoginResult
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login/", nil, creds, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RegisterUser creates an account. The response body is returned undecoded
// beyond a generic map since the server only acknowledges.
func (c *Client) RegisterUser(ctx context.Context, reg models.Registration) (map[string]any, error) {
	ack := make(map[string]any)
	if err := c.doJSON(ctx, http.MethodPost, "/auth/register/", nil, reg, &ack); err != nil {
		return nil, err
	}
	return ack, nil
}
