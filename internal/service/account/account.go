// Package account drives the login, registration and logout forms.
package account

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"datamask/internal/apperr"
	"datamask/internal/auth"
	"datamask/internal/logging"
	"datamask/internal/models"
)

// State is the position of a browser in the auth flow.
type State string

const (
	StateAnonymous     State = "anonymous"
	StateSubmitting    State = "submitting"
	StateAuthenticated State = "authenticated"
	StateError         State = "error"
)

const (
	MsgLoginFailed       = "Login failed. Please try again."
	MsgRegisterFailed    = "Registration failed. Please try again."
	MsgPasswordsMismatch = "Passwords do not match"
	MsgInFlight          = "A request is already in progress"
)

const (
	formLogin  = "login"
	formSignup = "signup"
)

// Authenticator is implemented by auth.Service.
type Authenticator interface {
	LoginUser(ctx context.Context, sessionID string, creds models.Credentials) (*models.LoginResult, error)
	RegisterUser(ctx context.Context, reg models.Registration) (map[string]any, error)
	LogoutUser(ctx context.Context, sessionID string) error
}

// Outcome is what the page layer needs after a form submission: the state the
// browser ended in, where to send it next and, on failure, what to show.
type Outcome struct {
	State    State
	Redirect string
	Err      *apperr.Error
}

// Flow coordinates the auth forms for many browsers at once.
type Flow struct {
	auth   Authenticator
	guard  *auth.InFlight
	logger *zap.Logger
}

func NewFlow(a Authenticator, guard *auth.InFlight, logger *zap.Logger) *Flow {
	if guard == nil {
		guard = auth.NewInFlight()
	}
	return &Flow{auth: a, guard: guard, logger: logging.Or(logger)}
}

// Login submits credentials. A token in the response is persisted by the
// authenticator; success always lands on the upload page.
func (f *Flow) Login(ctx context.Context, sessionID, email, password string) Outcome {
	release, err := f.guard.Begin(sessionID, formLogin)
	if err != nil {
		return busy()
	}
	defer release()

	creds := models.Credentials{Email: strings.TrimSpace(email), Password: password}
	if _, err := f.auth.LoginUser(ctx, sessionID, creds); err != nil {
		f.logger.Info("login failed", zap.String("session", sessionID), zap.Error(err))
		return Outcome{State: StateError, Err: apperr.Normalize(err, MsgLoginFailed)}
	}
	return Outcome{State: StateAuthenticated, Redirect: "/predict"}
}

// Register checks the confirmation locally, then sends the registration without it.
func (f *Flow) Register(ctx context.Context, sessionID, fullName, email, password, confirm string) Outcome {
	if password != confirm {
		return Outcome{State: StateError, Err: apperr.Validation(MsgPasswordsMismatch)}
	}
	release, err := f.guard.Begin(sessionID, formSignup)
	if err != nil {
		return busy()
	}
	defer release()

	reg := models.Registration{
		FullName: strings.TrimSpace(fullName),
		Email:    strings.TrimSpace(email),
		Password: password,
	}
	if _, err := f.auth.RegisterUser(ctx, reg); err != nil {
		f.logger.Info("registration failed", zap.String("session", sessionID), zap.Error(err))
		return Outcome{State: StateError, Err: apperr.Normalize(err, MsgRegisterFailed)}
	}
	return Outcome{State: StateAnonymous, Redirect: "/login"}
}

// Logout drops the local token. It never fails for an already anonymous browser.
func (f *Flow) Logout(ctx context.Context, sessionID string) Outcome {
	if err := f.auth.LogoutUser(ctx, sessionID); err != nil {
		f.logger.Warn("logout failed", zap.String("session", sessionID), zap.Error(err))
		return Outcome{State: StateError, Err: apperr.Normalize(err, "Logout failed")}
	}
	return Outcome{State: StateAnonymous, Redirect: "/"}
}

// Submitting reports whether a submission of form is outstanding for the session.
func (f *Flow) Submitting(sessionID, form string) bool {
	return f.guard.Busy(sessionID, form)
}

func busy() Outcome {
	return Outcome{
		State: StateSubmitting,
		Err:   &apperr.Error{Category: apperr.CategoryValidation, Message: MsgInFlight, Err: auth.ErrInFlight},
	}
}

// IsBusy reports whether the outcome is a rejected duplicate submission.
func (o Outcome) IsBusy() bool {
	return o.Err != nil && errors.Is(o.Err, auth.ErrInFlight)
}
