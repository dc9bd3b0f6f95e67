package api

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"datamask/internal/apperr"
	"datamask/internal/auth"
	"datamask/internal/ledger"
	"datamask/internal/logging"
	"datamask/internal/models"
	"datamask/internal/service/account"
	"datamask/internal/service/upload"
)

// ProfileSource loads the signed-in user's profile from the remote API.
type ProfileSource interface {
	GetUserDetails(ctx context.Context) (*models.User, error)
}

// Handler wires HTTP routes to the auth, upload and ledger flows.
type Handler struct {
	auth     *auth.Service
	accounts *account.Flow
	uploads  *upload.Flow
	ledger   *ledger.Client
	profiles ProfileSource
	oauthURL string
	pages    *template.Template
	logger   *zap.Logger
}

// Deps groups what NewHandler needs.
type Deps struct {
	Auth     *auth.Service
	Accounts *account.Flow
	Uploads  *upload.Flow
	Ledger   *ledger.Client
	Profiles ProfileSource
	OAuthURL string
	Logger   *zap.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(deps Deps) (*Handler, error) {
	pages, err := parseTemplates()
	if err != nil {
		return nil, err
	}
	return &Handler{
		auth:     deps.Auth,
		accounts: deps.Accounts,
		uploads:  deps.Uploads,
		ledger:   deps.Ledger,
		profiles: deps.Profiles,
		oauthURL: deps.OAuthURL,
		pages:    pages,
		logger:   logging.Or(deps.Logger),
	}, nil
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(h.pages)
	router.GET("/healthz", h.healthz)

	web := router.Group("/")
	web.Use(h.auth.Middleware(), h.auth.CSRFMiddleware())
	web.GET("/", h.home)
	web.GET("/home", h.home)
	web.GET("/login", h.loginPage)
	web.POST("/login", h.login)
	web.GET("/signup", h.signupPage)
	web.POST("/signup", h.signup)
	web.POST("/logout", h.logout)
	web.GET("/auth/google", h.oauthRedirect)
	web.GET("/predict", h.predictPage)
	web.POST("/predict", h.predict)
	web.GET("/result", h.result)

	private := web.Group("/")
	private.Use(h.auth.RequireLogin())
	private.GET("/files", h.files)

	ledgerRoutes := private.Group("/api/ledger")
	ledgerRoutes.POST("/records", h.storeRecord)
	ledgerRoutes.GET("/records", h.listRecords)
}

func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) newPage(c *gin.Context, title, active string) page {
	sess, _ := auth.SessionFromGin(c)
	return page{
		Title:     title,
		Active:    active,
		LoggedIn:  sess.Authenticated(),
		CSRFField: h.auth.CSRFFieldName(),
		CSRFToken: auth.CSRFToken(c),
	}
}

func (h *Handler) render(c *gin.Context, status int, name string, p page) {
	c.HTML(status, name, p)
}

func sessionID(c *gin.Context) string {
	sess, ok := auth.SessionFromGin(c)
	if !ok {
		return ""
	}
	return sess.ID
}

func (h *Handler) home(c *gin.Context) {
	h.render(c, http.StatusOK, "home.html", h.newPage(c, "Home", "home"))
}

func (h *Handler) oauthRedirect(c *gin.Context) {
	c.Redirect(http.StatusFound, h.oauthURL)
}

// Auth pages

func (h *Handler) loginPage(c *gin.Context) {
	p := h.newPage(c, "Login", "login")
	p.Data = loginForm{
		Next:       safeNext(c.Query("next")),
		Submitting: h.accounts.Submitting(sessionID(c), "login"),
	}
	h.render(c, http.StatusOK, "login.html", p)
}

func (h *Handler) login(c *gin.Context) {
	email := c.PostForm("email")
	next := safeNext(c.Query("next"))
	out := h.accounts.Login(c.Request.Context(), sessionID(c), email, c.PostForm("password"))
	if out.Err != nil {
		p := h.newPage(c, "Login", "login")
		p.Error = out.Err.Message
		p.Data = loginForm{Email: email, Next: next, Submitting: out.State == account.StateSubmitting}
		h.render(c, out.Err.StatusCode(), "login.html", p)
		return
	}
	target := out.Redirect
	if next != "" {
		target = next
	}
	c.Redirect(http.StatusSeeOther, target)
}

func (h *Handler) signupPage(c *gin.Context) {
	p := h.newPage(c, "Sign Up", "signup")
	p.Data = signupForm{Submitting: h.accounts.Submitting(sessionID(c), "signup")}
	h.render(c, http.StatusOK, "signup.html", p)
}

func (h *Handler) signup(c *gin.Context) {
	fullName := c.PostForm("full_name")
	email := c.PostForm("email")
	out := h.accounts.Register(c.Request.Context(), sessionID(c),
		fullName, email, c.PostForm("password"), c.PostForm("confirm_password"))
	if out.Err != nil {
		p := h.newPage(c, "Sign Up", "signup")
		p.Error = out.Err.Message
		p.Data = signupForm{FullName: fullName, Email: email, Submitting: out.State == account.StateSubmitting}
		h.render(c, out.Err.StatusCode(), "signup.html", p)
		return
	}
	c.Redirect(http.StatusSeeOther, out.Redirect)
}

func (h *Handler) logout(c *gin.Context) {
	id := sessionID(c)
	out := h.accounts.Logout(c.Request.Context(), id)
	if out.Err != nil {
		c.String(out.Err.StatusCode(), out.Err.Message)
		return
	}
	h.uploads.CancelPending(id)
	h.ledger.Invalidate()
	c.Redirect(http.StatusSeeOther, out.Redirect)
}

// Upload pages

func (h *Handler) predictPage(c *gin.Context) {
	p := h.newPage(c, "Upload", "predict")
	state := upload.StateIdle
	if h.uploads.Submitting(sessionID(c)) {
		state = upload.StateUploading
	}
	p.Data = predictData{State: string(state)}
	h.render(c, http.StatusOK, "predict.html", p)
}

func (h *Handler) predict(c *gin.Context) {
	if sess, _ := auth.SessionFromGin(c); h.uploads.NeedsToken() && !sess.Authenticated() {
		auth.RedirectToLogin(c)
		return
	}
	var selected *upload.SelectedFile
	header, err := c.FormFile("file")
	switch {
	case err == nil:
		f, err := header.Open()
		if err != nil {
			h.renderPredictError(c, upload.Outcome{
				State: upload.StateUploadError,
				Err:   apperr.Validation("could not read the selected file"),
			})
			return
		}
		defer f.Close()
		selected = &upload.SelectedFile{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Reader:      f,
		}
	case errors.Is(err, http.ErrMissingFile):
	default:
		h.logger.Debug("parse upload form", zap.Error(err))
	}

	out := h.uploads.Submit(c.Request.Context(), sessionID(c), selected)
	if out.Redirect != "" {
		c.Redirect(http.StatusSeeOther, out.Redirect)
		return
	}
	h.renderPredictError(c, out)
}

func (h *Handler) renderPredictError(c *gin.Context, out upload.Outcome) {
	p := h.newPage(c, "Upload", "predict")
	p.Notice = out.Notice
	p.Data = predictData{State: string(out.State)}
	status := http.StatusOK
	if out.Err != nil {
		status = out.Err.StatusCode()
		if out.State == upload.StateUploadError {
			p.Error = upload.MsgUploadFailed
			if out.Err.Message != upload.MsgUploadFailed {
				p.Detail = out.Err.Message
			}
		} else {
			p.Error = out.Err.Message
		}
	}
	h.render(c, status, "predict.html", p)
}

func (h *Handler) result(c *gin.Context) {
	view := h.uploads.Result(c.Request.Context(), sessionID(c), c.Query("upload"))
	p := h.newPage(c, "Results", "predict")
	if view.Err != nil {
		p.Error = view.Err.Message
	}
	p.Data = view
	h.render(c, http.StatusOK, "result.html", p)
}

func (h *Handler) files(c *gin.Context) {
	p := h.newPage(c, "My Files", "files")
	files, appErr := h.uploads.Files(c.Request.Context())
	if appErr != nil {
		p.Error = appErr.Message
	}
	history, err := h.uploads.History(c.Request.Context(), sessionID(c))
	if err != nil {
		h.logger.Warn("load upload history", zap.Error(err))
	}
	data := filesData{Files: files, History: history}
	if h.profiles != nil {
		if user, err := h.profiles.GetUserDetails(c.Request.Context()); err == nil {
			data.User = user
		} else {
			h.logger.Debug("load profile", zap.Error(err))
		}
	}
	p.Data = data
	h.render(c, http.StatusOK, "files.html", p)
}

// safeNext only allows local absolute paths as post-login targets.
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return ""
	}
	return next
}
