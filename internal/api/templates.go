package api

import (
	"embed"
	"html/template"
	"time"

	"datamask/internal/models"
)

//go:embed templates/*.html
var templateFS embed.FS

func parseTemplates() (*template.Template, error) {
	return template.New("pages").Funcs(template.FuncMap{
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Local().Format("2006-01-02 15:04")
		},
	}).ParseFS(templateFS, "templates/*.html")
}

// page is the data every template receives.
type page struct {
	Title     string
	Active    string
	LoggedIn  bool
	CSRFField string
	CSRFToken string
	Error     string
	Detail    string
	Notice    string
	Data      any
}

type loginForm struct {
	Email      string
	Next       string
	Submitting bool
}

type signupForm struct {
	FullName   string
	Email      string
	Submitting bool
}

type predictData struct {
	State string
}

type filesData struct {
	User    *models.User
	Files   []*models.FileRecord
	History []*models.Upload
}
