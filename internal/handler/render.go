package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/oauthboard/internal/dashboard"
	"github.com/hitoshi/oauthboard/internal/middleware"
	"github.com/hitoshi/oauthboard/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

// ページテンプレート名
const (
	pageHome      = "home.html"
	pageDashboard = "dashboard.html"
	pageError     = "error.html"
)

// displayLocation はダッシュボードの日時表示に使うタイムゾーン。
var displayLocation = time.FixedZone("JST", 9*60*60)

var templateFuncs = template.FuncMap{
	"formatTime": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.In(displayLocation).Format("2006/01/02 15:04")
	},
	"formatDate": func(t time.Time) string {
		return t.Format("2006/01/02")
	},
	"statusText": http.StatusText,
}

// pageData はテンプレートに渡す値。ページごとに必要なフィールドのみ埋める。
type pageData struct {
	Title     string
	User      *model.SessionUser
	CSRFToken string

	// home
	Providers []string

	// dashboard
	Metrics   []*model.Metric
	Dashboard *dashboard.Dashboard

	// error
	Status int
	Error  *model.APIError
}

// Renderer は埋め込みテンプレートからHTMLページを描画する。
type Renderer struct {
	pages map[string]*template.Template
}

// NewRenderer は全ページのテンプレートを解析してRendererを生成する。
func NewRenderer() (*Renderer, error) {
	pages := make(map[string]*template.Template)
	for _, name := range []string{pageHome, pageDashboard, pageError} {
		tmpl, err := template.New(name).Funcs(templateFuncs).
			ParseFS(templateFS, "templates/layout.html", "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		pages[name] = tmpl
	}
	return &Renderer{pages: pages}, nil
}

// MustNewRenderer はNewRendererの失敗時にpanicする。テンプレートは埋め込みのため起動時に確定する。
func MustNewRenderer() *Renderer {
	r, err := NewRenderer()
	if err != nil {
		panic(err)
	}
	return r
}

// page はページを描画する。CSRFトークンはリクエストコンテキストから補完する。
func (rr *Renderer) page(w http.ResponseWriter, r *http.Request, status int, name string, data *pageData) {
	if data.CSRFToken == "" {
		data.CSRFToken = middleware.CSRFTokenFromContext(r.Context())
	}

	tmpl, ok := rr.pages[name]
	if !ok {
		slog.Error("unknown template", slog.String("template", name))
		middleware.WriteInternalServerError(w)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		slog.Error("failed to render template",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// errorPage はAPIErrorをエラーページとして描画する。
func (rr *Renderer) errorPage(w http.ResponseWriter, r *http.Request, status int, apiErr *model.APIError) {
	rr.page(w, r, status, pageError, &pageData{
		Title:  "エラー",
		Status: status,
		Error:  apiErr,
	})
}
