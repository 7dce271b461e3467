// Package view はサーバーサイドでレンダリングするHTMLページと静的ファイルを提供する。
package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/message"

	"github.com/hitoshi/troophub/internal/model"
)

//go:embed templates/*.html
var templateFiles embed.FS

//go:embed static/*
var staticFiles embed.FS

// ページテンプレート名
const (
	PageLanding        = "landing.html"
	PageLogin          = "login.html"
	PageChangePassword = "change_password.html"
	PageAdmin          = "admin.html"
	PageLeader         = "leader.html"
	PageParent         = "parent.html"
	PageAnnouncement   = "announcement.html"
)

var pages = []string{
	PageLanding,
	PageLogin,
	PageChangePassword,
	PageAdmin,
	PageLeader,
	PageParent,
	PageAnnouncement,
}

// Page は1ページ分のテンプレートデータ。
type Page struct {
	Locale    string
	Locales   []string
	Title     string
	CSRFToken string
	User      *model.User
	// Path はロケール接頭辞を除いた現在のパス。ロケール切り替えリンクに使用する。
	Path string

	Error   string
	Success string

	Notifications []model.Notification
	UnreadCount   int

	// Data はページ固有のデータ。
	Data any

	printer *message.Printer
}

// NewPage はロケールの翻訳プリンターを持つPageを生成する。
func NewPage(locale string, printer *message.Printer) *Page {
	return &Page{Locale: locale, printer: printer}
}

// T は文言を現在のロケールに翻訳する。
func (p *Page) T(key string, args ...any) string {
	if p.printer == nil {
		return fmt.Sprintf(key, args...)
	}
	return p.printer.Sprintf(key, args...)
}

// Tr は実行時に決まる文言（サービス層のエラーメッセージなど）を翻訳する。
// 書式として解釈しないため、%を含む文言は翻訳せずそのまま返す。
func (p *Page) Tr(text string) string {
	if p.printer == nil || strings.Contains(text, "%") {
		return text
	}
	return p.printer.Sprintf(message.Key(text, text))
}

// Href はロケール接頭辞を付けたパスを返す。
func (p *Page) Href(path string) string {
	return "/" + p.Locale + path
}

// Renderer は埋め込みテンプレートを起動時に解析して保持する。
type Renderer struct {
	templates map[string]*template.Template
}

var funcs = template.FuncMap{
	"datetime": func(t time.Time) string {
		return t.UTC().Format("2006-01-02 15:04")
	},
	// お知らせ本文は保存前にサニタイズ済み
	"sanitized": func(s string) template.HTML {
		return template.HTML(s)
	},
}

// NewRenderer は全ページのテンプレートを解析する。
// 各ページはlayout.htmlと組み合わせて解析し、"layout"として実行する。
func NewRenderer() (*Renderer, error) {
	sub, err := fs.Sub(templateFiles, "templates")
	if err != nil {
		return nil, fmt.Errorf("failed to open templates: %w", err)
	}

	r := &Renderer{templates: make(map[string]*template.Template, len(pages))}
	for _, name := range pages {
		t, err := template.New(name).Funcs(funcs).ParseFS(sub, "layout.html", "partials.html", name)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		r.templates[name] = t
	}
	return r, nil
}

// Render はページをレンダリングして書き込む。
// 途中で失敗した場合に部分的なHTMLを送らないよう、バッファに描画してから書き込む。
func (r *Renderer) Render(w http.ResponseWriter, status int, name string, page *Page) {
	t, ok := r.templates[name]
	if !ok {
		slog.Error("unknown template", slog.String("template", name))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", page); err != nil {
		slog.Error("failed to render template",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// StaticHandler は埋め込み静的ファイルを配信するハンドラーを返す。
// /static/ 接頭辞は呼び出し側で取り除くこと。
func StaticHandler() http.Handler {
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic("failed to open static files: " + err.Error())
	}
	return http.FileServer(http.FS(sub))
}
