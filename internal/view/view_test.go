package view

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/troophub/internal/i18n"
	"github.com/hitoshi/troophub/internal/model"
)

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}
	return r
}

func newTestPage(t *testing.T, locale string) *Page {
	t.Helper()
	locales, err := i18n.New([]string{"en", "fr"})
	if err != nil {
		t.Fatalf("i18n.New() error = %v", err)
	}
	p := NewPage(locale, locales.Printer(locale))
	p.Locales = locales.Names()
	p.CSRFToken = "csrf-123"
	return p
}

func render(t *testing.T, r *Renderer, name string, page *Page) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Render(rec, http.StatusOK, name, page)
	if ct := rec.Header().Get("Content-Type"); rec.Code == http.StatusOK && ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	return rec.Code, rec.Body.String()
}

func TestRenderer_LoginPage(t *testing.T) {
	r := newTestRenderer(t)
	page := newTestPage(t, "fr")
	page.Title = "Sign in"
	page.Path = "/login"
	page.Error = "L'adresse e-mail ou le mot de passe est incorrect."
	page.Data = map[string]any{"CallbackURL": "/fr/admin?tab=users", "Email": "a@example.org"}

	code, body := render(t, r, PageLogin, page)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}

	for _, want := range []string{
		`<html lang="fr">`,
		"Connexion",
		`action="/fr/login"`,
		`name="csrf_token" value="csrf-123"`,
		`value="/fr/admin?tab=users"`,
		`href="/en/login"`,
		"incorrect",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body does not contain %q", want)
		}
	}
	if strings.Contains(body, "notifications.js") {
		t.Error("anonymous pages should not load the notification script")
	}
}

func TestRenderer_PortalEscapesNotificationText(t *testing.T) {
	r := newTestRenderer(t)
	page := newTestPage(t, "en")
	page.User = &model.User{Name: "Lee <Leader>", Role: model.RoleLeader}
	page.UnreadCount = 3
	page.Notifications = []model.Notification{{
		ID:        "01HZXN",
		Title:     "<script>alert(1)</script>",
		Message:   "Bring boots",
		ActionURL: "/announcements/abc",
		CreatedAt: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}}
	page.Data = map[string]any{
		"Units":       []*model.UnitNode{{Unit: model.Unit{ID: "u1", Name: "Cubs"}, Children: []*model.UnitNode{}}},
		"UnitOptions": []model.Unit{{ID: "u1", Name: "Cubs"}},
	}

	code, body := render(t, r, PageLeader, page)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if strings.Contains(body, "<script>alert(1)</script>") {
		t.Error("notification title must be escaped")
	}
	for _, want := range []string{
		"Welcome, Lee &lt;Leader&gt;",
		`data-stream="/api/notifications/stream"`,
		`href="/en/announcements/abc"`,
		`<span class="badge" data-unread>3</span>`,
		"2026-03-01 09:30",
		"Cubs",
		"/static/notifications.js",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body does not contain %q", want)
		}
	}
}

func TestRenderer_AllPagesRender(t *testing.T) {
	r := newTestRenderer(t)
	user := &model.User{Name: "Ada", Role: model.RoleAdmin}

	tests := []struct {
		name string
		user *model.User
		data any
	}{
		{name: PageLanding},
		{name: PageChangePassword, user: user, data: map[string]any{"Forced": true}},
		{name: PageAdmin, user: user, data: map[string]any{
			"Users":             []*model.User{user},
			"Units":             []*model.UnitNode{},
			"UnitOptions":       []model.Unit{},
			"TemporaryPassword": "Temp0rary",
			"CreatedEmail":      "new@example.org",
		}},
		{name: PageParent, user: user, data: map[string]any{"Students": []model.Student{{FirstName: "Sam", LastName: "Scout"}}}},
		{name: PageAnnouncement, user: user, data: map[string]any{
			"Announcement": &model.Announcement{Title: "Camp", Body: "<p>Bring <strong>boots</strong></p>"},
			"UnitName":     "Cubs",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := newTestPage(t, "en")
			page.User = tt.user
			page.Data = tt.data

			code, body := render(t, r, tt.name, page)
			if code != http.StatusOK {
				t.Fatalf("status = %d, want 200", code)
			}
			if !strings.Contains(body, "</html>") {
				t.Error("page should render the full layout")
			}
		})
	}
}

func TestRenderer_AnnouncementBodyIsNotEscaped(t *testing.T) {
	r := newTestRenderer(t)
	page := newTestPage(t, "en")
	page.User = &model.User{Name: "Pat", Role: model.RoleParent}
	page.Data = map[string]any{
		"Announcement": &model.Announcement{Title: "Camp", Body: "<p>Bring <strong>boots</strong></p>"},
		"UnitName":     "Cubs",
	}

	_, body := render(t, r, PageAnnouncement, page)
	if !strings.Contains(body, "<strong>boots</strong>") {
		t.Error("sanitized announcement HTML should be rendered as markup")
	}
}

func TestRenderer_UnknownTemplate(t *testing.T) {
	r := newTestRenderer(t)
	rec := httptest.NewRecorder()

	r.Render(rec, http.StatusOK, "missing.html", newTestPage(t, "en"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestPage_T_Translates(t *testing.T) {
	page := newTestPage(t, "fr")
	if got := page.T("%d unread", 4); got != "4 non lues" {
		t.Errorf("T() = %q, want %q", got, "4 non lues")
	}
	if got := NewPage("en", nil).T("Welcome, %s", "Ada"); got != "Welcome, Ada" {
		t.Errorf("T() without printer = %q", got)
	}
}

func TestPage_Tr_TranslatesRuntimeText(t *testing.T) {
	page := newTestPage(t, "fr")

	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "カタログにある文言は翻訳する", text: "The current password is incorrect.", want: "Le mot de passe actuel est incorrect."},
		{name: "カタログにない文言はそのまま", text: "Unit u-9 was not found.", want: "Unit u-9 was not found."},
		{name: "%は書式として解釈しない", text: "Quota at 100% for %s", want: "Quota at 100% for %s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := page.Tr(tt.text); got != tt.want {
				t.Errorf("Tr(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}

	if got := NewPage("en", nil).Tr("50% off"); got != "50% off" {
		t.Errorf("Tr() without printer = %q", got)
	}
}

func TestStaticHandler(t *testing.T) {
	srv := http.StripPrefix("/static/", StaticHandler())
	for _, name := range []string{"notifications.js", "app.css"} {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/"+name, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", name, rec.Code)
		}
	}
}

// TestNotificationsScript_EmptySnapshotClearsList は空のinitでも
// サーバーレンダリング済みの一覧が消えることを検証する。
func TestNotificationsScript_EmptySnapshotClearsList(t *testing.T) {
	data, err := staticFiles.ReadFile("static/notifications.js")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	src := string(data)

	start := strings.Index(src, "function render()")
	if start < 0 {
		t.Fatal("render() not found")
	}
	body := src[start:]
	clearAt := strings.Index(body, `listEl.textContent = "";`)
	empty := strings.Index(body, "state.notifications.length === 0")
	if clearAt < 0 || empty < 0 {
		t.Fatalf("render() should clear the list and handle an empty snapshot")
	}
	if clearAt > empty {
		t.Error("render() must clear the list before returning on an empty snapshot")
	}
}
