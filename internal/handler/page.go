package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/troophub/internal/i18n"
	"github.com/hitoshi/troophub/internal/middleware"
	"github.com/hitoshi/troophub/internal/model"
	"github.com/hitoshi/troophub/internal/notification"
	"github.com/hitoshi/troophub/internal/view"
)

// portalNotificationLimit はポータル初期表示の通知件数。
// クライアントが保持する件数の上限と揃える。
const portalNotificationLimit = 20

// NotificationLister はポータル表示に必要な通知一覧取得のインターフェース。
type NotificationLister interface {
	List(ctx context.Context, userID string, limit int) (*notification.ListResult, error)
}

// PageDeps はHTMLページを描画するハンドラーの共通依存。
type PageDeps struct {
	Renderer      *view.Renderer
	Locales       *i18n.Locales
	Notifications NotificationLister
}

func (d PageDeps) base() pageBase {
	return pageBase{
		renderer:      d.Renderer,
		locales:       d.Locales,
		notifications: d.Notifications,
	}
}

// pageBase はHTMLページ共通のレンダリング処理を提供する。
type pageBase struct {
	renderer      *view.Renderer
	locales       *i18n.Locales
	notifications NotificationLister
}

// page はリクエストのロケール・セッション・CSRFトークンを反映したPageを生成する。
func (b *pageBase) page(r *http.Request, title string) *view.Page {
	locale := middleware.LocaleFromContext(r.Context())
	if locale == "" {
		locale = b.locales.Default()
	}

	p := view.NewPage(locale, b.locales.Printer(locale))
	p.Locales = b.locales.Names()
	p.Title = title
	p.CSRFToken = middleware.CSRFTokenFromContext(r.Context())
	p.Path = strings.TrimPrefix(r.URL.Path, "/"+locale)
	p.User = currentUser(r)
	return p
}

// portalPage は通知一覧と未読数を読み込んだポータル用のPageを生成する。
// 通知の取得に失敗してもページは表示し、ストリームの初期スナップショットで補完させる。
func (b *pageBase) portalPage(r *http.Request, title string) *view.Page {
	p := b.page(r, title)
	if p.User == nil || b.notifications == nil {
		return p
	}

	result, err := b.notifications.List(r.Context(), p.User.ID, portalNotificationLimit)
	if err != nil {
		slog.Warn("failed to load notifications for page",
			slog.String("user_id", p.User.ID),
			slog.String("error", err.Error()),
		)
		return p
	}
	p.Notifications = result.Notifications
	p.UnreadCount = result.UnreadCount
	return p
}

// render はページを描画する。
func (b *pageBase) render(w http.ResponseWriter, status int, name string, p *view.Page) {
	b.renderer.Render(w, status, name, p)
}

// redirect はPOST後のリダイレクトを303で返す。
func redirect(w http.ResponseWriter, r *http.Request, path string) {
	http.Redirect(w, r, path, http.StatusSeeOther)
}

// localizedError はサービス層のエラーをページに表示する翻訳済みメッセージに変換する。
// 想定外のエラーはログに記録し、一般的なメッセージを返す。
func localizedError(p *view.Page, err error) string {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		slog.Error("page action failed", slog.String("error", err.Error()))
		return p.T("Something went wrong. Please try again.")
	}

	switch apiErr.Code {
	case model.ErrCodeWeakPassword:
		return p.T("The new password must be at least %d characters.", model.MinPasswordLength)
	case model.ErrCodeMissingField:
		return p.T("Please fill in every field.")
	default:
		return p.Tr(apiErr.Message)
	}
}

// portalPath はロールに対応するポータルのパスを返す。
func portalPath(locale string, role model.Role) string {
	switch role {
	case model.RoleAdmin:
		return "/" + locale + "/admin"
	case model.RoleLeader:
		return "/" + locale + "/leader"
	case model.RoleParent:
		return "/" + locale + "/parent"
	default:
		return middleware.HomePath(locale)
	}
}

// safeCallbackURL はログイン後の遷移先として安全な同一オリジンのパスかどうかを検証する。
// 不正な値の場合は空文字列を返す。
func safeCallbackURL(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") {
		return ""
	}
	// プロトコル相対URLとバックスラッシュによる外部遷移を拒否する
	if strings.HasPrefix(raw, "//") || strings.ContainsAny(raw, "\\\r\n") {
		return ""
	}
	return raw
}
