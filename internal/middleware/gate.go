package middleware

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/troophub/internal/model"
)

// RequireRole はページ用のロールゲートを返す。
// セッションがない場合は/{locale}/login?callbackUrl=<元のパス>へ、
// ロールが一致しない場合は/{locale}へリダイレクトする。
// ロール不一致でログイン画面へ戻すことはない。
func RequireRole(roles ...model.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			locale := LocaleFromContext(r.Context())
			session := SessionFromContext(r.Context())

			if session == nil || session.User == nil {
				http.Redirect(w, r, LoginPath(locale, r.URL.RequestURI()), http.StatusSeeOther)
				return
			}

			if !session.HasRole(roles...) {
				slog.Info("role gate redirect",
					slog.String("user_id", session.UserID),
					slog.String("role", string(session.User.Role)),
					slog.String("path", r.URL.Path),
				)
				http.Redirect(w, r, HomePath(locale), http.StatusSeeOther)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequirePasswordChange はパスワード変更ゲートを返す。
// ロールゲートの後に配置し、パスワード変更が強制されているユーザーを
// 要求されたページにかかわらず/{locale}/change-passwordへリダイレクトする。
func RequirePasswordChange() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := SessionFromContext(r.Context())
			if session != nil && session.User != nil && session.User.ForcePasswordChange {
				http.Redirect(w, r, ChangePasswordPath(LocaleFromContext(r.Context())), http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HomePath はロケールのトップページのパスを返す。
func HomePath(locale string) string {
	return "/" + locale
}

// LoginPath はcallbackUrlを付与したログインページのパスを返す。
func LoginPath(locale, callbackURL string) string {
	path := "/" + locale + "/login"
	if callbackURL == "" {
		return path
	}
	return path + "?" + url.Values{"callbackUrl": {callbackURL}}.Encode()
}

// ChangePasswordPath はパスワード変更ページのパスを返す。
func ChangePasswordPath(locale string) string {
	return "/" + locale + "/change-password"
}
