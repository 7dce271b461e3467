package middleware

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// localeContextKey はリクエストコンテキストにロケールを格納するためのキー。
var localeContextKey = contextKey("locale")

// LocaleChecker はロケールのサポート判定インターフェース。
// i18n.Localesの部分集合として定義する。
type LocaleChecker interface {
	Supported(name string) bool
	Default() string
}

// NewLocaleMiddleware はURLの{locale}パラメータを検証し、コンテキストに注入するミドルウェアを返す。
// 未サポートのロケールには404を返す。
func NewLocaleMiddleware(locales LocaleChecker) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			locale := chi.URLParam(r, "locale")
			if !locales.Supported(locale) {
				http.NotFound(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithLocale(r.Context(), locale)))
		})
	}
}

// LocaleFromContext はリクエストコンテキストからロケールを取得する。
// 未設定の場合は空文字列を返す。
func LocaleFromContext(ctx context.Context) string {
	locale, _ := ctx.Value(localeContextKey).(string)
	return locale
}

// ContextWithLocale はコンテキストにロケールを注入する。
func ContextWithLocale(ctx context.Context, locale string) context.Context {
	return context.WithValue(ctx, localeContextKey, locale)
}
