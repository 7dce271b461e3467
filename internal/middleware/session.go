// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/troophub/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// sessionContextKey はリクエストコンテキストに解決済みセッションを格納するためのキー。
	sessionContextKey = contextKey("session")
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey = contextKey("user_id")
)

// SessionResolver はCookie値からセッションを解決するインターフェース。
// auth.Serviceの部分集合として定義する。
type SessionResolver interface {
	ResolveSession(ctx context.Context, token string) *model.Session
	RefreshSession(ctx context.Context, session *model.Session) (string, error)
}

// SessionCookieConfig はセッションCookieの属性。
type SessionCookieConfig struct {
	Name         string
	CookieDomain string
	CookieSecure bool
	MaxAge       time.Duration
}

// NewSessionMiddleware はセッションCookieを解決し、
// 解決できた場合はセッションとユーザーIDをリクエストコンテキストに注入するミドルウェアを返す。
// 未認証リクエストも拒否せずに次へ渡す。拒否の判断は後段のゲートが行う。
// 最終更新から一定時間が経過したセッションは有効期限を延長し、Cookieを再発行する。
func NewSessionMiddleware(resolver SessionResolver, cookieCfg SessionCookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. CookieからセッションCookie値を取得
			cookie, err := r.Cookie(cookieCfg.Name)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			// 2. セッションを解決（失敗はすべて未認証として扱う）
			session := resolver.ResolveSession(r.Context(), cookie.Value)
			if session == nil {
				next.ServeHTTP(w, r)
				return
			}

			// 3. スライディング更新
			token, err := resolver.RefreshSession(r.Context(), session)
			if err != nil {
				slog.Warn("failed to refresh session",
					slog.String("user_id", session.UserID),
					slog.String("error", err.Error()),
				)
			} else if token != "" {
				SetSessionCookie(w, cookieCfg, token)
			}

			// 4. セッションをコンテキストに注入
			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), session)))
		})
	}
}

// RequireAPISession はセッションのないAPIリクエストに401を返すミドルウェアを返す。
func RequireAPISession() func(next http.Handler) http.Handler {
	return RequireAPIRole()
}

// RequireAPIRole はAPIリクエストのロールを検証するミドルウェアを返す。
// セッションがない場合は401、ロールが一致しない場合は403を返す。
// rolesが空の場合はセッションの有無のみを検証する。
func RequireAPIRole(roles ...model.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := SessionFromContext(r.Context())
			if session == nil || session.User == nil {
				WriteUnauthorized(w)
				return
			}
			if len(roles) > 0 && !session.HasRole(roles...) {
				slog.Warn("forbidden API access",
					slog.String("user_id", session.UserID),
					slog.String("role", string(session.User.Role)),
					slog.String("path", r.URL.Path),
				)
				WriteForbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SetSessionCookie はセッションCookieを書き込む。
func SetSessionCookie(w http.ResponseWriter, cfg SessionCookieConfig, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    token,
		Path:     "/",
		Domain:   cfg.CookieDomain,
		MaxAge:   int(cfg.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie はセッションCookieを削除する。
func ClearSessionCookie(w http.ResponseWriter, cfg SessionCookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    "",
		Path:     "/",
		Domain:   cfg.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SessionFromContext はリクエストコンテキストから解決済みセッションを取得する。
// 未認証の場合はnilを返す。
func SessionFromContext(ctx context.Context) *model.Session {
	session, _ := ctx.Value(sessionContextKey).(*model.Session)
	return session
}

// ContextWithSession はコンテキストにセッションとユーザーIDを注入する。
func ContextWithSession(ctx context.Context, session *model.Session) context.Context {
	ctx = context.WithValue(ctx, sessionContextKey, session)
	return context.WithValue(ctx, userIDContextKey, session.UserID)
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアでセッションが解決されたリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
