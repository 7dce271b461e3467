package middleware

import (
	"net/http"
	"strings"
)

const (
	corsAllowMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsAllowHeaders = "Content-Type, " + csrfHeaderName
	corsMaxAge       = "600"
)

// NewCORSMiddleware は/api配下に対するCORSミドルウェアを返す。
// Originが許可オリジンと一致するリクエストにのみ許可ヘッダーを付与し、
// セッションCookieを送れるようワイルドカードは使わない。
// ページや静的ファイルは同一オリジン前提のため何もしない。
// allowedOriginが空の場合はクロスオリジンを一切許可しない。
func NewCORSMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	allowedOrigin = strings.TrimRight(allowedOrigin, "/")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/api/") {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Add("Vary", "Origin")
			origin := r.Header.Get("Origin")
			allowed := allowedOrigin != "" && origin == allowedOrigin

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			// プリフライトはハンドラーまで通さない
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if !allowed {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Methods", corsAllowMethods)
				w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
				w.Header().Set("Access-Control-Max-Age", corsMaxAge)
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
