package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
)

// NewRecoveryMiddleware はハンドラー内のpanicを回収するミドルウェアを生成する。
//
// 1. http.ErrAbortHandlerによる中断（通知ストリームの切断など）はそのまま再送出する
// 2. それ以外はスタックトレースとユーザーIDをログに記録する
// 3. /api配下には統一エラーフォーマットの500、ページには素の500を返す
func NewRecoveryMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				attrs := []any{
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				}
				if userID, err := UserIDFromContext(r.Context()); err == nil {
					attrs = append(attrs, slog.String("user_id", userID))
				}
				slog.Error("panic recovered", attrs...)

				if strings.HasPrefix(r.URL.Path, "/api/") {
					WriteInternalServerError(w)
					return
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
