package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードと書き込みバイト数を記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	bytes      int
	written    bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

// Unwrap は元のhttp.ResponseWriterを返す。
// http.ResponseControllerがFlushや書き込み期限の変更を元のwriterへ委譲するために使う。
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// isQuietPath はヘルスチェックと静的ファイルのようにDEBUGで記録するパスかを判定する。
func isQuietPath(path string) bool {
	return path == "/health" || path == "/metrics" || strings.HasPrefix(path, "/static/")
}

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力するミドルウェアを返す。
//
// ログにはmethod・path・status・bytes・duration_msを含み、
// 認証済みの場合はuser_idとrole、リクエストIDがある場合はrequest_idを加える。
// レベルはステータスコードで決まり、/health・/metrics・/static配下の成功はDEBUGで記録する。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rec, r)

			durationMs := float64(time.Since(start).Nanoseconds()) / float64(time.Millisecond)

			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Int("bytes", rec.bytes),
				slog.Float64("duration_ms", durationMs),
			}
			if reqID := chimw.GetReqID(r.Context()); reqID != "" {
				args = append(args, slog.String("request_id", reqID))
			}
			if userID, err := UserIDFromContext(r.Context()); err == nil {
				args = append(args, slog.String("user_id", userID))
			}
			if session := SessionFromContext(r.Context()); session != nil && session.User != nil {
				args = append(args, slog.String("role", string(session.User.Role)))
			}

			level := slog.LevelInfo
			switch {
			case rec.statusCode >= 500:
				level = slog.LevelError
			case rec.statusCode >= 400:
				level = slog.LevelWarn
			case isQuietPath(r.URL.Path):
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "http_request", args...)
		})
	}
}
