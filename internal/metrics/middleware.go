package metrics

import (
	"net/http"
	"time"
)

// statusWriter はステータスコードを記録するhttp.ResponseWriterのラッパー。
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap は元のhttp.ResponseWriterを返す。
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// NewHTTPMiddleware はレスポンスのステータスコードと処理時間を記録するミドルウェアを返す。
func NewHTTPMiddleware(c *Collector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}

			next.ServeHTTP(sw, r)

			if sw.status == 0 {
				sw.status = http.StatusOK
			}
			c.RecordHTTPStatus(sw.status)
			c.RecordHTTPLatency(time.Since(start))
		})
	}
}
