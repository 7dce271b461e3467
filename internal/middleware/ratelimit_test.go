package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/hitoshi/troophub/internal/model"
)

func testRateLimiterConfig(generalBurst, loginBurst int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    generalBurst,
		LoginRate:       1,
		LoginBurst:      loginBurst,
		CleanupInterval: 1 * time.Minute,
	}
}

func requestAsUser(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	return req.WithContext(ContextWithUserID(req.Context(), userID))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// --- GeneralMiddleware (API全般) のテスト ---

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(5, 10))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAsUser("user-1"))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfter(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(2, 10))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), requestAsUser("user-rate-limit"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAsUser("user-rate-limit"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retryAfter < 1 {
		t.Errorf("Retry-After = %q, want positive integer", w.Header().Get("Retry-After"))
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" || body.Category != "system" {
		t.Errorf("body = %+v, want rate limit error", body)
	}
}

func TestRateLimitMiddleware_IsolatesUserRateLimits(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(1, 10))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), requestAsUser("user-a"))

	wA := httptest.NewRecorder()
	handler.ServeHTTP(wA, requestAsUser("user-a"))
	if wA.Code != http.StatusTooManyRequests {
		t.Errorf("user-a status = %d, want %d", wA.Code, http.StatusTooManyRequests)
	}

	wB := httptest.NewRecorder()
	handler.ServeHTTP(wB, requestAsUser("user-b"))
	if wB.Code != http.StatusOK {
		t.Errorf("user-b status = %d, want %d", wB.Code, http.StatusOK)
	}
}

func TestRateLimitMiddleware_AnonymousKeyedByIP(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(1, 10))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	send := func(remote string) int {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = remote
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	if code := send("10.0.0.1:1234"); code != http.StatusOK {
		t.Errorf("first request status = %d, want %d", code, http.StatusOK)
	}
	if code := send("10.0.0.1:5678"); code != http.StatusTooManyRequests {
		t.Errorf("same IP status = %d, want %d", code, http.StatusTooManyRequests)
	}
	if code := send("10.0.0.2:1234"); code != http.StatusOK {
		t.Errorf("other IP status = %d, want %d", code, http.StatusOK)
	}
}

// --- LoginMiddleware のテスト ---

func TestLoginRateLimit_IndependentFromGeneralLimit(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(1, 2))
	defer rl.Stop()

	general := rl.GeneralMiddleware()(okHandler())
	login := rl.LoginMiddleware(nil)(okHandler())

	// 全般のバーストを使い切ってもログインは通る
	req := httptest.NewRequest(http.MethodPost, "/en/login", nil)
	req.RemoteAddr = "192.0.2.10:4000"
	general.ServeHTTP(httptest.NewRecorder(), req)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		login.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("login %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	login.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("login 3: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if rl.LoginLimiterCount() != 1 {
		t.Errorf("LoginLimiterCount() = %d, want 1", rl.LoginLimiterCount())
	}
}

func TestLoginRateLimit_CustomLimitedHandler(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(10, 1))
	defer rl.Stop()

	onLimited := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("login form with error"))
	}
	login := rl.LoginMiddleware(onLimited)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/en/login", nil)
	login.ServeHTTP(httptest.NewRecorder(), req)

	w := httptest.NewRecorder()
	login.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Body.String() != "login form with error" {
		t.Errorf("body = %q, want custom handler output", w.Body.String())
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After should be set for custom handler")
	}
}

// --- クリーンアップのテスト ---

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	cfg := testRateLimiterConfig(5, 5)
	cfg.CleanupInterval = 50 * time.Millisecond

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestAsUser("user-cleanup"))

	if rl.GeneralLimiterCount() == 0 {
		t.Fatal("expected at least one limiter entry")
	}

	// TTLはCleanupIntervalの2倍（100ms）
	time.Sleep(250 * time.Millisecond)

	if count := rl.GeneralLimiterCount(); count != 0 {
		t.Errorf("expected 0 limiter entries after cleanup, got %d", count)
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}

// --- ミドルウェアチェーンとの統合テスト ---

func TestRateLimitMiddleware_InChainWithSessionAndCORS(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(2, 10))
	defer rl.Stop()

	sessionMW := NewSessionMiddleware(resolverFor("rate-limit-token", &model.User{ID: "user-rate-chain", Role: model.RoleParent}), testCookieConfig)
	corsMW := NewCORSMiddleware("http://localhost:3000")

	// CORS -> Session -> RateLimit -> Handler
	handler := corsMW(sessionMW(rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ := UserIDFromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"user_id": userID})
	}))))

	send := func() int {
		req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
		req.AddCookie(&http.Cookie{Name: testCookieName, Value: "rate-limit-token"})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < 2; i++ {
		if code := send(); code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, code, http.StatusOK)
		}
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Errorf("request 3: status = %d, want %d", code, http.StatusTooManyRequests)
	}
	if rl.GeneralLimiterCount() != 1 {
		t.Errorf("GeneralLimiterCount() = %d, want 1 (keyed by user)", rl.GeneralLimiterCount())
	}
}

// --- 設定値のテスト ---

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralRate != 2.0 { // 120/60 = 2
		t.Errorf("GeneralRate = %f, want 2.0", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.LoginBurst != 10 {
		t.Errorf("LoginBurst = %d, want 10", cfg.LoginBurst)
	}
}

func TestRateLimiterConfigPerMinute(t *testing.T) {
	cfg := RateLimiterConfigPerMinute(60, 0)

	if cfg.GeneralRate != 1.0 {
		t.Errorf("GeneralRate = %f, want 1.0", cfg.GeneralRate)
	}
	if cfg.LoginBurst != 10 {
		t.Errorf("LoginBurst = %d, want default 10", cfg.LoginBurst)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.5:51234"
	if got := ClientIP(req); got != "203.0.113.5" {
		t.Errorf("ClientIP() = %q, want %q", got, "203.0.113.5")
	}
	req.RemoteAddr = "unix-socket"
	if got := ClientIP(req); got != "unix-socket" {
		t.Errorf("ClientIP() = %q, want raw RemoteAddr", got)
	}
}
