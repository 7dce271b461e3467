package subscriber

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

const csrfHeaderName = "X-CSRF-Token"

// HTTPReadMarker は通知APIを呼び出してサーバー側の既読化を行うReadMarker。
// 最初の書き込み時にGET /api/csrf-tokenでトークンを取得し、以降のリクエストに付与する。
// Clientはセッションとcsrf_tokenのCookieを保持するJarを持つ必要がある。
type HTTPReadMarker struct {
	baseURL string
	client  *http.Client

	mu    sync.Mutex
	token string
}

// NewHTTPReadMarker はHTTPReadMarkerを生成する。baseURLはスキームとホストを含むURL。
func NewHTTPReadMarker(baseURL string, client *http.Client) *HTTPReadMarker {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPReadMarker{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// MarkRead はPOST /api/notifications/{id}/read を呼び出す。
func (m *HTTPReadMarker) MarkRead(ctx context.Context, id string) error {
	return m.post(ctx, "/api/notifications/"+url.PathEscape(id)+"/read")
}

// MarkAllRead はPOST /api/notifications/read-all を呼び出す。
func (m *HTTPReadMarker) MarkAllRead(ctx context.Context) error {
	return m.post(ctx, "/api/notifications/read-all")
}

func (m *HTTPReadMarker) post(ctx context.Context, path string) error {
	token, err := m.csrfToken(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set(csrfHeaderName, token)

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusForbidden {
		// トークンが失効した可能性があるため次回取り直す
		m.mu.Lock()
		m.token = ""
		m.mu.Unlock()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}
	return nil
}

// csrfToken はキャッシュ済みのトークンを返す。未取得の場合はサーバーから取得する。
func (m *HTTPReadMarker) csrfToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != "" {
		return m.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/api/csrf-token", nil)
	if err != nil {
		return "", fmt.Errorf("failed to build csrf request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch csrf token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d fetching csrf token", resp.StatusCode)
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode csrf token: %w", err)
	}
	if body.Token == "" {
		return "", fmt.Errorf("empty csrf token")
	}
	m.token = body.Token
	return m.token, nil
}

// compile-time interface check
var _ ReadMarker = (*HTTPReadMarker)(nil)
