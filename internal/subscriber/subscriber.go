// Package subscriber はSSE通知フィードのGoクライアントを提供する。
//
// Subscriberは直近の通知と未読数をメモリ上に保持し、切断時は指数バックオフで再接続する。
// 既読化はローカル状態への楽観的な反映で、サーバーへの書き込みはReadMarkerに委ねる。
// ローカル状態はキャッシュであり、次のinitまたはheartbeatでサーバーの値に揃う。
package subscriber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/troophub/internal/model"
)

// ErrReconnectExhausted は再接続の上限回数を使い切ったことを表す。
var ErrReconnectExhausted = errors.New("notification stream: reconnect attempts exhausted")

// markTimeout はReadMarkerへの既読化リクエスト1回あたりの上限時間。
const markTimeout = 10 * time.Second

// State はSubscriberの公開状態のスナップショット。
type State struct {
	Notifications []model.Notification
	UnreadCount   int
	IsConnected   bool
	// Err は再接続を諦めた場合のみ設定される。
	Err error
}

// ReadMarker はサーバー側の既読化を行うインターフェース。
type ReadMarker interface {
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
}

// Config はSubscriberの設定。
type Config struct {
	// StreamURL はGET /api/notifications/stream の完全なURL。
	StreamURL string
	// Client はストリーム接続に使用するHTTPクライアント。
	// セッションCookieはClient.Jarまたは Header で渡す。Timeoutは0にすること。
	Client *http.Client
	// Header は接続リクエストに付与する追加ヘッダー。
	Header http.Header
	// Marker は既読化をサーバーへ反映する。nilの場合はローカル状態のみ更新する。
	Marker ReadMarker
	// OnChange は状態が変化するたびに呼ばれる。ロック外から呼び出される。
	OnChange func(State)
}

// timer は予約済みの再接続を取り消すためのインターフェース。
type timer interface {
	Stop() bool
}

// Subscriber はユーザー1人分の通知ストリームを購読する。
type Subscriber struct {
	cfg Config

	mu      sync.Mutex
	state   State
	active  bool
	gen     uint64
	attempt int
	cancel  context.CancelFunc
	pending timer

	now       func() time.Time
	afterFunc func(time.Duration, func()) timer
}

// New はSubscriberを生成する。Connectを呼ぶまで接続しない。
func New(cfg Config) *Subscriber {
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	return &Subscriber{
		cfg: cfg,
		now: time.Now,
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
	}
}

// State は現在の状態のコピーを返す。
func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Connect はストリームへの接続を開始する。既に接続中または再接続待ちの場合は何もしない。
// 再接続を諦めた後に呼ぶと、試行回数を0に戻して接続し直す。
func (s *Subscriber) Connect() {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.attempt = 0
	s.gen++
	s.state.Err = nil
	s.openLocked(s.gen)
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.changed(st)
}

// Disconnect は接続を閉じ、予約済みの再接続を取り消す。
func (s *Subscriber) Disconnect() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.gen++
	s.closeLocked()
	s.state.IsConnected = false
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.changed(st)
}

// MarkAsRead は通知1件をローカルで既読にし、未読数を1減らす（0未満にはしない）。
// ローカルに保持していない通知と既読済みの通知に対しては何もしない。
func (s *Subscriber) MarkAsRead(id string) {
	s.mu.Lock()
	now := s.now()
	wasUnread := false
	list := make([]model.Notification, len(s.state.Notifications))
	copy(list, s.state.Notifications)
	for i := range list {
		if list[i].ID != id || list[i].Read {
			continue
		}
		list[i].Read = true
		list[i].ReadAt = &now
		wasUnread = true
	}
	if !wasUnread {
		s.mu.Unlock()
		return
	}
	s.state.Notifications = list
	if s.state.UnreadCount > 0 {
		s.state.UnreadCount--
	}
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.changed(st)

	if m := s.cfg.Marker; m != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), markTimeout)
			defer cancel()
			if err := m.MarkRead(ctx, id); err != nil {
				slog.Warn("failed to mark notification as read",
					slog.String("notification_id", id),
					slog.String("error", err.Error()),
				)
			}
		}()
	}
}

// MarkAllAsRead はローカルの通知をすべて既読にし、未読数を0にする。
func (s *Subscriber) MarkAllAsRead() {
	s.mu.Lock()
	now := s.now()
	list := make([]model.Notification, len(s.state.Notifications))
	copy(list, s.state.Notifications)
	for i := range list {
		if !list[i].Read {
			list[i].Read = true
			list[i].ReadAt = &now
		}
	}
	s.state.Notifications = list
	s.state.UnreadCount = 0
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.changed(st)

	if m := s.cfg.Marker; m != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), markTimeout)
			defer cancel()
			if err := m.MarkAllRead(ctx); err != nil {
				slog.Warn("failed to mark all notifications as read",
					slog.String("error", err.Error()),
				)
			}
		}()
	}
}

// openLocked は世代genの接続goroutineを起動する。s.muを保持して呼ぶこと。
func (s *Subscriber) openLocked(gen uint64) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.pending = nil
	go s.run(ctx, gen)
}

// closeLocked は現在の接続と予約済みの再接続を破棄する。s.muを保持して呼ぶこと。
func (s *Subscriber) closeLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
}

func (s *Subscriber) run(ctx context.Context, gen uint64) {
	err := s.stream(ctx, gen)
	s.failed(gen, err)
}

// stream は接続を開き、終端またはエラーまでイベントを適用し続ける。
func (s *Subscriber) stream(ctx context.Context, gen uint64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.StreamURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build stream request: %w", err)
	}
	for k, vs := range s.cfg.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected stream status: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		return fmt.Errorf("unexpected stream content type: %q", ct)
	}

	if !s.opened(gen) {
		return nil
	}

	er := newEventReader(resp.Body)
	for {
		ev, err := er.Next()
		if err != nil {
			return err
		}
		if !s.apply(gen, ev) {
			return nil
		}
	}
}

// opened は接続確立を記録し、試行回数を0に戻す。世代が古い場合はfalseを返す。
func (s *Subscriber) opened(gen uint64) bool {
	s.mu.Lock()
	if gen != s.gen || !s.active {
		s.mu.Unlock()
		return false
	}
	s.state.IsConnected = true
	s.attempt = 0
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.changed(st)
	return true
}

// apply はイベントを状態に反映する。世代が古い場合はfalseを返す。
func (s *Subscriber) apply(gen uint64, ev model.FeedEvent) bool {
	s.mu.Lock()
	if gen != s.gen || !s.active {
		s.mu.Unlock()
		return false
	}
	switch ev.Type {
	case model.FeedEventInit:
		list := ev.Notifications
		if len(list) > MaxNotifications {
			list = list[:MaxNotifications]
		}
		s.state.Notifications = list
		s.state.UnreadCount = ev.UnreadCount
	case model.FeedEventNew:
		s.state.Notifications = MergeNotifications(s.state.Notifications, ev.Notifications, MaxNotifications)
		s.state.UnreadCount = ev.UnreadCount
	case model.FeedEventHeartbeat:
		s.state.UnreadCount = ev.UnreadCount
	default:
		s.mu.Unlock()
		return true
	}
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.changed(st)
	return true
}

// failed は接続の終了を処理し、上限に達していなければ再接続を予約する。
func (s *Subscriber) failed(gen uint64, cause error) {
	s.mu.Lock()
	if gen != s.gen || !s.active {
		s.mu.Unlock()
		return
	}
	s.state.IsConnected = false
	s.closeLocked()

	if s.attempt >= MaxReconnectAttempts {
		s.active = false
		s.state.Err = fmt.Errorf("%w: %v", ErrReconnectExhausted, cause)
		slog.Error("notification stream gave up",
			slog.Int("attempts", s.attempt),
			slog.String("error", fmt.Sprint(cause)),
		)
	} else {
		delay := ReconnectDelay(s.attempt)
		s.attempt++
		slog.Warn("notification stream disconnected",
			slog.Int("attempt", s.attempt),
			slog.Duration("retry_in", delay),
			slog.String("error", fmt.Sprint(cause)),
		)
		s.pending = s.afterFunc(delay, func() { s.reconnect(gen) })
	}
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.changed(st)
}

// reconnect は予約された再接続を実行する。Disconnect済みの場合は何もしない。
func (s *Subscriber) reconnect(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || !s.active {
		return
	}
	s.openLocked(gen)
}

func (s *Subscriber) snapshotLocked() State {
	st := s.state
	st.Notifications = make([]model.Notification, len(s.state.Notifications))
	copy(st.Notifications, s.state.Notifications)
	return st
}

func (s *Subscriber) changed(st State) {
	if s.cfg.OnChange != nil {
		s.cfg.OnChange(st)
	}
}
