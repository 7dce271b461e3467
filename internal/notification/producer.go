package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/troophub/internal/metrics"
	"github.com/hitoshi/troophub/internal/model"
)

const (
	// InitialBatchSize はinitイベントで送る最新通知の件数。
	InitialBatchSize = 5
	// DefaultPollInterval は新着確認の既定間隔。
	DefaultPollInterval = 5 * time.Second
)

// Store はフィード生成に必要な通知の読み取りインターフェース。
type Store interface {
	ListRecent(ctx context.Context, userID string, limit int) ([]model.Notification, error)
	ListCreatedAfter(ctx context.Context, userID string, after time.Time) ([]model.Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
}

// EmitFunc はイベント1件をクライアントへ書き出す。
// エラーを返した場合、接続は閉じられたものとして扱う。
type EmitFunc func(model.FeedEvent) error

// Ticker はポーリング間隔の発火源を抽象化する。
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// ProducerConfig はProducerの設定。
type ProducerConfig struct {
	PollInterval time.Duration
}

// Producer はユーザー1人分の通知フィードを生成する。
// 1接続につきRunを1回呼び出す。Producer自体は複数接続で共有できる。
type Producer struct {
	store     Store
	metrics   metrics.FeedMetrics
	interval  time.Duration
	now       func() time.Time
	newTicker func(time.Duration) Ticker
}

// NewProducer はProducerを生成する。PollIntervalが0以下の場合はDefaultPollIntervalを使用する。
// fmはnilでもよい。
func NewProducer(store Store, fm metrics.FeedMetrics, cfg ProducerConfig) *Producer {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Producer{
		store:    store,
		metrics:  fm,
		interval: interval,
		now:      time.Now,
		newTicker: func(d time.Duration) Ticker {
			return timeTicker{t: time.NewTicker(d)}
		},
	}
}

// PollInterval は新着確認の間隔を返す。
func (p *Producer) PollInterval() time.Duration {
	return p.interval
}

// Run はinitイベントを送出したのち、ctxがキャンセルされるかemitが失敗するまで
// 一定間隔で新着確認を行い、newまたはheartbeatイベントを送出する。
//
// 1. チェックポイントを現在時刻に設定する
// 2. 最新通知と未読数を取得してinitを送出する
// 3. 各tickでチェックポイント以降の通知と未読数を取得し、newまたはheartbeatを送出する
// 4. 送出に成功したらチェックポイントを現在時刻に進める
//
// tickごとのクエリ失敗はログに記録して読み飛ばし、接続は維持する。
// initの取得に失敗した場合とemitが失敗した場合はエラーを返す。
// ctxのキャンセルによる終了ではnilを返す。
func (p *Producer) Run(ctx context.Context, userID string, emit EmitFunc) error {
	checkpoint := p.now()

	recent, err := p.store.ListRecent(ctx, userID, InitialBatchSize)
	if err != nil {
		return fmt.Errorf("failed to load recent notifications: %w", err)
	}
	unread, err := p.store.CountUnread(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to count unread notifications: %w", err)
	}
	if err := p.emit(emit, model.FeedEvent{
		Type:          model.FeedEventInit,
		Notifications: recent,
		UnreadCount:   unread,
	}); err != nil {
		return err
	}

	if p.metrics != nil {
		p.metrics.StreamOpened()
		defer p.metrics.StreamClosed()
	}

	ticker := p.newTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
		}
		// キャンセルとtickが同時に成立した場合はキャンセルを優先する
		if ctx.Err() != nil {
			return nil
		}

		ev, ok := p.poll(ctx, userID, checkpoint)
		if !ok {
			continue
		}
		if err := p.emit(emit, ev); err != nil {
			return err
		}
		checkpoint = p.now()
	}
}

// poll はチェックポイント以降の新着と未読数を取得してイベントを組み立てる。
// いずれかのクエリが失敗した場合はfalseを返す。
func (p *Producer) poll(ctx context.Context, userID string, checkpoint time.Time) (model.FeedEvent, bool) {
	fresh, err := p.store.ListCreatedAfter(ctx, userID, checkpoint)
	if err != nil {
		p.pollFailed(ctx, userID, err)
		return model.FeedEvent{}, false
	}
	unread, err := p.store.CountUnread(ctx, userID)
	if err != nil {
		p.pollFailed(ctx, userID, err)
		return model.FeedEvent{}, false
	}

	if len(fresh) > 0 {
		return model.FeedEvent{
			Type:          model.FeedEventNew,
			Notifications: fresh,
			UnreadCount:   unread,
		}, true
	}
	return model.FeedEvent{Type: model.FeedEventHeartbeat, UnreadCount: unread}, true
}

func (p *Producer) pollFailed(ctx context.Context, userID string, err error) {
	// 切断によるキャンセルは失敗として数えない
	if ctx.Err() != nil {
		return
	}
	slog.Warn("notification poll failed",
		slog.String("user_id", userID),
		slog.String("error", err.Error()),
	)
	if p.metrics != nil {
		p.metrics.RecordPollError()
	}
}

func (p *Producer) emit(emit EmitFunc, ev model.FeedEvent) error {
	if err := emit(ev); err != nil {
		return fmt.Errorf("failed to emit %s event: %w", ev.Type, err)
	}
	if p.metrics != nil {
		p.metrics.RecordFeedEvent(string(ev.Type))
	}
	return nil
}
