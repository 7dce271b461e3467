package subscriber

import (
	"time"

	"github.com/hitoshi/troophub/internal/model"
)

const (
	// MaxNotifications はクライアントが保持する通知の上限件数。
	MaxNotifications = 20
	// MaxReconnectAttempts は連続して再接続を試みる上限回数。
	MaxReconnectAttempts = 10

	baseReconnectDelay = time.Second
	maxReconnectDelay  = 30 * time.Second
)

// ReconnectDelay はattempt回目（0始まり）の再接続までの待ち時間を返す。
// min(1s * 2^attempt, 30s)
func ReconnectDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// 2^5秒で上限を超えるため、それ以上はシフトしない
	if attempt >= 5 {
		return maxReconnectDelay
	}
	d := baseReconnectDelay << attempt
	if d > maxReconnectDelay {
		return maxReconnectDelay
	}
	return d
}

// MergeNotifications はincomingを先頭に、existingのうちincomingと同じIDを持たないものを続けて
// 最大limit件に切り詰めた新しいスライスを返す。引数のスライスは変更しない。
func MergeNotifications(existing, incoming []model.Notification, limit int) []model.Notification {
	seen := make(map[string]struct{}, len(incoming))
	merged := make([]model.Notification, 0, len(incoming)+len(existing))
	for _, n := range incoming {
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		merged = append(merged, n)
	}
	for _, n := range existing {
		if _, dup := seen[n.ID]; dup {
			continue
		}
		merged = append(merged, n)
	}
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
