package model

import (
	"encoding/json"
	"time"
)

// NotificationType はアプリ内通知の種別を表す。
type NotificationType string

const (
	// NotificationTypeAnnouncement はユニットのお知らせ投稿による通知。
	NotificationTypeAnnouncement NotificationType = "ANNOUNCEMENT"
	// NotificationTypeAccount はアカウント操作（作成・ロール変更）による通知。
	NotificationTypeAccount NotificationType = "ACCOUNT"
	// NotificationTypeSystem はシステムからの通知。
	NotificationTypeSystem NotificationType = "SYSTEM"
)

// Notification はユーザー1人に宛てたアプリ内通知を表す。
// 既読状態は未読から既読への一方向にのみ遷移する。
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Data      json.RawMessage  `json:"data,omitempty"`
	Read      bool             `json:"read"`
	ReadAt    *time.Time       `json:"readAt,omitempty"`
	ActionURL string           `json:"actionUrl,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

// FeedEventType はSSE通知フィードのイベント種別を表す。
type FeedEventType string

const (
	// FeedEventInit は接続直後に1回だけ送る完全なスナップショット。
	FeedEventInit FeedEventType = "init"
	// FeedEventNew は前回チェック以降に作成された通知の差分。
	FeedEventNew FeedEventType = "new"
	// FeedEventHeartbeat は新着がない場合の未読数のみの通知。
	FeedEventHeartbeat FeedEventType = "heartbeat"
)

// FeedEvent はSSEで1フレームとして送信されるメッセージ。
type FeedEvent struct {
	Type          FeedEventType  `json:"type"`
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unreadCount"`
}

// MarshalJSON はheartbeatではnotificationsを省略し、
// それ以外では通知が0件でも空配列として出力する。
func (e FeedEvent) MarshalJSON() ([]byte, error) {
	if e.Type == FeedEventHeartbeat {
		return json.Marshal(struct {
			Type        FeedEventType `json:"type"`
			UnreadCount int           `json:"unreadCount"`
		}{e.Type, e.UnreadCount})
	}
	type wire FeedEvent
	w := wire(e)
	if w.Notifications == nil {
		w.Notifications = []Notification{}
	}
	return json.Marshal(w)
}
