// Package notification はアプリ内通知の作成・既読化と、SSE通知フィードの生成を提供する。
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hitoshi/troophub/internal/ids"
	"github.com/hitoshi/troophub/internal/model"
	"github.com/hitoshi/troophub/internal/repository"
	"github.com/hitoshi/troophub/internal/security"
)

// 通知本文の最大文字数
const (
	maxTitleRunes   = 200
	maxMessageRunes = 1000
)

// CreatedRecorder は作成された通知数を記録するインターフェース。
type CreatedRecorder interface {
	RecordNotificationsCreated(count int)
}

// Input は通知作成の入力。
type Input struct {
	UserID    string
	Type      model.NotificationType
	Title     string
	Message   string
	ActionURL string
	Data      any
}

// ListResult は通知一覧と未読数を表す。
type ListResult struct {
	Notifications []model.Notification `json:"notifications"`
	UnreadCount   int                  `json:"unreadCount"`
}

// Service は通知に関するビジネスロジックを提供する。
type Service struct {
	repo      repository.NotificationRepository
	sanitizer security.ContentSanitizerService
	recorder  CreatedRecorder
	now       func() time.Time
}

// NewService はServiceを生成する。recorderはnilでもよい。
func NewService(repo repository.NotificationRepository, sanitizer security.ContentSanitizerService, recorder CreatedRecorder) *Service {
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		recorder:  recorder,
		now:       time.Now,
	}
}

// Notify はユーザーに通知を1件作成する。
// タイトルと本文はタグを除去したプレーンテキストとして保存する。
func (s *Service) Notify(ctx context.Context, in Input) (*model.Notification, error) {
	if in.UserID == "" {
		return nil, model.NewMissingFieldError("userId")
	}

	n, err := s.build(in)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}
	if s.recorder != nil {
		s.recorder.RecordNotificationsCreated(1)
	}

	slog.Info("notification created",
		slog.String("notification_id", n.ID),
		slog.String("user_id", n.UserID),
		slog.String("type", string(n.Type)),
	)
	return n, nil
}

// Template は複数ユーザーへ一括配信する通知の雛形を生成する。
// UserIDとIDは配信時に宛先ごとに設定される。
func (s *Service) Template(in Input) (*model.Notification, error) {
	return s.build(in)
}

// List はユーザーの最新通知を最大limit件と未読数を返す。
func (s *Service) List(ctx context.Context, userID string, limit int) (*ListResult, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	notifications, err := s.repo.ListRecent(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	unread, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count unread notifications: %w", err)
	}

	return &ListResult{Notifications: notifications, UnreadCount: unread}, nil
}

// MarkRead はユーザーの通知1件を既読にする。
// 既読済みの通知に対しては何もしない。IDの形式が不正な場合はNOTIFICATION_NOT_FOUNDを返す。
func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	if _, err := ulid.ParseStrict(id); err != nil {
		return model.NewNotificationNotFoundError(id)
	}

	updated, err := s.repo.MarkRead(ctx, userID, id, s.now())
	if err != nil {
		return fmt.Errorf("failed to mark notification as read: %w", err)
	}
	if updated {
		slog.Info("notification marked as read",
			slog.String("notification_id", id),
			slog.String("user_id", userID),
		)
	}
	return nil
}

// MarkAllRead はユーザーの未読通知をすべて既読にし、更新件数を返す。
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, userID, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to mark all notifications as read: %w", err)
	}

	slog.Info("notifications marked as read",
		slog.String("user_id", userID),
		slog.Int64("count", n),
	)
	return n, nil
}

// build は入力を検証し、保存用の通知を組み立てる。
func (s *Service) build(in Input) (*model.Notification, error) {
	title := security.PlainTextExcerpt(s.sanitizer.StripTags(in.Title), maxTitleRunes)
	if title == "" {
		return nil, model.NewMissingFieldError("title")
	}
	message := security.PlainTextExcerpt(s.sanitizer.StripTags(in.Message), maxMessageRunes)

	typ := in.Type
	if typ == "" {
		typ = model.NotificationTypeSystem
	}

	var data json.RawMessage
	if in.Data != nil {
		b, err := json.Marshal(in.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode notification data: %w", err)
		}
		data = b
	}

	now := s.now()
	return &model.Notification{
		ID:        ids.NewAt(now),
		UserID:    in.UserID,
		Type:      typ,
		Title:     title,
		Message:   message,
		Data:      data,
		ActionURL: in.ActionURL,
		CreatedAt: now,
	}, nil
}
