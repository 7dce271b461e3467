// Package announcement はユニット宛てのお知らせ投稿と、宛先への通知配信を扱う。
package announcement

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/troophub/internal/model"
	"github.com/hitoshi/troophub/internal/notification"
	"github.com/hitoshi/troophub/internal/repository"
	"github.com/hitoshi/troophub/internal/security"
)

const (
	maxTitleRunes = 200
	maxBodyBytes  = 64 * 1024
	// excerptRunes は通知本文に載せる抜粋の最大文字数。
	excerptRunes = 160
)

// PostInput はお知らせ投稿の入力。BodyはHTMLを含んでもよい。
type PostInput struct {
	UnitID string `json:"unitId"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// TemplateBuilder は配信用の通知テンプレートを組み立てる。
type TemplateBuilder interface {
	Template(in notification.Input) (*model.Notification, error)
}

// CreatedRecorder は作成された通知数を記録する。
type CreatedRecorder interface {
	RecordNotificationsCreated(count int)
}

// Service はお知らせのサービス層。
type Service struct {
	repo      repository.AnnouncementRepository
	units     repository.UnitRepository
	templates TemplateBuilder
	sanitizer security.ContentSanitizerService
	recorder  CreatedRecorder
	now       func() time.Time
}

// NewService はServiceを生成する。recorderはnilでもよい。
func NewService(
	repo repository.AnnouncementRepository,
	units repository.UnitRepository,
	templates TemplateBuilder,
	sanitizer security.ContentSanitizerService,
	recorder CreatedRecorder,
) *Service {
	return &Service{
		repo:      repo,
		units:     units,
		templates: templates,
		sanitizer: sanitizer,
		recorder:  recorder,
		now:       time.Now,
	}
}

// Post はお知らせを投稿し、ユニット配下の保護者とリーダー（投稿者を除く）に通知する。
// リーダーは自分が担当するユニットの階層内にのみ投稿できる。管理者はどのユニットにも投稿できる。
//
// 1. 入力を検証し、本文をサニタイズする
// 2. ユニットの存在と投稿権限を確認する
// 3. 宛先から投稿者を除外する
// 4. お知らせと宛先ごとの通知を同一トランザクションで作成する
func (s *Service) Post(ctx context.Context, author *model.User, in PostInput) (*model.Announcement, error) {
	title := strings.TrimSpace(s.sanitizer.StripTags(in.Title))
	if title == "" {
		return nil, model.NewMissingFieldError("title")
	}
	if len([]rune(title)) > maxTitleRunes {
		return nil, model.NewInvalidInputError(fmt.Sprintf("title must be at most %d characters", maxTitleRunes))
	}
	if len(in.Body) > maxBodyBytes {
		return nil, model.NewInvalidInputError("body is too long")
	}
	body := s.sanitizer.Sanitize(in.Body)
	if body == "" {
		return nil, model.NewMissingFieldError("body")
	}
	if in.UnitID == "" {
		return nil, model.NewMissingFieldError("unitId")
	}
	if _, err := uuid.Parse(in.UnitID); err != nil {
		return nil, model.NewUnitNotFoundError(in.UnitID)
	}

	unit, err := s.units.FindByID(ctx, in.UnitID)
	if err != nil {
		return nil, fmt.Errorf("failed to find unit: %w", err)
	}
	if unit == nil {
		return nil, model.NewUnitNotFoundError(in.UnitID)
	}

	audience, err := s.units.ListAudienceUserIDs(ctx, unit.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve audience: %w", err)
	}
	if author.Role != model.RoleAdmin && !slices.Contains(audience, author.ID) {
		return nil, model.NewForbiddenError("You can only post to units you lead.")
	}
	recipients := make([]string, 0, len(audience))
	for _, id := range audience {
		if id != author.ID {
			recipients = append(recipients, id)
		}
	}

	a := &model.Announcement{
		ID:        uuid.NewString(),
		UnitID:    unit.ID,
		AuthorID:  author.ID,
		Title:     title,
		Body:      body,
		CreatedAt: s.now(),
	}

	tmpl, err := s.templates.Template(notification.Input{
		Type:      model.NotificationTypeAnnouncement,
		Title:     fmt.Sprintf("%s: %s", unit.Name, title),
		Message:   security.PlainTextExcerpt(body, excerptRunes),
		ActionURL: "/announcements/" + a.ID,
		Data: map[string]string{
			"announcementId": a.ID,
			"unitId":         unit.ID,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateWithFanOut(ctx, a, tmpl, recipients); err != nil {
		return nil, fmt.Errorf("failed to post announcement: %w", err)
	}
	if s.recorder != nil && len(recipients) > 0 {
		s.recorder.RecordNotificationsCreated(len(recipients))
	}

	slog.Info("announcement posted",
		slog.String("announcement_id", a.ID),
		slog.String("unit_id", a.UnitID),
		slog.String("author_id", author.ID),
		slog.Int("recipients", len(recipients)),
	)
	return a, nil
}

// Get はお知らせを1件返す。管理者・投稿者・ユニット配下の宛先ユーザーのみ閲覧できる。
// 存在しない場合と閲覧できない場合はどちらもnilを返し、区別しない。
func (s *Service) Get(ctx context.Context, viewer *model.User, id string) (*model.Announcement, *model.Unit, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil, nil
	}
	a, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find announcement: %w", err)
	}
	if a == nil {
		return nil, nil, nil
	}
	unit, err := s.units.FindByID(ctx, a.UnitID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find unit: %w", err)
	}
	if unit == nil {
		return nil, nil, nil
	}

	if viewer.Role != model.RoleAdmin && viewer.ID != a.AuthorID {
		audience, err := s.units.ListAudienceUserIDs(ctx, a.UnitID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to resolve audience: %w", err)
		}
		if !slices.Contains(audience, viewer.ID) {
			return nil, nil, nil
		}
	}
	return a, unit, nil
}

// List はユニットの最新のお知らせを返す。
func (s *Service) List(ctx context.Context, unitID string, limit int) ([]model.Announcement, error) {
	if _, err := uuid.Parse(unitID); err != nil {
		return nil, model.NewUnitNotFoundError(unitID)
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	list, err := s.repo.ListByUnit(ctx, unitID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list announcements: %w", err)
	}
	return list, nil
}
