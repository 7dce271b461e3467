// Package user は管理者によるユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/troophub/internal/model"
	"github.com/hitoshi/troophub/internal/notification"
	"github.com/hitoshi/troophub/internal/repository"
)

// PasswordHasher はパスワードのハッシュ化インターフェース。
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// Notifier はユーザーへの通知作成インターフェース。
type Notifier interface {
	Notify(ctx context.Context, in notification.Input) (*model.Notification, error)
}

// CreateInput は管理者によるユーザー作成の入力。
type CreateInput struct {
	Email string     `json:"email"`
	Name  string     `json:"name"`
	Role  model.Role `json:"role"`
}

// CreateResult は作成したユーザーと、一度だけ表示する仮パスワードを表す。
type CreateResult struct {
	User              *model.User
	TemporaryPassword string
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	hasher      PasswordHasher
	notifier    Notifier
	genPassword func() (string, error)
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// genPasswordは仮パスワードの生成関数。notifierはnilでもよい。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	hasher PasswordHasher,
	notifier Notifier,
	genPassword func() (string, error),
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		hasher:      hasher,
		notifier:    notifier,
		genPassword: genPassword,
		now:         time.Now,
	}
}

// List は全ユーザーを返す。
func (s *Service) List(ctx context.Context) ([]*model.User, error) {
	users, err := s.userRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	if users == nil {
		users = []*model.User{}
	}
	return users, nil
}

// Create は仮パスワードを発行してユーザーを作成する。
// 作成されたユーザーは初回ログイン後にパスワード変更を求められる。
//
// 1. 入力を検証する
// 2. 仮パスワードを生成してハッシュ化する
// 3. forcePasswordChange=trueでユーザーを作成する
// 4. ACCOUNT通知を作成する（失敗してもユーザー作成は取り消さない）
func (s *Service) Create(ctx context.Context, actorID string, in CreateInput) (*CreateResult, error) {
	email, name, err := validateIdentity(in.Email, in.Name)
	if err != nil {
		return nil, err
	}
	if !in.Role.Valid() {
		return nil, model.NewInvalidRoleError(string(in.Role))
	}

	password, err := s.genPassword()
	if err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	u := &model.User{
		ID:                  uuid.NewString(),
		Email:               email,
		Name:                name,
		Role:                in.Role,
		PasswordHash:        hash,
		ForcePasswordChange: true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.create(ctx, u); err != nil {
		return nil, err
	}

	slog.Info("user created",
		slog.String("user_id", u.ID),
		slog.String("role", string(u.Role)),
		slog.String("actor_id", actorID),
	)

	s.notify(ctx, notification.Input{
		UserID:    u.ID,
		Type:      model.NotificationTypeAccount,
		Title:     "Welcome to troophub",
		Message:   "Your account has been created. Please choose a new password.",
		ActionURL: "/change-password",
		Data:      map[string]string{"role": string(u.Role)},
	})

	return &CreateResult{User: u, TemporaryPassword: password}, nil
}

// CreateAdmin は初期管理者を作成する。パスワードは呼び出し元が指定し、変更は強制しない。
func (s *Service) CreateAdmin(ctx context.Context, email, name, password string) (*model.User, error) {
	email, name, err := validateIdentity(email, name)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, model.NewMissingFieldError("password")
	}
	if len([]rune(password)) < model.MinPasswordLength {
		return nil, model.NewWeakPasswordError()
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	u := &model.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		Role:         model.RoleAdmin,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.create(ctx, u); err != nil {
		return nil, err
	}

	slog.Info("administrator created", slog.String("user_id", u.ID))
	return u, nil
}

// ChangeRole はユーザーのロールを変更する。管理者は自分自身のロールを変更できない。
func (s *Service) ChangeRole(ctx context.Context, actorID, userID string, role model.Role) error {
	if !role.Valid() {
		return model.NewInvalidRoleError(string(role))
	}
	if actorID == userID {
		return model.NewInvalidInputError("you cannot change your own role")
	}

	err := s.userRepo.UpdateRole(ctx, userID, role)
	if errors.Is(err, repository.ErrNotFound) {
		return model.NewUserNotFoundError()
	}
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}

	slog.Info("user role changed",
		slog.String("user_id", userID),
		slog.String("role", string(role)),
		slog.String("actor_id", actorID),
	)

	s.notify(ctx, notification.Input{
		UserID:  userID,
		Type:    model.NotificationTypeAccount,
		Title:   "Your role has changed",
		Message: fmt.Sprintf("An administrator changed your role to %s.", role),
		Data:    map[string]string{"role": string(role)},
	})
	return nil
}

// Delete はユーザーを削除する。管理者は自分自身を削除できない。
//
// 1. ユーザーの存在を確認する
// 2. セッションを削除して即時にログアウトさせる
// 3. ユーザーを削除する（students、notificationsはCASCADE削除）
func (s *Service) Delete(ctx context.Context, actorID, userID string) error {
	if actorID == userID {
		return model.NewInvalidInputError("you cannot delete your own account")
	}

	u, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if u == nil {
		return model.NewUserNotFoundError()
	}

	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	slog.Info("user deleted",
		slog.String("user_id", userID),
		slog.String("actor_id", actorID),
	)
	return nil
}

func (s *Service) create(ctx context.Context, u *model.User) error {
	err := s.userRepo.Create(ctx, u)
	if errors.Is(err, repository.ErrDuplicate) {
		return model.NewDuplicateEmailError(u.Email)
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *Service) notify(ctx context.Context, in notification.Input) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.Notify(ctx, in); err != nil {
		slog.Warn("failed to create account notification",
			slog.String("user_id", in.UserID),
			slog.String("error", err.Error()),
		)
	}
}

// validateIdentity はメールアドレスと表示名を正規化して検証する。
func validateIdentity(email, name string) (string, string, error) {
	email = strings.TrimSpace(email)
	name = strings.TrimSpace(name)
	if email == "" {
		return "", "", model.NewMissingFieldError("email")
	}
	if name == "" {
		return "", "", model.NewMissingFieldError("name")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", "", model.NewInvalidInputError("email address is malformed")
	}
	return strings.ToLower(email), name, nil
}
