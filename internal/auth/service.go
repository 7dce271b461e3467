// Package auth はパスワード認証、セッション管理、パスワード変更を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/troophub/internal/model"
	"github.com/hitoshi/troophub/internal/repository"
)

// PasswordHasher はパスワードのハッシュ化と照合のインターフェース。
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge    time.Duration // セッション有効期間
	SessionUpdateAge time.Duration // この時間を過ぎたセッションはアクセス時に延長する
}

// LoginResult はログイン成功時に発行されたセッションとCookie値を表す。
type LoginResult struct {
	Session *model.Session
	Token   string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	hasher      PasswordHasher
	signer      *CookieSigner
	config      ServiceConfig
	now         func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	hasher PasswordHasher,
	signer *CookieSigner,
	config ServiceConfig,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		hasher:      hasher,
		signer:      signer,
		config:      config,
		now:         time.Now,
	}
}

// Login はメールアドレスとパスワードで認証し、セッションを発行する。
// メールアドレスの存在有無は応答から区別できないようにする。
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, model.NewMissingFieldError("email")
	}
	if password == "" {
		return nil, model.NewMissingFieldError("password")
	}

	// 1. ユーザーを検索
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		// 存在しないユーザーでも照合コストを揃える
		_ = s.hasher.Compare(s.timingHash(), password)
		return nil, model.NewInvalidCredentialsError()
	}

	// 2. パスワードを照合
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		slog.Info("login rejected", slog.String("user_id", user.ID))
		return nil, model.NewInvalidCredentialsError()
	}

	// 3. セッションを発行
	session, err := s.createSession(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	token, err := s.signer.Sign(session.ID, session.ExpiresAt)
	if err != nil {
		return nil, err
	}

	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
	)
	return &LoginResult{Session: session, Token: token}, nil
}

// Logout はCookie値に対応するセッションを破棄する。
// 不正なCookie値の場合は何もしない。
func (s *Service) Logout(ctx context.Context, token string) error {
	sessionID, err := s.signer.Verify(token)
	if err != nil {
		return nil
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// ResolveSession はCookie値から現在のセッションとアイデンティティを解決する。
// Cookieが無い・署名不正・期限切れ・ユーザー不在・ストア障害のいずれの場合もnilを返し、
// 呼び出し側には「セッションなし」として扱わせる。副作用は持たない。
func (s *Service) ResolveSession(ctx context.Context, token string) *model.Session {
	if token == "" {
		return nil
	}

	sessionID, err := s.signer.Verify(token)
	if err != nil {
		return nil
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		slog.Warn("session lookup failed",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if session == nil {
		return nil
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		slog.Warn("session user lookup failed",
			slog.String("user_id", session.UserID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if user == nil {
		return nil
	}

	session.User = user
	return session
}

// RefreshSession は最終更新からSessionUpdateAgeを過ぎたセッションの有効期限を延長し、
// 新しいCookie値を返す。延長が不要な場合は空文字列を返す。
func (s *Service) RefreshSession(ctx context.Context, session *model.Session) (string, error) {
	if session == nil || s.config.SessionUpdateAge <= 0 {
		return "", nil
	}

	now := s.now()
	if now.Sub(session.UpdatedAt) < s.config.SessionUpdateAge {
		return "", nil
	}

	expiresAt := now.Add(s.config.SessionMaxAge)
	if err := s.sessionRepo.Extend(ctx, session.ID, expiresAt, now); err != nil {
		return "", fmt.Errorf("failed to extend session: %w", err)
	}
	session.ExpiresAt = expiresAt
	session.UpdatedAt = now

	return s.signer.Sign(session.ID, expiresAt)
}

// ChangePassword は現在のパスワードを確認したうえでパスワードを変更し、
// パスワード変更強制フラグを解除する。更新とフラグ解除は同一トランザクションで行われ、
// 失敗した場合はフラグが立ったまま残る。
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	// 1. 入力値検証
	if currentPassword == "" {
		return model.NewMissingFieldError("currentPassword")
	}
	if newPassword == "" {
		return model.NewMissingFieldError("newPassword")
	}
	if utf8.RuneCountInString(newPassword) < model.MinPasswordLength {
		return model.NewWeakPasswordError()
	}

	// 2. 現在のパスワードを照合
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}
	if err := s.hasher.Compare(user.PasswordHash, currentPassword); err != nil {
		return model.NewCurrentPasswordMismatchError()
	}

	// 3. 新しいハッシュで更新し、フラグを解除
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.userRepo.UpdatePasswordAndClearForceFlag(ctx, userID, hash); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewUserNotFoundError()
		}
		return fmt.Errorf("failed to update password: %w", err)
	}

	slog.Info("password changed",
		slog.String("user_id", userID),
		slog.Bool("was_forced", user.ForcePasswordChange),
	)
	return nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, user *model.User) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    user.ID,
		User:      user,
		ExpiresAt: now.Add(s.config.SessionMaxAge),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// timingHash は存在しないユーザーの照合に使うダミーハッシュを返す。
func (s *Service) timingHash() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash("troophub-timing-equalizer")
		if err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
