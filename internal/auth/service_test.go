package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/troophub/internal/model"
	"github.com/hitoshi/troophub/internal/repository"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn       func(ctx context.Context, id string) (*model.User, error)
	findByEmailFn    func(ctx context.Context, email string) (*model.User, error)
	updatePasswordFn func(ctx context.Context, id, passwordHash string) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockUserRepo) Create(_ context.Context, _ *model.User) error { return nil }

func (m *mockUserRepo) List(_ context.Context) ([]*model.User, error) { return nil, nil }

func (m *mockUserRepo) UpdateRole(_ context.Context, _ string, _ model.Role) error { return nil }

func (m *mockUserRepo) UpdatePasswordAndClearForceFlag(ctx context.Context, id, passwordHash string) error {
	if m.updatePasswordFn != nil {
		return m.updatePasswordFn(ctx, id, passwordHash)
	}
	return nil
}

func (m *mockUserRepo) DeleteByID(_ context.Context, _ string) error { return nil }

type mockSessionRepo struct {
	createFn     func(ctx context.Context, session *model.Session) error
	findByIDFn   func(ctx context.Context, id string) (*model.Session, error)
	extendFn     func(ctx context.Context, id string, expiresAt, updatedAt time.Time) error
	deleteByIDFn func(ctx context.Context, id string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepo) Extend(ctx context.Context, id string, expiresAt, updatedAt time.Time) error {
	if m.extendFn != nil {
		return m.extendFn(ctx, id, expiresAt, updatedAt)
	}
	return nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockSessionRepo) DeleteByUserID(_ context.Context, _ string) error { return nil }

// plainHasher はテスト用に"hashed:"接頭辞を付けるだけのハッシャー。
type plainHasher struct {
	hashErr error
}

func (h *plainHasher) Hash(password string) (string, error) {
	if h.hashErr != nil {
		return "", h.hashErr
	}
	return "hashed:" + password, nil
}

func (h *plainHasher) Compare(hash, password string) error {
	if hash != "hashed:"+password {
		return errors.New("mismatch")
	}
	return nil
}

// --- テストヘルパー ---

const testSecret = "test-session-secret-0123456789abcdef"

func newTestService(userRepo *mockUserRepo, sessionRepo *mockSessionRepo) *Service {
	return NewService(userRepo, sessionRepo, &plainHasher{}, NewCookieSigner(testSecret), ServiceConfig{
		SessionMaxAge:    30 * 24 * time.Hour,
		SessionUpdateAge: 24 * time.Hour,
	})
}

func testUser() *model.User {
	return &model.User{
		ID:           "user-1",
		Email:        "leader@example.com",
		Name:         "Leader",
		Role:         model.RoleLeader,
		PasswordHash: "hashed:correct-horse",
	}
}

func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *model.APIError", err)
	}
	if apiErr.Code != code {
		t.Errorf("Code = %q, want %q", apiErr.Code, code)
	}
}

// --- Login ---

func TestLogin_Success(t *testing.T) {
	var saved *model.Session
	userRepo := &mockUserRepo{
		findByEmailFn: func(_ context.Context, email string) (*model.User, error) {
			if email != "leader@example.com" {
				t.Errorf("email = %q, want trimmed address", email)
			}
			return testUser(), nil
		},
	}
	sessionRepo := &mockSessionRepo{
		createFn: func(_ context.Context, s *model.Session) error {
			saved = s
			return nil
		},
	}
	svc := newTestService(userRepo, sessionRepo)

	result, err := svc.Login(context.Background(), "  leader@example.com ", "correct-horse")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if saved == nil {
		t.Fatal("session was not saved")
	}
	if len(saved.ID) != 64 {
		t.Errorf("session ID length = %d, want 64", len(saved.ID))
	}
	if saved.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", saved.UserID, "user-1")
	}

	sid, err := svc.signer.Verify(result.Token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if sid != saved.ID {
		t.Errorf("token subject = %q, want %q", sid, saved.ID)
	}
}

func TestLogin_RejectsWrongPassword(t *testing.T) {
	userRepo := &mockUserRepo{
		findByEmailFn: func(_ context.Context, _ string) (*model.User, error) {
			return testUser(), nil
		},
	}
	sessionRepo := &mockSessionRepo{
		createFn: func(_ context.Context, _ *model.Session) error {
			t.Error("session must not be created")
			return nil
		},
	}
	svc := newTestService(userRepo, sessionRepo)

	_, err := svc.Login(context.Background(), "leader@example.com", "wrong")
	assertAPIErrorCode(t, err, model.ErrCodeInvalidCredentials)
}

func TestLogin_UnknownEmailLooksLikeWrongPassword(t *testing.T) {
	svc := newTestService(&mockUserRepo{}, &mockSessionRepo{})

	_, err := svc.Login(context.Background(), "nobody@example.com", "whatever")
	assertAPIErrorCode(t, err, model.ErrCodeInvalidCredentials)
}

func TestLogin_MissingFields(t *testing.T) {
	svc := newTestService(&mockUserRepo{}, &mockSessionRepo{})

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"メールアドレスなし", "", "pw"},
		{"空白のみのメールアドレス", "   ", "pw"},
		{"パスワードなし", "a@example.com", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(context.Background(), tt.email, tt.password)
			assertAPIErrorCode(t, err, model.ErrCodeMissingField)
		})
	}
}

func TestLogin_StoreError(t *testing.T) {
	userRepo := &mockUserRepo{
		findByEmailFn: func(_ context.Context, _ string) (*model.User, error) {
			return nil, errors.New("db down")
		},
	}
	svc := newTestService(userRepo, &mockSessionRepo{})

	_, err := svc.Login(context.Background(), "leader@example.com", "correct-horse")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		t.Errorf("store failure must not be reported as %v", apiErr.Code)
	}
}

// --- Logout ---

func TestLogout_DeletesSession(t *testing.T) {
	var deleted string
	sessionRepo := &mockSessionRepo{
		deleteByIDFn: func(_ context.Context, id string) error {
			deleted = id
			return nil
		},
	}
	svc := newTestService(&mockUserRepo{}, sessionRepo)
	token, _ := svc.signer.Sign("sess-1", time.Now().Add(time.Hour))

	if err := svc.Logout(context.Background(), token); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if deleted != "sess-1" {
		t.Errorf("deleted = %q, want %q", deleted, "sess-1")
	}
}

func TestLogout_IgnoresInvalidToken(t *testing.T) {
	sessionRepo := &mockSessionRepo{
		deleteByIDFn: func(_ context.Context, _ string) error {
			t.Error("DeleteByID must not be called")
			return nil
		},
	}
	svc := newTestService(&mockUserRepo{}, sessionRepo)

	if err := svc.Logout(context.Background(), "garbage"); err != nil {
		t.Errorf("Logout() error = %v, want nil", err)
	}
}

// --- ResolveSession ---

func TestResolveSession_Valid(t *testing.T) {
	sessionRepo := &mockSessionRepo{
		findByIDFn: func(_ context.Context, id string) (*model.Session, error) {
			return &model.Session{ID: id, UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	userRepo := &mockUserRepo{
		findByIDFn: func(_ context.Context, _ string) (*model.User, error) {
			return testUser(), nil
		},
	}
	svc := newTestService(userRepo, sessionRepo)
	token, _ := svc.signer.Sign("sess-1", time.Now().Add(time.Hour))

	session := svc.ResolveSession(context.Background(), token)
	if session == nil {
		t.Fatal("ResolveSession() = nil, want session")
	}
	if session.User == nil || session.User.Role != model.RoleLeader {
		t.Errorf("User = %+v, want leader", session.User)
	}
}

func TestResolveSession_FailsClosed(t *testing.T) {
	storeErr := errors.New("db down")
	live := func(_ context.Context, id string) (*model.Session, error) {
		return &model.Session{ID: id, UserID: "user-1"}, nil
	}
	signer := NewCookieSigner(testSecret)
	validToken, _ := signer.Sign("sess-1", time.Now().Add(time.Hour))
	foreignToken, _ := NewCookieSigner("another-secret").Sign("sess-1", time.Now().Add(time.Hour))

	tests := []struct {
		name       string
		token      string
		findSessFn func(ctx context.Context, id string) (*model.Session, error)
		findUserFn func(ctx context.Context, id string) (*model.User, error)
	}{
		{name: "Cookieなし", token: ""},
		{name: "署名不正", token: foreignToken, findSessFn: live},
		{name: "形式不正", token: "not-a-jwt", findSessFn: live},
		{name: "セッション行なし", token: validToken},
		{
			name:       "セッションストア障害",
			token:      validToken,
			findSessFn: func(_ context.Context, _ string) (*model.Session, error) { return nil, storeErr },
		},
		{name: "ユーザー不在", token: validToken, findSessFn: live},
		{
			name:       "ユーザーストア障害",
			token:      validToken,
			findSessFn: live,
			findUserFn: func(_ context.Context, _ string) (*model.User, error) { return nil, storeErr },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(
				&mockUserRepo{findByIDFn: tt.findUserFn},
				&mockSessionRepo{findByIDFn: tt.findSessFn},
			)
			if got := svc.ResolveSession(context.Background(), tt.token); got != nil {
				t.Errorf("ResolveSession() = %+v, want nil", got)
			}
		})
	}
}

// --- RefreshSession ---

func TestRefreshSession_ExtendsStaleSession(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var extendedTo time.Time
	sessionRepo := &mockSessionRepo{
		extendFn: func(_ context.Context, id string, expiresAt, updatedAt time.Time) error {
			if id != "sess-1" {
				t.Errorf("id = %q, want %q", id, "sess-1")
			}
			if !updatedAt.Equal(now) {
				t.Errorf("updatedAt = %v, want %v", updatedAt, now)
			}
			extendedTo = expiresAt
			return nil
		},
	}
	svc := newTestService(&mockUserRepo{}, sessionRepo)
	svc.now = func() time.Time { return now }
	svc.signer.now = svc.now

	session := &model.Session{ID: "sess-1", UpdatedAt: now.Add(-25 * time.Hour), ExpiresAt: now.Add(time.Hour)}
	token, err := svc.RefreshSession(context.Background(), session)
	if err != nil {
		t.Fatalf("RefreshSession() error = %v", err)
	}
	if token == "" {
		t.Fatal("token is empty, want refreshed cookie")
	}
	want := now.Add(30 * 24 * time.Hour)
	if !extendedTo.Equal(want) {
		t.Errorf("expiresAt = %v, want %v", extendedTo, want)
	}
	if !session.ExpiresAt.Equal(want) {
		t.Errorf("session.ExpiresAt = %v, want %v", session.ExpiresAt, want)
	}
}

func TestRefreshSession_SkipsFreshSession(t *testing.T) {
	now := time.Now()
	sessionRepo := &mockSessionRepo{
		extendFn: func(_ context.Context, _ string, _, _ time.Time) error {
			t.Error("Extend must not be called")
			return nil
		},
	}
	svc := newTestService(&mockUserRepo{}, sessionRepo)
	svc.now = func() time.Time { return now }

	token, err := svc.RefreshSession(context.Background(), &model.Session{ID: "s", UpdatedAt: now.Add(-time.Hour)})
	if err != nil {
		t.Fatalf("RefreshSession() error = %v", err)
	}
	if token != "" {
		t.Errorf("token = %q, want empty", token)
	}
}

// --- ChangePassword ---

func TestChangePassword_Success(t *testing.T) {
	var gotHash string
	user := testUser()
	user.ForcePasswordChange = true
	userRepo := &mockUserRepo{
		findByIDFn: func(_ context.Context, _ string) (*model.User, error) {
			return user, nil
		},
		updatePasswordFn: func(_ context.Context, id, hash string) error {
			if id != "user-1" {
				t.Errorf("id = %q, want %q", id, "user-1")
			}
			gotHash = hash
			return nil
		},
	}
	svc := newTestService(userRepo, &mockSessionRepo{})

	if err := svc.ChangePassword(context.Background(), "user-1", "correct-horse", "battery-staple"); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}
	if gotHash != "hashed:battery-staple" {
		t.Errorf("hash = %q, want %q", gotHash, "hashed:battery-staple")
	}
}

func TestChangePassword_Validation(t *testing.T) {
	userRepo := &mockUserRepo{
		findByIDFn: func(_ context.Context, _ string) (*model.User, error) {
			return testUser(), nil
		},
		updatePasswordFn: func(_ context.Context, _, _ string) error {
			t.Error("password must not be updated")
			return nil
		},
	}
	svc := newTestService(userRepo, &mockSessionRepo{})

	tests := []struct {
		name     string
		current  string
		next     string
		wantCode string
	}{
		{"現在のパスワードなし", "", "battery-staple", model.ErrCodeMissingField},
		{"新しいパスワードなし", "correct-horse", "", model.ErrCodeMissingField},
		{"7文字", "correct-horse", "1234567", model.ErrCodeWeakPassword},
		{"マルチバイト7文字", "correct-horse", "あいうえおかき", model.ErrCodeWeakPassword},
		{"現在のパスワード不一致", "wrong", "battery-staple", model.ErrCodeInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.ChangePassword(context.Background(), "user-1", tt.current, tt.next)
			assertAPIErrorCode(t, err, tt.wantCode)
		})
	}
}

func TestChangePassword_EightRunesAccepted(t *testing.T) {
	userRepo := &mockUserRepo{
		findByIDFn: func(_ context.Context, _ string) (*model.User, error) {
			return testUser(), nil
		},
	}
	svc := newTestService(userRepo, &mockSessionRepo{})

	if err := svc.ChangePassword(context.Background(), "user-1", "correct-horse", "12345678"); err != nil {
		t.Errorf("ChangePassword() error = %v, want nil", err)
	}
}

func TestChangePassword_UpdateFailureLeavesError(t *testing.T) {
	userRepo := &mockUserRepo{
		findByIDFn: func(_ context.Context, _ string) (*model.User, error) {
			return testUser(), nil
		},
		updatePasswordFn: func(_ context.Context, _, _ string) error {
			return errors.New("tx aborted")
		},
	}
	svc := newTestService(userRepo, &mockSessionRepo{})

	if err := svc.ChangePassword(context.Background(), "user-1", "correct-horse", "battery-staple"); err == nil {
		t.Error("expected error when update fails")
	}
}

func TestChangePassword_UserVanished(t *testing.T) {
	tests := []struct {
		name     string
		findFn   func(ctx context.Context, id string) (*model.User, error)
		updateFn func(ctx context.Context, id, hash string) error
	}{
		{
			name:   "検索時に不在",
			findFn: func(_ context.Context, _ string) (*model.User, error) { return nil, nil },
		},
		{
			name:     "更新時に不在",
			findFn:   func(_ context.Context, _ string) (*model.User, error) { return testUser(), nil },
			updateFn: func(_ context.Context, _, _ string) error { return repository.ErrNotFound },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(&mockUserRepo{findByIDFn: tt.findFn, updatePasswordFn: tt.updateFn}, &mockSessionRepo{})
			err := svc.ChangePassword(context.Background(), "user-1", "correct-horse", "battery-staple")
			assertAPIErrorCode(t, err, model.ErrCodeUserNotFound)
		})
	}
}
