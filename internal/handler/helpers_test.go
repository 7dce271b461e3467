package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/troophub/internal/announcement"
	"github.com/hitoshi/troophub/internal/auth"
	"github.com/hitoshi/troophub/internal/i18n"
	"github.com/hitoshi/troophub/internal/middleware"
	"github.com/hitoshi/troophub/internal/model"
	"github.com/hitoshi/troophub/internal/notification"
	"github.com/hitoshi/troophub/internal/unit"
	"github.com/hitoshi/troophub/internal/user"
	"github.com/hitoshi/troophub/internal/view"
)

// --- モック定義 ---

type mockAuthService struct {
	loginFn          func(ctx context.Context, email, password string) (*auth.LoginResult, error)
	logoutFn         func(ctx context.Context, token string) error
	changePasswordFn func(ctx context.Context, userID, currentPassword, newPassword string) error
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*auth.LoginResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, model.NewInvalidCredentialsError()
}

func (m *mockAuthService) Logout(ctx context.Context, token string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, token)
	}
	return nil
}

func (m *mockAuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if m.changePasswordFn != nil {
		return m.changePasswordFn(ctx, userID, currentPassword, newPassword)
	}
	return nil
}

type mockNotificationService struct {
	listFn        func(ctx context.Context, userID string, limit int) (*notification.ListResult, error)
	markReadFn    func(ctx context.Context, userID, id string) error
	markAllReadFn func(ctx context.Context, userID string) (int64, error)
}

func (m *mockNotificationService) List(ctx context.Context, userID string, limit int) (*notification.ListResult, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID, limit)
	}
	return &notification.ListResult{Notifications: []model.Notification{}}, nil
}

func (m *mockNotificationService) MarkRead(ctx context.Context, userID, id string) error {
	if m.markReadFn != nil {
		return m.markReadFn(ctx, userID, id)
	}
	return nil
}

func (m *mockNotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	if m.markAllReadFn != nil {
		return m.markAllReadFn(ctx, userID)
	}
	return 0, nil
}

type mockFeedProducer struct {
	runFn func(ctx context.Context, userID string, emit notification.EmitFunc) error
}

func (m *mockFeedProducer) Run(ctx context.Context, userID string, emit notification.EmitFunc) error {
	if m.runFn != nil {
		return m.runFn(ctx, userID, emit)
	}
	return nil
}

type mockUserService struct {
	listFn       func(ctx context.Context) ([]*model.User, error)
	createFn     func(ctx context.Context, actorID string, in user.CreateInput) (*user.CreateResult, error)
	changeRoleFn func(ctx context.Context, actorID, userID string, role model.Role) error
	deleteFn     func(ctx context.Context, actorID, userID string) error
}

func (m *mockUserService) List(ctx context.Context) ([]*model.User, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return []*model.User{}, nil
}

func (m *mockUserService) Create(ctx context.Context, actorID string, in user.CreateInput) (*user.CreateResult, error) {
	if m.createFn != nil {
		return m.createFn(ctx, actorID, in)
	}
	return nil, nil
}

func (m *mockUserService) ChangeRole(ctx context.Context, actorID, userID string, role model.Role) error {
	if m.changeRoleFn != nil {
		return m.changeRoleFn(ctx, actorID, userID, role)
	}
	return nil
}

func (m *mockUserService) Delete(ctx context.Context, actorID, userID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, actorID, userID)
	}
	return nil
}

type mockUnitService struct {
	createFn            func(ctx context.Context, in unit.CreateInput) (*model.Unit, error)
	treeFn              func(ctx context.Context) ([]*model.UnitNode, error)
	assignLeaderFn      func(ctx context.Context, unitID, userID string) error
	addStudentFn        func(ctx context.Context, in unit.StudentInput) (*model.Student, error)
	studentsForParentFn func(ctx context.Context, parentUserID string) ([]model.Student, error)
}

func (m *mockUnitService) Create(ctx context.Context, in unit.CreateInput) (*model.Unit, error) {
	if m.createFn != nil {
		return m.createFn(ctx, in)
	}
	return &model.Unit{ID: "unit-new", Name: in.Name, ParentID: in.ParentID}, nil
}

func (m *mockUnitService) Tree(ctx context.Context) ([]*model.UnitNode, error) {
	if m.treeFn != nil {
		return m.treeFn(ctx)
	}
	return []*model.UnitNode{}, nil
}

func (m *mockUnitService) AssignLeader(ctx context.Context, unitID, userID string) error {
	if m.assignLeaderFn != nil {
		return m.assignLeaderFn(ctx, unitID, userID)
	}
	return nil
}

func (m *mockUnitService) AddStudent(ctx context.Context, in unit.StudentInput) (*model.Student, error) {
	if m.addStudentFn != nil {
		return m.addStudentFn(ctx, in)
	}
	return &model.Student{ID: "student-new", UnitID: in.UnitID, ParentUserID: in.ParentUserID}, nil
}

func (m *mockUnitService) StudentsForParent(ctx context.Context, parentUserID string) ([]model.Student, error) {
	if m.studentsForParentFn != nil {
		return m.studentsForParentFn(ctx, parentUserID)
	}
	return nil, nil
}

type mockAnnouncementService struct {
	postFn func(ctx context.Context, author *model.User, in announcement.PostInput) (*model.Announcement, error)
	getFn  func(ctx context.Context, viewer *model.User, id string) (*model.Announcement, *model.Unit, error)
	listFn func(ctx context.Context, unitID string, limit int) ([]model.Announcement, error)
}

func (m *mockAnnouncementService) Post(ctx context.Context, author *model.User, in announcement.PostInput) (*model.Announcement, error) {
	if m.postFn != nil {
		return m.postFn(ctx, author, in)
	}
	return &model.Announcement{ID: "a-1", UnitID: in.UnitID, AuthorID: author.ID, Title: in.Title, Body: in.Body}, nil
}

func (m *mockAnnouncementService) Get(ctx context.Context, viewer *model.User, id string) (*model.Announcement, *model.Unit, error) {
	if m.getFn != nil {
		return m.getFn(ctx, viewer, id)
	}
	return nil, nil, nil
}

func (m *mockAnnouncementService) List(ctx context.Context, unitID string, limit int) ([]model.Announcement, error) {
	if m.listFn != nil {
		return m.listFn(ctx, unitID, limit)
	}
	return nil, nil
}

// --- ヘルパー ---

var (
	testAdmin  = &model.User{ID: "user-admin", Email: "admin@example.org", Name: "Ada", Role: model.RoleAdmin}
	testLeader = &model.User{ID: "user-leader", Email: "leader@example.org", Name: "Lee", Role: model.RoleLeader}
	testParent = &model.User{ID: "user-parent", Email: "parent@example.org", Name: "Pat", Role: model.RoleParent}
)

// testPages は実際のテンプレートと翻訳カタログを使うPageDepsを返す。
func testPages(t *testing.T, notifications NotificationLister) PageDeps {
	t.Helper()
	renderer, err := view.NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}
	locales, err := i18n.New([]string{"en", "fr"})
	if err != nil {
		t.Fatalf("i18n.New() error = %v", err)
	}
	return PageDeps{Renderer: renderer, Locales: locales, Notifications: notifications}
}

// withSession はテスト用にセッションとロケールをリクエストコンテキストに注入する。
func withSession(r *http.Request, u *model.User) *http.Request {
	ctx := r.Context()
	if u != nil {
		ctx = middleware.ContextWithSession(ctx, &model.Session{
			ID:        "session-" + u.ID,
			UserID:    u.ID,
			User:      u,
			ExpiresAt: time.Now().Add(time.Hour),
		})
	}
	return r.WithContext(ctx)
}

// withLocale はテスト用にロケールをリクエストコンテキストに注入する。
func withLocale(r *http.Request, locale string) *http.Request {
	return r.WithContext(middleware.ContextWithLocale(r.Context(), locale))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// formRequest はフォーム送信のリクエストを生成する。
func formRequest(target string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// jsonRequest はJSONボディのリクエストを生成する。
func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}
