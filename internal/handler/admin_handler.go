package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/troophub/internal/middleware"
	"github.com/hitoshi/troophub/internal/model"
	"github.com/hitoshi/troophub/internal/unit"
	"github.com/hitoshi/troophub/internal/user"
	"github.com/hitoshi/troophub/internal/view"
)

// UserServiceInterface はユーザー管理ハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	List(ctx context.Context) ([]*model.User, error)
	Create(ctx context.Context, actorID string, in user.CreateInput) (*user.CreateResult, error)
	ChangeRole(ctx context.Context, actorID, userID string, role model.Role) error
	Delete(ctx context.Context, actorID, userID string) error
}

// UnitServiceInterface はユニット・隊員管理ハンドラーが必要とするサービスインターフェース。
type UnitServiceInterface interface {
	Create(ctx context.Context, in unit.CreateInput) (*model.Unit, error)
	Tree(ctx context.Context) ([]*model.UnitNode, error)
	AssignLeader(ctx context.Context, unitID, userID string) error
	AddStudent(ctx context.Context, in unit.StudentInput) (*model.Student, error)
	StudentsForParent(ctx context.Context, parentUserID string) ([]model.Student, error)
}

// AdminHandler は管理者向けのユーザー・ユニット管理のHTTPハンドラー。
type AdminHandler struct {
	pageBase
	users UserServiceInterface
	units UnitServiceInterface
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(users UserServiceInterface, units UnitServiceInterface, pages PageDeps) *AdminHandler {
	return &AdminHandler{
		pageBase: pages.base(),
		users:    users,
		units:    units,
	}
}

// userResponse はユーザー情報のAPIレスポンス。パスワードハッシュは含めない。
type userResponse struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	Name                string     `json:"name"`
	Role                model.Role `json:"role"`
	ForcePasswordChange bool       `json:"forcePasswordChange"`
	CreatedAt           time.Time  `json:"createdAt"`
}

// createUserResponse はユーザー作成APIのレスポンス。
// 一時パスワードはこのレスポンスでのみ返す。
type createUserResponse struct {
	User              userResponse `json:"user"`
	TemporaryPassword string       `json:"temporaryPassword"`
}

type changeRoleRequest struct {
	Role model.Role `json:"role"`
}

type assignLeaderRequest struct {
	UserID string `json:"userId"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:                  u.ID,
		Email:               u.Email,
		Name:                u.Name,
		Role:                u.Role,
		ForcePasswordChange: u.ForcePasswordChange,
		CreatedAt:           u.CreatedAt,
	}
}

// --- API ---

// ListUsers は全ユーザーを返す。
// GET /api/admin/users
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]userResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateUser は一時パスワード付きのユーザーを作成する。
// POST /api/admin/users
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req user.CreateInput
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.users.Create(r.Context(), actorID(r), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createUserResponse{
		User:              toUserResponse(result.User),
		TemporaryPassword: result.TemporaryPassword,
	})
}

// ChangeRole はユーザーのロールを変更する。
// PUT /api/admin/users/{id}/role
func (h *AdminHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	var req changeRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.users.ChangeRole(r.Context(), actorID(r), chi.URLParam(r, "id"), req.Role); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// DeleteUser はユーザーを削除する。
// DELETE /api/admin/users/{id}
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.users.Delete(r.Context(), actorID(r), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CreateUnit はユニットを作成する。
// POST /api/admin/units
func (h *AdminHandler) CreateUnit(w http.ResponseWriter, r *http.Request) {
	var req unit.CreateInput
	if !decodeJSON(w, r, &req) {
		return
	}

	created, err := h.units.Create(r.Context(), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// AssignLeader はユニットにリーダーを割り当てる。
// POST /api/admin/units/{id}/leaders
func (h *AdminHandler) AssignLeader(w http.ResponseWriter, r *http.Request) {
	var req assignLeaderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" {
		handleServiceError(w, model.NewMissingFieldError("userId"))
		return
	}

	if err := h.units.AssignLeader(r.Context(), chi.URLParam(r, "id"), req.UserID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AddStudent は隊員をユニットと保護者に紐づけて登録する。
// POST /api/admin/students
func (h *AdminHandler) AddStudent(w http.ResponseWriter, r *http.Request) {
	var req unit.StudentInput
	if !decodeJSON(w, r, &req) {
		return
	}

	student, err := h.units.AddStudent(r.Context(), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, student)
}

// UnitTree はユニット階層を返す。
// GET /api/units
func (h *AdminHandler) UnitTree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.units.Tree(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tree)
}

// MyStudents は保護者に紐づく隊員を返す。
// GET /api/me/students
func (h *AdminHandler) MyStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.units.StudentsForParent(r.Context(), actorID(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if students == nil {
		students = []model.Student{}
	}

	writeJSON(w, http.StatusOK, students)
}

// --- ページ ---

// Page は管理者ポータルを表示する。
// GET /{locale}/admin
func (h *AdminHandler) Page(w http.ResponseWriter, r *http.Request) {
	p := h.portalPage(r, "Administration")
	h.renderAdmin(w, r, http.StatusOK, p, nil)
}

// CreateUserForm はユーザー作成フォームの送信を処理する。
// 一時パスワードは作成直後のこの画面でのみ表示する。
// POST /{locale}/admin/users
func (h *AdminHandler) CreateUserForm(w http.ResponseWriter, r *http.Request) {
	in := user.CreateInput{
		Email: strings.TrimSpace(r.PostFormValue("email")),
		Name:  strings.TrimSpace(r.PostFormValue("name")),
		Role:  model.Role(r.PostFormValue("role")),
	}

	result, err := h.users.Create(r.Context(), actorID(r), in)
	p := h.portalPage(r, "Administration")
	if err != nil {
		p.Error = h.createUserError(p, in.Email, err)
		h.renderAdmin(w, r, pageErrorStatus(err), p, nil)
		return
	}

	h.renderAdmin(w, r, http.StatusOK, p, map[string]any{
		"TemporaryPassword": result.TemporaryPassword,
		"CreatedEmail":      result.User.Email,
	})
}

// CreateUnitForm はユニット作成フォームの送信を処理する。
// POST /{locale}/admin/units
func (h *AdminHandler) CreateUnitForm(w http.ResponseWriter, r *http.Request) {
	in := unit.CreateInput{
		Name:     strings.TrimSpace(r.PostFormValue("name")),
		ParentID: r.PostFormValue("parentId"),
	}

	_, err := h.units.Create(r.Context(), in)
	p := h.portalPage(r, "Administration")
	if err != nil {
		p.Error = localizedError(p, err)
		h.renderAdmin(w, r, pageErrorStatus(err), p, nil)
		return
	}

	p.Success = p.T("Unit created.")
	h.renderAdmin(w, r, http.StatusOK, p, nil)
}

// renderAdmin はユーザー一覧とユニット階層を読み込んで管理者ポータルを描画する。
func (h *AdminHandler) renderAdmin(w http.ResponseWriter, r *http.Request, status int, p *view.Page, extra map[string]any) {
	users, err := h.users.List(r.Context())
	if err != nil {
		slog.Error("failed to list users", slog.String("error", err.Error()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	tree, err := h.units.Tree(r.Context())
	if err != nil {
		slog.Error("failed to load unit tree", slog.String("error", err.Error()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	data := map[string]any{
		"Users":             users,
		"Units":             tree,
		"UnitOptions":       flattenUnits(tree),
		"TemporaryPassword": "",
		"CreatedEmail":      "",
	}
	for k, v := range extra {
		data[k] = v
	}
	p.Data = data
	h.render(w, status, view.PageAdmin, p)
}

// createUserError はユーザー作成失敗のメッセージを翻訳する。
func (h *AdminHandler) createUserError(p *view.Page, email string, err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case model.ErrCodeDuplicateEmail:
			return p.T("An account already exists for %s.", email)
		case model.ErrCodeInvalidInput:
			return p.T("The email address is not valid.")
		}
	}
	return localizedError(p, err)
}

// flattenUnits はユニット階層を深さ優先で平坦化する。
func flattenUnits(nodes []*model.UnitNode) []model.Unit {
	var out []model.Unit
	var walk func([]*model.UnitNode)
	walk = func(ns []*model.UnitNode) {
		for _, n := range ns {
			out = append(out, n.Unit)
			walk(n.Children)
		}
	}
	walk(nodes)
	return out
}

// actorID は操作を行うユーザーのIDを返す。
func actorID(r *http.Request) string {
	id, _ := middleware.UserIDFromContext(r.Context())
	return id
}
