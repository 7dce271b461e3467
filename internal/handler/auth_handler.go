package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/troophub/internal/auth"
	"github.com/hitoshi/troophub/internal/metrics"
	"github.com/hitoshi/troophub/internal/middleware"
	"github.com/hitoshi/troophub/internal/model"
	"github.com/hitoshi/troophub/internal/view"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, email, password string) (*auth.LoginResult, error)
	Logout(ctx context.Context, token string) error
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error
}

// AuthHandler はログイン・ログアウト・パスワード変更のHTTPハンドラー。
type AuthHandler struct {
	pageBase
	service AuthServiceInterface
	cookie  middleware.SessionCookieConfig
	metrics metrics.AuthMetrics
}

// NewAuthHandler はAuthHandlerを生成する。
// amがnilの場合はメトリクスを記録しない。
func NewAuthHandler(service AuthServiceInterface, cookie middleware.SessionCookieConfig, pages PageDeps, am metrics.AuthMetrics) *AuthHandler {
	return &AuthHandler{
		pageBase: pages.base(),
		service:  service,
		cookie:   cookie,
		metrics:  am,
	}
}

// changePasswordRequest はパスワード変更APIのリクエストボディ。
type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// LoginPage はログインフォームを表示する。
// GET /{locale}/login
// ログイン済みの場合はロールのポータルへリダイレクトする。
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	locale := middleware.LocaleFromContext(r.Context())
	callbackURL := safeCallbackURL(r.URL.Query().Get("callbackUrl"))

	if user := currentUser(r); user != nil {
		redirect(w, r, h.afterLogin(locale, user, callbackURL))
		return
	}

	p := h.page(r, "Sign in")
	p.Data = map[string]any{"CallbackURL": callbackURL, "Email": ""}
	h.render(w, http.StatusOK, view.PageLogin, p)
}

// Login はログインフォームの送信を処理する。
// POST /{locale}/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	locale := middleware.LocaleFromContext(r.Context())
	email := strings.TrimSpace(r.PostFormValue("email"))
	password := r.PostFormValue("password")
	callbackURL := safeCallbackURL(r.PostFormValue("callbackUrl"))

	result, err := h.service.Login(r.Context(), email, password)
	if err != nil {
		h.recordLogin("failure")
		p := h.page(r, "Sign in")
		p.Error = localizedError(p, err)
		p.Data = map[string]any{"CallbackURL": callbackURL, "Email": email}
		h.render(w, pageErrorStatus(err), view.PageLogin, p)
		return
	}

	h.recordLogin("success")
	middleware.SetSessionCookie(w, h.cookie, result.Token)
	redirect(w, r, h.afterLogin(locale, result.Session.User, callbackURL))
}

// LoginLimited はログイン試行のレート制限超過時にログインフォームを429で再表示する。
func (h *AuthHandler) LoginLimited(w http.ResponseWriter, r *http.Request) {
	h.recordLogin("rate_limited")
	p := h.page(r, "Sign in")
	p.Error = p.T("Too many attempts. Please try again later.")
	p.Data = map[string]any{
		"CallbackURL": safeCallbackURL(r.PostFormValue("callbackUrl")),
		"Email":       strings.TrimSpace(r.PostFormValue("email")),
	}
	h.render(w, http.StatusTooManyRequests, view.PageLogin, p)
}

// Logout はセッションを破棄してトップページへリダイレクトする。
// POST /{locale}/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(h.cookie.Name); err == nil && cookie.Value != "" {
		if err := h.service.Logout(r.Context(), cookie.Value); err != nil {
			slog.Error("failed to logout", slog.String("error", err.Error()))
		}
	}

	middleware.ClearSessionCookie(w, h.cookie)
	redirect(w, r, middleware.HomePath(middleware.LocaleFromContext(r.Context())))
}

// ChangePasswordPage はパスワード変更フォームを表示する。
// GET /{locale}/change-password
func (h *AuthHandler) ChangePasswordPage(w http.ResponseWriter, r *http.Request) {
	p := h.page(r, "Change password")
	p.Data = map[string]any{"Forced": p.User != nil && p.User.ForcePasswordChange}
	h.render(w, http.StatusOK, view.PageChangePassword, p)
}

// ChangePasswordForm はパスワード変更フォームの送信を処理する。
// POST /{locale}/change-password
// 検証エラーはフォーム上に表示する。
func (h *AuthHandler) ChangePasswordForm(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if user == nil {
		locale := middleware.LocaleFromContext(r.Context())
		redirect(w, r, middleware.LoginPath(locale, middleware.ChangePasswordPath(locale)))
		return
	}

	err := h.service.ChangePassword(r.Context(),
		user.ID, r.PostFormValue("currentPassword"), r.PostFormValue("newPassword"))

	p := h.page(r, "Change password")
	if err != nil {
		h.recordPasswordChange("failure")
		p.Error = localizedError(p, err)
		p.Data = map[string]any{"Forced": user.ForcePasswordChange}
		h.render(w, pageErrorStatus(err), view.PageChangePassword, p)
		return
	}

	h.recordPasswordChange("success")
	p.Success = p.T("Your password has been changed.")
	p.Data = map[string]any{"Forced": false}
	h.render(w, http.StatusOK, view.PageChangePassword, p)
}

// ChangePassword はパスワード変更APIを処理する。
// POST /api/auth/change-password
// 未認証の場合は401、入力不備または更新失敗の場合は400、成功時は{success:true}を返す。
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if user == nil {
		middleware.WriteUnauthorized(w)
		return
	}

	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword); err != nil {
		h.recordPasswordChange("failure")
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) {
			slog.Error("failed to change password",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
			apiErr = &model.APIError{
				Code:     "PASSWORD_UPDATE_FAILED",
				Message:  "The password could not be updated.",
				Category: "system",
				Action:   "Try again in a moment.",
			}
		}
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	h.recordPasswordChange("success")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Me は現在のユーザー情報を返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if user == nil {
		middleware.WriteUnauthorized(w)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// afterLogin はログイン後の遷移先を返す。
// パスワード変更が強制されている場合も遷移先はそのままとし、ゲートに委ねる。
func (h *AuthHandler) afterLogin(locale string, user *model.User, callbackURL string) string {
	if callbackURL != "" {
		return callbackURL
	}
	if user == nil {
		return middleware.HomePath(locale)
	}
	return portalPath(locale, user.Role)
}

func (h *AuthHandler) recordLogin(result string) {
	if h.metrics != nil {
		h.metrics.RecordLogin(result)
	}
}

func (h *AuthHandler) recordPasswordChange(result string) {
	if h.metrics != nil {
		h.metrics.RecordPasswordChange(result)
	}
}

// pageErrorStatus はページのエラー再表示に使うHTTPステータスを返す。
func pageErrorStatus(err error) int {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return mapAPIErrorToHTTPStatus(apiErr)
	}
	return http.StatusInternalServerError
}
