package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/troophub/internal/announcement"
	"github.com/hitoshi/troophub/internal/middleware"
	"github.com/hitoshi/troophub/internal/model"
	"github.com/hitoshi/troophub/internal/view"
)

// AnnouncementServiceInterface はお知らせハンドラーが必要とするサービスインターフェース。
type AnnouncementServiceInterface interface {
	Post(ctx context.Context, author *model.User, in announcement.PostInput) (*model.Announcement, error)
	Get(ctx context.Context, viewer *model.User, id string) (*model.Announcement, *model.Unit, error)
	List(ctx context.Context, unitID string, limit int) ([]model.Announcement, error)
}

// PortalHandler はトップページ、リーダー・保護者ポータル、お知らせのHTTPハンドラー。
type PortalHandler struct {
	pageBase
	units         UnitServiceInterface
	announcements AnnouncementServiceInterface
}

// NewPortalHandler はPortalHandlerを生成する。
func NewPortalHandler(units UnitServiceInterface, announcements AnnouncementServiceInterface, pages PageDeps) *PortalHandler {
	return &PortalHandler{
		pageBase:      pages.base(),
		units:         units,
		announcements: announcements,
	}
}

// Root はAccept-Languageからロケールを決定し、ロケールのトップページへリダイレクトする。
// GET /
func (h *PortalHandler) Root(w http.ResponseWriter, r *http.Request) {
	locale := h.locales.Negotiate(r.Header.Get("Accept-Language"))
	http.Redirect(w, r, middleware.HomePath(locale), http.StatusFound)
}

// Home はログイン済みならロールのポータルへ、未ログインならランディングページを表示する。
// GET /{locale}
func (h *PortalHandler) Home(w http.ResponseWriter, r *http.Request) {
	if u := currentUser(r); u != nil {
		http.Redirect(w, r, portalPath(middleware.LocaleFromContext(r.Context()), u.Role), http.StatusSeeOther)
		return
	}

	h.render(w, http.StatusOK, view.PageLanding, h.page(r, ""))
}

// LeaderPage はリーダーポータルを表示する。
// GET /{locale}/leader
func (h *PortalHandler) LeaderPage(w http.ResponseWriter, r *http.Request) {
	h.renderLeader(w, r, http.StatusOK, h.portalPage(r, "Leader portal"))
}

// PostAnnouncementForm はお知らせ投稿フォームの送信を処理する。
// POST /{locale}/leader/announcements
func (h *PortalHandler) PostAnnouncementForm(w http.ResponseWriter, r *http.Request) {
	in := announcement.PostInput{
		UnitID: r.PostFormValue("unitId"),
		Title:  r.PostFormValue("title"),
		Body:   r.PostFormValue("body"),
	}

	_, err := h.announcements.Post(r.Context(), currentUser(r), in)
	p := h.portalPage(r, "Leader portal")
	if err != nil {
		p.Error = localizedError(p, err)
		h.renderLeader(w, r, pageErrorStatus(err), p)
		return
	}

	p.Success = p.T("Announcement posted.")
	h.renderLeader(w, r, http.StatusOK, p)
}

// ParentPage は保護者ポータルを表示する。
// GET /{locale}/parent
func (h *PortalHandler) ParentPage(w http.ResponseWriter, r *http.Request) {
	p := h.portalPage(r, "Parent portal")

	students, err := h.units.StudentsForParent(r.Context(), p.User.ID)
	if err != nil {
		p.Error = localizedError(p, err)
	}
	p.Data = map[string]any{"Students": students}
	h.render(w, http.StatusOK, view.PageParent, p)
}

// AnnouncementPage はお知らせの詳細を表示する。
// 閲覧権限がない場合は存在しない場合と同じく404を返す。
// GET /{locale}/announcements/{id}
func (h *PortalHandler) AnnouncementPage(w http.ResponseWriter, r *http.Request) {
	a, u, err := h.announcements.Get(r.Context(), currentUser(r), chi.URLParam(r, "id"))
	if err != nil {
		p := h.page(r, "")
		p.Error = localizedError(p, err)
		p.Data = map[string]any{"Announcement": nil, "UnitName": ""}
		h.render(w, pageErrorStatus(err), view.PageAnnouncement, p)
		return
	}
	if a == nil {
		http.NotFound(w, r)
		return
	}

	p := h.page(r, "")
	unitName := ""
	if u != nil {
		unitName = u.Name
	}
	p.Data = map[string]any{"Announcement": a, "UnitName": unitName}
	h.render(w, http.StatusOK, view.PageAnnouncement, p)
}

// renderLeader はユニット階層を読み込んでリーダーポータルを描画する。
func (h *PortalHandler) renderLeader(w http.ResponseWriter, r *http.Request, status int, p *view.Page) {
	tree, err := h.units.Tree(r.Context())
	if err != nil {
		p.Error = localizedError(p, err)
		status = http.StatusInternalServerError
	}
	p.Data = map[string]any{
		"Units":       tree,
		"UnitOptions": flattenUnits(tree),
	}
	h.render(w, status, view.PageLeader, p)
}

// --- API ---

// PostAnnouncement はお知らせを投稿し、対象ユーザーに通知する。
// POST /api/announcements
func (h *PortalHandler) PostAnnouncement(w http.ResponseWriter, r *http.Request) {
	var req announcement.PostInput
	if !decodeJSON(w, r, &req) {
		return
	}

	a, err := h.announcements.Post(r.Context(), currentUser(r), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, a)
}

// GetAnnouncement はお知らせを返す。閲覧権限がない場合は404を返す。
// GET /api/announcements/{id}
func (h *PortalHandler) GetAnnouncement(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, _, err := h.announcements.Get(r.Context(), currentUser(r), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if a == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "ANNOUNCEMENT_NOT_FOUND",
			Message:  "Announcement not found: " + id,
			Category: "organization",
			Action:   "Check the announcement identifier.",
		})
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// ListAnnouncements はユニットのお知らせを新しい順に返す。
// GET /api/units/{id}/announcements?limit=N
func (h *PortalHandler) ListAnnouncements(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			handleServiceError(w, model.NewInvalidInputError("limit must be a number"))
			return
		}
		limit = n
	}

	list, err := h.announcements.List(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if list == nil {
		list = []model.Announcement{}
	}

	writeJSON(w, http.StatusOK, list)
}
