package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/troophub/internal/i18n"
	"github.com/hitoshi/troophub/internal/metrics"
	"github.com/hitoshi/troophub/internal/middleware"
	"github.com/hitoshi/troophub/internal/model"
	"github.com/hitoshi/troophub/internal/view"
)

// healthCheckTimeout はヘルスチェックでのDB疎通確認のタイムアウト。
const healthCheckTimeout = 2 * time.Second

// HealthChecker はヘルスチェック用のDB疎通確認インターフェース。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionResolver   middleware.SessionResolver
	SessionCookie     middleware.SessionCookieConfig
	CSRF              middleware.CSRFConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 運用
	HealthChecker   HealthChecker
	Metrics         *metrics.Collector
	MetricsGatherer prometheus.Gatherer

	// 画面
	Renderer *view.Renderer
	Locales  *i18n.Locales

	// サービス
	AuthService         AuthServiceInterface
	NotificationService NotificationServiceInterface
	FeedProducer        FeedProducer
	UserService         UserServiceInterface
	UnitService         UnitServiceInterface
	AnnouncementService AnnouncementServiceInterface
}

var allRoles = []model.Role{model.RoleAdmin, model.RoleLeader, model.RoleParent}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// 全ルート共通のミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Recovery → SecurityHeaders → CORS → Metrics → Session → Logging
//
// ページ（/{locale}/...）: Locale → CSRF → RequireRole → RequirePasswordChange
// API（/api/...）: RateLimit(General) → RequireAPISession/RequireAPIRole → CSRF
//
// 通知ストリームはセッションがない場合にJSONではなく素の401を返すため、
// API認証ミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.Metrics != nil {
		r.Use(metrics.NewHTTPMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewSessionMiddleware(deps.SessionResolver, deps.SessionCookie))
	r.Use(middleware.NewLoggingMiddleware(logger))

	pages := PageDeps{
		Renderer:      deps.Renderer,
		Locales:       deps.Locales,
		Notifications: deps.NotificationService,
	}

	var authMetrics metrics.AuthMetrics
	if deps.Metrics != nil {
		authMetrics = deps.Metrics
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.SessionCookie, pages, authMetrics)
	notificationHandler := NewNotificationHandler(deps.NotificationService, deps.FeedProducer)
	adminHandler := NewAdminHandler(deps.UserService, deps.UnitService, pages)
	portalHandler := NewPortalHandler(deps.UnitService, deps.AnnouncementService, pages)

	// --- 運用・静的ファイル ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}
	r.Handle("/static/*", http.StripPrefix("/static/", view.StaticHandler()))
	r.Get("/", portalHandler.Root)

	// --- API ---
	r.Route("/api", func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF).ServeHTTP)
		r.Get("/notifications/stream", notificationHandler.Stream)

		// 認証後にCSRFを検証し、未認証のリクエストには403ではなく401を返す
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAPISession())
			r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

			r.Get("/auth/me", authHandler.Me)
			r.Post("/auth/change-password", authHandler.ChangePassword)

			r.Get("/notifications", notificationHandler.List)
			r.Post("/notifications/read-all", notificationHandler.MarkAllRead)
			r.Post("/notifications/{id}/read", notificationHandler.MarkRead)

			r.Get("/units", adminHandler.UnitTree)
			r.Get("/announcements/{id}", portalHandler.GetAnnouncement)
			r.With(middleware.RequireAPIRole(model.RoleParent)).Get("/me/students", adminHandler.MyStudents)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAPIRole(model.RoleLeader, model.RoleAdmin))
				r.Post("/announcements", portalHandler.PostAnnouncement)
				r.Get("/units/{id}/announcements", portalHandler.ListAnnouncements)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireAPIRole(model.RoleAdmin))

				r.Get("/users", adminHandler.ListUsers)
				r.Post("/users", adminHandler.CreateUser)
				r.Put("/users/{id}/role", adminHandler.ChangeRole)
				r.Delete("/users/{id}", adminHandler.DeleteUser)

				r.Post("/units", adminHandler.CreateUnit)
				r.Post("/units/{id}/leaders", adminHandler.AssignLeader)
				r.Post("/students", adminHandler.AddStudent)
			})
		})
	})

	// --- ページ ---
	r.Route("/{locale}", func(r chi.Router) {
		r.Use(middleware.NewLocaleMiddleware(deps.Locales))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Get("/", portalHandler.Home)
		r.Get("/login", authHandler.LoginPage)
		r.With(deps.RateLimiter.LoginMiddleware(authHandler.LoginLimited)).Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)

		// パスワード変更画面自体にはパスワード変更ゲートを適用しない
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(allRoles...))
			r.Get("/change-password", authHandler.ChangePasswordPage)
			r.Post("/change-password", authHandler.ChangePasswordForm)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(model.RoleAdmin))
			r.Use(middleware.RequirePasswordChange())
			r.Get("/admin", adminHandler.Page)
			r.Post("/admin/users", adminHandler.CreateUserForm)
			r.Post("/admin/units", adminHandler.CreateUnitForm)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(model.RoleLeader, model.RoleAdmin))
			r.Use(middleware.RequirePasswordChange())
			r.Get("/leader", portalHandler.LeaderPage)
			r.Post("/leader/announcements", portalHandler.PostAnnouncementForm)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(model.RoleParent))
			r.Use(middleware.RequirePasswordChange())
			r.Get("/parent", portalHandler.ParentPage)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(allRoles...))
			r.Use(middleware.RequirePasswordChange())
			r.Get("/announcements/{id}", portalHandler.AnnouncementPage)
		})
	})

	return r
}

// healthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
