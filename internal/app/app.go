package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/troophub/internal/announcement"
	"github.com/hitoshi/troophub/internal/auth"
	"github.com/hitoshi/troophub/internal/config"
	"github.com/hitoshi/troophub/internal/database"
	"github.com/hitoshi/troophub/internal/handler"
	"github.com/hitoshi/troophub/internal/i18n"
	"github.com/hitoshi/troophub/internal/logger"
	"github.com/hitoshi/troophub/internal/metrics"
	"github.com/hitoshi/troophub/internal/middleware"
	"github.com/hitoshi/troophub/internal/notification"
	"github.com/hitoshi/troophub/internal/repository"
	"github.com/hitoshi/troophub/internal/security"
	"github.com/hitoshi/troophub/internal/unit"
	"github.com/hitoshi/troophub/internal/user"
	"github.com/hitoshi/troophub/internal/view"
	"github.com/hitoshi/troophub/internal/worker/cleanup"
)

// SessionCookieName はセッションCookieの名前。
const SessionCookieName = "troophub_session"

// cleanupInterval はワーカーのクリーンアップジョブの実行間隔。
const cleanupInterval = 24 * time.Hour

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定のログレベルを反映する
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandCreateAdmin:
		return runCreateAdmin(cfg)
	default:
		return runServe(cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// services はserveモードで使うサービス群。
type services struct {
	auth          *auth.Service
	users         *user.Service
	units         *unit.Service
	announcements *announcement.Service
	notifications *notification.Service
	producer      *notification.Producer
}

// newServices はリポジトリとドメインサービスをワイヤリングする。
func newServices(cfg *config.Config, db *sql.DB, collector *metrics.Collector) *services {
	// 1. リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	unitRepo := repository.NewPostgresUnitRepo(db)
	announcementRepo := repository.NewPostgresAnnouncementRepo(db)
	notificationRepo := repository.NewPostgresNotificationRepo(db)

	// 2. セキュリティ
	hasher := security.NewHasher(cfg.BcryptCost)
	sanitizer := security.NewContentSanitizer()

	// 3. ドメインサービス
	notificationService := notification.NewService(notificationRepo, sanitizer, collector)

	return &services{
		auth: auth.NewService(userRepo, sessionRepo, hasher, auth.NewCookieSigner(cfg.SessionSecret), auth.ServiceConfig{
			SessionMaxAge:    cfg.SessionMaxAgeDuration(),
			SessionUpdateAge: cfg.SessionUpdateAgeDuration(),
		}),
		users:         user.NewService(userRepo, sessionRepo, hasher, notificationService, security.GenerateTemporaryPassword),
		units:         unit.NewService(unitRepo, userRepo),
		announcements: announcement.NewService(announcementRepo, unitRepo, notificationService, sanitizer, collector),
		notifications: notificationService,
		producer: notification.NewProducer(notificationRepo, collector, notification.ProducerConfig{
			PollInterval: cfg.NotificationPollInterval,
		}),
	}
}

// newRouterDeps はルーターの依存関係を組み立てる。
func newRouterDeps(cfg *config.Config, db handler.HealthChecker, svc *services, reg *prometheus.Registry, collector *metrics.Collector) (*handler.RouterDeps, error) {
	renderer, err := view.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	locales, err := i18n.New(cfg.Locales())
	if err != nil {
		return nil, fmt.Errorf("failed to load locales: %w", err)
	}

	return &handler.RouterDeps{
		SessionResolver: svc.auth,
		SessionCookie: middleware.SessionCookieConfig{
			Name:         SessionCookieName,
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
			MaxAge:       cfg.SessionMaxAgeDuration(),
		},
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitLogin)),
		Logger:            slog.Default(),

		HealthChecker:   db,
		Metrics:         collector,
		MetricsGatherer: reg,

		Renderer: renderer,
		Locales:  locales,

		AuthService:         svc.auth,
		NotificationService: svc.notifications,
		FeedProducer:        svc.producer,
		UserService:         svc.users,
		UnitService:         svc.units,
		AnnouncementService: svc.announcements,
	}, nil
}

// newRegistry はアプリケーションとランタイムのメトリクスを登録したレジストリを返す。
func newRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// runServe はWebサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. メトリクスとサービスの初期化
	reg, collector := newRegistry()
	svc := newServices(cfg, db, collector)

	// 3. ルーターの構築
	deps, err := newRouterDeps(cfg, db, svc, reg, collector)
	if err != nil {
		return err
	}
	defer deps.RateLimiter.Stop()

	// 4. HTTPサーバーの起動
	// 通知ストリームはハンドラー側で書き込み期限を解除し、
	// シャットダウン時はベースコンテキストのキャンセルで終了させる
	baseCtx, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           handler.NewRouter(deps),
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("web server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down web server...")
	cancelStreams()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("web server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れセッションと古い既読通知のクリーンアップを日次で実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	_, collector := newRegistry()
	job := cleanup.NewCleanupJob(db, slog.Default(), collector)
	job.RetentionDays = cfg.NotificationRetentionDays

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cleanupInterval),
		slog.Int("notification_retention_days", job.RetentionDays),
	)

	job.RunEvery(ctx, cleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runCreateAdmin はADMIN_EMAIL・ADMIN_PASSWORD・ADMIN_NAMEから初期管理者を作成する。
func runCreateAdmin(cfg *config.Config) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return errors.New("ADMIN_EMAIL and ADMIN_PASSWORD are required for create-admin")
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	users := user.NewService(
		repository.NewPostgresUserRepo(db),
		repository.NewPostgresSessionRepo(db),
		security.NewHasher(cfg.BcryptCost),
		nil,
		security.GenerateTemporaryPassword,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	admin, err := users.CreateAdmin(ctx, cfg.AdminEmail, cfg.AdminName, cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("failed to create admin: %w", err)
	}

	slog.Info("administrator created",
		slog.String("user_id", admin.ID),
		slog.String("email", admin.Email),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
