// Package cleanup は期限切れデータの定期削除ジョブを提供する。
// 期限切れのセッションと、保持期間（デフォルト90日）を超過した既読通知を
// 日次バッチで削除する。未読の通知は保持期間を過ぎても削除しない。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetentionDays は既読通知の既定の保持日数。
const DefaultRetentionDays = 90

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Recorder は削除件数を記録するインターフェース。metrics.Collectorが実装する。
type Recorder interface {
	RecordCleanup(kind string, count int64)
}

// 削除対象の種別。メトリクスのラベルとログに使用する。
const (
	KindSessions      = "sessions"
	KindNotifications = "notifications"
)

const (
	deleteExpiredSessionsQuery   = `DELETE FROM sessions WHERE expires_at < now()`
	deleteReadNotificationsQuery = `DELETE FROM notifications
		WHERE read = true AND created_at < now() - $1::interval`
)

// CleanupJob は期限切れセッションと古い既読通知の削除ジョブ。
// 冪等で、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	db            Executor
	logger        *slog.Logger
	recorder      Recorder
	RetentionDays int // 既読通知の保持日数（デフォルト: 90）
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
func NewCleanupJob(db Executor, logger *slog.Logger, recorder Recorder) *CleanupJob {
	return &CleanupJob{
		db:            db,
		logger:        logger,
		recorder:      recorder,
		RetentionDays: DefaultRetentionDays,
	}
}

// Run は期限切れセッションと保持期間を超過した既読通知を削除する。
//
// 1. expires_atが現在時刻より前のセッションを削除する
// 2. 既読かつcreated_atがRetentionDays日前より古い通知を削除する
//
// セッションの削除に失敗した場合も通知の削除は試み、最初のエラーを返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	var firstErr error
	sessions, err := j.delete(ctx, KindSessions, deleteExpiredSessionsQuery)
	if err != nil {
		firstErr = err
	}

	interval := fmt.Sprintf("%d days", j.RetentionDays)
	notifications, err := j.delete(ctx, KindNotifications, deleteReadNotificationsQuery, interval)
	if err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return firstErr
	}

	j.logger.Info("cleanup job completed",
		slog.Int64("deleted_sessions", sessions),
		slog.Int64("deleted_notifications", notifications),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// RunEvery は起動直後に1回実行したのち、ctxがキャンセルされるまでinterval間隔でRunを繰り返す。
// 各回の失敗はログに記録して次の回を待つ。
func (j *CleanupJob) RunEvery(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (j *CleanupJob) delete(ctx context.Context, kind, query string, args ...any) (int64, error) {
	result, err := j.db.ExecContext(ctx, query, args...)
	if err != nil {
		j.logger.Error("failed to run cleanup",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("failed to delete %s: %w", kind, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted %s count: %w", kind, err)
	}

	if j.recorder != nil {
		j.recorder.RecordCleanup(kind, deleted)
	}
	return deleted, nil
}
