package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/troophub/internal/model"
)

// PostgresNotificationRepo はPostgreSQLを使用した通知リポジトリ。
type PostgresNotificationRepo struct {
	db *sql.DB
}

// NewPostgresNotificationRepo はPostgresNotificationRepoを生成する。
func NewPostgresNotificationRepo(db *sql.DB) *PostgresNotificationRepo {
	return &PostgresNotificationRepo{db: db}
}

const notificationColumns = `id, user_id, type, title, message, data, read, read_at, action_url, created_at`

func scanNotifications(rows *sql.Rows) ([]model.Notification, error) {
	defer rows.Close()

	notifications := []model.Notification{}
	for rows.Next() {
		var n model.Notification
		var typ string
		var data []byte
		var readAt sql.NullTime
		if err := rows.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &data, &n.Read, &readAt, &n.ActionURL, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Type = model.NotificationType(typ)
		if len(data) > 0 && string(data) != "{}" {
			n.Data = json.RawMessage(data)
		}
		if readAt.Valid {
			t := readAt.Time
			n.ReadAt = &t
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return notifications, nil
}

// Create は通知を1件作成する。Dataが空の場合は空オブジェクトとして保存する。
func (r *PostgresNotificationRepo) Create(ctx context.Context, n *model.Notification) error {
	data := []byte(n.Data)
	if len(data) == 0 {
		data = []byte("{}")
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, type, title, message, data, read, read_at, action_url, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		n.ID, n.UserID, string(n.Type), n.Title, n.Message, data,
		n.Read, n.ReadAt, n.ActionURL, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// ListRecent はユーザーの通知を作成日時の降順で最大limit件返す。
func (r *PostgresNotificationRepo) ListRecent(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+notificationColumns+`
		 FROM notifications
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent notifications: %w", err)
	}
	return scanNotifications(rows)
}

// ListCreatedAfter はafterより後に作成された通知を作成日時の降順で返す。
func (r *PostgresNotificationRepo) ListCreatedAfter(ctx context.Context, userID string, after time.Time) ([]model.Notification, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+notificationColumns+`
		 FROM notifications
		 WHERE user_id = $1 AND created_at > $2
		 ORDER BY created_at DESC, id DESC`,
		userID, after,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications created after checkpoint: %w", err)
	}
	return scanNotifications(rows)
}

// CountUnread はユーザーの未読通知数を返す。
func (r *PostgresNotificationRepo) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM notifications WHERE user_id = $1 AND read = false`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead は未読の通知1件を既読にする。既読済みの通知は変更しない。
func (r *PostgresNotificationRepo) MarkRead(ctx context.Context, userID, id string, readAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET read = true, read_at = $3
		 WHERE id = $1 AND user_id = $2 AND read = false`,
		id, userID, readAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark notification as read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// MarkAllRead はユーザーの未読通知をすべて既読にし、更新件数を返す。
func (r *PostgresNotificationRepo) MarkAllRead(ctx context.Context, userID string, readAt time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET read = true, read_at = $2
		 WHERE user_id = $1 AND read = false`,
		userID, readAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark all notifications as read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ NotificationRepository = (*PostgresNotificationRepo)(nil)
