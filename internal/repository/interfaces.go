// Package repository はデータ永続化のインターフェースとPostgreSQL実装を定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/troophub/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを取得する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレスが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// List は全ユーザーを作成日時の昇順で返す。
	List(ctx context.Context) ([]*model.User, error)

	// UpdateRole はユーザーのロールを更新する。対象が無い場合はErrNotFoundを返す。
	UpdateRole(ctx context.Context, id string, role model.Role) error

	// UpdatePasswordAndClearForceFlag はパスワードハッシュの更新と
	// パスワード変更強制フラグの解除を同一トランザクションで行う。
	UpdatePasswordAndClearForceFlag(ctx context.Context, id, passwordHash string) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するsessions、students、notificationsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// Extend はセッションの有効期限を延長する。
	Extend(ctx context.Context, id string, expiresAt, updatedAt time.Time) error
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// NotificationRepository はアプリ内通知の永続化インターフェース。
type NotificationRepository interface {
	// Create は通知を1件作成する。
	Create(ctx context.Context, n *model.Notification) error

	// ListRecent はユーザーの通知を作成日時の降順で最大limit件返す。
	ListRecent(ctx context.Context, userID string, limit int) ([]model.Notification, error)

	// ListCreatedAfter はafterより後（等しいものは含まない）に作成された通知を降順で返す。
	ListCreatedAfter(ctx context.Context, userID string, after time.Time) ([]model.Notification, error)

	// CountUnread はユーザーの未読通知数を返す。
	CountUnread(ctx context.Context, userID string) (int, error)

	// MarkRead は未読の通知1件を既読にする。
	// 既読化した場合はtrue、対象が無いか既読済みの場合はfalseを返す。
	MarkRead(ctx context.Context, userID, id string, readAt time.Time) (bool, error)

	// MarkAllRead はユーザーの未読通知をすべて既読にし、更新件数を返す。
	MarkAllRead(ctx context.Context, userID string, readAt time.Time) (int64, error)
}

// UnitRepository はユニット階層・リーダー・隊員の永続化インターフェース。
type UnitRepository interface {
	// Create はユニットを作成する。
	Create(ctx context.Context, unit *model.Unit) error

	// FindByID は指定IDのユニットを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Unit, error)

	// ListAll は全ユニットを名前順で返す。
	ListAll(ctx context.Context) ([]model.Unit, error)

	// AddLeader はユニットにリーダーを割り当てる。既に割当済みの場合は何もしない。
	AddLeader(ctx context.Context, unitID, userID string) error

	// CreateStudent は隊員を作成する。
	CreateStudent(ctx context.Context, student *model.Student) error

	// ListStudentsByParent は保護者に紐づく隊員を返す。
	ListStudentsByParent(ctx context.Context, parentUserID string) ([]model.Student, error)

	// ListAudienceUserIDs は指定ユニット配下（子孫ユニットを含む）の
	// 隊員の保護者とリーダーのユーザーIDを重複なしで返す。
	ListAudienceUserIDs(ctx context.Context, unitID string) ([]string, error)
}

// AnnouncementRepository はお知らせの永続化インターフェース。
type AnnouncementRepository interface {
	// CreateWithFanOut はお知らせと宛先ユーザーごとの通知を同一トランザクションで作成する。
	CreateWithFanOut(ctx context.Context, a *model.Announcement, tmpl *model.Notification, recipientIDs []string) error

	// ListByUnit はユニットのお知らせを新しい順に最大limit件返す。
	ListByUnit(ctx context.Context, unitID string, limit int) ([]model.Announcement, error)

	// FindByID は指定IDのお知らせを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Announcement, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
