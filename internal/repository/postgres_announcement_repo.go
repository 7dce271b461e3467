package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/troophub/internal/ids"
	"github.com/hitoshi/troophub/internal/model"
	"github.com/lib/pq"
)

// PostgresAnnouncementRepo はPostgreSQLを使用したお知らせリポジトリ。
type PostgresAnnouncementRepo struct {
	db *sql.DB
}

// NewPostgresAnnouncementRepo はPostgresAnnouncementRepoを生成する。
func NewPostgresAnnouncementRepo(db *sql.DB) *PostgresAnnouncementRepo {
	return &PostgresAnnouncementRepo{db: db}
}

// CreateWithFanOut はお知らせと、宛先ユーザーごとの通知を同一トランザクションで作成する。
// 通知はtmplの内容を複製し、IDとUserIDのみ宛先ごとに割り当てる。
// 途中で失敗した場合はお知らせも通知も作成されない。
func (r *PostgresAnnouncementRepo) CreateWithFanOut(ctx context.Context, a *model.Announcement, tmpl *model.Notification, recipientIDs []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 1. お知らせを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO announcements (id, unit_id, author_id, title, body, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.UnitID, nullString(a.AuthorID), a.Title, a.Body, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert announcement: %w", err)
	}

	// 2. 宛先ごとの通知を1文で作成
	if len(recipientIDs) > 0 {
		notificationIDs := make([]string, len(recipientIDs))
		for i := range recipientIDs {
			notificationIDs[i] = ids.NewAt(tmpl.CreatedAt)
		}
		data := []byte(tmpl.Data)
		if len(data) == 0 {
			data = []byte("{}")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO notifications (id, user_id, type, title, message, data, action_url, created_at)
			 SELECT unnest($1::text[]), unnest($2::uuid[]), $3, $4, $5, $6, $7, $8`,
			pq.Array(notificationIDs), pq.Array(recipientIDs),
			string(tmpl.Type), tmpl.Title, tmpl.Message, data, tmpl.ActionURL, tmpl.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to fan out notifications: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListByUnit はユニットのお知らせを新しい順に最大limit件返す。
func (r *PostgresAnnouncementRepo) ListByUnit(ctx context.Context, unitID string, limit int) ([]model.Announcement, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, unit_id, author_id, title, body, created_at
		 FROM announcements WHERE unit_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		unitID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list announcements: %w", err)
	}
	defer rows.Close()

	announcements := []model.Announcement{}
	for rows.Next() {
		var a model.Announcement
		var authorID sql.NullString
		if err := rows.Scan(&a.ID, &a.UnitID, &authorID, &a.Title, &a.Body, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan announcement: %w", err)
		}
		a.AuthorID = authorID.String
		announcements = append(announcements, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate announcements: %w", err)
	}
	return announcements, nil
}

// FindByID は指定IDのお知らせを取得する。見つからない場合はnilを返す。
func (r *PostgresAnnouncementRepo) FindByID(ctx context.Context, id string) (*model.Announcement, error) {
	a := &model.Announcement{}
	var authorID sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, unit_id, author_id, title, body, created_at
		 FROM announcements WHERE id = $1`,
		id,
	).Scan(&a.ID, &a.UnitID, &authorID, &a.Title, &a.Body, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find announcement: %w", err)
	}
	a.AuthorID = authorID.String
	return a, nil
}

// compile-time interface check
var _ AnnouncementRepository = (*PostgresAnnouncementRepo)(nil)
