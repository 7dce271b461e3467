package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/troophub/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, email, name, role, password_hash, force_password_change, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(s rowScanner) (*model.User, error) {
	u := &model.User{}
	var role string
	if err := s.Scan(&u.ID, &u.Email, &u.Name, &role, &u.PasswordHash, &u.ForcePasswordChange, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Role = model.Role(role)
	return u, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`,
		email,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, role, password_hash, force_password_change, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Email, user.Name, string(user.Role), user.PasswordHash,
		user.ForcePasswordChange, user.CreatedAt, user.UpdatedAt,
	)
	if uniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// List は全ユーザーを作成日時の昇順で返す。
func (r *PostgresUserRepo) List(ctx context.Context) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// UpdateRole はユーザーのロールを更新する。
func (r *PostgresUserRepo) UpdateRole(ctx context.Context, id string, role model.Role) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET role = $2, updated_at = now() WHERE id = $1`,
		id, string(role),
	)
	if err != nil {
		return fmt.Errorf("failed to update user role: %w", err)
	}
	return requireAffected(result)
}

// UpdatePasswordAndClearForceFlag はパスワードハッシュの更新と強制変更フラグの解除を
// 同一トランザクションで行う。どちらかが失敗した場合はロールバックされ、
// フラグは立ったまま残る。
func (r *PostgresUserRepo) UpdatePasswordAndClearForceFlag(ctx context.Context, id, passwordHash string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 1. パスワードハッシュを更新
	result, err := tx.ExecContext(ctx,
		`UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`,
		id, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return err
	}

	// 2. 強制変更フラグを解除
	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET force_password_change = false WHERE id = $1`,
		id,
	); err != nil {
		return fmt.Errorf("failed to clear force password change flag: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのユーザーを削除する。
// 関連するsessions、students、notificationsはCASCADE削除される。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return requireAffected(result)
}

// requireAffected は更新件数が0の場合にErrNotFoundを返す。
func requireAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
