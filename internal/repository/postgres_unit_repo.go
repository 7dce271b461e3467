package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/troophub/internal/model"
)

// PostgresUnitRepo はPostgreSQLを使用したユニットリポジトリ。
type PostgresUnitRepo struct {
	db *sql.DB
}

// NewPostgresUnitRepo はPostgresUnitRepoを生成する。
func NewPostgresUnitRepo(db *sql.DB) *PostgresUnitRepo {
	return &PostgresUnitRepo{db: db}
}

// Create はユニットを作成する。ParentIDが空の場合は最上位ユニットとして作成する。
func (r *PostgresUnitRepo) Create(ctx context.Context, unit *model.Unit) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO units (id, parent_id, name, created_at) VALUES ($1, $2, $3, $4)`,
		unit.ID, nullString(unit.ParentID), unit.Name, unit.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert unit: %w", err)
	}
	return nil
}

// FindByID は指定IDのユニットを取得する。見つからない場合はnilを返す。
func (r *PostgresUnitRepo) FindByID(ctx context.Context, id string) (*model.Unit, error) {
	u := &model.Unit{}
	var parentID sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, parent_id, name, created_at FROM units WHERE id = $1`,
		id,
	).Scan(&u.ID, &parentID, &u.Name, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find unit: %w", err)
	}
	u.ParentID = parentID.String
	return u, nil
}

// ListAll は全ユニットを名前順で返す。
func (r *PostgresUnitRepo) ListAll(ctx context.Context) ([]model.Unit, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, parent_id, name, created_at FROM units ORDER BY name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	defer rows.Close()

	units := []model.Unit{}
	for rows.Next() {
		var u model.Unit
		var parentID sql.NullString
		if err := rows.Scan(&u.ID, &parentID, &u.Name, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		u.ParentID = parentID.String
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate units: %w", err)
	}
	return units, nil
}

// AddLeader はユニットにリーダーを割り当てる。既に割当済みの場合は何もしない。
func (r *PostgresUnitRepo) AddLeader(ctx context.Context, unitID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO unit_leaders (unit_id, user_id) VALUES ($1, $2)
		 ON CONFLICT (unit_id, user_id) DO NOTHING`,
		unitID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to assign leader: %w", err)
	}
	return nil
}

// CreateStudent は隊員を作成する。
func (r *PostgresUnitRepo) CreateStudent(ctx context.Context, s *model.Student) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO students (id, unit_id, parent_user_id, first_name, last_name, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.UnitID, s.ParentUserID, s.FirstName, s.LastName, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert student: %w", err)
	}
	return nil
}

// ListStudentsByParent は保護者に紐づく隊員を返す。
func (r *PostgresUnitRepo) ListStudentsByParent(ctx context.Context, parentUserID string) ([]model.Student, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, unit_id, parent_user_id, first_name, last_name, created_at
		 FROM students WHERE parent_user_id = $1
		 ORDER BY last_name, first_name`,
		parentUserID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	defer rows.Close()

	students := []model.Student{}
	for rows.Next() {
		var s model.Student
		if err := rows.Scan(&s.ID, &s.UnitID, &s.ParentUserID, &s.FirstName, &s.LastName, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan student: %w", err)
		}
		students = append(students, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate students: %w", err)
	}
	return students, nil
}

// ListAudienceUserIDs は指定ユニット配下の保護者とリーダーのユーザーIDを返す。
// 子孫ユニットは再帰CTEで展開する。
func (r *PostgresUnitRepo) ListAudienceUserIDs(ctx context.Context, unitID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`WITH RECURSIVE subtree AS (
			SELECT id FROM units WHERE id = $1
			UNION ALL
			SELECT u.id FROM units u JOIN subtree s ON u.parent_id = s.id
		 )
		 SELECT parent_user_id FROM students WHERE unit_id IN (SELECT id FROM subtree)
		 UNION
		 SELECT user_id FROM unit_leaders WHERE unit_id IN (SELECT id FROM subtree)`,
		unitID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audience: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan audience user: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audience: %w", err)
	}
	return ids, nil
}

// nullString は空文字列をNULLとして扱う。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ UnitRepository = (*PostgresUnitRepo)(nil)
