// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの権限ロールを表す。
// ロールは管理者のユーザー管理APIからのみ変更できる。
type Role string

const (
	// RoleAdmin は組織全体の管理者。
	RoleAdmin Role = "ADMIN"
	// RoleLeader はユニットを担当する青少年リーダー。
	RoleLeader Role = "LEADER"
	// RoleParent は隊員の保護者。
	RoleParent Role = "PARENT"
)

// Valid はロールが定義済みの値かどうかを返す。
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleLeader, RoleParent:
		return true
	}
	return false
}

// User は認証済みの利用者（アイデンティティ）を表す。
type User struct {
	ID                  string
	Email               string
	Name                string
	Role                Role
	PasswordHash        string
	ForcePasswordChange bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Session はユーザーのログインセッションを表す。
// Userはセッション解決時に結合されたアイデンティティで、未解決の場合はnil。
type Session struct {
	ID        string
	UserID    string
	User      *User
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IssuedAt はセッションの発行日時を返す。
func (s *Session) IssuedAt() time.Time {
	return s.CreatedAt
}

// HasRole はセッションのユーザーが指定ロールのいずれかを持つかを返す。
func (s *Session) HasRole(roles ...Role) bool {
	if s == nil || s.User == nil {
		return false
	}
	for _, r := range roles {
		if s.User.Role == r {
			return true
		}
	}
	return false
}
