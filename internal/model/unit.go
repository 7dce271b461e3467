package model

import "time"

// Unit は組織内のユニット（隊・班など）を表す。
// ParentIDが空のユニットは最上位ユニット。
type Unit struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parentId,omitempty"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// UnitNode はユニット階層のツリー表現。
type UnitNode struct {
	Unit
	Children []*UnitNode `json:"children"`
}

// Student はユニットに所属する隊員を表す。
// ParentUserIDは保護者アカウントのユーザーID。
type Student struct {
	ID           string    `json:"id"`
	UnitID       string    `json:"unitId"`
	ParentUserID string    `json:"parentUserId"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Announcement はユニット宛てのお知らせを表す。
// Bodyはサニタイズ済みHTML。
type Announcement struct {
	ID        string    `json:"id"`
	UnitID    string    `json:"unitId"`
	AuthorID  string    `json:"authorId"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}
