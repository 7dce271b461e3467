package repository

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrNotFound は更新・削除対象の行が存在しないことを表す。
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate は一意制約違反を表す。
	ErrDuplicate = errors.New("duplicate record")
)

// uniqueViolation はPostgreSQLの一意制約違反（SQLSTATE 23505）かどうかを返す。
func uniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
