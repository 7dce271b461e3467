// Package ids は時系列にソート可能な識別子を生成する。
package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New は作成順にソート可能なULID文字列を返す。
// 同一ミリ秒内でも単調増加する。
func New() string {
	return NewAt(time.Now())
}

// NewAt は指定時刻をタイムスタンプ部に持つULID文字列を返す。
func NewAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
