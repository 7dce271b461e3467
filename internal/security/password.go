package security

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// Hasher はbcryptによるパスワードのハッシュ化と照合を行う。
// 平文パスワードをログ出力・永続化してはならない。
type Hasher struct {
	Cost int
}

// NewHasher は指定コストのHasherを生成する。範囲外のコストは境界値に丸める。
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{Cost: cost}
}

// Hash はパスワードのbcryptハッシュを返す。
func (h *Hasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare はパスワードが保存済みハッシュと一致するかを定数時間で照合する。
// 一致しない場合はbcrypt.ErrMismatchedHashAndPasswordを返す。
func (h *Hasher) Compare(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// temporaryPasswordAlphabet は紛らわしい文字（0/O, 1/l/I）を除いた文字集合。
const temporaryPasswordAlphabet = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// TemporaryPasswordLength は仮パスワードの文字数。
const TemporaryPasswordLength = 14

// GenerateTemporaryPassword は管理者がユーザー作成時に発行する仮パスワードを生成する。
// 仮パスワードでログインしたユーザーは初回にパスワード変更を求められる。
func GenerateTemporaryPassword() (string, error) {
	limit := big.NewInt(int64(len(temporaryPasswordAlphabet)))
	b := make([]byte, TemporaryPasswordLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate temporary password: %w", err)
		}
		b[i] = temporaryPasswordAlphabet[n.Int64()]
	}
	return string(b), nil
}
