package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionCookieName はセッションCookieの名前。
const SessionCookieName = "session_token"

const cookieIssuer = "troophub"

// ErrInvalidSessionToken はセッションCookieの検証失敗を表す。
var ErrInvalidSessionToken = errors.New("invalid session token")

// sessionClaims はセッションCookieに格納するJWTクレーム。
// セッションIDのみを保持し、ロール等の権限情報は含めない。
type sessionClaims struct {
	jwt.RegisteredClaims
}

// CookieSigner はセッションIDをHS256署名付きJWTとしてCookie値に変換する。
// サーバー側のsessionsテーブルが正であり、JWTは改ざん検知のための封筒として扱う。
type CookieSigner struct {
	secret []byte
	now    func() time.Time
}

// NewCookieSigner はCookieSignerを生成する。
func NewCookieSigner(secret string) *CookieSigner {
	return &CookieSigner{secret: []byte(secret), now: time.Now}
}

// Sign はセッションIDと有効期限からCookie値を生成する。
func (c *CookieSigner) Sign(sessionID string, expiresAt time.Time) (string, error) {
	if sessionID == "" {
		return "", errors.New("session ID is required")
	}
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cookieIssuer,
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(c.now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Verify はCookie値の署名・発行者・有効期限を検証し、セッションIDを返す。
// 検証に失敗した場合はErrInvalidSessionTokenを返す。
func (c *CookieSigner) Verify(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidSessionToken
	}
	parsed, err := jwt.ParseWithClaims(token, &sessionClaims{}, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cookieIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return "", ErrInvalidSessionToken
	}
	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidSessionToken
	}
	return claims.Subject, nil
}
