// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, notification, organization, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	ErrCodeWeakPassword         = "WEAK_PASSWORD"
	ErrCodeMissingField         = "MISSING_FIELD"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeDuplicateEmail       = "DUPLICATE_EMAIL"
	ErrCodeInvalidRole          = "INVALID_ROLE"
	ErrCodeNotificationNotFound = "NOTIFICATION_NOT_FOUND"
	ErrCodeUnitNotFound         = "UNIT_NOT_FOUND"
	ErrCodeInvalidInput         = "INVALID_INPUT"
	ErrCodeForbidden            = "FORBIDDEN"
)

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 8

// NewInvalidCredentialsError は認証情報不一致エラーを生成する。
// ログイン失敗時はメールアドレスの存在有無を区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "The email or password is incorrect.",
		Category: "auth",
		Action:   "Check your credentials and try again.",
	}
}

// NewCurrentPasswordMismatchError は現在のパスワード不一致エラーを生成する。
func NewCurrentPasswordMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "The current password is incorrect.",
		Category: "validation",
		Action:   "Enter the password you used to sign in.",
	}
}

// NewWeakPasswordError はパスワード長不足エラーを生成する。
func NewWeakPasswordError() *APIError {
	return &APIError{
		Code:     ErrCodeWeakPassword,
		Message:  fmt.Sprintf("The new password must be at least %d characters.", MinPasswordLength),
		Category: "validation",
		Action:   "Choose a longer password.",
	}
}

// NewMissingFieldError は必須項目欠落エラーを生成する。
func NewMissingFieldError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingField,
		Message:  fmt.Sprintf("%s is required.", field),
		Category: "validation",
		Action:   "Fill in every required field.",
	}
}

// NewInvalidInputError は入力値不正エラーを生成する。
func NewInvalidInputError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("Invalid input: %s", reason),
		Category: "validation",
		Action:   "Correct the highlighted values and submit again.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "The user was not found.",
		Category: "auth",
		Action:   "Sign in again.",
	}
}

// NewDuplicateEmailError はメールアドレス重複エラーを生成する。
func NewDuplicateEmailError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateEmail,
		Message:  fmt.Sprintf("An account already exists for %s.", email),
		Category: "validation",
		Action:   "Use a different email address.",
	}
}

// NewInvalidRoleError は未定義ロール指定エラーを生成する。
func NewInvalidRoleError(role string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRole,
		Message:  fmt.Sprintf("Unknown role: %s", role),
		Category: "validation",
		Action:   "Use one of ADMIN, LEADER or PARENT.",
	}
}

// NewNotificationNotFoundError は通知が見つからない場合のエラーを生成する。
func NewNotificationNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeNotificationNotFound,
		Message:  fmt.Sprintf("Notification not found: %s", id),
		Category: "notification",
		Action:   "Refresh the notification list.",
	}
}

// NewUnitNotFoundError はユニットが見つからない場合のエラーを生成する。
func NewUnitNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeUnitNotFound,
		Message:  fmt.Sprintf("Unit not found: %s", id),
		Category: "organization",
		Action:   "Check the unit identifier.",
	}
}

// NewForbiddenError は操作権限が無い場合のエラーを生成する。
func NewForbiddenError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  reason,
		Category: "auth",
		Action:   "Ask an administrator for access.",
	}
}
