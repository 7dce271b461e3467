// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/troophub/internal/middleware"
	"github.com/hitoshi/troophub/internal/model"
)

// maxJSONBodyBytes はJSONリクエストボディの上限サイズ。
const maxJSONBodyBytes = 1 << 20

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをJSONとしてデコードする。
// 失敗した場合は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)).Decode(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "The request body could not be parsed.",
			Category: "validation",
			Action:   "Send a valid JSON body.",
		})
		return false
	}
	return true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeMissingField, model.ErrCodeWeakPassword, model.ErrCodeInvalidInput,
		model.ErrCodeInvalidRole, model.ErrCodeInvalidCredentials:
		return http.StatusBadRequest
	case model.ErrCodeUserNotFound, model.ErrCodeUnitNotFound, model.ErrCodeNotificationNotFound:
		return http.StatusNotFound
	case model.ErrCodeDuplicateEmail:
		return http.StatusConflict
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// currentUser はリクエストコンテキストのセッションからユーザーを取得する。
// 未認証の場合はnilを返す。
func currentUser(r *http.Request) *model.User {
	session := middleware.SessionFromContext(r.Context())
	if session == nil {
		return nil
	}
	return session.User
}
