package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/troophub/internal/middleware"
	"github.com/hitoshi/troophub/internal/model"
	"github.com/hitoshi/troophub/internal/notification"
)

// NotificationServiceInterface は通知APIハンドラーが必要とするサービスインターフェース。
type NotificationServiceInterface interface {
	List(ctx context.Context, userID string, limit int) (*notification.ListResult, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

// FeedProducer は通知ストリームのイベントを生成するインターフェース。
// notification.Producerが実装する。
type FeedProducer interface {
	Run(ctx context.Context, userID string, emit notification.EmitFunc) error
}

// NotificationHandler は通知一覧・既読化・ストリームのHTTPハンドラー。
type NotificationHandler struct {
	service  NotificationServiceInterface
	producer FeedProducer
}

// NewNotificationHandler はNotificationHandlerを生成する。
func NewNotificationHandler(service NotificationServiceInterface, producer FeedProducer) *NotificationHandler {
	return &NotificationHandler{
		service:  service,
		producer: producer,
	}
}

// markAllReadResponse は一括既読化のレスポンス。
type markAllReadResponse struct {
	Success bool  `json:"success"`
	Updated int64 `json:"updated"`
}

// List は最新の通知と未読数を返す。
// GET /api/notifications?limit=N
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if user == nil {
		middleware.WriteUnauthorized(w)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			handleServiceError(w, model.NewInvalidInputError("limit must be a number"))
			return
		}
		limit = n
	}

	result, err := h.service.List(r.Context(), user.ID, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// MarkRead は通知1件を既読にする。既読済みの通知に対しても成功を返す。
// POST /api/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if user == nil {
		middleware.WriteUnauthorized(w)
		return
	}

	if err := h.service.MarkRead(r.Context(), user.ID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// MarkAllRead はユーザーの未読通知をすべて既読にする。
// POST /api/notifications/read-all
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if user == nil {
		middleware.WriteUnauthorized(w)
		return
	}

	n, err := h.service.MarkAllRead(r.Context(), user.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, markAllReadResponse{Success: true, Updated: n})
}

// Stream は通知フィードをServer-Sent Eventsで配信する。
// GET /api/notifications/stream
//
// セッションがない場合はストリームを開かずに401を返す。
// 各イベントは "data: <JSON>\n\n" の1フレームとして送出し、都度フラッシュする。
// レスポンスヘッダーは最初のイベント送出時に書き込むため、
// 初期スナップショットの取得に失敗した場合は500を返せる。
func (h *NotificationHandler) Stream(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if user == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	rc := http.NewResponseController(w)
	// ストリームはサーバーのWriteTimeoutより長く続くため書き込み期限を解除する
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		slog.Warn("failed to clear write deadline", slog.String("error", err.Error()))
	}

	started := false
	emit := func(ev model.FeedEvent) error {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to encode feed event: %w", err)
		}

		if !started {
			header := w.Header()
			header.Set("Content-Type", "text/event-stream")
			header.Set("Cache-Control", "no-cache, no-transform")
			header.Set("Connection", "keep-alive")
			header.Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
			started = true
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return fmt.Errorf("failed to write feed event: %w", err)
		}
		if err := rc.Flush(); err != nil {
			return fmt.Errorf("failed to flush feed event: %w", err)
		}
		return nil
	}

	slog.Info("notification stream opened", slog.String("user_id", user.ID))

	err := h.producer.Run(r.Context(), user.ID, emit)
	switch {
	case err == nil:
		slog.Info("notification stream closed by client", slog.String("user_id", user.ID))
	case !started:
		slog.Error("failed to start notification stream",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	default:
		slog.Info("notification stream closed by server",
			slog.String("user_id", user.ID),
			slog.String("reason", err.Error()),
		)
	}
}
