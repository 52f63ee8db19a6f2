package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/oauthboard/internal/middleware"
	"github.com/hitoshi/oauthboard/internal/model"
)

// AccountHandler はアカウント管理のHTTPハンドラー。
type AccountHandler struct {
	users    UserService
	sessions SessionStore
	renderer *Renderer
}

// NewAccountHandler はAccountHandlerを生成する。
func NewAccountHandler(users UserService, sessions SessionStore, renderer *Renderer) *AccountHandler {
	return &AccountHandler{
		users:    users,
		sessions: sessions,
		renderer: renderer,
	}
}

// Delete はログインユーザーを削除し、セッションを破棄する。
// メトリクスはCASCADE削除される。
// POST /account/delete
func (h *AccountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	if err := h.users.Withdraw(r.Context(), user.ID); err != nil {
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUserNotFound {
			slog.Error("failed to delete account",
				slog.Int64("user_id", user.ID),
				slog.String("error", err.Error()),
			)
			h.renderer.errorPage(w, r, http.StatusInternalServerError, model.NewInternalError())
			return
		}
		// 既に削除済みならセッションの破棄だけ行う
	}

	if err := h.sessions.Clear(w, r); err != nil {
		slog.Error("failed to clear session", slog.String("error", err.Error()))
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
