// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/hitoshi/oauthboard/internal/model"
	"github.com/hitoshi/oauthboard/internal/session"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userContextKey      = contextKey("session_user")
	requestIDContextKey = contextKey("request_id")
	csrfTokenContextKey = contextKey("csrf_token")
)

// SessionReader はセッションCookieからログインユーザーを読み出すインターフェース。
// session.Managerが実装する。
type SessionReader interface {
	User(r *http.Request) (*model.SessionUser, *session.Token)
}

// NewSessionMiddleware はセッションCookieを読み取り、
// ログイン済みであればユーザー概要をリクエストコンテキストに注入するミドルウェアを返す。
// 未ログインのリクエストもそのまま通す。ログイン必須のルートはRequireUserを重ねる。
func NewSessionMiddleware(reader SessionReader) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, _ := reader.User(r)
			if user != nil {
				r = r.WithContext(ContextWithUser(r.Context(), user))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireUser はログイン済みでないリクエストを拒否する。
// /api配下は401のJSON、それ以外はトップページへリダイレクトする。
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFromContext(r.Context()); !ok {
			if strings.HasPrefix(r.URL.Path, "/api/") {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UserFromContext はリクエストコンテキストからログインユーザーを取得する。
func UserFromContext(ctx context.Context) (*model.SessionUser, bool) {
	user, ok := ctx.Value(userContextKey).(*model.SessionUser)
	if !ok || user == nil || user.ID == 0 {
		return nil, false
	}
	return user, true
}

// ContextWithUser はコンテキストにログインユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUser(ctx context.Context, user *model.SessionUser) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}
