// Package session はgorilla/sessionsによる署名・暗号化Cookieセッションを提供する。
//
// サーバー側には何も保存しない。ログイン中のユーザー概要とOAuthトークンは
// "oauthboard_session"、ログイン開始からコールバックまでのstateとPKCE verifierは
// 有効期限の短い"oauthboard_flow"に保持する。
package session

import (
	"crypto/sha256"
	"encoding/gob"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"golang.org/x/oauth2"

	"github.com/hitoshi/oauthboard/internal/model"
)

const (
	userSessionName = "oauthboard_session"
	flowSessionName = "oauthboard_flow"

	// FlowMaxAge はログインフローCookieの有効期間（秒）。
	FlowMaxAge = 10 * 60

	keyUser     = "user"
	keyToken    = "token"
	keyProvider = "provider"
	keyState    = "state"
	keyVerifier = "verifier"
)

// Token はセッションに保存するOAuthトークン。
// oauth2.Tokenは非公開フィールドを持つため、gobで扱える形に詰め替える。
type Token struct {
	AccessToken  string
	TokenType    string
	RefreshToken string
	Expiry       time.Time
}

// NewToken はoauth2.TokenからTokenを生成する。
func NewToken(t *oauth2.Token) *Token {
	if t == nil {
		return nil
	}
	return &Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
	}
}

// OAuth2 はoauth2.Tokenに戻す。
func (t *Token) OAuth2() *oauth2.Token {
	if t == nil {
		return nil
	}
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
	}
}

// Flow はログイン開始時に発行し、コールバックで検証する値の組。
type Flow struct {
	Provider string
	State    string
	Verifier string
}

func init() {
	gob.Register(model.SessionUser{})
	gob.Register(Token{})
}

// Options はManagerの設定。
type Options struct {
	Secret string
	MaxAge int // 秒
	Secure bool
	Domain string
}

// Manager はセッションCookieの読み書きを行う。
type Manager struct {
	store *sessions.CookieStore
	// flowStore はログインフロー専用。Cookieに埋め込まれたタイムスタンプが
	// FlowMaxAge秒を超えたものは復号時に拒否される。
	flowStore *sessions.CookieStore
}

// NewManager はManagerを生成する。
// 署名鍵にはSecretをそのまま、暗号鍵にはSecretのSHA-256（AES-256）を使う。
func NewManager(opts Options) *Manager {
	return &Manager{
		store:     newCookieStore(opts, opts.MaxAge),
		flowStore: newCookieStore(opts, FlowMaxAge),
	}
}

// newCookieStore はCookieのMaxAgeと署名の有効期間をmaxAge秒に揃えたストアを生成する。
func newCookieStore(opts Options, maxAge int) *sessions.CookieStore {
	blockKey := sha256.Sum256([]byte(opts.Secret))
	store := sessions.NewCookieStore([]byte(opts.Secret), blockKey[:])
	store.Options = &sessions.Options{
		Path:     "/",
		Domain:   opts.Domain,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	store.MaxAge(maxAge)
	return store
}

// get は名前付きセッションを取得する。
// 改ざん、鍵の変更、期限切れで復号できないCookieは空のセッションとして扱う。
func (m *Manager) get(store *sessions.CookieStore, r *http.Request, name string) *sessions.Session {
	sess, err := store.Get(r, name)
	if err != nil {
		slog.Debug("discarding undecodable session cookie",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
	}
	return sess
}

// User はセッションのユーザー概要とトークンを返す。未ログインの場合は(nil, nil)。
func (m *Manager) User(r *http.Request) (*model.SessionUser, *Token) {
	sess := m.get(m.store, r, userSessionName)

	user, ok := sess.Values[keyUser].(model.SessionUser)
	if !ok || user.ID == 0 {
		return nil, nil
	}

	var token *Token
	if t, ok := sess.Values[keyToken].(Token); ok {
		token = &t
	}
	return &user, token
}

// SaveLogin はログイン完了時のユーザー概要とトークンを保存する。
func (m *Manager) SaveLogin(w http.ResponseWriter, r *http.Request, user *model.SessionUser, token *Token) error {
	sess := m.get(m.store, r, userSessionName)
	sess.Values[keyUser] = *user
	if token != nil {
		sess.Values[keyToken] = *token
	} else {
		delete(sess.Values, keyToken)
	}
	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// SaveToken はリフレッシュされたトークンでセッションを更新する。
// 未ログインの場合は何もしない。
func (m *Manager) SaveToken(w http.ResponseWriter, r *http.Request, token *Token) error {
	sess := m.get(m.store, r, userSessionName)
	if _, ok := sess.Values[keyUser]; !ok || token == nil {
		return nil
	}
	sess.Values[keyToken] = *token
	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Clear はユーザーとトークンを削除し、Cookieを失効させる。
func (m *Manager) Clear(w http.ResponseWriter, r *http.Request) error {
	sess := m.get(m.store, r, userSessionName)
	delete(sess.Values, keyUser)
	delete(sess.Values, keyToken)
	sess.Options = expiredOptions(m.store)
	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// SaveFlow はログインフローの値をFlowMaxAge秒有効なCookieに保存する。
func (m *Manager) SaveFlow(w http.ResponseWriter, r *http.Request, flow Flow) error {
	sess := m.get(m.flowStore, r, flowSessionName)
	sess.Values[keyProvider] = flow.Provider
	sess.Values[keyState] = flow.State
	sess.Values[keyVerifier] = flow.Verifier

	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("failed to save login flow: %w", err)
	}
	return nil
}

// PopFlow はログインフローの値を取り出し、Cookieを失効させる。
// フローが存在しない場合はnilを返す。
func (m *Manager) PopFlow(w http.ResponseWriter, r *http.Request) (*Flow, error) {
	sess := m.get(m.flowStore, r, flowSessionName)

	state, _ := sess.Values[keyState].(string)
	if state == "" {
		return nil, nil
	}
	provider, _ := sess.Values[keyProvider].(string)
	verifier, _ := sess.Values[keyVerifier].(string)

	sess.Values = map[any]any{}
	sess.Options = expiredOptions(m.flowStore)
	if err := sess.Save(r, w); err != nil {
		return nil, fmt.Errorf("failed to clear login flow: %w", err)
	}

	return &Flow{Provider: provider, State: state, Verifier: verifier}, nil
}

func expiredOptions(store *sessions.CookieStore) *sessions.Options {
	opts := *store.Options
	opts.MaxAge = -1
	return &opts
}
