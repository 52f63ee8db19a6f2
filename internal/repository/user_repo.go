package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/oauthboard/internal/database"
	"github.com/hitoshi/oauthboard/internal/model"
)

const userColumns = `id, email, name, provider, provider_id, created_at`

// SQLUserRepo はdatabase/sqlを使用したユーザーリポジトリ。
// PostgreSQLとSQLiteの両方で動作する。
type SQLUserRepo struct {
	db   *sql.DB
	bind rebinder
}

// NewSQLUserRepo はSQLUserRepoを生成する。
func NewSQLUserRepo(db *sql.DB, dialect database.Dialect) *SQLUserRepo {
	return &SQLUserRepo{db: db, bind: newRebinder(dialect)}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *SQLUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	user, err := r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByProvider はproviderとprovider_idでユーザーを検索する。
// 見つからない場合はnilを返す。
func (r *SQLUserRepo) FindByProvider(ctx context.Context, provider, providerID string) (*model.User, error) {
	user, err := r.findOne(ctx,
		`SELECT `+userColumns+` FROM users WHERE provider = ? AND provider_id = ?`,
		provider, providerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by provider: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *SQLUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if email == "" {
		return nil, nil
	}
	user, err := r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成し、採番されたIDをuser.IDに設定する。
// CreatedAtがゼロ値の場合は現在時刻を設定する。
func (r *SQLUserRepo) Create(ctx context.Context, user *model.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	err := r.db.QueryRowContext(ctx, r.bind(
		`INSERT INTO users (email, name, provider, provider_id, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 RETURNING id`),
		nullString(user.Email), nullString(user.Name), user.Provider, user.ProviderID, user.CreatedAt,
	).Scan(&user.ID)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", translateError(err))
	}

	return nil
}

// DeleteByID は指定IDのユーザーを削除する。
// 関連するmetricsはCASCADE削除される。
func (r *SQLUserRepo) DeleteByID(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, r.bind(`DELETE FROM users WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %d", id)
	}
	return nil
}

// findOne はユーザーを1件取得する。見つからない場合はnilを返す。
func (r *SQLUserRepo) findOne(ctx context.Context, query string, args ...any) (*model.User, error) {
	var (
		user      model.User
		email     sql.NullString
		name      sql.NullString
		createdAt dbTime
	)
	err := r.db.QueryRowContext(ctx, r.bind(query), args...).
		Scan(&user.ID, &email, &name, &user.Provider, &user.ProviderID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	user.Email = email.String
	user.Name = name.String
	user.CreatedAt = createdAt.Time
	return &user, nil
}

// compile-time interface check
var _ UserRepository = (*SQLUserRepo)(nil)
