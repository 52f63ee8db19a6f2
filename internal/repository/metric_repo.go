package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/oauthboard/internal/database"
	"github.com/hitoshi/oauthboard/internal/model"
)

// SQLMetricRepo はdatabase/sqlを使用したメトリクスリポジトリ。
type SQLMetricRepo struct {
	db   *sql.DB
	bind rebinder
}

// NewSQLMetricRepo はSQLMetricRepoを生成する。
func NewSQLMetricRepo(db *sql.DB, dialect database.Dialect) *SQLMetricRepo {
	return &SQLMetricRepo{db: db, bind: newRebinder(dialect)}
}

// ListByUserID はユーザーのメトリクスをID昇順で返す。
func (r *SQLMetricRepo) ListByUserID(ctx context.Context, userID int64) ([]*model.Metric, error) {
	rows, err := r.db.QueryContext(ctx, r.bind(
		`SELECT id, user_id, "key", "value" FROM metrics WHERE user_id = ? ORDER BY id`),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics: %w", err)
	}
	defer rows.Close()

	var metrics []*model.Metric
	for rows.Next() {
		m := &model.Metric{}
		if err := rows.Scan(&m.ID, &m.UserID, &m.Key, &m.Value); err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		metrics = append(metrics, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate metrics: %w", err)
	}

	return metrics, nil
}

// SeedIfEmpty はユーザーのメトリクスが1件もない場合のみseedを同一トランザクションで登録する。
func (r *SQLMetricRepo) SeedIfEmpty(ctx context.Context, userID int64, seed []model.Metric) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, r.bind(
		`SELECT COUNT(*) FROM metrics WHERE user_id = ?`), userID,
	).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to count metrics: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	// 同時ログインで双方がCOUNT=0を見た場合も(user_id, key)の一意制約で重複を捨てる
	insert := r.bind(`INSERT INTO metrics (user_id, "key", "value") VALUES (?, ?, ?)
		ON CONFLICT (user_id, "key") DO NOTHING`)
	var inserted int64
	for _, m := range seed {
		res, err := tx.ExecContext(ctx, insert, userID, m.Key, m.Value)
		if err != nil {
			return false, fmt.Errorf("failed to insert metric %s: %w", m.Key, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("failed to read affected rows: %w", err)
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return inserted > 0, nil
}

// compile-time interface check
var _ MetricRepository = (*SQLMetricRepo)(nil)
