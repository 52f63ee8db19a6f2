package database

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect はSQL方言（＝使用するドライバ）を表す。
type Dialect string

const (
	// DialectPostgres はPostgreSQL（lib/pq）を表す。
	DialectPostgres Dialect = "postgres"
	// DialectSQLite はSQLite（modernc.org/sqlite）を表す。
	DialectSQLite Dialect = "sqlite"
)

// sqlitePragmas はSQLite接続ごとに適用するPRAGMA。
// 外部キー制約はSQLiteではデフォルト無効のため明示的に有効化する。
const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

// ParseURL はDATABASE_URLから方言とドライバに渡すDSNを導出する。
//
//	postgres://... / postgresql://...  → DialectPostgres（URLをそのまま使用）
//	sqlite://<path>                    → DialectSQLite（<path>にPRAGMAを付与）
func ParseURL(databaseURL string) (Dialect, string, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return DialectPostgres, databaseURL, nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		path := strings.TrimPrefix(databaseURL, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("empty sqlite path in database URL")
		}
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return DialectSQLite, path + sep + sqlitePragmas, nil
	default:
		return "", "", fmt.Errorf("unsupported database URL scheme (want postgres:// or sqlite://)")
	}
}

// Open はDATABASE_URLのスキームに応じたドライバでデータベース接続を開く。
// sql.Openは接続を試行しないため、実際の接続確認にはdb.Ping()を使用すること。
func Open(databaseURL string) (*sql.DB, error) {
	dialect, dsn, err := ParseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLiteは書き込みが直列化されるため、接続を1本に絞ってロック競合を避ける
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	}

	return db, nil
}
