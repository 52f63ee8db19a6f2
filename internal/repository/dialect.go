package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/hitoshi/oauthboard/internal/database"
	"github.com/hitoshi/oauthboard/internal/model"
)

// pqUniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const pqUniqueViolation = "23505"

// rebinder はクエリ中の ? プレースホルダを方言に合わせて書き換える。
// クエリ本文には文字列リテラルとしての ? を含めないこと。
type rebinder func(query string) string

// newRebinder は方言に応じたrebinderを返す。
// PostgreSQLでは ? を $1, $2, ... に変換し、SQLiteではそのまま使う。
func newRebinder(dialect database.Dialect) rebinder {
	if dialect != database.DialectPostgres {
		return func(query string) string { return query }
	}
	return func(query string) string {
		var b strings.Builder
		b.Grow(len(query) + 8)
		n := 0
		for _, r := range query {
			if r == '?' {
				n++
				b.WriteByte('$')
				b.WriteString(strconv.Itoa(n))
				continue
			}
			b.WriteRune(r)
		}
		return b.String()
	}
}

// translateError はドライバ固有の一意制約違反をmodel.ErrDuplicateに変換する。
// それ以外のエラーはそのまま返す。
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
		return fmt.Errorf("%w: %s", model.ErrDuplicate, pqErr.Constraint)
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		unique := code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
		// 拡張リザルトコードが無効な接続では一次コードのみ返る
		if !unique && code&0xff == sqlite3.SQLITE_CONSTRAINT {
			unique = strings.Contains(sqliteErr.Error(), "UNIQUE constraint failed")
		}
		if unique {
			return fmt.Errorf("%w: %s", model.ErrDuplicate, sqliteErr.Error())
		}
	}

	return err
}

// dbTime はPostgreSQLのTIMESTAMPTZとSQLiteのTEXT表現の両方を読み取るためのScanner。
type dbTime struct {
	Time time.Time
}

// sqliteTimeLayouts はSQLiteに保存されうる時刻表現。
var sqliteTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
}

// Scan はsql.Scannerを実装する。
func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("unsupported time value type %T", src)
	}
}

func (t *dbTime) parse(s string) error {
	for _, layout := range sqliteTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unparseable time value %q", s)
}

// nullString は空文字をNULLとして書き込む。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
