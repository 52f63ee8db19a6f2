package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/oauthboard/internal/database"
	"github.com/hitoshi/oauthboard/internal/model"
)

func TestRebinder(t *testing.T) {
	query := `SELECT id FROM users WHERE provider = ? AND provider_id = ?`

	if got := newRebinder(database.DialectSQLite)(query); got != query {
		t.Errorf("sqlite rebind = %q, want unchanged", got)
	}

	want := `SELECT id FROM users WHERE provider = $1 AND provider_id = $2`
	if got := newRebinder(database.DialectPostgres)(query); got != want {
		t.Errorf("postgres rebind = %q, want %q", got, want)
	}
}

func TestTranslateError_PostgresUniqueViolation(t *testing.T) {
	err := translateError(&pq.Error{Code: "23505", Message: "duplicate key value"})
	if !errors.Is(err, model.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestTranslateError_OtherErrorsPassThrough(t *testing.T) {
	orig := errors.New("connection refused")
	if got := translateError(orig); got != orig {
		t.Errorf("translateError = %v, want original error", got)
	}
	if translateError(nil) != nil {
		t.Error("translateError(nil) should be nil")
	}
}

func TestDBTime_Scan(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  time.Time
	}{
		{"time", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"sqlite string", "2024-01-02 03:04:05+00:00", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"bytes", []byte("2024-01-02 03:04:05"), time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"nil", nil, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d dbTime
			if err := d.Scan(tt.input); err != nil {
				t.Fatalf("Scan: %v", err)
			}
			if !d.Time.Equal(tt.want) {
				t.Errorf("Time = %v, want %v", d.Time, tt.want)
			}
		})
	}
}
