// Package postgres implements the coordinator's storage ports on top of
// database/sql and lib/pq, following the parameterized-query, read-before-
// update style used throughout the example pack's own postgres stores.
package postgres

import (
	"database/sql"
	"strings"
	"time"

	"github.com/botfleet/coordinator/internal/storage"
)

// Store implements every storage port backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var (
	_ storage.NodeStore               = (*Store)(nil)
	_ storage.BotStore                = (*Store)(nil)
	_ storage.BotProfileStore         = (*Store)(nil)
	_ storage.RecoveryStore           = (*Store)(nil)
	_ storage.CreditStore             = (*Store)(nil)
	_ storage.RegistrationTokenStore  = (*Store)(nil)
	_ storage.TenantStore             = (*Store)(nil)
	_ storage.SnapshotStore           = (*Store)(nil)
	_ storage.ServiceHealthStore      = (*Store)(nil)
)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func toNullString(value string) sql.NullString {
	if strings.TrimSpace(value) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
