package factory

import (
	"strings"

	"github.com/orpheus-engine/conductor/internal/store"
	"github.com/orpheus-engine/conductor/internal/store/postgres"
	"github.com/orpheus-engine/conductor/internal/store/sqlite"
)

// Open selects a store backend from the DSN shape: postgres:// and
// postgresql:// URLs open PostgreSQL, anything else is a SQLite file path
// (":memory:" included).
func Open(dsn string) (store.Store, error) {
	d := strings.TrimSpace(strings.ToLower(dsn))
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") {
		return postgres.New(dsn)
	}
	return sqlite.New(dsn)
}
