package account

import (
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

const pgUniqueViolation = "23505"

// PostgresStore persists accounts in PostgreSQL. The schema is owned by the
// migrations directory.
type PostgresStore struct {
	*sqlStore
	dsn string
}

// NewPostgresStore connects to dsn and verifies connectivity.
func NewPostgresStore(dsn string, maxTokens int) (*PostgresStore, error) {
	d, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	p := &PostgresStore{
		sqlStore: &sqlStore{
			db:       d,
			max:      maxTokens,
			bind:     bindDollar,
			isUnique: isPostgresUnique,
			now:      func() time.Time { return time.Now().UTC() },
		},
		dsn: dsn,
	}
	if err := p.Init(); err != nil {
		d.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresStore) Init() error {
	// rely on migrations to create tables; just verify connectivity
	return p.db.Ping()
}

func isPostgresUnique(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}
	return false
}
