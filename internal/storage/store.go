package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"threatmap/internal/config"
)

// Store persists per-source seen-sets. SaveSeen replaces the whole set atomically.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	LoadSeen(ctx context.Context, source string) ([]string, error)
	SaveSeen(ctx context.Context, source string, ids []string) error
}

func NewStore(cfg config.SeenConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "file":
		return NewFile(cfg.Dir)
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

// baseStore holds the SQL shared by the database drivers. bind renders the n-th
// placeholder in the driver's dialect.
type baseStore struct {
	db   *sql.DB
	bind func(n int) string
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) LoadSeen(ctx context.Context, source string) ([]string, error) {
	if b.db == nil {
		return nil, nil
	}
	rows, err := b.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT identity FROM seen_identities WHERE source = %s ORDER BY identity`, b.bind(1)),
		source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (b *baseStore) SaveSeen(ctx context.Context, source string, ids []string) error {
	if b.db == nil {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM seen_identities WHERE source = %s`, b.bind(1)), source); err != nil {
		_ = tx.Rollback()
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		fmt.Sprintf(`INSERT INTO seen_identities (source, identity, updated_at) VALUES (%s, %s, %s)`,
			b.bind(1), b.bind(2), b.bind(3)))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	now := nowUTC()
	for _, id := range dedupe(ids) {
		if _, err := stmt.ExecContext(ctx, source, id, now); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// dedupe returns ids sorted and without empties or repeats.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
