package repositories

import (
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresMessageStatusRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewPostgresMessageStatusRepository(pool *pgxpool.Pool, log *slog.Logger) PostgresMessageStatusRepository {
	return PostgresMessageStatusRepository{pool: pool, log: log}
}

// MarkAsRead updates the whole batch in one statement against the messages table.
func (r PostgresMessageStatusRepository) MarkAsRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tag, err := r.pool.Exec(ctx, `
		update messages
		set status = 'read', updated_at = now()
		where id = any($1)
	`, ids)
	if err != nil {
		return fmt.Errorf("%w: %w", errors.ErrStoreUnavailable, err)
	}
	r.log.Debug("Messages marked as read", "count", len(ids), "updated", tag.RowsAffected())
	return nil
}

// OpenPostgres opens a pool and checks the server is reachable.
func OpenPostgres(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
