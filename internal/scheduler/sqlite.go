package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"
)

const memory = ":memory:"

// SQLiteStore keeps schedules in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and creates if needed) the database at path.
// ":memory:" opens a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path can't be blank")
	}

	db, err := openSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	if err := setupSQLite(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("setup: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, sched *Schedule) error {
	_, err := s.db.ExecContext(ctx,
		`
		insert into schedule (
			name,
			fire_at,
			target,
			payload,
			execution_role,
			description,
			action_after_completion,
			created_at
		) values (
			:name,
			:fire_at,
			:target,
			:payload,
			:execution_role,
			:description,
			:action_after_completion,
			:created_at
		)
		`,
		sql.Named("name", sched.Name),
		sql.Named("fire_at", sched.FireAt.Unix()),
		sql.Named("target", sched.Target),
		sql.Named("payload", sched.Payload),
		sql.Named("execution_role", sched.ExecutionRole),
		sql.Named("description", sched.Description),
		sql.Named("action_after_completion", sched.ActionAfterCompletion),
		sql.Named("created_at", sched.CreatedAt.UnixMilli()),
	)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
		return ErrDuplicateName
	}
	return translateClosed(err)
}

func (s *SQLiteStore) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`
		update schedule
		set
			fire_at = :lease_end
		where
			name in (
				select name from schedule
				where fire_at <= :now
				order by fire_at asc
				limit :limit
			)
		returning
			name,
			fire_at,
			target,
			payload,
			execution_role,
			description,
			action_after_completion,
			created_at
		`,
		sql.Named("now", now.Unix()),
		sql.Named("lease_end", now.Add(lease).Unix()),
		sql.Named("limit", limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query: %w", translateClosed(err))
	}
	defer rows.Close()

	var claimed []*Schedule
	for rows.Next() {
		var (
			sched     Schedule
			fireAt    int64
			createdAt int64
		)
		if err := rows.Scan(
			&sched.Name,
			&fireAt,
			&sched.Target,
			&sched.Payload,
			&sched.ExecutionRole,
			&sched.Description,
			&sched.ActionAfterCompletion,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		sched.FireAt = time.Unix(fireAt, 0).UTC()
		sched.CreatedAt = time.UnixMilli(createdAt).UTC()
		claimed = append(claimed, &sched)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	return claimed, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from schedule where name = :name`,
		sql.Named("name", name),
	)
	return translateClosed(err)
}

func (s *SQLiteStore) Pending(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `select count(*) from schedule`).Scan(&n)
	return n, translateClosed(err)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func translateClosed(err error) error {
	if err != nil && err.Error() == "sql: database is closed" {
		return ErrClosed
	}
	return err
}

func openSQLite(path string) (*sql.DB, error) {
	params := url.Values{}
	params.Add("_txlock", "immediate")
	params.Add("_timeout", "5000") // 5s
	if path == memory {
		// a unique name keeps separate stores apart within one process
		path = uuid.NewString()
		params.Add("mode", "memory")
		params.Add("cache", "shared")
	} else {
		params.Add("_journal", "wal")
		params.Add("_sync", "normal")
	}

	uri := url.URL{Scheme: "file", Opaque: path, RawQuery: params.Encode()}
	db, err := sql.Open("sqlite3", uri.String())
	if err != nil {
		return nil, err
	}

	db.SetConnMaxIdleTime(0)
	db.SetConnMaxLifetime(0)
	if params.Get("mode") == "memory" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(4)
	}

	return db, nil
}

func setupSQLite(db *sql.DB) error {
	if _, err := db.Exec(
		`
		create table if not exists schedule (
			name                    text primary key,
			fire_at                 int not null,
			target                  text not null,
			payload                 blob not null,
			execution_role          text not null,
			description             text not null,
			action_after_completion text not null,
			created_at              int not null
		) strict
		`,
	); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(
		`create index if not exists idx_schedule_fire_at on schedule (fire_at, name)`,
	); err != nil {
		return fmt.Errorf("create index: %w", err)
	}

	return nil
}
