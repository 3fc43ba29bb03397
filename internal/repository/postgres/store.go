package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
)

// Store — единая точка доступа к PostgreSQL для всех репозиториев движка.
type Store struct {
	db *sql.DB
}

func New(connString string) (*Store, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &Store{db: db}, nil
}

// Ping проверяет доступность базы при старте
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// querier покрывает и *sql.DB, и *sql.Tx: методы репозиториев работают
// одинаково внутри и вне транзакции.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// q возвращает транзакцию из контекста, если Serialize ее открыл,
// иначе — пул соединений.
func (s *Store) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// Serialize выполняет fn в одной транзакции под advisory-локами по ключам.
// Это и есть "serializable reservation" для бюджетных проверок: два
// конкурентных запроса одного агента выстраиваются в очередь, и проигравший
// видит уже закоммиченный расход победителя.
//
// Лок — pg_advisory_xact_lock: снимается автоматически на commit/rollback,
// "осиротеть" не может. Ключи сортируются, чтобы исключить взаимную
// блокировку при пересекающихся наборах.
func (s *Store) Serialize(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op после commit

	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)

	for _, k := range sorted {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, k); err != nil {
			return fmt.Errorf("postgres: advisory lock %s: %w", k, err)
		}
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}
