package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/Studyyyyt/sgcc-electricity-web/internal/model"
	"github.com/Studyyyyt/sgcc-electricity-web/internal/repository/migrations"
)

// SQLiteStore é o store padrão: um arquivo local, uma conexão.
type SQLiteStore struct {
	db      *sql.DB
	mu      sync.Mutex
	created bool
	now     func() time.Time
}

// RunMigrations aplica o schema embutido. Idempotente.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("dialeto goose: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

// NewSQLiteStore abre (ou cria) o banco em path e aplica as migrations.
func NewSQLiteStore(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	created := path == ":memory:"
	if !created {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			created = true
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("erro abrindo sqlite: %w", err)
	}
	// escrita serializada; :memory: também depende disso para não abrir outro banco
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("erro ativando WAL: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("erro aplicando migrations: %w", err)
	}

	if created {
		logger.Info("banco criado", "path", path)
	} else {
		logger.Info("banco aberto", "path", path)
	}
	return &SQLiteStore{db: db, created: created, now: time.Now}, nil
}

// Created indica que o arquivo não existia antes desta abertura.
func (s *SQLiteStore) Created() bool {
	return s.created
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) stamp() string {
	return s.now().UTC().Format(time.DateTime)
}

func (s *SQLiteStore) exec(ctx context.Context, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

const (
	sqliteUpsertBalance = `
		INSERT INTO balance (user_code, balance, create_time, update_time) VALUES (?, ?, ?, ?)
		ON CONFLICT (user_code) DO UPDATE SET balance = excluded.balance, update_time = excluded.update_time`
	sqliteUpsertLocation = `
		INSERT INTO accounts (user_code, location, create_time, update_time) VALUES (?, ?, ?, ?)
		ON CONFLICT (user_code) DO UPDATE SET location = excluded.location, update_time = excluded.update_time`
	sqliteUpsertDaily = `
		INSERT INTO daily (user_code, date, usage, create_time, update_time) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_code, date) DO UPDATE SET usage = excluded.usage, update_time = excluded.update_time`
	sqliteUpsertMonth = `
		INSERT INTO month (user_code, date, usage, charge, create_time, update_time) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_code, date) DO UPDATE SET usage = excluded.usage, charge = excluded.charge, update_time = excluded.update_time`
	sqliteUpsertYear = `
		INSERT INTO year (user_code, date, usage, charge, create_time, update_time) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_code, date) DO UPDATE SET usage = excluded.usage, charge = excluded.charge, update_time = excluded.update_time`
)

func (s *SQLiteStore) UpsertBalance(ctx context.Context, accountID string, balance decimal.Decimal) error {
	now := s.stamp()
	return s.exec(ctx, sqliteUpsertBalance, accountID, balance.InexactFloat64(), now, now)
}

func (s *SQLiteStore) UpsertLocation(ctx context.Context, accountID, location string) error {
	now := s.stamp()
	return s.exec(ctx, sqliteUpsertLocation, accountID, location, now, now)
}

func (s *SQLiteStore) UpsertDaily(ctx context.Context, accountID string, d model.DailyUsage) error {
	now := s.stamp()
	return s.exec(ctx, sqliteUpsertDaily, accountID, dayKey(d.Date), d.Usage, now, now)
}

func (s *SQLiteStore) UpsertDailyBatch(ctx context.Context, accountID string, ds []model.DailyUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := s.stamp()
	for _, d := range ds {
		if _, err := tx.ExecContext(ctx, sqliteUpsertDaily, accountID, dayKey(d.Date), d.Usage, now, now); err != nil {
			return fmt.Errorf("dia %s: %w", dayKey(d.Date), err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) UpsertMonth(ctx context.Context, accountID string, m model.MonthlyUsage) error {
	now := s.stamp()
	return s.exec(ctx, sqliteUpsertMonth, accountID, monthKey(m.Month), m.Usage, m.Charge.InexactFloat64(), now, now)
}

func (s *SQLiteStore) UpsertYear(ctx context.Context, accountID string, y model.YearlyUsage) error {
	now := s.stamp()
	return s.exec(ctx, sqliteUpsertYear, accountID, yearKey(y.Year), y.Usage, y.Charge.InexactFloat64(), now, now)
}

func (s *SQLiteStore) AccountIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT user_code FROM balance ORDER BY user_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Accounts(ctx context.Context) ([]AccountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT user_code, location, update_time FROM accounts ORDER BY user_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []AccountRecord{}
	for rows.Next() {
		var rec AccountRecord
		var updated string
		if err := rows.Scan(&rec.ID, &rec.Location, &updated); err != nil {
			return nil, err
		}
		if rec.UpdatedAt, err = parseStamp(updated); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Balance(ctx context.Context, accountID string) (*BalanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		balance float64
		updated string
	)
	err := s.db.QueryRowContext(ctx, `SELECT balance, update_time FROM balance WHERE user_code = ?`, accountID).
		Scan(&balance, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	at, err := parseStamp(updated)
	if err != nil {
		return nil, err
	}
	return &BalanceRecord{AccountID: accountID, Balance: decimal.NewFromFloat(balance), UpdatedAt: at}, nil
}

func (s *SQLiteStore) RecentDaily(ctx context.Context, accountID string, n int) ([]DailyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT date, usage FROM daily WHERE user_code = ? ORDER BY date DESC LIMIT ?`, accountID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []DailyRecord{}
	for rows.Next() {
		var (
			date string
			rec  DailyRecord
		)
		if err := rows.Scan(&date, &rec.Usage); err != nil {
			return nil, err
		}
		if rec.Date, err = time.Parse(time.DateOnly, date); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LatestMonth(ctx context.Context, accountID string) (*UsageRecord, error) {
	return s.usage(ctx,
		`SELECT date, usage, charge FROM month WHERE user_code = ? ORDER BY date DESC LIMIT 1`, accountID)
}

func (s *SQLiteStore) Year(ctx context.Context, accountID string, year int) (*UsageRecord, error) {
	return s.usage(ctx,
		`SELECT date, usage, charge FROM year WHERE user_code = ? AND date = ?`, accountID, yearKey(year))
}

func (s *SQLiteStore) usage(ctx context.Context, query string, args ...any) (*UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		date   string
		charge float64
		rec    UsageRecord
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&date, &rec.Usage, &charge)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if rec.Date, err = time.Parse(time.DateOnly, date); err != nil {
		return nil, err
	}
	rec.Charge = decimal.NewFromFloat(charge)
	return &rec, nil
}

func parseStamp(s string) (time.Time, error) {
	return time.ParseInLocation(time.DateTime, s, time.UTC)
}

var _ Store = (*SQLiteStore)(nil)
