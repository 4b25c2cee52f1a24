package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/Studyyyyt/sgcc-electricity-web/internal/model"
)

// PostgresStore é a alternativa ao SQLite para quem já roda um Postgres.
// Uma única conexão pgx, serializada pelo mutex.
type PostgresStore struct {
	db     *pgx.Conn
	mu     sync.Mutex
	logger *slog.Logger
}

func NewPostgresStore(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("falha ao conectar no postgres: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("banco não responde: %w", err)
	}

	s := &PostgresStore{db: conn, logger: logger}
	if err := s.runMigrations(ctx); err != nil {
		conn.Close(ctx)
		return nil, err
	}
	return s, nil
}

var pgMigrations = []struct {
	name  string
	query string
}{
	{
		name: "001_initial_schema",
		query: `
			CREATE TABLE IF NOT EXISTS daily (
				user_code   TEXT NOT NULL,
				date        DATE NOT NULL,
				usage       DOUBLE PRECISION NOT NULL,
				create_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				update_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (user_code, date)
			);
			CREATE TABLE IF NOT EXISTS balance (
				user_code   TEXT PRIMARY KEY,
				balance     NUMERIC(14, 2) NOT NULL,
				create_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				update_time TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE TABLE IF NOT EXISTS month (
				user_code   TEXT NOT NULL,
				date        DATE NOT NULL,
				usage       DOUBLE PRECISION NOT NULL,
				charge      NUMERIC(14, 2) NOT NULL,
				create_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				update_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (user_code, date)
			);
			CREATE TABLE IF NOT EXISTS year (
				user_code   TEXT NOT NULL,
				date        DATE NOT NULL,
				usage       DOUBLE PRECISION NOT NULL,
				charge      NUMERIC(14, 2) NOT NULL,
				create_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				update_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (user_code, date)
			);`,
	},
	{
		name: "002_accounts",
		query: `
			CREATE TABLE IF NOT EXISTS accounts (
				user_code   TEXT PRIMARY KEY,
				location    TEXT NOT NULL DEFAULT '',
				create_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				update_time TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);`,
	},
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	s.logger.Info("verificando schema do banco de dados")
	for _, m := range pgMigrations {
		if _, err := s.db.Exec(ctx, m.query); err != nil {
			return fmt.Errorf("erro na migration [%s]: %w", m.name, err)
		}
	}
	s.logger.Info("migrations concluídas", "count", len(pgMigrations))
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close(context.Background())
}

func (s *PostgresStore) exec(ctx context.Context, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(ctx, query, args...)
	return err
}

const (
	pgUpsertBalance = `
		INSERT INTO balance (user_code, balance) VALUES ($1, $2::text::numeric)
		ON CONFLICT (user_code) DO UPDATE SET balance = EXCLUDED.balance, update_time = NOW()`
	pgUpsertLocation = `
		INSERT INTO accounts (user_code, location) VALUES ($1, $2)
		ON CONFLICT (user_code) DO UPDATE SET location = EXCLUDED.location, update_time = NOW()`
	pgUpsertDaily = `
		INSERT INTO daily (user_code, date, usage) VALUES ($1, $2::text::date, $3)
		ON CONFLICT (user_code, date) DO UPDATE SET usage = EXCLUDED.usage, update_time = NOW()`
	pgUpsertMonth = `
		INSERT INTO month (user_code, date, usage, charge) VALUES ($1, $2::text::date, $3, $4::text::numeric)
		ON CONFLICT (user_code, date) DO UPDATE SET usage = EXCLUDED.usage, charge = EXCLUDED.charge, update_time = NOW()`
	pgUpsertYear = `
		INSERT INTO year (user_code, date, usage, charge) VALUES ($1, $2::text::date, $3, $4::text::numeric)
		ON CONFLICT (user_code, date) DO UPDATE SET usage = EXCLUDED.usage, charge = EXCLUDED.charge, update_time = NOW()`
)

func (s *PostgresStore) UpsertBalance(ctx context.Context, accountID string, balance decimal.Decimal) error {
	return s.exec(ctx, pgUpsertBalance, accountID, balance.String())
}

func (s *PostgresStore) UpsertLocation(ctx context.Context, accountID, location string) error {
	return s.exec(ctx, pgUpsertLocation, accountID, location)
}

func (s *PostgresStore) UpsertDaily(ctx context.Context, accountID string, d model.DailyUsage) error {
	return s.exec(ctx, pgUpsertDaily, accountID, dayKey(d.Date), d.Usage)
}

func (s *PostgresStore) UpsertDailyBatch(ctx context.Context, accountID string, ds []model.DailyUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := &pgx.Batch{}
	for _, d := range ds {
		batch.Queue(pgUpsertDaily, accountID, dayKey(d.Date), d.Usage)
	}
	return s.db.SendBatch(ctx, batch).Close()
}

func (s *PostgresStore) UpsertMonth(ctx context.Context, accountID string, m model.MonthlyUsage) error {
	return s.exec(ctx, pgUpsertMonth, accountID, monthKey(m.Month), m.Usage, m.Charge.String())
}

func (s *PostgresStore) UpsertYear(ctx context.Context, accountID string, y model.YearlyUsage) error {
	return s.exec(ctx, pgUpsertYear, accountID, yearKey(y.Year), y.Usage, y.Charge.String())
}

func (s *PostgresStore) AccountIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(ctx, `SELECT user_code FROM balance ORDER BY user_code`)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if ids == nil {
		ids = []string{}
	}
	return ids, err
}

func (s *PostgresStore) Accounts(ctx context.Context) ([]AccountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(ctx, `SELECT user_code, location, update_time FROM accounts ORDER BY user_code`)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (AccountRecord, error) {
		var rec AccountRecord
		err := row.Scan(&rec.ID, &rec.Location, &rec.UpdatedAt)
		return rec, err
	})
	if out == nil {
		out = []AccountRecord{}
	}
	return out, err
}

func (s *PostgresStore) Balance(ctx context.Context, accountID string) (*BalanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := BalanceRecord{AccountID: accountID}
	var balance string
	err := s.db.QueryRow(ctx, `SELECT balance::text, update_time FROM balance WHERE user_code = $1`, accountID).
		Scan(&balance, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if rec.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresStore) RecentDaily(ctx context.Context, accountID string, n int) ([]DailyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(ctx,
		`SELECT date, usage FROM daily WHERE user_code = $1 ORDER BY date DESC LIMIT $2`, accountID, n)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (DailyRecord, error) {
		var rec DailyRecord
		err := row.Scan(&rec.Date, &rec.Usage)
		return rec, err
	})
	if out == nil {
		out = []DailyRecord{}
	}
	return out, err
}

func (s *PostgresStore) LatestMonth(ctx context.Context, accountID string) (*UsageRecord, error) {
	return s.usage(ctx,
		`SELECT date, usage, charge::text FROM month WHERE user_code = $1 ORDER BY date DESC LIMIT 1`, accountID)
}

func (s *PostgresStore) Year(ctx context.Context, accountID string, year int) (*UsageRecord, error) {
	return s.usage(ctx,
		`SELECT date, usage, charge::text FROM year WHERE user_code = $1 AND date = $2::text::date`, accountID, yearKey(year))
}

func (s *PostgresStore) usage(ctx context.Context, query string, args ...any) (*UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		rec    UsageRecord
		charge string
	)
	err := s.db.QueryRow(ctx, query, args...).Scan(&rec.Date, &rec.Usage, &charge)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if rec.Charge, err = decimal.NewFromString(charge); err != nil {
		return nil, err
	}
	return &rec, nil
}

var _ Store = (*PostgresStore)(nil)
