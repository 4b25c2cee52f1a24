// Package service amarra um ciclo de coleta: trava, coleta, persiste e publica.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Studyyyyt/sgcc-electricity-web/internal/fetcher"
	"github.com/Studyyyyt/sgcc-electricity-web/internal/model"
	"github.com/Studyyyyt/sgcc-electricity-web/internal/repository"
	"github.com/Studyyyyt/sgcc-electricity-web/pkg/guard"
	"github.com/Studyyyyt/sgcc-electricity-web/pkg/metrics"
)

// JobName identifica o ciclo no guard (lock e último sucesso).
const JobName = "electricity_refresh"

const defaultLockTTL = 30 * time.Minute

type Fetcher interface {
	Fetch(ctx context.Context, onAccount func(*model.Account)) (*fetcher.Result, error)
}

type SnapshotPublisher interface {
	Publish(runID string, acc *model.Account) error
}

type RefreshService struct {
	fetcher    Fetcher
	store      repository.Store
	guard      guard.Guard
	publishers []SnapshotPublisher
	counters   metrics.Counters
	logger     *slog.Logger
	lockTTL    time.Duration
}

type Option func(*RefreshService)

// WithPublisher entrega cada conta persistida a p ao fim do ciclo.
// Pode ser repetido (NATS, índice de busca).
func WithPublisher(p SnapshotPublisher) Option {
	return func(s *RefreshService) { s.publishers = append(s.publishers, p) }
}

func WithCounters(c metrics.Counters) Option {
	return func(s *RefreshService) { s.counters = c }
}

// WithLockTTL limita quanto tempo um ciclo travado segura o lock.
func WithLockTTL(ttl time.Duration) Option {
	return func(s *RefreshService) {
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

func NewRefreshService(f Fetcher, store repository.Store, g guard.Guard, logger *slog.Logger, opts ...Option) *RefreshService {
	if logger == nil {
		logger = slog.Default()
	}
	if g == nil {
		g = guard.NewLocalGuard()
	}
	s := &RefreshService{
		fetcher:  f,
		store:    store,
		guard:    g,
		counters: metrics.NewMemoryCounters(),
		logger:   logger.With("component", "refresh"),
		lockTTL:  defaultLockTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executa um ciclo. Devolve guard.ErrLocked quando outro ciclo está rodando.
// Contas extraídas são gravadas na hora, então mesmo com erro de sessão o que
// foi coletado fica no banco.
func (s *RefreshService) Run(ctx context.Context) (*fetcher.Result, error) {
	unlock, err := s.guard.TryLock(ctx, JobName, s.lockTTL)
	if err != nil {
		if errors.Is(err, guard.ErrLocked) {
			s.logger.Info("ciclo já em andamento, pulando")
		}
		return nil, err
	}
	defer func() {
		if err := unlock(context.Background()); err != nil {
			s.logger.Warn("erro liberando lock", "err", err)
		}
	}()

	persisted := make([]*model.Account, 0)
	res, fetchErr := s.fetcher.Fetch(ctx, func(acc *model.Account) {
		if err := repository.SaveAccount(ctx, s.store, acc); err != nil {
			s.logger.Error("erro persistindo conta", "account", acc.ID, "err", err)
			return
		}
		s.counters.Inc(ctx, metrics.AccountsFetched)
		persisted = append(persisted, acc)
		for _, f := range acc.Failures {
			s.logger.Warn("campo não extraído", "account", acc.ID, "op", f.Field, "kind", f.Kind.String(), "err", f.Err)
		}
	})

	if res != nil {
		for _, p := range s.publishers {
			for _, acc := range persisted {
				if err := p.Publish(res.RunID, acc); err != nil {
					s.logger.Warn("erro publicando snapshot", "account", acc.ID, "err", err)
				}
			}
		}
	}

	if fetchErr != nil {
		s.logger.Error("ciclo falhou", "err", fetchErr, "persisted", len(persisted))
		return res, fetchErr
	}

	if err := s.guard.MarkDone(ctx, JobName, time.Now()); err != nil {
		s.logger.Warn("erro registrando fim do ciclo", "err", err)
	}
	s.logger.Info("ciclo concluído", "run_id", res.RunID, "persisted", len(persisted), "failed", len(res.Failed))
	return res, nil
}

// LastSuccess é o horário do último ciclo sem erro de sessão.
func (s *RefreshService) LastSuccess(ctx context.Context) (time.Time, bool, error) {
	return s.guard.LastDone(ctx, JobName)
}
