// Package fetcher roda um ciclo de coleta: abre uma sessão, faz login,
// percorre as contas e entrega cada uma assim que é extraída.
package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/Studyyyyt/sgcc-electricity-web/internal/model"
	"github.com/Studyyyyt/sgcc-electricity-web/pkg/metrics"
)

// Session é uma sessão autenticável no portal (ver session.Driver).
type Session interface {
	Login(ctx context.Context) error
	Accounts(ctx context.Context) ([]model.MenuAccount, error)
	Extract(ctx context.Context, index int, id string) (*model.Account, error)
	Close() error
}

// SessionFactory abre uma sessão nova por ciclo.
type SessionFactory func(ctx context.Context) (Session, error)

// SessionError encerra o ciclo inteiro. Contas já extraídas continuam no Result.
type SessionError struct {
	Stage string
	Err   error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("sessão falhou em %s: %v", e.Stage, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// Result é o que um ciclo produziu.
type Result struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Accounts map[string]*model.Account
	Skipped  []string
	Failed   map[string]error
}

type Fetcher struct {
	factory  SessionFactory
	ignored  func(id string) bool
	logger   *slog.Logger
	counters metrics.Counters
}

func New(factory SessionFactory, ignored func(id string) bool, logger *slog.Logger, counters metrics.Counters) *Fetcher {
	if ignored == nil {
		ignored = func(string) bool { return false }
	}
	if logger == nil {
		logger = slog.Default()
	}
	if counters == nil {
		counters = metrics.NewMemoryCounters()
	}
	return &Fetcher{
		factory:  factory,
		ignored:  ignored,
		logger:   logger.With("component", "fetcher"),
		counters: counters,
	}
}

// Fetch roda um ciclo. onAccount recebe cada conta extraída na hora, então um
// crash no meio do ciclo não perde o que já foi coletado. O erro, quando
// existe, é sempre *SessionError; falhas de uma conta só aparecem em Result.Failed.
func (f *Fetcher) Fetch(ctx context.Context, onAccount func(*model.Account)) (res *Result, err error) {
	res = &Result{
		RunID:    uuid.NewString(),
		Started:  time.Now(),
		Accounts: make(map[string]*model.Account),
		Failed:   make(map[string]error),
	}
	logger := f.logger.With("run_id", res.RunID)
	f.counters.Inc(ctx, metrics.FetchCycles)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic durante o ciclo", "panic", r, "stack", string(debug.Stack()))
			err = &SessionError{Stage: "panic", Err: fmt.Errorf("%v", r)}
		}
		if err != nil {
			f.counters.Inc(ctx, metrics.FetchFailures)
		}
		res.Finished = time.Now()
		logger.Info("ciclo encerrado",
			"accounts", len(res.Accounts), "failed", len(res.Failed), "skipped", len(res.Skipped),
			"duration", res.Finished.Sub(res.Started).Round(time.Millisecond), "err", err)
	}()

	sess, err := f.factory(ctx)
	if err != nil {
		return res, &SessionError{Stage: "open", Err: err}
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			logger.Warn("erro liberando sessão", "err", cerr)
		}
	}()

	if err := sess.Login(ctx); err != nil {
		return res, &SessionError{Stage: "login", Err: err}
	}

	menu, err := sess.Accounts(ctx)
	if err != nil {
		return res, &SessionError{Stage: "accounts", Err: err}
	}

	for _, item := range menu {
		id := item.ID
		if err := ctx.Err(); err != nil {
			return res, &SessionError{Stage: "extract", Err: err}
		}
		if f.ignored(id) {
			logger.Info("conta ignorada", "account", id)
			res.Skipped = append(res.Skipped, id)
			continue
		}

		acc, err := sess.Extract(ctx, item.Index, id)
		if err != nil {
			logger.Warn("conta pulada", "account", id, "op", "extract", "err", err)
			res.Failed[id] = err
			f.counters.Inc(ctx, metrics.AccountsFailed)
			continue
		}

		res.Accounts[id] = acc
		if onAccount != nil {
			onAccount(acc)
		}
	}
	return res, nil
}
