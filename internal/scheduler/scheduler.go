// Package scheduler dispara o ciclo de coleta pelo cron e, opcionalmente,
// uma vez logo após o start.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Studyyyyt/sgcc-electricity-web/pkg/guard"
)

// Task é o trabalho agendado (RefreshService.Run sem o Result).
type Task func(ctx context.Context) error

type Scheduler struct {
	cron   *cron.Cron
	task   Task
	ctx    context.Context
	logger *slog.Logger
	wg     sync.WaitGroup
}

func New(ctx context.Context, task Task, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		task:   task,
		ctx:    ctx,
		logger: logger,
	}
}

// Register agenda a tarefa na expressão expr (com segundos, ex. "0 0 7,19 * * *").
func (s *Scheduler) Register(expr string) error {
	if _, err := s.cron.AddFunc(expr, s.RunNow); err != nil {
		return fmt.Errorf("expressão cron inválida %q: %w", expr, err)
	}
	s.logger.Info("tarefa agendada", "cron", expr)
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler iniciado")
}

// Stop para o cron e espera as execuções em andamento.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("scheduler parado")
}

// RunNow executa a tarefa no goroutine atual.
func (s *Scheduler) RunNow() {
	if s.ctx.Err() != nil {
		return
	}
	start := time.Now()
	err := s.task(s.ctx)
	switch {
	case errors.Is(err, guard.ErrLocked):
		s.logger.Info("execução pulada: ciclo em andamento")
	case err != nil:
		s.logger.Error("execução falhou", "err", err, "duration", time.Since(start).Round(time.Second))
	default:
		s.logger.Info("execução concluída", "duration", time.Since(start).Round(time.Second))
	}
}

// RunAfter executa a tarefa uma vez depois de delay, a menos que o contexto
// seja cancelado antes.
func (s *Scheduler) RunAfter(delay time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("execução inicial agendada", "delay", delay)
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-s.ctx.Done():
		case <-timer.C:
			s.RunNow()
		}
	}()
}

// cronLogger adapta o slog para a interface de log do robfig/cron.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
