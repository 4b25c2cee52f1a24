package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/Studyyyyt/sgcc-electricity-web/internal/fetcher"
	"github.com/Studyyyyt/sgcc-electricity-web/internal/publish"
	"github.com/Studyyyyt/sgcc-electricity-web/internal/repository"
	"github.com/Studyyyyt/sgcc-electricity-web/internal/service"
	"github.com/Studyyyyt/sgcc-electricity-web/internal/session"
	"github.com/Studyyyyt/sgcc-electricity-web/pkg/captcha"
	"github.com/Studyyyyt/sgcc-electricity-web/pkg/config"
	"github.com/Studyyyyt/sgcc-electricity-web/pkg/guard"
	"github.com/Studyyyyt/sgcc-electricity-web/pkg/metrics"
)

// runtime junta as dependências montadas a partir da config.
type runtime struct {
	store    repository.Store
	created  bool
	guard    guard.Guard
	counters metrics.Counters
	fetcher  *fetcher.Fetcher
	refresh  *service.RefreshService

	closers []func() error
}

// buildRuntime monta tudo. withStore=false serve para a coleta avulsa sem banco.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, withStore bool) (_ *runtime, err error) {
	rt := &runtime{}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	// --- Redis (opcional) ---
	if cfg.Redis.Address != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.closers = append(rt.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis não responde em %s: %w", cfg.Redis.Address, err)
		}
		rt.guard = guard.NewRedisGuard(rdb, 0)
		rt.counters = metrics.NewRedisCounters(rdb, logger)
		logger.Info("redis conectado", "address", cfg.Redis.Address)
	} else {
		rt.guard = guard.NewLocalGuard()
		rt.counters = metrics.NewMemoryCounters()
	}

	// --- NATS (opcional) ---
	var nc *nats.Conn
	if cfg.Nats.URL != "" {
		nc, err = nats.Connect(cfg.Nats.URL, nats.Name("sgcc-electricity"))
		if err != nil {
			return nil, fmt.Errorf("erro NATS: %w", err)
		}
		rt.closers = append(rt.closers, func() error { nc.Close(); return nil })
		logger.Info("nats conectado", "url", cfg.Nats.URL)
	}

	// --- Captcha ---
	inferrer, closeInferrer, err := buildInferrer(cfg, nc, logger)
	if err != nil {
		return nil, err
	}
	if closeInferrer != nil {
		rt.closers = append(rt.closers, closeInferrer)
	}

	deps := session.Deps{
		Inferrer: inferrer,
		Logger:   logger,
		Counters: rt.counters,
		Samples:  captcha.NewShadowCollector(cfg.Captcha.DatasetDir),
	}
	factory := service.BrowserSessionFactory(cfg, deps, logger)
	rt.fetcher = fetcher.New(factory, cfg.Electricity.Ignored, logger, rt.counters)

	if !withStore {
		return rt, nil
	}

	// --- Banco ---
	switch cfg.Database.Driver {
	case "postgres":
		pg, err := repository.NewPostgresStore(ctx, cfg.Database.URL, logger)
		if err != nil {
			return nil, err
		}
		rt.store = pg
	default:
		lite, err := repository.NewSQLiteStore(ctx, cfg.Database.Path, logger)
		if err != nil {
			return nil, err
		}
		rt.store = lite
		rt.created = lite.Created()
	}
	rt.closers = append(rt.closers, rt.store.Close)

	opts := []service.Option{
		service.WithCounters(rt.counters),
		service.WithLockTTL(cfg.Schedule.LockTTL),
	}
	if nc != nil {
		opts = append(opts, service.WithPublisher(publish.NewSnapshotPublisher(nc, cfg.Nats.SnapshotSubject, logger)))
	}
	if cfg.Search.URL != "" {
		opts = append(opts, service.WithPublisher(publish.NewAccountIndexer(cfg.Search.URL, cfg.Search.APIKey, cfg.Search.Index, logger)))
	}
	rt.refresh = service.NewRefreshService(rt.fetcher, rt.store, rt.guard, logger, opts...)
	return rt, nil
}

func buildInferrer(cfg *config.Config, nc *nats.Conn, logger *slog.Logger) (captcha.Inferrer, func() error, error) {
	edge := captcha.NewEdgeInferrer(cfg.Captcha.MinMargin)

	var (
		primary captcha.Inferrer
		closer  func() error
	)
	switch cfg.Captcha.Solver {
	case "onnx":
		o, err := captcha.NewONNXInferrer(captcha.ONNXConfig{
			ModelPath:   cfg.Captcha.ModelPath,
			LibraryPath: cfg.Captcha.OnnxRuntimeLib,
			InputSize:   cfg.Captcha.InputSize,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("erro carregando modelo onnx: %w", err)
		}
		primary, closer = o, o.Close
	case "nats":
		if nc == nil {
			return nil, nil, errors.New("solver nats exige nats.url")
		}
		primary = captcha.NewRemoteInferrer(nc, cfg.Nats.SolverSubject, cfg.Nats.Timeout, logger)
	default:
		return edge, nil, nil
	}

	logger.Info("solver de captcha", "solver", cfg.Captcha.Solver, "fallback", cfg.Captcha.Fallback)
	if cfg.Captcha.Fallback {
		return &captcha.Fallback{Primary: primary, Secondary: edge, Logger: logger}, closer, nil
	}
	return primary, closer, nil
}

// Close libera na ordem reversa da criação.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			slog.Warn("erro liberando recurso", "err", err)
		}
	}
	rt.closers = nil
}
