package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Nomes dos contadores incrementados pelo ciclo de coleta.
const (
	FetchCycles     = "fetch_cycles"
	FetchFailures   = "fetch_failures"
	CaptchaAttempts = "captcha_attempts"
	CaptchaFailures = "captcha_failures"
	AccountsFetched = "accounts_fetched"
	AccountsFailed  = "accounts_failed"
	keyPrefix       = "sgcc:metrics:"
	promNamePrefix  = "sgcc_"
)

// MetricDef define o mapeamento entre um contador e uma métrica Prometheus.
type MetricDef struct {
	Name string
	Help string
	Type string // "counter" ou "gauge"
}

// Defs são as métricas expostas em /metrics.
var Defs = []MetricDef{
	{Name: FetchCycles, Help: "Ciclos de coleta iniciados", Type: "counter"},
	{Name: FetchFailures, Help: "Ciclos encerrados por erro de sessão", Type: "counter"},
	{Name: CaptchaAttempts, Help: "Tentativas de resolver o captcha", Type: "counter"},
	{Name: CaptchaFailures, Help: "Tentativas de captcha sem sucesso", Type: "counter"},
	{Name: AccountsFetched, Help: "Contas extraídas e persistidas", Type: "counter"},
	{Name: AccountsFailed, Help: "Contas puladas por erro", Type: "counter"},
}

// Counters é o que o resto do código enxerga.
type Counters interface {
	Inc(ctx context.Context, name string)
	Get(ctx context.Context, name string) (int64, error)
}

// RedisCounters guarda os contadores no redis, sobrevivendo a restarts.
type RedisCounters struct {
	rdb    *redis.Client
	logger *slog.Logger
}

func NewRedisCounters(rdb *redis.Client, logger *slog.Logger) *RedisCounters {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCounters{rdb: rdb, logger: logger}
}

func (c *RedisCounters) Inc(ctx context.Context, name string) {
	if err := c.rdb.Incr(ctx, keyPrefix+name).Err(); err != nil {
		c.logger.Warn("metrics: erro incrementando", "metric", name, "err", err)
	}
}

func (c *RedisCounters) Get(ctx context.Context, name string) (int64, error) {
	val, err := c.rdb.Get(ctx, keyPrefix+name).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return val, err
}

// MemoryCounters é usado quando não há redis configurado.
type MemoryCounters struct {
	mu     sync.Mutex
	values map[string]int64
}

func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{values: make(map[string]int64)}
}

func (c *MemoryCounters) Inc(_ context.Context, name string) {
	c.mu.Lock()
	c.values[name]++
	c.mu.Unlock()
}

func (c *MemoryCounters) Get(_ context.Context, name string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[name], nil
}

// Handler expõe os contadores no formato texto do Prometheus.
func Handler(c Counters, defs []MetricDef, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		for _, m := range defs {
			val, err := c.Get(r.Context(), m.Name)
			if err != nil {
				logger.Warn("metrics: erro ao ler contador", "metric", m.Name, "err", err)
				val = 0
			}
			name := promNamePrefix + m.Name
			fmt.Fprintf(w, "# HELP %s %s\n", name, m.Help)
			fmt.Fprintf(w, "# TYPE %s %s\n", name, m.Type)
			fmt.Fprintf(w, "%s %d\n\n", name, val)
		}
	})
}
