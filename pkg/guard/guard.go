// Package guard impede ciclos sobrepostos e guarda quando cada ciclo terminou.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLocked = errors.New("ciclo já em execução")

// Unlock libera um lock obtido com TryLock.
type Unlock func(ctx context.Context) error

type Guard interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (Unlock, error)
	MarkDone(ctx context.Context, name string, at time.Time) error
	LastDone(ctx context.Context, name string) (time.Time, bool, error)
}

const keyPrefix = "sgcc"

// RedisGuard usa SET NX para o lock e uma chave simples para o último ciclo.
// Serve quando mais de uma instância aponta para a mesma conta.
type RedisGuard struct {
	rdb      *redis.Client
	ttlHours int
}

// NewRedisGuard cria o guard. Se ttlHours for 0, os marcadores duram 48 horas.
func NewRedisGuard(rdb *redis.Client, ttlHours int) *RedisGuard {
	if ttlHours <= 0 {
		ttlHours = 48
	}
	return &RedisGuard{rdb: rdb, ttlHours: ttlHours}
}

// só apaga se o token ainda for nosso (o lock pode ter expirado e sido retomado)
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (g *RedisGuard) TryLock(ctx context.Context, name string, ttl time.Duration) (Unlock, error) {
	key := fmt.Sprintf("%s:lock:%s", keyPrefix, name)
	token := uuid.NewString()

	ok, err := g.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("erro obtendo lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func(ctx context.Context) error {
		return unlockScript.Run(ctx, g.rdb, []string{key}, token).Err()
	}, nil
}

func (g *RedisGuard) MarkDone(ctx context.Context, name string, at time.Time) error {
	key := fmt.Sprintf("%s:done:%s", keyPrefix, name)
	ttl := time.Duration(g.ttlHours) * time.Hour
	return g.rdb.Set(ctx, key, at.UTC().Format(time.RFC3339), ttl).Err()
}

func (g *RedisGuard) LastDone(ctx context.Context, name string) (time.Time, bool, error) {
	key := fmt.Sprintf("%s:done:%s", keyPrefix, name)
	val, err := g.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	at, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("marcador inválido em %s: %w", key, err)
	}
	return at, true, nil
}

// LocalGuard é a versão em memória, para uma única instância sem redis.
type LocalGuard struct {
	mu    sync.Mutex
	held  map[string]time.Time
	done  map[string]time.Time
	clock func() time.Time
}

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{
		held:  make(map[string]time.Time),
		done:  make(map[string]time.Time),
		clock: time.Now,
	}
}

func (g *LocalGuard) TryLock(_ context.Context, name string, ttl time.Duration) (Unlock, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock()
	if until, ok := g.held[name]; ok && now.Before(until) {
		return nil, ErrLocked
	}
	until := now.Add(ttl)
	g.held[name] = until

	return func(context.Context) error {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.held[name].Equal(until) {
			delete(g.held, name)
		}
		return nil
	}, nil
}

func (g *LocalGuard) MarkDone(_ context.Context, name string, at time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.done[name] = at
	return nil
}

func (g *LocalGuard) LastDone(_ context.Context, name string) (time.Time, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	at, ok := g.done[name]
	return at, ok, nil
}
