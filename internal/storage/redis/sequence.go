// Package redis содержит генератор порядковых номеров заказов на Redis.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

const (
	defaultKeyPrefix = "oms:order-seq"
	pingTimeout      = 5 * time.Second
)

// nextScript атомарно увеличивает счётчик года и не даёт ему отстать от числа заказов в БД
// (например, после очистки Redis).
var nextScript = goredis.NewScript(`
local current = redis.call('INCR', KEYS[1])
local floor = tonumber(ARGV[1])
if current <= floor then
	current = floor + 1
	redis.call('SET', KEYS[1], current)
end
return current
`)

// Sequence выдаёт номера через атомарный INCR вместо подсчёта строк.
// Номер, выданный откаченной транзакции, не возвращается, поэтому возможны пропуски.
type Sequence struct {
	client    goredis.UniversalClient
	keyPrefix string
}

// Option настраивает Sequence.
type Option func(*Sequence)

// WithKeyPrefix задаёт префикс ключей счётчика.
func WithKeyPrefix(prefix string) Option {
	return func(s *Sequence) {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			s.keyPrefix = prefix
		}
	}
}

// NewSequence создаёт генератор поверх готового клиента.
func NewSequence(client goredis.UniversalClient, opts ...Option) *Sequence {
	s := &Sequence{client: client, keyPrefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open разбирает redis URL, проверяет соединение и возвращает генератор.
func Open(ctx context.Context, redisURL string, opts ...Option) (*Sequence, error) {
	options, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := goredis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewSequence(client, opts...), nil
}

// Key возвращает ключ счётчика для года.
func (s *Sequence) Key(year int) string {
	return fmt.Sprintf("%s:%d", s.keyPrefix, year)
}

// Next возвращает следующий номер года. Нижняя граница берётся из CountForYear транзакции.
func (s *Sequence) Next(ctx context.Context, tx domain.Tx, year int) (int64, error) {
	count, err := tx.Orders().CountForYear(ctx, year)
	if err != nil {
		return 0, fmt.Errorf("count orders for %d: %w", year, err)
	}

	seq, err := nextScript.Run(ctx, s.client, []string{s.Key(year)}, count).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis order sequence: %w", err)
	}
	return seq, nil
}

// Ping проверяет доступность Redis (для readiness).
func (s *Sequence) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close закрывает клиент.
func (s *Sequence) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var _ domain.OrderSequence = (*Sequence)(nil)
