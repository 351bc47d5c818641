package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

const defaultLockTimeout = 5 * time.Second

// Store это in-memory хранилище с построчными блокировками.
// Изменения транзакции видны другим только после Commit, блокировка строки
// удерживается до Commit/Rollback, как при SELECT ... FOR UPDATE.
type Store struct {
	locks *lockTable

	mu       sync.RWMutex
	variants map[int64]domain.Variant
	orders   map[string]domain.Order
	numbers  map[string]string
	history  map[string][]domain.StatusHistoryEntry
	outbox   map[string]*outboxRecord
}

// Option настраивает Store.
type Option func(*Store)

// WithLockTimeout ограничивает ожидание чужой блокировки строки.
// По истечении срока захват завершается ErrLockTimeout, как lock_timeout в Postgres.
// Нулевое или отрицательное значение отключает ограничение.
func WithLockTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		s.locks.timeout = timeout
	}
}

// NewStore создаёт пустое хранилище для локальной разработки и тестов.
func NewStore(opts ...Option) *Store {
	s := &Store{
		locks:    newLockTable(defaultLockTimeout),
		variants: make(map[int64]domain.Variant),
		orders:   make(map[string]domain.Order),
		numbers:  make(map[string]string),
		history:  make(map[string][]domain.StatusHistoryEntry),
		outbox:   make(map[string]*outboxRecord),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Begin открывает транзакцию.
func (s *Store) Begin(ctx context.Context) (domain.UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newUnitOfWork(s), nil
}

// SeedVariant добавляет или перезаписывает строку склада вне транзакций.
func (s *Store) SeedVariant(v domain.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.UpdatedAt.IsZero() {
		v.UpdatedAt = time.Now().UTC()
	}
	s.variants[v.ID] = v
}

// SetPrice меняет авторитетную цену варианта (аналог правки из админки).
func (s *Store) SetPrice(id int64, price decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.variants[id]
	if !ok {
		return domain.ErrVariantNotFound
	}
	v.Price = price
	v.Version++
	v.UpdatedAt = time.Now().UTC()
	s.variants[id] = v
	return nil
}

// Variant возвращает зафиксированное состояние строки склада.
func (s *Store) Variant(id int64) (domain.Variant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.variants[id]
	return v, ok
}

// OrderCount возвращает количество зафиксированных заказов.
func (s *Store) OrderCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// Orders возвращает копию всех зафиксированных заказов, отсортированных по номеру.
func (s *Store) Orders() []domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0, len(s.orders))
	for _, order := range s.orders {
		result = append(result, cloneOrder(order))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Number < result[j].Number })
	return result
}

// Ping всегда успешен: хранилище живёт в памяти процесса.
func (s *Store) Ping(context.Context) error {
	return nil
}

func cloneOrder(order domain.Order) domain.Order {
	items := make([]domain.OrderItem, len(order.Items))
	copy(items, order.Items)
	order.Items = items
	return order
}

// lockTable эмулирует построчные эксклюзивные блокировки.
// Каждой строке соответствует канал ёмкостью 1, запись в канал означает захват.
// Ожидание ограничено timeout, иначе транзакции со встречным порядком блокировок
// ждали бы друг друга вечно.
type lockTable struct {
	mu      sync.Mutex
	rows    map[string]chan struct{}
	timeout time.Duration
}

func newLockTable(timeout time.Duration) *lockTable {
	return &lockTable{rows: make(map[string]chan struct{}), timeout: timeout}
}

func (l *lockTable) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.rows[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.rows[key] = ch
	}
	return ch
}

// acquire ждёт освобождения строки, отмены контекста или истечения timeout.
func (l *lockTable) acquire(ctx context.Context, key string) error {
	slot := l.slot(key)
	select {
	case slot <- struct{}{}:
		return nil
	default:
	}

	var expired <-chan time.Time
	if l.timeout > 0 {
		timer := time.NewTimer(l.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-expired:
		return fmt.Errorf("lock %s: %w", key, domain.ErrLockTimeout)
	}
}

func (l *lockTable) release(key string) {
	<-l.slot(key)
}

var _ domain.TxManager = (*Store)(nil)
