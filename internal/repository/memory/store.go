// Package memory is an in-process implementation of the repository
// interfaces. Row locks are per-product weighted semaphores held until the
// unit of work ends; writes are staged and applied atomically on commit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"github.com/egannguyen/stockledger/internal/entity"
	"github.com/egannguyen/stockledger/internal/repository"
)

type productRecord struct {
	product   entity.Product
	deletedAt *time.Time
}

// Store holds products, orders and stock movements in memory.
type Store struct {
	lockTimeout time.Duration

	mu        sync.RWMutex
	products  map[int64]*productRecord
	orders    map[int64]entity.Order
	items     map[int64][]entity.OrderItem
	movements map[int64][]entity.StockMovement

	locksMu sync.Mutex
	locks   map[int64]*semaphore.Weighted

	productSeq  atomic.Int64
	orderSeq    atomic.Int64
	itemSeq     atomic.Int64
	movementSeq atomic.Int64
}

var (
	_ repository.Store                   = (*Store)(nil)
	_ repository.ProductRepository       = (*Store)(nil)
	_ repository.OrderRepository         = (*Store)(nil)
	_ repository.StockMovementRepository = (*Store)(nil)
)

// New creates an empty Store. A lock wait longer than lockTimeout fails with
// repository.ErrLockConflict; zero waits until the context is done.
func New(lockTimeout time.Duration) *Store {
	return &Store{
		lockTimeout: lockTimeout,
		products:    make(map[int64]*productRecord),
		orders:      make(map[int64]entity.Order),
		items:       make(map[int64][]entity.OrderItem),
		movements:   make(map[int64][]entity.StockMovement),
		locks:       make(map[int64]*semaphore.Weighted),
	}
}

func (s *Store) semaphore(id int64) *semaphore.Weighted {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	sem, ok := s.locks[id]
	if !ok {
		sem = semaphore.NewWeighted(1)
		s.locks[id] = sem
	}
	return sem
}

// acquire takes a product's row lock, honouring the lock timeout.
func (s *Store) acquire(ctx context.Context, id int64) (*semaphore.Weighted, error) {
	sem := s.semaphore(id)
	lockCtx := ctx
	if s.lockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, s.lockTimeout)
		defer cancel()
	}
	if err := sem.Acquire(lockCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: timed out waiting for product %d", repository.ErrLockConflict, id)
	}
	return sem, nil
}

// WithinTx runs fn in a unit of work. Staged writes become visible only if fn
// returns nil; locks are released on every path, including panics.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	t := &memTx{
		s:      s,
		held:   make(map[int64]*semaphore.Weighted),
		staged: make(map[int64]entity.Product),
	}
	defer t.release()

	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.commit(t)
	return nil
}

func (s *Store) commit(t *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for id, p := range t.staged {
		if rec, ok := s.products[id]; ok {
			rec.product.Quantity = p.Quantity
			rec.product.UpdatedAt = now
		}
	}
	for _, o := range t.orders {
		s.orders[o.ID] = o
	}
	for _, item := range t.items {
		s.items[item.OrderID] = append(s.items[item.OrderID], item)
	}
	for _, m := range t.movements {
		s.movements[m.ProductID] = append(s.movements[m.ProductID], m)
	}
}

type memTx struct {
	s         *Store
	held      map[int64]*semaphore.Weighted
	staged    map[int64]entity.Product
	orders    []entity.Order
	items     []entity.OrderItem
	movements []entity.StockMovement
}

func (t *memTx) release() {
	for id, sem := range t.held {
		sem.Release(1)
		delete(t.held, id)
	}
}

func (t *memTx) FindProductForUpdate(ctx context.Context, id int64) (*entity.Product, error) {
	if _, ok := t.held[id]; !ok {
		sem, err := t.s.acquire(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to lock product %d: %w", id, err)
		}
		t.held[id] = sem
	}

	if p, ok := t.staged[id]; ok {
		return &p, nil
	}

	t.s.mu.RLock()
	rec, ok := t.s.products[id]
	live := ok && rec.deletedAt == nil
	var p entity.Product
	if live {
		p = copyProduct(rec.product)
	}
	t.s.mu.RUnlock()
	if !live {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (t *memTx) SaveProduct(_ context.Context, p *entity.Product) error {
	if _, ok := t.held[p.ID]; !ok {
		return fmt.Errorf("product %d saved without holding its lock", p.ID)
	}
	p.UpdatedAt = time.Now().UTC()
	t.staged[p.ID] = *p
	return nil
}

func (t *memTx) CreateOrder(_ context.Context, o *entity.Order) error {
	o.ID = t.s.orderSeq.Add(1)
	o.CreatedAt = time.Now().UTC()
	rec := *o
	rec.Items = nil
	t.orders = append(t.orders, rec)
	return nil
}

func (t *memTx) CreateOrderItem(_ context.Context, orderID int64, item *entity.OrderItem) error {
	item.ID = t.s.itemSeq.Add(1)
	item.OrderID = orderID
	rec := *item
	rec.Product = nil
	t.items = append(t.items, rec)
	return nil
}

func (t *memTx) AppendStockMovement(_ context.Context, m *entity.StockMovement) error {
	m.ID = t.s.movementSeq.Add(1)
	m.CreatedAt = time.Now().UTC()
	rec := *m
	if m.OrderID != nil {
		id := *m.OrderID
		rec.OrderID = &id
	}
	t.movements = append(t.movements, rec)
	return nil
}

func (s *Store) Create(_ context.Context, p *entity.Product) error {
	price, err := repository.CatalogPrice(p.Price)
	if err != nil {
		return fmt.Errorf("failed to insert product %s: %w", p.SKU, err)
	}
	p.Price = price

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.products {
		if rec.product.SKU == p.SKU {
			return fmt.Errorf("failed to insert product %s: duplicate sku", p.SKU)
		}
	}
	now := time.Now().UTC()
	p.ID = s.productSeq.Add(1)
	p.CreatedAt = now
	p.UpdatedAt = now
	s.products[p.ID] = &productRecord{product: copyProduct(*p)}
	return nil
}

func (s *Store) FindByID(_ context.Context, id int64) (*entity.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.products[id]
	if !ok || rec.deletedAt != nil {
		return nil, repository.ErrNotFound
	}
	p := copyProduct(rec.product)
	return &p, nil
}

func (s *Store) FindAll(_ context.Context) ([]entity.Product, error) {
	products := s.live(func(entity.Product) bool { return true })
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })
	return products, nil
}

func (s *Store) FindLowStock(_ context.Context, defaultThreshold int) ([]entity.Product, error) {
	products := s.live(func(p entity.Product) bool {
		return p.Quantity > 0 && p.Quantity <= p.ThresholdOr(defaultThreshold)
	})
	sort.Slice(products, func(i, j int) bool {
		if products[i].Quantity != products[j].Quantity {
			return products[i].Quantity < products[j].Quantity
		}
		return products[i].Name < products[j].Name
	})
	return products, nil
}

func (s *Store) live(keep func(entity.Product) bool) []entity.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var products []entity.Product
	for _, rec := range s.products {
		if rec.deletedAt == nil && keep(rec.product) {
			products = append(products, copyProduct(rec.product))
		}
	}
	return products
}

func (s *Store) UpdatePrice(ctx context.Context, id int64, price decimal.Decimal) error {
	price, err := repository.CatalogPrice(price)
	if err != nil {
		return fmt.Errorf("failed to update price of product %d: %w", id, err)
	}
	sem, err := s.acquire(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to update price of product %d: %w", id, err)
	}
	defer sem.Release(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.products[id]
	if !ok || rec.deletedAt != nil {
		return repository.ErrNotFound
	}
	rec.product.Price = price
	rec.product.UpdatedAt = time.Now().UTC()
	return nil
}

// Delete soft-deletes a product once no unit of work holds its lock.
func (s *Store) Delete(ctx context.Context, id int64) error {
	sem, err := s.acquire(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete product %d: %w", id, err)
	}
	defer sem.Release(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.products[id]
	if !ok || rec.deletedAt != nil {
		return repository.ErrNotFound
	}
	now := time.Now().UTC()
	rec.deletedAt = &now
	rec.product.UpdatedAt = now
	return nil
}

func (s *Store) Seed(ctx context.Context, products []entity.Product) error {
	s.mu.RLock()
	count := len(s.products)
	s.mu.RUnlock()
	if count > 0 {
		return nil // already seeded
	}
	for i := range products {
		if err := s.Create(ctx, &products[i]); err != nil {
			return fmt.Errorf("failed to seed product: %w", err)
		}
	}
	return nil
}

func (s *Store) FindWithItemsAndProducts(_ context.Context, id int64) (*entity.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	o.Items = s.itemsWithProducts(id)
	return &o, nil
}

func (s *Store) FindRecent(_ context.Context, limit int) ([]entity.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	orders := make([]entity.Order, 0, len(s.orders))
	for _, o := range s.orders {
		orders = append(orders, o)
	}
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID > orders[j].ID
	})
	if limit >= 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	for i := range orders {
		orders[i].Items = s.itemsWithProducts(orders[i].ID)
	}
	return orders, nil
}

// itemsWithProducts must be called with s.mu held.
func (s *Store) itemsWithProducts(orderID int64) []entity.OrderItem {
	stored := s.items[orderID]
	items := make([]entity.OrderItem, len(stored))
	copy(items, stored)
	for i := range items {
		if rec, ok := s.products[items[i].ProductID]; ok && rec.deletedAt == nil {
			p := copyProduct(rec.product)
			items[i].Product = &p
		}
	}
	return items
}

func (s *Store) LoadMovements(_ context.Context, productID int64) ([]entity.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	movements := make([]entity.StockMovement, len(s.movements[productID]))
	copy(movements, s.movements[productID])
	return movements, nil
}

func copyProduct(p entity.Product) entity.Product {
	if p.LowStockThreshold != nil {
		t := *p.LowStockThreshold
		p.LowStockThreshold = &t
	}
	return p
}
