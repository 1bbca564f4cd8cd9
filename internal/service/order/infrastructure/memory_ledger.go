package infrastructure

import (
	"checkout/internal/service/order/domain"
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLedger 是进程内的 domain.Ledger 实现，用于本地运行和测试。
// 单把互斥锁使每次 ApplyIfVersion 都是原子的。
type MemoryLedger struct {
	mu       sync.RWMutex
	orders   map[string]*domain.Order
	byNumber map[string]string
	history  map[string][]domain.StatusChange
	outbox   []domain.OutboxMessage
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		orders:   make(map[string]*domain.Order),
		byNumber: make(map[string]string),
		history:  make(map[string][]domain.StatusChange),
	}
}

func (l *MemoryLedger) Create(_ context.Context, o *domain.Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.orders[o.ID]; ok {
		return domain.ErrDuplicateOrder
	}
	if _, ok := l.byNumber[o.Number]; ok {
		return domain.ErrDuplicateOrder
	}
	l.orders[o.ID] = o.Clone()
	l.byNumber[o.Number] = o.ID
	return nil
}

func (l *MemoryLedger) Read(_ context.Context, orderID string) (*domain.Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	o, ok := l.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (l *MemoryLedger) ReadByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	l.mu.RLock()
	id, ok := l.byNumber[orderNumber]
	l.mu.RUnlock()
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return l.Read(ctx, id)
}

func (l *MemoryLedger) ApplyIfVersion(_ context.Context, orderID string, expectedVersion int64, m domain.Mutation) (*domain.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	current, ok := l.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	if current.Version != expectedVersion {
		return nil, domain.ErrConflict
	}
	next, err := m.ApplyTo(current)
	if err != nil {
		return nil, err
	}

	outbox := make([]domain.OutboxMessage, 0, len(m.Signals))
	for _, s := range m.Signals {
		payload, err := json.Marshal(s)
		if err != nil {
			return nil, err
		}
		outbox = append(outbox, domain.OutboxMessage{
			ID:        uuid.NewString(),
			OrderID:   orderID,
			Kind:      s.Kind,
			Payload:   payload,
			CreatedAt: m.At,
		})
	}

	l.orders[orderID] = next
	if m.ChangesState() {
		l.history[orderID] = append(l.history[orderID], domain.StatusChange{
			OrderID:   orderID,
			From:      m.From,
			To:        m.To,
			Trigger:   m.Trigger,
			Note:      m.Note,
			CreatedAt: m.At,
		})
	}
	l.outbox = append(l.outbox, outbox...)
	return next.Clone(), nil
}

func (l *MemoryLedger) ListDue(_ context.Context, now time.Time, limit int) ([]*domain.Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var due []*domain.Order
	for _, o := range l.orders {
		if o.State == domain.StateAwaitingPayment && o.DeadlinePassed(now) {
			due = append(due, o.Clone())
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].PaymentDeadline.Before(due[j].PaymentDeadline) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (l *MemoryLedger) History(_ context.Context, orderID string) ([]domain.StatusChange, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]domain.StatusChange(nil), l.history[orderID]...), nil
}

func (l *MemoryLedger) PendingOutbox(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var pending []domain.OutboxMessage
	for _, m := range l.outbox {
		if m.PublishedAt == nil {
			pending = append(pending, m)
			if limit > 0 && len(pending) == limit {
				break
			}
		}
	}
	return pending, nil
}

func (l *MemoryLedger) MarkPublished(_ context.Context, ids []string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	for i := range l.outbox {
		if _, ok := set[l.outbox[i].ID]; ok {
			t := at
			l.outbox[i].PublishedAt = &t
		}
	}
	return nil
}
