package infrastructure

import (
	"checkout/internal/service/order/domain"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// GormLedger 是 domain.Ledger 的 GORM 实现。
// 版本校验通过 UPDATE ... WHERE id = ? AND version = ? 完成，受影响行数为 0 即冲突；
// 支付尝试、状态历史、outbox 与订单行在同一事务中写入。
type GormLedger struct {
	db *gorm.DB
}

// NewGormLedger 创建一个新的 GORM 账本实例
func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

// AutoMigrate 创建或更新账本需要的表
func (r *GormLedger) AutoMigrate() error {
	return r.db.AutoMigrate(&OrderModel{}, &PaymentAttemptModel{}, &StatusHistoryModel{}, &OutboxModel{})
}

func (r *GormLedger) Create(ctx context.Context, o *domain.Order) error {
	err := r.db.WithContext(ctx).Create(FromDomainOrder(o)).Error
	if isDuplicateKey(err) {
		return domain.ErrDuplicateOrder
	}
	return errors.Wrapf(err, "create order %s", o.ID)
}

func (r *GormLedger) Read(ctx context.Context, orderID string) (*domain.Order, error) {
	return r.load(r.db.WithContext(ctx), "id = ?", orderID)
}

func (r *GormLedger) ReadByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	return r.load(r.db.WithContext(ctx), "order_number = ?", orderNumber)
}

func (r *GormLedger) load(db *gorm.DB, query string, arg interface{}) (*domain.Order, error) {
	var model OrderModel
	err := db.Preload("Attempts", func(db *gorm.DB) *gorm.DB {
		return db.Order("id ASC")
	}).Where(query, arg).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, errors.Wrap(err, "load order")
	}
	return ToDomainOrder(&model), nil
}

func (r *GormLedger) ApplyIfVersion(ctx context.Context, orderID string, expectedVersion int64, m domain.Mutation) (*domain.Order, error) {
	var result *domain.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := r.load(tx, "id = ?", orderID)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return domain.ErrConflict
		}
		next, err := m.ApplyTo(current)
		if err != nil {
			return err
		}

		res := tx.Model(&OrderModel{}).
			Where("id = ? AND version = ?", orderID, expectedVersion).
			Updates(map[string]interface{}{
				"state":               string(next.State),
				"paid_at":             toNullTime(next.PaidAt),
				"cancellation_reason": next.CancellationReason,
				"refund_reason":       next.RefundReason,
				"refund_ref":          next.RefundRef,
				"version":             next.Version,
				"updated_at":          next.UpdatedAt,
			})
		if res.Error != nil {
			return errors.Wrap(res.Error, "update order")
		}
		// 并发写者已经推进了版本
		if res.RowsAffected == 0 {
			return domain.ErrConflict
		}

		if m.Attempt != nil {
			if err := r.saveAttempt(tx, orderID, next.Attempt(m.Attempt.GatewayRef)); err != nil {
				return err
			}
		}
		if m.ChangesState() {
			history := &StatusHistoryModel{
				OrderID:    orderID,
				FromStatus: string(m.From),
				ToStatus:   string(m.To),
				Trigger:    string(m.Trigger),
				Note:       m.Note,
				CreatedAt:  m.At,
			}
			if err := tx.Create(history).Error; err != nil {
				return errors.Wrap(err, "append status history")
			}
		}
		for _, s := range m.Signals {
			payload, err := json.Marshal(s)
			if err != nil {
				return errors.Wrap(err, "marshal signal")
			}
			row := &OutboxModel{ID: uuid.NewString(), OrderID: orderID, Kind: string(s.Kind), Payload: payload, CreatedAt: m.At}
			if err := tx.Create(row).Error; err != nil {
				return errors.Wrap(err, "write outbox")
			}
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// saveAttempt 新增支付尝试，或把 Pending 记录落定；已落定的记录不会被改写
func (r *GormLedger) saveAttempt(tx *gorm.DB, orderID string, a *domain.PaymentAttempt) error {
	model := FromDomainAttempt(orderID, *a)
	var existing PaymentAttemptModel
	err := tx.Where("gateway_ref = ?", a.GatewayRef).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := tx.Create(model).Error; err != nil {
			if isDuplicateKey(err) {
				return domain.ErrConflict
			}
			return errors.Wrap(err, "insert payment attempt")
		}
		return nil
	case err != nil:
		return errors.Wrap(err, "load payment attempt")
	}
	if existing.OrderID != orderID {
		return errors.Wrapf(domain.ErrIllegalTransition, "gateway ref %s belongs to another order", a.GatewayRef)
	}

	res := tx.Model(&PaymentAttemptModel{}).
		Where("gateway_ref = ? AND status = ?", a.GatewayRef, string(domain.AttemptPending)).
		Updates(map[string]interface{}{
			"gateway_trade_no":  model.GatewayTradeNo,
			"status":            model.Status,
			"reported_amount":   model.ReportedAmount,
			"reported_currency": model.ReportedCurrency,
			"response_code":     model.ResponseCode,
			"bank_code":         model.BankCode,
			"verified_at":       model.VerifiedAt,
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "settle payment attempt")
	}
	if res.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormLedger) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Order, error) {
	var models []OrderModel
	err := r.db.WithContext(ctx).
		Preload("Attempts").
		Where("state = ? AND payment_deadline <= ?", string(domain.StateAwaitingPayment), now.UTC()).
		Order("payment_deadline ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "list due orders")
	}
	orders := make([]*domain.Order, 0, len(models))
	for i := range models {
		orders = append(orders, ToDomainOrder(&models[i]))
	}
	return orders, nil
}

func (r *GormLedger) History(ctx context.Context, orderID string) ([]domain.StatusChange, error) {
	var models []StatusHistoryModel
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id ASC").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "load status history")
	}
	changes := make([]domain.StatusChange, 0, len(models))
	for i := range models {
		changes = append(changes, ToDomainStatusChange(&models[i]))
	}
	return changes, nil
}

func (r *GormLedger) PendingOutbox(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	var models []OutboxModel
	err := r.db.WithContext(ctx).
		Where("published_at IS NULL").
		Order("seq ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "load pending outbox")
	}
	msgs := make([]domain.OutboxMessage, 0, len(models))
	for _, m := range models {
		msgs = append(msgs, domain.OutboxMessage{
			ID:        m.ID,
			OrderID:   m.OrderID,
			Kind:      domain.SignalKind(m.Kind),
			Payload:   m.Payload,
			CreatedAt: m.CreatedAt.UTC(),
		})
	}
	return msgs, nil
}

func (r *GormLedger) MarkPublished(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Model(&OutboxModel{}).
		Where("id IN ?", ids).
		Update("published_at", at).Error
	return errors.Wrap(err, "mark outbox published")
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	// sqlite 驱动未开启错误翻译时
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
