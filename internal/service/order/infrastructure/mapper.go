package infrastructure

import (
	"checkout/internal/service/order/domain"
	"database/sql"
	"time"
)

// ToDomainOrder 将数据库模型转换为领域模型
func ToDomainOrder(model *OrderModel) *domain.Order {
	if model == nil {
		return nil
	}
	o := &domain.Order{
		ID:                 model.ID,
		Number:             model.OrderNumber,
		CustomerID:         model.CustomerID,
		Amount:             domain.Money{Amount: model.Amount, Currency: model.Currency},
		State:              domain.State(model.State),
		PaymentDeadline:    model.PaymentDeadline.UTC(),
		PaidAt:             fromNullTime(model.PaidAt),
		CancellationReason: model.CancellationReason,
		RefundReason:       model.RefundReason,
		RefundRef:          model.RefundRef,
		Version:            model.Version,
		CreatedAt:          model.CreatedAt.UTC(),
		UpdatedAt:          model.UpdatedAt.UTC(),
	}
	for i := range model.Attempts {
		o.Attempts = append(o.Attempts, ToDomainAttempt(&model.Attempts[i]))
	}
	return o
}

func ToDomainAttempt(model *PaymentAttemptModel) domain.PaymentAttempt {
	return domain.PaymentAttempt{
		GatewayRef:     model.GatewayRef,
		GatewayTradeNo: model.GatewayTradeNo,
		Status:         domain.AttemptStatus(model.Status),
		ReportedAmount: domain.Money{Amount: model.ReportedAmount, Currency: model.ReportedCurrency},
		ResponseCode:   model.ResponseCode,
		BankCode:       model.BankCode,
		CreatedAt:      model.CreatedAt.UTC(),
		VerifiedAt:     fromNullTime(model.VerifiedAt),
	}
}

// FromDomainOrder 将领域模型转换为数据库模型（不含支付尝试）
func FromDomainOrder(o *domain.Order) *OrderModel {
	return &OrderModel{
		ID:                 o.ID,
		OrderNumber:        o.Number,
		CustomerID:         o.CustomerID,
		Amount:             o.Amount.Amount,
		Currency:           o.Amount.Currency,
		State:              string(o.State),
		PaymentDeadline:    o.PaymentDeadline,
		PaidAt:             toNullTime(o.PaidAt),
		CancellationReason: o.CancellationReason,
		RefundReason:       o.RefundReason,
		RefundRef:          o.RefundRef,
		Version:            o.Version,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
}

func FromDomainAttempt(orderID string, a domain.PaymentAttempt) *PaymentAttemptModel {
	return &PaymentAttemptModel{
		OrderID:          orderID,
		GatewayRef:       a.GatewayRef,
		GatewayTradeNo:   a.GatewayTradeNo,
		Status:           string(a.Status),
		ReportedAmount:   a.ReportedAmount.Amount,
		ReportedCurrency: a.ReportedAmount.Currency,
		ResponseCode:     a.ResponseCode,
		BankCode:         a.BankCode,
		CreatedAt:        a.CreatedAt,
		VerifiedAt:       toNullTime(a.VerifiedAt),
	}
}

func ToDomainStatusChange(model *StatusHistoryModel) domain.StatusChange {
	return domain.StatusChange{
		OrderID:   model.OrderID,
		From:      domain.State(model.FromStatus),
		To:        domain.State(model.ToStatus),
		Trigger:   domain.Trigger(model.Trigger),
		Note:      model.Note,
		CreatedAt: model.CreatedAt.UTC(),
	}
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
