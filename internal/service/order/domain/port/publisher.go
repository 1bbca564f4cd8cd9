package port

import (
	"checkout/internal/service/order/domain"
	"context"
	"time"
)

// SignalPublisher 投递 outbox 中的信号
type SignalPublisher interface {
	Publish(ctx context.Context, msg domain.OutboxMessage) error
}

// ManualIntervention 需要人工处理的订单
type ManualIntervention struct {
	OrderID     string         `json:"order_id"`
	OrderNumber string         `json:"order_number"`
	Kind        string         `json:"kind"`
	GatewayRef  string         `json:"gateway_ref,omitempty"`
	Amount      domain.Money   `json:"amount"`
	Reason      string         `json:"reason"`
	Attempts    int            `json:"attempts"`
	At          time.Time      `json:"at"`
	Signal      *domain.Signal `json:"signal,omitempty"`
}

// ManualInterventionQueue 接收自动补偿失败后需要人工介入的订单
type ManualInterventionQueue interface {
	Escalate(ctx context.Context, item ManualIntervention) error
}
