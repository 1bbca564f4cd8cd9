package interfaces

import (
	"checkout/internal/service/order/domain"
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// StatusChangeEvent 推送给 websocket 观察者的状态变化
type StatusChangeEvent struct {
	OrderID string       `json:"order_id"`
	From    domain.State `json:"from"`
	To      domain.State `json:"to"`
	Reason  string       `json:"reason,omitempty"`
}

// HandleStatusChange 把 STATUS_CHANGED 信号转发给该订单的观察者
func (h *WatchHub) HandleStatusChange(_ context.Context, msg kafka.Message) error {
	var sig domain.Signal
	if err := json.Unmarshal(msg.Value, &sig); err != nil {
		return fmt.Errorf("failed to unmarshal status change: %w", err)
	}
	payload, err := json.Marshal(StatusChangeEvent{OrderID: sig.OrderID, From: sig.From, To: sig.To, Reason: sig.Reason})
	if err != nil {
		return err
	}
	h.Broadcast(sig.OrderID, payload)
	return nil
}
