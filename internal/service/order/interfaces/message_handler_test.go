package interfaces

import (
	"checkout/internal/service/order/domain/port"
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestManualInterventionHandler_NeverFails(t *testing.T) {
	h := NewManualInterventionHandler()
	payload, _ := json.Marshal(port.ManualIntervention{OrderID: "O1", Kind: "REFUND_FAILED", Reason: "gateway down"})
	for _, value := range [][]byte{payload, []byte("not json")} {
		if err := h.Handle(context.Background(), kafka.Message{Value: value}); err != nil {
			t.Fatalf("Handle(%q) = %v", value, err)
		}
	}
}

func TestExpirationHandler_RejectsBadPayload(t *testing.T) {
	h := NewExpirationHandler(nil)
	for _, value := range []string{"{", `{"order_id":""}`} {
		if err := h.Handle(context.Background(), kafka.Message{Value: []byte(value)}); err == nil {
			t.Fatalf("Handle(%q) expected error", value)
		}
	}
}
