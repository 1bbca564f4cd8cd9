package application

import (
	"checkout/internal/service/order/domain"
	"context"
	"errors"
	"testing"
	"time"
)

type recordingPublisher struct {
	failOn    int // 第 failOn 次调用失败，0 表示不失败
	calls     int
	published []string
}

func (p *recordingPublisher) Publish(_ context.Context, msg domain.OutboxMessage) error {
	p.calls++
	if p.calls == p.failOn {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, msg.OrderID)
	return nil
}

func TestOutboxRelay_PublishesInOrderAndResumes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"O1", "O2", "O3"} {
		f.seed(t, id)
		if _, err := f.coord.Cancel(ctx, "c-1", id, "no longer needed"); err != nil {
			t.Fatalf("cancel %s: %v", id, err)
		}
	}

	pub := &recordingPublisher{failOn: 2}
	relay := NewOutboxRelay(f.ledger, pub, time.Second, 10, f.clock.Now, nil)

	n, err := relay.RelayOnce(ctx)
	if err == nil || n != 1 {
		t.Fatalf("first cycle: n=%d err=%v", n, err)
	}
	if got := len(f.pendingKinds(t)); got != 2 {
		t.Fatalf("pending after failure = %d, want 2", got)
	}

	n, err = relay.RelayOnce(ctx)
	if err != nil || n != 2 {
		t.Fatalf("second cycle: n=%d err=%v", n, err)
	}
	want := []string{"O1", "O2", "O3"}
	if len(pub.published) != len(want) {
		t.Fatalf("published %v, want %v", pub.published, want)
	}
	for i := range want {
		if pub.published[i] != want[i] {
			t.Fatalf("published %v, want %v", pub.published, want)
		}
	}
	if n, _ := relay.RelayOnce(ctx); n != 0 {
		t.Fatalf("nothing should be left, relayed %d", n)
	}
}
