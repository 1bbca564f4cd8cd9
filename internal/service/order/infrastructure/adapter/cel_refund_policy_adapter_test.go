package adapter

import (
	"checkout/internal/service/order/domain"
	"sync"
	"testing"
	"time"
)

func TestCELRefundPolicy_Eligible(t *testing.T) {
	p, err := NewCELRefundPolicy("")
	if err != nil {
		t.Fatalf("NewCELRefundPolicy: %v", err)
	}
	paidAt := gwNow
	o := &domain.Order{Amount: domain.Money{Amount: 250000, Currency: "VND"}, PaidAt: &paidAt}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"same day", gwNow.Add(time.Hour), true},
		{"exactly seven days", gwNow.Add(168 * time.Hour), true},
		{"eight days", gwNow.Add(192 * time.Hour), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Eligible(o, tt.now)
			if err != nil {
				t.Fatalf("Eligible: %v", err)
			}
			if got != tt.want {
				t.Errorf("Eligible() = %v, want %v", got, tt.want)
			}
		})
	}

	if ok, err := p.Eligible(&domain.Order{}, gwNow); ok || err != nil {
		t.Errorf("unpaid order: ok=%v err=%v", ok, err)
	}
}

func TestCELRefundPolicy_CustomExpression(t *testing.T) {
	p, err := NewCELRefundPolicy(`amount < 1000000 && currency == "VND"`)
	if err != nil {
		t.Fatalf("NewCELRefundPolicy: %v", err)
	}
	paidAt := gwNow
	small := &domain.Order{Amount: domain.Money{Amount: 250000, Currency: "VND"}, PaidAt: &paidAt}
	large := &domain.Order{Amount: domain.Money{Amount: 5000000, Currency: "VND"}, PaidAt: &paidAt}
	if ok, _ := p.Eligible(small, gwNow); !ok {
		t.Error("small order should be refundable")
	}
	if ok, _ := p.Eligible(large, gwNow); ok {
		t.Error("large order should not be refundable")
	}
}

func TestCELRefundPolicy_RejectsBadExpressions(t *testing.T) {
	for _, expr := range []string{`now - `, `amount + 1`, `unknown_var > 3`} {
		if _, err := NewCELRefundPolicy(expr); err == nil {
			t.Errorf("NewCELRefundPolicy(%q) should fail", expr)
		}
	}
}

// 配置中的表达式变化后，下一次判断即按新规则执行；非法表达式不替换现有规则
func TestReloadingRefundPolicy_FollowsSource(t *testing.T) {
	var mu sync.Mutex
	expr := ""
	source := func() string {
		mu.Lock()
		defer mu.Unlock()
		return expr
	}
	set := func(e string) {
		mu.Lock()
		expr = e
		mu.Unlock()
	}

	p, err := NewReloadingRefundPolicy(source)
	if err != nil {
		t.Fatalf("NewReloadingRefundPolicy: %v", err)
	}
	paidAt := gwNow
	o := &domain.Order{Amount: domain.Money{Amount: 250000, Currency: "VND"}, PaidAt: &paidAt}
	now := gwNow.Add(48 * time.Hour)

	steps := []struct {
		name string
		expr string
		want bool
	}{
		{"default seven days", "", true},
		{"shortened to one day", `now - paid_at <= duration("24h")`, false},
		{"invalid keeps one day", `now - `, false},
		{"widened to three days", `now - paid_at <= duration("72h")`, true},
	}
	for _, st := range steps {
		set(st.expr)
		got, err := p.Eligible(o, now)
		if err != nil {
			t.Fatalf("%s: Eligible: %v", st.name, err)
		}
		if got != st.want {
			t.Errorf("%s: Eligible() = %v, want %v", st.name, got, st.want)
		}
	}
}

func TestNewReloadingRefundPolicy_RejectsBadInitialExpression(t *testing.T) {
	if _, err := NewReloadingRefundPolicy(func() string { return "amount + 1" }); err == nil {
		t.Fatal("expected error for non-bool initial expression")
	}
}
