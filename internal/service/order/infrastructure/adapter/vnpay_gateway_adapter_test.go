package adapter

import (
	"checkout/internal/pkg/httpclient"
	"checkout/internal/service/order/domain"
	"checkout/internal/service/order/domain/port"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"
)

const testSecret = "SECRETKEY"

var gwNow = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func testOrder(t *testing.T) *domain.Order {
	t.Helper()
	o, err := domain.NewOrder("o-1", "DH202506011500001234", "c-1", domain.Money{Amount: 250000, Currency: "VND"}, gwNow, 15*time.Minute)
	if err != nil {
		t.Fatalf("NewOrder: %v", err)
	}
	return o
}

func newTestGateway(refundURL string) *VNPayGateway {
	client := httpclient.NewClient(noop.NewTracerProvider().Tracer(""), 2*time.Second)
	return NewVNPayGateway(VNPayConfig{
		TmnCode:    "TMN01",
		HashSecret: testSecret,
		PayURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		RefundURL:  refundURL,
		ReturnURL:  "https://shop.example/payment/return",
	}, client)
}

// signedCallback 模拟网关回调：对参数签名后附上 vnp_SecureHash
func signedCallback(params map[string]string) map[string]string {
	v := url.Values{}
	for k, val := range params {
		v.Set(k, val)
	}
	out := make(map[string]string, len(params)+1)
	for k, val := range params {
		out[k] = val
	}
	out["vnp_SecureHash"] = Sign(v, testSecret)
	return out
}

func TestSign_IgnoresEmptyValuesAndHashFields(t *testing.T) {
	a := url.Values{"vnp_Amount": {"100"}, "vnp_TxnRef": {"x_1"}}
	b := url.Values{"vnp_TxnRef": {"x_1"}, "vnp_Amount": {"100"}, "vnp_BankCode": {""}, "vnp_SecureHash": {"abc"}, "vnp_SecureHashType": {"SHA512"}}
	if Sign(a, testSecret) != Sign(b, testSecret) {
		t.Fatal("signature should ignore empty values and hash fields")
	}
	if Sign(a, testSecret) == Sign(a, "other") {
		t.Fatal("signature should depend on the secret")
	}
	if got := len(Sign(a, testSecret)); got != 128 {
		t.Fatalf("hex sha512 length = %d", got)
	}
}

func TestVNPayGateway_SupportsCurrency(t *testing.T) {
	g := newTestGateway("")
	for currency, want := range map[string]bool{"VND": true, "vnd": true, "USD": false, "": false} {
		if got := g.SupportsCurrency(currency); got != want {
			t.Errorf("SupportsCurrency(%q) = %v, want %v", currency, got, want)
		}
	}
}

func TestVNPayGateway_GatewayRef(t *testing.T) {
	g := newTestGateway("")
	o := testOrder(t)
	ref := g.NewGatewayRef(o, gwNow)
	if !strings.HasPrefix(ref, "202506011500001234_") {
		t.Fatalf("ref = %q", ref)
	}
	number, ok := OrderNumberFromRef(ref)
	if !ok || number != o.Number {
		t.Fatalf("OrderNumberFromRef(%q) = %q, %v", ref, number, ok)
	}
	if _, ok := OrderNumberFromRef("noseparator"); ok {
		t.Fatal("ref without separator should not parse")
	}
}

func TestVNPayGateway_PaymentURLIsVerifiable(t *testing.T) {
	g := newTestGateway("")
	o := testOrder(t)
	ref := g.NewGatewayRef(o, gwNow)

	raw, err := g.PaymentURL(context.Background(), port.PaymentURLRequest{Order: o, GatewayRef: ref, ClientIP: "10.0.0.1", Now: gwNow})
	if err != nil {
		t.Fatalf("PaymentURL: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	q := u.Query()
	if q.Get("vnp_Amount") != "25000000" || q.Get("vnp_TxnRef") != ref || q.Get("vnp_CreateDate") != "20250601150000" {
		t.Fatalf("unexpected params: %v", q)
	}
	if q.Get("vnp_ExpireDate") != "20250601151500" {
		t.Fatalf("expire date = %s", q.Get("vnp_ExpireDate"))
	}
	if Sign(q, testSecret) != q.Get("vnp_SecureHash") {
		t.Fatal("outbound signature does not verify")
	}
}

func TestVNPayGateway_Authenticate(t *testing.T) {
	g := newTestGateway("")
	base := map[string]string{
		"vnp_TxnRef":            "202506011500001234_1748764800",
		"vnp_Amount":            "25000000",
		"vnp_ResponseCode":      "00",
		"vnp_TransactionStatus": "00",
		"vnp_TransactionNo":     "14012345",
		"vnp_BankCode":          "NCB",
		"vnp_PayDate":           "20250601150030",
		"vnp_OrderInfo":         "Payment for order DH202506011500001234",
	}
	with := func(k, v string) map[string]string {
		m := make(map[string]string, len(base))
		for key, val := range base {
			m[key] = val
		}
		m[k] = v
		return m
	}

	t.Run("valid success", func(t *testing.T) {
		cb, err := g.Authenticate(context.Background(), signedCallback(base))
		if err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		if !cb.Success || cb.OrderNumber != "DH202506011500001234" || cb.Amount.Amount != 250000 || cb.TradeNo != "14012345" {
			t.Fatalf("unexpected callback: %+v", cb)
		}
		if !cb.PaidAt.Equal(time.Date(2025, 6, 1, 8, 0, 30, 0, time.UTC)) {
			t.Fatalf("paid at = %v", cb.PaidAt)
		}
	})

	t.Run("declined", func(t *testing.T) {
		cb, err := g.Authenticate(context.Background(), signedCallback(with("vnp_ResponseCode", "24")))
		if err != nil || cb.Success {
			t.Fatalf("declined callback: %+v %v", cb, err)
		}
	})

	tests := []struct {
		name   string
		params map[string]string
		want   error
	}{
		{"missing hash", base, domain.ErrInvalidSignature},
		{"tampered amount", func() map[string]string {
			m := signedCallback(base)
			m["vnp_Amount"] = "100"
			return m
		}(), domain.ErrInvalidSignature},
		{"bad ref", signedCallback(with("vnp_TxnRef", "garbage")), domain.ErrMalformedPayload},
		{"fractional amount", signedCallback(with("vnp_Amount", "25000050")), domain.ErrMalformedPayload},
		{"bad pay date", signedCallback(with("vnp_PayDate", "yesterday")), domain.ErrMalformedPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := g.Authenticate(context.Background(), tt.params); !errors.Is(err, tt.want) {
				t.Fatalf("Authenticate() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestVNPayGateway_Refund(t *testing.T) {
	var got vnpRefundRequest
	code := "00"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode refund body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(vnpRefundResponse{ResponseCode: code, Message: "ok", TransactionNo: "RF-1"})
	}))
	defer srv.Close()

	g := newTestGateway(srv.URL)
	req := port.RefundRequest{
		OrderNumber: "DH202506011500001234",
		GatewayRef:  "202506011500001234_1748764800",
		Amount:      domain.Money{Amount: 250000, Currency: "VND"},
		Reason:      "changed mind",
		RequestedBy: "refund-worker",
		Now:         gwNow.Add(time.Hour),
	}
	res, err := g.Refund(context.Background(), req)
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if res.RefundRef != "RF-1" {
		t.Fatalf("refund ref = %q", res.RefundRef)
	}
	if got.Amount != "25000000" || got.TransactionDate != "20250601150000" || got.TransactionType != "02" || got.SecureHash == "" {
		t.Fatalf("unexpected refund request: %+v", got)
	}

	code = "94"
	var rerr *RefundError
	if _, err := g.Refund(context.Background(), req); !errors.As(err, &rerr) || rerr.Code != "94" {
		t.Fatalf("Refund() error = %v, want RefundError", err)
	}
}
