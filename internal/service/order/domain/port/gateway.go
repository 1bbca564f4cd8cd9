package port

import (
	"checkout/internal/service/order/domain"
	"context"
	"time"
)

// CallbackData 是通过签名校验后的网关回调内容，此前的任何字段都不可信
type CallbackData struct {
	OrderNumber  string
	GatewayRef   string // 商户侧提交给网关的交易号，每次支付尝试唯一
	TradeNo      string // 网关侧流水号
	ResponseCode string
	BankCode     string
	Amount       domain.Money
	Success      bool
	PaidAt       time.Time
}

type PaymentURLRequest struct {
	Order      *domain.Order
	GatewayRef string
	ClientIP   string
	Locale     string
	Now        time.Time
}

type RefundRequest struct {
	OrderNumber string
	GatewayRef  string
	Amount      domain.Money
	Reason      string
	RequestedBy string
	Now         time.Time
}

type RefundResult struct {
	RefundRef string
}

// PaymentGateway 是支付网关的出站端口：出站签名跳转链接、入站签名回调与退款接口
type PaymentGateway interface {
	// Authenticate 校验回调签名并解析内容；失败返回 domain.ErrInvalidSignature / ErrMalformedPayload
	Authenticate(ctx context.Context, params map[string]string) (*CallbackData, error)
	// NewGatewayRef 为一次新的支付尝试生成交易号
	NewGatewayRef(o *domain.Order, now time.Time) string
	PaymentURL(ctx context.Context, req PaymentURLRequest) (string, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	// SupportsCurrency 网关不受理的币种无法生成支付链接，应在下单时拒绝
	SupportsCurrency(currency string) bool
}
