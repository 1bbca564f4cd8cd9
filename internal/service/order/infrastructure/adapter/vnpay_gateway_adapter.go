package adapter

import (
	"checkout/internal/pkg/httpclient"
	"checkout/internal/service/order/domain"
	"checkout/internal/service/order/domain/port"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	vnpVersion         = "2.1.0"
	vnpCommandPay      = "pay"
	vnpCommandRefund   = "refund"
	vnpCurrency        = "VND"
	vnpOrderType       = "billpayment"
	vnpSuccessCode     = "00"
	vnpFullRefund      = "02"
	vnpTimeLayout      = "20060102150405"
	orderNumberPrefix  = "DH"
	gatewayRefSep      = "_"
	vnpAmountScale     = 100
	fieldSecureHash    = "vnp_SecureHash"
	fieldSecureHashTyp = "vnp_SecureHashType"
)

// vnpLocation 网关的时间字段均为 GMT+7
var vnpLocation = time.FixedZone("GMT+7", 7*60*60)

type VNPayConfig struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	RefundURL  string
	ReturnURL  string
	Locale     string
}

// VNPayGateway 实现了 port.PaymentGateway 接口：
// 出站跳转链接与入站回调均使用 HMAC-SHA512 签名，退款通过 JSON API 调用。
type VNPayGateway struct {
	cfg    VNPayConfig
	client *httpclient.Client
}

// NewVNPayGateway 创建一个新的网关适配器；client 仅用于退款接口
func NewVNPayGateway(cfg VNPayConfig, client *httpclient.Client) *VNPayGateway {
	if cfg.Locale == "" {
		cfg.Locale = "vn"
	}
	return &VNPayGateway{cfg: cfg, client: client}
}

// Sign 对参数按 key 排序、丢弃空值、URL 编码后计算 HMAC-SHA512
func Sign(params url.Values, secret string) string {
	filtered := url.Values{}
	for k, vs := range params {
		if k == fieldSecureHash || k == fieldSecureHashTyp || len(vs) == 0 || vs[0] == "" {
			continue
		}
		filtered.Set(k, vs[0])
	}
	return hmacSHA512(secret, filtered.Encode())
}

func hmacSHA512(secret, data string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// NewGatewayRef 订单号去掉 DH 前缀 + "_" + Unix 秒
func (g *VNPayGateway) NewGatewayRef(o *domain.Order, now time.Time) string {
	return strings.TrimPrefix(o.Number, orderNumberPrefix) + gatewayRefSep + strconv.FormatInt(now.Unix(), 10)
}

// OrderNumberFromRef 从交易号还原订单号
func OrderNumberFromRef(ref string) (string, bool) {
	base, _, ok := strings.Cut(ref, gatewayRefSep)
	if !ok || base == "" {
		return "", false
	}
	return orderNumberPrefix + base, true
}

func refTime(ref string) (time.Time, bool) {
	_, suffix, ok := strings.Cut(ref, gatewayRefSep)
	if !ok {
		return time.Time{}, false
	}
	sec, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(sec, 0), true
}

func (g *VNPayGateway) SupportsCurrency(currency string) bool {
	return strings.EqualFold(currency, vnpCurrency)
}

func (g *VNPayGateway) PaymentURL(_ context.Context, req port.PaymentURLRequest) (string, error) {
	if g.cfg.PayURL == "" || g.cfg.HashSecret == "" {
		return "", fmt.Errorf("vnpay gateway is not configured")
	}
	if !g.SupportsCurrency(req.Order.Amount.Currency) {
		return "", fmt.Errorf("vnpay only accepts %s, order is %s", vnpCurrency, req.Order.Amount.Currency)
	}
	clientIP := req.ClientIP
	if clientIP == "" {
		clientIP = "127.0.0.1"
	}
	locale := req.Locale
	if locale == "" {
		locale = g.cfg.Locale
	}

	params := url.Values{}
	params.Set("vnp_Version", vnpVersion)
	params.Set("vnp_Command", vnpCommandPay)
	params.Set("vnp_TmnCode", g.cfg.TmnCode)
	params.Set("vnp_Amount", strconv.FormatInt(req.Order.Amount.Amount*vnpAmountScale, 10))
	params.Set("vnp_CurrCode", vnpCurrency)
	params.Set("vnp_TxnRef", req.GatewayRef)
	params.Set("vnp_OrderInfo", "Payment for order "+req.Order.Number)
	params.Set("vnp_OrderType", vnpOrderType)
	params.Set("vnp_Locale", locale)
	params.Set("vnp_ReturnUrl", g.cfg.ReturnURL)
	params.Set("vnp_IpAddr", clientIP)
	params.Set("vnp_CreateDate", req.Now.In(vnpLocation).Format(vnpTimeLayout))
	params.Set("vnp_ExpireDate", req.Order.PaymentDeadline.In(vnpLocation).Format(vnpTimeLayout))
	params.Set(fieldSecureHash, Sign(params, g.cfg.HashSecret))

	return g.cfg.PayURL + "?" + params.Encode(), nil
}

// Authenticate 先校验签名，通过之后才解析任何业务字段
func (g *VNPayGateway) Authenticate(_ context.Context, raw map[string]string) (*port.CallbackData, error) {
	received := raw[fieldSecureHash]
	if received == "" {
		return nil, fmt.Errorf("%w: missing %s", domain.ErrInvalidSignature, fieldSecureHash)
	}
	params := url.Values{}
	for k, v := range raw {
		params.Set(k, v)
	}
	expected := Sign(params, g.cfg.HashSecret)
	if !hmac.Equal([]byte(strings.ToLower(received)), []byte(expected)) {
		return nil, domain.ErrInvalidSignature
	}

	ref := raw["vnp_TxnRef"]
	number, ok := OrderNumberFromRef(ref)
	if !ok {
		return nil, fmt.Errorf("%w: bad vnp_TxnRef %q", domain.ErrMalformedPayload, ref)
	}
	scaled, err := strconv.ParseInt(raw["vnp_Amount"], 10, 64)
	if err != nil || scaled < 0 || scaled%vnpAmountScale != 0 {
		return nil, fmt.Errorf("%w: bad vnp_Amount %q", domain.ErrMalformedPayload, raw["vnp_Amount"])
	}
	code := raw["vnp_ResponseCode"]
	if code == "" {
		return nil, fmt.Errorf("%w: missing vnp_ResponseCode", domain.ErrMalformedPayload)
	}
	status := raw["vnp_TransactionStatus"]

	data := &port.CallbackData{
		OrderNumber:  number,
		GatewayRef:   ref,
		TradeNo:      raw["vnp_TransactionNo"],
		ResponseCode: code,
		BankCode:     raw["vnp_BankCode"],
		Amount:       domain.Money{Amount: scaled / vnpAmountScale, Currency: vnpCurrency},
		Success:      code == vnpSuccessCode && (status == "" || status == vnpSuccessCode),
	}
	if payDate := raw["vnp_PayDate"]; payDate != "" {
		t, err := time.ParseInLocation(vnpTimeLayout, payDate, vnpLocation)
		if err != nil {
			return nil, fmt.Errorf("%w: bad vnp_PayDate %q", domain.ErrMalformedPayload, payDate)
		}
		data.PaidAt = t.UTC()
	}
	return data, nil
}

type vnpRefundRequest struct {
	RequestID       string `json:"vnp_RequestId"`
	Version         string `json:"vnp_Version"`
	Command         string `json:"vnp_Command"`
	TmnCode         string `json:"vnp_TmnCode"`
	TransactionType string `json:"vnp_TransactionType"`
	TxnRef          string `json:"vnp_TxnRef"`
	Amount          string `json:"vnp_Amount"`
	OrderInfo       string `json:"vnp_OrderInfo"`
	TransactionNo   string `json:"vnp_TransactionNo,omitempty"`
	TransactionDate string `json:"vnp_TransactionDate"`
	CreateBy        string `json:"vnp_CreateBy"`
	CreateDate      string `json:"vnp_CreateDate"`
	IPAddr          string `json:"vnp_IpAddr"`
	SecureHash      string `json:"vnp_SecureHash"`
}

type vnpRefundResponse struct {
	ResponseCode  string `json:"vnp_ResponseCode"`
	Message       string `json:"vnp_Message"`
	TransactionNo string `json:"vnp_TransactionNo"`
}

// RefundError 表示网关拒绝了退款请求
type RefundError struct {
	Code    string
	Message string
}

func (e *RefundError) Error() string {
	return fmt.Sprintf("vnpay refund rejected: code=%s message=%s", e.Code, e.Message)
}

// Refund 发起全额退款，返回网关的退款流水号
func (g *VNPayGateway) Refund(ctx context.Context, req port.RefundRequest) (*port.RefundResult, error) {
	if g.cfg.RefundURL == "" {
		return nil, fmt.Errorf("vnpay refund url is not configured")
	}
	txnDate := req.Now
	if t, ok := refTime(req.GatewayRef); ok {
		txnDate = t
	}
	body := vnpRefundRequest{
		RequestID:       strings.ReplaceAll(uuid.NewString(), "-", ""),
		Version:         vnpVersion,
		Command:         vnpCommandRefund,
		TmnCode:         g.cfg.TmnCode,
		TransactionType: vnpFullRefund,
		TxnRef:          req.GatewayRef,
		Amount:          strconv.FormatInt(req.Amount.Amount*vnpAmountScale, 10),
		OrderInfo:       "Refund for order " + req.OrderNumber,
		TransactionDate: txnDate.In(vnpLocation).Format(vnpTimeLayout),
		CreateBy:        req.RequestedBy,
		CreateDate:      req.Now.In(vnpLocation).Format(vnpTimeLayout),
		IPAddr:          "127.0.0.1",
	}
	body.SecureHash = hmacSHA512(g.cfg.HashSecret, strings.Join([]string{
		body.RequestID, body.Version, body.Command, body.TmnCode, body.TransactionType, body.TxnRef,
		body.Amount, body.TransactionNo, body.TransactionDate, body.CreateBy, body.CreateDate, body.IPAddr, body.OrderInfo,
	}, "|"))

	var resp vnpRefundResponse
	if err := g.client.PostJSON(ctx, g.cfg.RefundURL, body, &resp); err != nil {
		return nil, err
	}
	if resp.ResponseCode != vnpSuccessCode {
		return nil, &RefundError{Code: resp.ResponseCode, Message: resp.Message}
	}
	return &port.RefundResult{RefundRef: resp.TransactionNo}, nil
}
