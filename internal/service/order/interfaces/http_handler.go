package interfaces

import (
	"checkout/internal/pkg/logger"
	"checkout/internal/service/order/application"
	"checkout/internal/service/order/domain"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName = "order-service"
	// HeaderCustomerID 由上游认证网关写入
	HeaderCustomerID = "X-Customer-ID"
)

// OrderHandler 封装了订单服务的 HTTP 处理器
type OrderHandler struct {
	service *application.OrderService
	coord   *application.Coordinator
	hub     *WatchHub // 可为 nil，此时不提供 watch 接口
	clock   application.Clock
	tracer  trace.Tracer
}

// NewOrderHandler 创建一个新的 HTTP 处理器实例
func NewOrderHandler(service *application.OrderService, coord *application.Coordinator, hub *WatchHub, clock application.Clock) *OrderHandler {
	return &OrderHandler{service: service, coord: coord, hub: hub, clock: clock, tracer: otel.Tracer(serviceName)}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *OrderHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("POST /orders", h.traced("CreateOrder", h.createOrder))
	mux.HandleFunc("GET /orders/{id}", h.traced("GetOrder", h.getOrder))
	mux.HandleFunc("GET /orders/{id}/history", h.traced("History", h.history))
	mux.HandleFunc("POST /orders/{id}/payment", h.traced("InitiatePayment", h.initiatePayment))
	mux.HandleFunc("POST /orders/{id}/cancel", h.traced("Cancel", h.cancel))
	mux.HandleFunc("POST /orders/{id}/refund", h.traced("RequestRefund", h.requestRefund))
	if h.hub != nil {
		mux.HandleFunc("GET /orders/{id}/watch", h.watch)
	}

	mux.HandleFunc("GET /payments/vnpay/return", h.traced("VNPayReturn", h.paymentReturn))
	mux.HandleFunc("GET /payments/vnpay/ipn", h.traced("VNPayIPN", h.paymentIPN))
}

// traced 从请求头恢复上游的追踪上下文并开启一个 server span
func (h *OrderHandler) traced(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := h.tracer.Start(ctx, "http."+name, trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("http.route", r.Pattern)))
		defer span.End()
		next(w, r.WithContext(ctx))
	}
}

type createOrderBody struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type reasonBody struct {
	Reason string `json:"reason"`
}

func (h *OrderHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	customerID, ok := requireCustomer(w, r)
	if !ok {
		return
	}
	var body createOrderBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	view, err := h.service.CreateOrder(r.Context(), &application.CreateOrderRequest{
		CustomerID: customerID,
		Amount:     body.Amount,
		Currency:   body.Currency,
	})
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (h *OrderHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	customerID, ok := requireCustomer(w, r)
	if !ok {
		return
	}
	view, err := h.service.GetOrder(r.Context(), customerID, r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *OrderHandler) history(w http.ResponseWriter, r *http.Request) {
	customerID, ok := requireCustomer(w, r)
	if !ok {
		return
	}
	changes, err := h.service.History(r.Context(), customerID, r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, changes)
}

func (h *OrderHandler) initiatePayment(w http.ResponseWriter, r *http.Request) {
	customerID, ok := requireCustomer(w, r)
	if !ok {
		return
	}
	link, err := h.service.InitiatePayment(r.Context(), customerID, r.PathValue("id"), clientIP(r))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (h *OrderHandler) cancel(w http.ResponseWriter, r *http.Request) {
	h.customerRequest(w, r, h.coord.Cancel)
}

func (h *OrderHandler) requestRefund(w http.ResponseWriter, r *http.Request) {
	h.customerRequest(w, r, h.coord.RequestRefund)
}

func (h *OrderHandler) customerRequest(w http.ResponseWriter, r *http.Request,
	do func(ctx context.Context, customerID, orderID, reason string) (*domain.Order, error)) {
	customerID, ok := requireCustomer(w, r)
	if !ok {
		return
	}
	var body reasonBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	o, err := do(r.Context(), customerID, r.PathValue("id"), body.Reason)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, application.ToOrderView(o, h.clock.Now()))
}

// watch 浏览器无法为 websocket 设置自定义头，允许以 customer_id 查询参数传入
func (h *OrderHandler) watch(w http.ResponseWriter, r *http.Request) {
	customerID := r.Header.Get(HeaderCustomerID)
	if customerID == "" {
		customerID = r.URL.Query().Get("customer_id")
	}
	if customerID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing " + HeaderCustomerID})
		return
	}
	view, err := h.service.GetOrder(r.Context(), customerID, r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	h.hub.Serve(w, r, view.ID, view)
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError 客户输入类错误原样返回，完整性类与内部错误只返回通用信息
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: domain.ErrOrderNotFound.Error()})
	case errors.Is(err, domain.ErrInvalidReason), errors.Is(err, domain.ErrInvalidOrder):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrIllegalTransition):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case domain.IsIntegrity(err):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: application.MessagePaymentFailed})
	case errors.Is(err, domain.ErrGatewayTimeout):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: application.MessagePaymentFailed})
	default:
		logger.Ctx(ctx).Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func requireCustomer(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(HeaderCustomerID))
	if id == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing " + HeaderCustomerID})
		return "", false
	}
	return id, true
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
