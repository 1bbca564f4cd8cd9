package interfaces

import (
	"checkout/internal/service/order/application"
	"checkout/internal/service/order/domain"
	"errors"
	"net/http"
)

// VNPay IPN 应答码
const (
	RspConfirmed        = "00"
	RspOrderNotFound    = "01"
	RspAlreadyConfirmed = "02"
	RspInvalidAmount    = "04"
	RspInvalidSignature = "97"
	RspUnknownError     = "99"
)

type returnResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	OrderID string       `json:"order_id,omitempty"`
	State   domain.State `json:"state,omitempty"`
}

type ipnResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// paymentReturn 浏览器跳转回来的回调，失败信息保持笼统
func (h *OrderHandler) paymentReturn(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.HandleCallback(r.Context(), "return", queryParams(r))
	if err != nil {
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, domain.ErrOrderNotFound):
			status = http.StatusNotFound
		case errors.Is(err, domain.ErrGatewayTimeout):
			status = http.StatusServiceUnavailable
		case !domain.IsIntegrity(err):
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, returnResponse{Message: application.MessagePaymentFailed})
		return
	}
	writeJSON(w, http.StatusOK, returnResponse{
		Success: res.Success,
		Message: res.Message,
		OrderID: res.OrderID,
		State:   res.State,
	})
}

// paymentIPN 网关服务端通知，总是以 200 应答，结论体现在 RspCode 中
func (h *OrderHandler) paymentIPN(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.HandleCallback(r.Context(), "ipn", queryParams(r))
	writeJSON(w, http.StatusOK, ipnReply(res, err))
}

// ipnReply 把回调处理结论翻译为网关约定的应答码
func ipnReply(res *application.CallbackResult, err error) ipnResponse {
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidSignature), errors.Is(err, domain.ErrMalformedPayload):
		return ipnResponse{RspCode: RspInvalidSignature, Message: "Invalid signature"}
	case errors.Is(err, domain.ErrOrderNotFound):
		return ipnResponse{RspCode: RspOrderNotFound, Message: "Order not found"}
	default:
		return ipnResponse{RspCode: RspUnknownError, Message: "Unknown error"}
	}
	switch {
	case res.Outcome == application.OutcomeAmountMismatch:
		return ipnResponse{RspCode: RspInvalidAmount, Message: "Invalid amount"}
	case res.Duplicate:
		return ipnResponse{RspCode: RspAlreadyConfirmed, Message: "Order already confirmed"}
	}
	return ipnResponse{RspCode: RspConfirmed, Message: "Confirm Success"}
}

func queryParams(r *http.Request) map[string]string {
	q := r.URL.Query()
	params := make(map[string]string, len(q))
	for k, v := range q {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params
}
