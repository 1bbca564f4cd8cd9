package domain

import "errors"

// 完整性类错误：记录日志，对客户只展示通用失败信息，永不自动重试，永不改变订单状态
var (
	ErrInvalidSignature = errors.New("invalid gateway signature")
	ErrMalformedPayload = errors.New("malformed gateway payload")
	ErrAmountMismatch   = errors.New("reported amount does not match order amount")
)

// 客户输入类错误：原样返回给客户
var (
	ErrIllegalTransition = errors.New("illegal transition")
	ErrInvalidReason     = errors.New("reason must not be empty")
)

var (
	// ErrConflict 乐观锁版本冲突，由编排器在内部重读重试
	ErrConflict = errors.New("order version conflict")
	// ErrGatewayTimeout 网关校验超时，按支付失败处理，客户可重试
	ErrGatewayTimeout = errors.New("payment gateway timed out")

	ErrOrderNotFound  = errors.New("order not found")
	ErrDuplicateOrder = errors.New("order already exists")
	ErrInvalidOrder   = errors.New("invalid order")
)

// IsIntegrity 判断是否为完整性类错误
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrMalformedPayload) ||
		errors.Is(err, ErrAmountMismatch)
}

// IsClientInput 判断是否为客户输入类错误
func IsClientInput(err error) bool {
	return errors.Is(err, ErrIllegalTransition) || errors.Is(err, ErrInvalidReason)
}
