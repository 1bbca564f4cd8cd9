package adapter

import (
	"checkout/internal/pkg/logger"
	"checkout/internal/service/order/domain"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
)

// DefaultRefundPolicy 支付后 7 天内可申请退款
const DefaultRefundPolicy = `now - paid_at <= duration("168h")`

// CELRefundPolicy 是 domain.RefundPolicy 接口的一个具体实现。
// 规则以 CEL 表达式配置，可用变量：now、paid_at (timestamp)，amount (int)，currency (string)。
type CELRefundPolicy struct {
	expr    string
	program cel.Program
}

// NewCELRefundPolicy 编译表达式；表达式不合法或结果不是 bool 时返回错误
func NewCELRefundPolicy(expr string) (*CELRefundPolicy, error) {
	if expr == "" {
		expr = DefaultRefundPolicy
	}
	env, err := cel.NewEnv(
		cel.Variable("now", cel.TimestampType),
		cel.Variable("paid_at", cel.TimestampType),
		cel.Variable("amount", cel.IntType),
		cel.Variable("currency", cel.StringType),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Compile(expr)
	if iss.Err() != nil {
		return nil, fmt.Errorf("invalid refund policy %q: %w", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("refund policy %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	return &CELRefundPolicy{expr: expr, program: prg}, nil
}

// Eligible 未记录支付时间的订单不可退款
func (p *CELRefundPolicy) Eligible(o *domain.Order, now time.Time) (bool, error) {
	if o.PaidAt == nil {
		return false, nil
	}
	out, _, err := p.program.Eval(map[string]interface{}{
		"now":      now.UTC(),
		"paid_at":  o.PaidAt.UTC(),
		"amount":   o.Amount.Amount,
		"currency": o.Amount.Currency,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate refund policy: %w", err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("refund policy returned %T", out.Value())
	}
	return ok, nil
}

// ReloadingRefundPolicy 每次判断时读取当前配置的表达式，表达式变化时重新编译。
// 新表达式编译失败时继续使用上一条可用的规则。
type ReloadingRefundPolicy struct {
	source func() string

	mu      sync.Mutex
	current *CELRefundPolicy
}

func NewReloadingRefundPolicy(source func() string) (*ReloadingRefundPolicy, error) {
	p, err := NewCELRefundPolicy(source())
	if err != nil {
		return nil, err
	}
	return &ReloadingRefundPolicy{source: source, current: p}, nil
}

func (r *ReloadingRefundPolicy) Eligible(o *domain.Order, now time.Time) (bool, error) {
	return r.policy().Eligible(o, now)
}

func (r *ReloadingRefundPolicy) policy() *CELRefundPolicy {
	expr := r.source()
	if expr == "" {
		expr = DefaultRefundPolicy
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if expr == r.current.expr {
		return r.current
	}
	next, err := NewCELRefundPolicy(expr)
	if err != nil {
		logger.L().Error().Err(err).Str("expr", expr).Msg("keeping previous refund policy")
		return r.current
	}
	r.current = next
	logger.L().Info().Str("expr", expr).Msg("🔄 refund policy reloaded")
	return r.current
}
