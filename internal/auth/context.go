package auth

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

type subjectKey struct{}

// WithSubject 记录通过认证的调用方。nil 或零地址的主体不会写入上下文，
// 这样下游只需判断签名者是否存在。
func WithSubject(ctx context.Context, subject *Subject) context.Context {
	if subject == nil || subject.Address == (common.Address{}) {
		return ctx
	}
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFromContext 返回上下文中的调用方，没有时返回 nil。
func SubjectFromContext(ctx context.Context) *Subject {
	if ctx == nil {
		return nil
	}
	subject, _ := ctx.Value(subjectKey{}).(*Subject)
	return subject
}

// SignerFromContext 返回作为账本签名者的调用方地址，ok 为 false 表示请求没有调用方。
func SignerFromContext(ctx context.Context) (common.Address, bool) {
	subject := SubjectFromContext(ctx)
	if subject == nil {
		return common.Address{}, false
	}
	return subject.Address, true
}
