package engine

import (
	"context"
	"errors"
	"time"
)

// permanentError 标记不可重试的失败。
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent 包装 err，令 RetryPolicy 立即放弃重试。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// RetryPolicy 有界线性退避：第 i 次失败后等待 i*Backoff 再试。
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// Do 执行 op 直到成功、尝试耗尽、遇到 Permanent 错误或 ctx 取消。
// ctx 只约束两次尝试之间的等待，不注入 op 内部。
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = op(); err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Backoff * time.Duration(i)):
		}
	}
	return err
}
