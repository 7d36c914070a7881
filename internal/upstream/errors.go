package upstream

import (
	"errors"
	"fmt"
)

// Kind 区分上游失败的类别，HTTP 层据此选择 502 响应文案。
type Kind string

const (
	KindUserFetchFailed   Kind = "user_fetch_failed"
	KindAvatarFetchFailed Kind = "avatar_fetch_failed"
	KindMalformedResponse Kind = "malformed_response"
	KindThrottled         Kind = "throttled"
)

// Error 描述一次失败的上游调用。Status 为观测到的 HTTP 状态码，传输层失败时为 0。
type Error struct {
	Kind   Kind
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s: status=%d", msg, e.Status)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError 提取错误链中的 *Error。
func AsError(err error) (*Error, bool) {
	var upstreamErr *Error
	if errors.As(err, &upstreamErr) {
		return upstreamErr, true
	}
	return nil, false
}

// IsKind 判断错误链中是否包含指定类别的上游错误。
func IsKind(err error, kind Kind) bool {
	upstreamErr, ok := AsError(err)
	return ok && upstreamErr.Kind == kind
}
