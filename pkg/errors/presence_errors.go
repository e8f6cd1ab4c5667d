package errors

import (
	"errors"
	"fmt"
)

// 拒绝原因码，随关闭帧/HTTP 响应返回给调用方
const (
	ReasonAuthFailed       = "auth_failed"
	ReasonPermissionDenied = "permission_denied"
	ReasonUnknownClient    = "unknown_client"
)

var (
	// 令牌相关
	ErrInvalidToken = errors.New("invalid session token")
	ErrTokenExpired = errors.New("session token expired")

	// 权限相关
	ErrPermissionDenied = errors.New("no access to canvas")
	ErrCanvasNotFound   = errors.New("canvas not found")

	// 会话相关
	ErrCanvasMismatch  = errors.New("token canvas does not match session")
	ErrUnknownClient   = errors.New("unknown client, rejoin required")
	ErrDuplicateClient = errors.New("client already joined")
	ErrSessionClosed   = errors.New("canvas session closed")
	ErrInvalidAction   = errors.New("invalid presence action")

	// 投递相关
	ErrTransport = errors.New("presence delivery failed")
)

// RefusalError 连接被拒绝的结构化原因，终止本次连接尝试
type RefusalError struct {
	Reason string
	Err    error
}

func (e *RefusalError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *RefusalError) Unwrap() error { return e.Err }

// AuthError 令牌无效或过期，需重新签发令牌
func AuthError(err error) error {
	return &RefusalError{Reason: ReasonAuthFailed, Err: err}
}

// PermissionDenied 用户对画布没有访问权限
func PermissionDenied(err error) error {
	if err == nil {
		err = ErrPermissionDenied
	}
	return &RefusalError{Reason: ReasonPermissionDenied, Err: err}
}

// UnknownClient 客户端已被淘汰或从未加入，需要重新加入
func UnknownClient() error {
	return &RefusalError{Reason: ReasonUnknownClient, Err: ErrUnknownClient}
}

// RefusalReason 提取拒绝原因，非拒绝类错误返回空串
func RefusalReason(err error) string {
	var re *RefusalError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}

// TransportError 单个订阅者投递失败，只记录不外抛
type TransportError struct {
	ClientID string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("deliver to client %s: %v", e.ClientID, e.Err)
}

func (e *TransportError) Unwrap() error { return ErrTransport }
