package jwt

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	perrors "github.com/EthanQC/canvas-collab/pkg/errors"
)

// WebSession 托管 Web 会话的 Bearer 令牌解析结果
type WebSession struct {
	UserID    string
	UserName  string
	ExpiresAt time.Time
}

// ParseWebSession 校验网关签发的 Web 会话令牌（MapClaims: user_id/name/exp）
func ParseWebSession(tokenStr string, secret []byte, now func() time.Time) (*WebSession, error) {
	if now == nil {
		now = time.Now
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	)

	claims := jwt.MapClaims{}
	_, err := parser.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, perrors.AuthError(perrors.ErrTokenExpired)
		}
		return nil, perrors.AuthError(fmt.Errorf("%w: %v", perrors.ErrInvalidToken, err))
	}

	userID := claimString(claims["user_id"])
	if userID == "" {
		userID = claimString(claims["sub"])
	}
	if userID == "" {
		return nil, perrors.AuthError(fmt.Errorf("%w: missing user_id", perrors.ErrInvalidToken))
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, perrors.AuthError(perrors.ErrInvalidToken)
	}

	name := claimString(claims["name"])
	if name == "" {
		name = claimString(claims["user_name"])
	}
	return &WebSession{UserID: userID, UserName: name, ExpiresAt: exp.Time}, nil
}

// user_id 在旧网关里是数字，新网关里是字符串
func claimString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return ""
	}
}
