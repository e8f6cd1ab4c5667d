package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	perrors "github.com/EthanQC/canvas-collab/pkg/errors"
)

// DefaultTTL 会话令牌默认有效期，和托管 Web 会话一致
const DefaultTTL = 2 * time.Hour

// Identity 令牌里携带的身份与画布
type Identity struct {
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	CanvasID  string    `json:"canvas_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type sessionClaims struct {
	UserName string `json:"user_name"`
	CanvasID string `json:"canvas_id"`
	jwt.RegisteredClaims
}

// Manager 负责会话令牌的签发与校验
type Manager interface {
	Issue(userID, userName, canvasID string) (string, *Identity, error)
	// IssueUntil 签发不晚于 notAfter 过期的令牌
	IssueUntil(userID, userName, canvasID string, notAfter time.Time) (string, *Identity, error)
	Verify(tokenStr string) (*Identity, error)
}

type manager struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

type Option func(*manager)

// WithClock 替换时钟，测试用
func WithClock(now func() time.Time) Option {
	return func(m *manager) { m.now = now }
}

func WithIssuer(issuer string) Option {
	return func(m *manager) { m.issuer = issuer }
}

// NewManager 用进程级 secret 构造 Manager，更换 secret 会使所有旧令牌失效
func NewManager(secret string, ttl time.Duration, opts ...Option) (Manager, error) {
	if secret == "" {
		return nil, fmt.Errorf("session secret is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	m := &manager{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: "canvas-presence",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *manager) Issue(userID, userName, canvasID string) (string, *Identity, error) {
	return m.IssueUntil(userID, userName, canvasID, time.Time{})
}

func (m *manager) IssueUntil(userID, userName, canvasID string, notAfter time.Time) (string, *Identity, error) {
	if userID == "" || canvasID == "" {
		return "", nil, fmt.Errorf("user id and canvas id are required")
	}

	// NumericDate 只有秒精度，签发时就截断，保证 Verify 返回同样的时间
	now := m.now().Truncate(time.Second)
	exp := now.Add(m.ttl)
	if !notAfter.IsZero() && notAfter.Before(exp) {
		exp = notAfter.Truncate(time.Second)
	}
	if !exp.After(now) {
		return "", nil, perrors.AuthError(perrors.ErrTokenExpired)
	}

	claims := sessionClaims{
		UserName: userName,
		CanvasID: canvasID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign session token: %w", err)
	}

	return signed, &Identity{
		UserID:    userID,
		UserName:  userName,
		CanvasID:  canvasID,
		IssuedAt:  now,
		ExpiresAt: exp,
	}, nil
}

// Verify 验签并解析，任何异常都返回 auth_failed，不会返回部分结果
func (m *manager) Verify(tokenStr string) (*Identity, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.now),
	)

	var claims sessionClaims
	tok, err := parser.ParseWithClaims(tokenStr, &claims, func(_ *jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, perrors.AuthError(perrors.ErrTokenExpired)
		}
		return nil, perrors.AuthError(fmt.Errorf("%w: %v", perrors.ErrInvalidToken, err))
	}
	if !tok.Valid || claims.Subject == "" || claims.CanvasID == "" || claims.IssuedAt == nil {
		return nil, perrors.AuthError(perrors.ErrInvalidToken)
	}

	return &Identity{
		UserID:    claims.Subject,
		UserName:  claims.UserName,
		CanvasID:  claims.CanvasID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
