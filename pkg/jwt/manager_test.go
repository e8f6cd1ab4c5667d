package jwt

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	perrors "github.com/EthanQC/canvas-collab/pkg/errors"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(t *testing.T, secret string) (Manager, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	m, err := NewManager(secret, DefaultTTL, WithClock(clk.now))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, clk
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	m, clk := newTestManager(t, "s3cret")

	tok, issued, err := m.Issue("u1", "Ada", "canvas-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	clk.advance(time.Minute)

	got, err := m.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.UserID != "u1" || got.UserName != "Ada" || got.CanvasID != "canvas-1" {
		t.Fatalf("identity mismatch: got=%+v", got)
	}
	if !got.IssuedAt.Equal(issued.IssuedAt) || !got.ExpiresAt.Equal(issued.ExpiresAt) {
		t.Fatalf("times mismatch: want=%v/%v got=%v/%v", issued.IssuedAt, issued.ExpiresAt, got.IssuedAt, got.ExpiresAt)
	}
	if d := got.ExpiresAt.Sub(got.IssuedAt); d != DefaultTTL {
		t.Fatalf("ttl: want=%v got=%v", DefaultTTL, d)
	}
}

func TestVerifyExpiredIsAlwaysInvalid(t *testing.T) {
	m, clk := newTestManager(t, "s3cret")
	tok, _, err := m.Issue("u3", "Cy", "canvas-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	for _, d := range []time.Duration{DefaultTTL, DefaultTTL + time.Second, 48 * time.Hour} {
		c := *clk
		c.advance(d)
		mm, _ := NewManager("s3cret", DefaultTTL, WithClock(c.now))
		_, err := mm.Verify(tok)
		if !errors.Is(err, perrors.ErrTokenExpired) {
			t.Fatalf("after %v: want ErrTokenExpired got=%v", d, err)
		}
		if r := perrors.RefusalReason(err); r != perrors.ReasonAuthFailed {
			t.Fatalf("reason: want=%s got=%s", perrors.ReasonAuthFailed, r)
		}
	}
}

func TestIssueUntilBoundsExpiry(t *testing.T) {
	m, clk := newTestManager(t, "s3cret")

	web := clk.t.Add(30 * time.Minute)
	_, id, err := m.IssueUntil("u1", "Ada", "c", web)
	if err != nil {
		t.Fatalf("IssueUntil: %v", err)
	}
	if !id.ExpiresAt.Equal(web) {
		t.Fatalf("expiry: want=%v got=%v", web, id.ExpiresAt)
	}

	// 更晚的 notAfter 不会延长默认有效期
	_, id, err = m.IssueUntil("u1", "Ada", "c", clk.t.Add(10*time.Hour))
	if err != nil {
		t.Fatalf("IssueUntil: %v", err)
	}
	if !id.ExpiresAt.Equal(clk.t.Add(DefaultTTL)) {
		t.Fatalf("expiry: want=%v got=%v", clk.t.Add(DefaultTTL), id.ExpiresAt)
	}

	if _, _, err := m.IssueUntil("u1", "Ada", "c", clk.t.Add(-time.Second)); !errors.Is(err, perrors.ErrTokenExpired) {
		t.Fatalf("past notAfter: want ErrTokenExpired got=%v", err)
	}
}

func TestVerifyRejectsForeignOrTamperedTokens(t *testing.T) {
	m, clk := newTestManager(t, "s3cret")
	rotated, _ := NewManager("rotated", DefaultTTL, WithClock(clk.now))

	tok, _, err := m.Issue("u1", "Ada", "canvas-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	parts := strings.Split(tok, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "u1", "canvas_id": "canvas-1", "iss": "canvas-presence",
		"iat": clk.t.Unix(), "exp": clk.t.Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1", "canvas_id": "canvas-1", "iss": "canvas-presence", "iat": clk.t.Unix(),
	}).SignedString([]byte("s3cret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	cases := map[string]struct {
		m   Manager
		tok string
	}{
		"rotated secret": {rotated, tok},
		"bad signature":  {m, tampered},
		"malformed":      {m, "not-a-token"},
		"alg none":       {m, none},
		"missing exp":    {m, noExp},
		"empty":          {m, ""},
	}
	for name, tc := range cases {
		id, err := tc.m.Verify(tc.tok)
		if id != nil || err == nil {
			t.Fatalf("%s: want rejection got id=%+v err=%v", name, id, err)
		}
		if perrors.RefusalReason(err) != perrors.ReasonAuthFailed {
			t.Fatalf("%s: reason want=%s got=%s", name, perrors.ReasonAuthFailed, perrors.RefusalReason(err))
		}
	}
}

func TestNewManagerRequiresSecret(t *testing.T) {
	if _, err := NewManager("", DefaultTTL); err == nil {
		t.Fatalf("empty secret: want error")
	}
	if _, err := NewManager("x", 0); err == nil {
		t.Fatalf("zero ttl: want error")
	}
}

func TestParseWebSession(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	secret := []byte("gateway")

	sign := func(c jwt.MapClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(secret)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}

	ws, err := ParseWebSession(sign(jwt.MapClaims{"user_id": float64(42), "name": "Ada", "exp": now.Add(time.Hour).Unix()}), secret, clock)
	if err != nil {
		t.Fatalf("ParseWebSession: %v", err)
	}
	if ws.UserID != "42" || ws.UserName != "Ada" || !ws.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("got=%+v", ws)
	}

	_, err = ParseWebSession(sign(jwt.MapClaims{"user_id": "42", "exp": now.Add(-time.Second).Unix()}), secret, clock)
	if !errors.Is(err, perrors.ErrTokenExpired) {
		t.Fatalf("expired: want ErrTokenExpired got=%v", err)
	}

	_, err = ParseWebSession(sign(jwt.MapClaims{"exp": now.Add(time.Hour).Unix()}), secret, clock)
	if !errors.Is(err, perrors.ErrInvalidToken) {
		t.Fatalf("missing user: want ErrInvalidToken got=%v", err)
	}
}
