package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-guardrelay/core"
	"github.com/golang-jwt/jwt/v5"
)

// Claims are the session claims issued by the platform's login service.
type Claims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type JWTConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// JWTValidator verifies HMAC-signed session tokens and maps their claims onto a Principal.
type JWTValidator struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

func NewJWTValidator(cfg JWTConfig) (*JWTValidator, error) {
	if len(cfg.Secret) == 0 {
		return nil, core.NewError("identity: jwt secret is required", goerrors.CategoryInternal, core.RelayErrorConfigurationDegraded, nil)
	}
	return &JWTValidator{
		secret:   append([]byte(nil), cfg.Secret...),
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: strings.TrimSpace(cfg.Audience),
		leeway:   cfg.Leeway,
		now:      time.Now,
	}, nil
}

func (v *JWTValidator) ValidateToken(ctx context.Context, token string) (core.Principal, error) {
	if err := ctx.Err(); err != nil {
		return core.Principal{}, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return core.Principal{}, rejected(core.ErrTokenRejected, "token is empty")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	if v.leeway > 0 {
		opts = append(opts, jwt.WithLeeway(v.leeway))
	}

	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...); err != nil {
		return core.Principal{}, rejected(err, "token rejected")
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return core.Principal{}, rejected(core.ErrTokenRejected, "token subject is required")
	}

	principal := core.Principal{
		ID:   subject,
		Name: strings.TrimSpace(claims.Name),
		Role: strings.ToLower(strings.TrimSpace(claims.Role)),
	}
	if claims.ExpiresAt != nil {
		principal.Extra = map[string]any{"expires_at": claims.ExpiresAt.Time.UTC()}
	}
	return principal, nil
}

// Issue signs a token for principal. Used by tooling and tests; production tokens come from
// the login service.
func (v *JWTValidator) Issue(principal core.Principal, ttl time.Duration) (string, error) {
	if strings.TrimSpace(principal.ID) == "" {
		return "", fmt.Errorf("identity: principal id is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := v.now()
	claims := Claims{
		Name: principal.Name,
		Role: principal.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.ID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func rejected(err error, message string) error {
	return core.WrapError(err, goerrors.CategoryAuth, "identity: "+message, core.RelayErrorAuthRejected, nil)
}

var _ core.TokenValidator = (*JWTValidator)(nil)
