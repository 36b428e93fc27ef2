package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Context keys for storing authenticated caller information.
type contextKey string

const (
	contextKeyClaims contextKey = "jwt_claims"
)

// Role represents an authorized persona. Operator is a capability granted by
// configuration, not a marketplace account.
type Role string

// Supported roles.
const (
	RoleBuyer    Role = "buyer"
	RoleOperator Role = "operator"
)

var allowedRoles = map[Role]struct{}{
	RoleBuyer:    {},
	RoleOperator: {},
}

// Claims represents identity data extracted from the inbound request.
type Claims struct {
	Subject string
	Role    Role
}

// Operator reports whether the claims carry the operator capability.
func (c *Claims) Operator() bool {
	return c != nil && c.Role == RoleOperator
}

// Manager issues and verifies HS256 bearer tokens.
type Manager struct {
	secret   []byte
	issuer   string
	tokenTTL time.Duration
	now      func() time.Time
}

// NewManager constructs a token manager. The secret must be non-empty.
func NewManager(secret, issuer string, ttl time.Duration) (*Manager, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, errors.New("auth: JWT secret must not be empty")
	}
	if issuer = strings.TrimSpace(issuer); issuer == "" {
		issuer = "vaultbay"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{secret: []byte(trimmed), issuer: issuer, tokenTTL: ttl, now: time.Now}, nil
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (m *Manager) SetNowFunc(now func() time.Time) {
	if now == nil {
		m.now = time.Now
		return
	}
	m.now = now
}

// Issue mints a signed token for the subject with the given role.
func (m *Manager) Issue(subject string, role Role) (string, error) {
	if _, ok := allowedRoles[role]; !ok {
		return "", fmt.Errorf("auth: unsupported role %q", role)
	}
	now := m.now()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": string(role),
		"iss":  m.issuer,
		"iat":  now.Unix(),
		"exp":  now.Add(m.tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Verify parses and validates a bearer token, returning the caller claims.
func (m *Manager) Verify(token string) (*Claims, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
		jwt.WithLeeway(30*time.Second),
	)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("auth: token validation failed")
	}
	subject := ""
	if sub, ok := claims["sub"].(string); ok {
		subject = strings.TrimSpace(sub)
	}
	if subject == "" {
		return nil, errors.New("auth: token subject missing")
	}
	roleStr, _ := claims["role"].(string)
	role := Role(strings.ToLower(strings.TrimSpace(roleStr)))
	if _, ok := allowedRoles[role]; !ok {
		return nil, fmt.Errorf("auth: no permitted role in token claims")
	}
	return &Claims{Subject: subject, Role: role}, nil
}

// Authenticate enforces a bearer token and attaches the claims to the request
// context.
func (m *Manager) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := strings.TrimSpace(r.Header.Get("Authorization"))
		if authz == "" {
			http.Error(w, "missing authorization", http.StatusUnauthorized)
			return
		}
		parts := strings.SplitN(authz, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			http.Error(w, "invalid authorization scheme", http.StatusUnauthorized)
			return
		}
		claims, err := m.Verify(strings.TrimSpace(parts[1]))
		if err != nil {
			http.Error(w, "invalid authorization token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyClaims, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromContext extracts the Claims previously attached by Authenticate.
func FromContext(ctx context.Context) (*Claims, error) {
	if ctx == nil {
		return nil, errors.New("auth: missing context")
	}
	if claims, ok := ctx.Value(contextKeyClaims).(*Claims); ok && claims != nil {
		return claims, nil
	}
	return nil, errors.New("auth: missing claims in context")
}

// RequireRole ensures the authenticated caller has one of the allowed roles.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	allowed := make(map[Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := FromContext(r.Context())
			if err != nil {
				http.Error(w, "missing identity", http.StatusUnauthorized)
				return
			}
			if _, ok := allowed[claims.Role]; !ok {
				http.Error(w, "insufficient role", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HashSecret hashes a password or security phrase for storage. Secrets are
// only ever compared through VerifySecret.
func HashSecret(secret string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("auth: secret must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifySecret reports whether the candidate matches the stored hash.
func VerifySecret(hash, candidate string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)) == nil
}
