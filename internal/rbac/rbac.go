// Package rbac resolves the calling operator and their permissions from a
// bearer token.
package rbac

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Permission names checked by the HTTP surface.
const (
	PermViewEvents   = "view_events"
	PermApproveEvent = "approve_event"
	PermRejectEvent  = "reject_event"
	PermViewAudit    = "view_audit"

	RoleAdmin = "admin"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// User is the authenticated operator.
type User struct {
	Username    string
	Role        string
	Permissions []string
}

// Authorizer resolves users and answers permission questions.
type Authorizer interface {
	CurrentUser(token string) (*User, error)
	HasPermission(user *User, permission string) bool
}

type claims struct {
	Role  string   `json:"role"`
	Perms []string `json:"perms"`
	jwt.RegisteredClaims
}

// JWTAuthorizer verifies HMAC signed tokens carrying role and perms claims.
type JWTAuthorizer struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTAuthorizer(secret string) *JWTAuthorizer {
	return &JWTAuthorizer{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(30*time.Second),
		),
	}
}

// CurrentUser implements Authorizer.
func (a *JWTAuthorizer) CurrentUser(token string) (*User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}
	if len(a.secret) == 0 {
		return nil, fmt.Errorf("%w: no signing secret configured", ErrInvalidToken)
	}

	var c claims
	if _, err := a.parser.ParseWithClaims(token, &c, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	sub := strings.TrimSpace(c.Subject)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return &User{Username: sub, Role: strings.ToLower(strings.TrimSpace(c.Role)), Permissions: c.Perms}, nil
}

// HasPermission implements Authorizer. Admins hold every permission.
func (a *JWTAuthorizer) HasPermission(user *User, permission string) bool {
	if user == nil {
		return false
	}
	if user.Role == RoleAdmin {
		return true
	}
	for _, p := range user.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// IssueToken mints a token for user valid for ttl. Used by tooling and tests.
func (a *JWTAuthorizer) IssueToken(user User, ttl time.Duration) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role:  user.Role,
		Perms: user.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return tok.SignedString(a.secret)
}
