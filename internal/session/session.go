// Package session resolves the acting user: credential checks at login, signed
// session tokens afterwards, and the actor carried through a context.
package session

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"fieldledger/backend/internal/domain"
	"fieldledger/backend/internal/repository"
)

const issuer = "fieldledger"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok && actor.Present()
}

// RequireActor returns the context's actor or an Unauthenticated error naming operation.
func RequireActor(ctx context.Context, operation string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, domain.Unauthenticated(operation)
	}
	return actor, nil
}

type Credentials struct {
	// Email and Password are used by directors.
	Email    string
	Password string
	// Phone and PIN are used by every other role.
	Phone string
	PIN   string
}

type Token struct {
	AccessToken string
	Actor       domain.Actor
	ExpiresAt   time.Time
}

type claims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
}

type Manager struct {
	secret   []byte
	tokenTTL time.Duration
	users    *repository.UserAccounts
	now      func() time.Time
}

func NewManager(secret string, tokenTTL time.Duration, users *repository.UserAccounts) *Manager {
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &Manager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		users:    users,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Login checks credentials and issues a session token. Unknown accounts and
// wrong secrets fail the same way.
func (m *Manager) Login(ctx context.Context, creds Credentials) (Token, error) {
	user, secret, hash, err := m.lookup(ctx, creds)
	if err != nil {
		return Token{}, err
	}
	if !VerifySecret(hash, secret) {
		return Token{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return Token{}, ErrInactiveAccount
	}

	actor := domain.Actor{UserID: user.ID, Role: user.Role, Name: user.Name}
	expiresAt := m.now().Add(m.tokenTTL)
	token, err := m.sign(actor, expiresAt)
	if err != nil {
		return Token{}, err
	}
	return Token{AccessToken: token, Actor: actor, ExpiresAt: expiresAt}, nil
}

func (m *Manager) lookup(ctx context.Context, creds Credentials) (domain.UserAccount, string, string, error) {
	var (
		user domain.UserAccount
		err  error
	)
	if strings.TrimSpace(creds.Email) != "" {
		user, err = m.users.FindByEmail(ctx, creds.Email)
		if err == nil && user.Role != domain.RoleDirector {
			return domain.UserAccount{}, "", "", ErrInvalidCredentials
		}
		if err == nil {
			return user, creds.Password, user.PasswordHash, nil
		}
	} else {
		user, err = m.users.FindByPhone(ctx, creds.Phone)
		if err == nil && user.Role == domain.RoleDirector {
			return domain.UserAccount{}, "", "", ErrInvalidCredentials
		}
		if err == nil {
			return user, creds.PIN, user.PINHash, nil
		}
	}
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidInput) {
		return domain.UserAccount{}, "", "", ErrInvalidCredentials
	}
	return domain.UserAccount{}, "", "", err
}

// ParseToken verifies a session token and returns its actor.
func (m *Manager) ParseToken(tokenStr string) (domain.Actor, error) {
	c := &claims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, c, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(issuer), jwtlib.WithTimeFunc(m.now))
	if err != nil || !token.Valid {
		return domain.Actor{}, ErrInvalidToken
	}
	sub, err := c.GetSubject()
	if err != nil {
		return domain.Actor{}, ErrInvalidToken
	}
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || id <= 0 {
		return domain.Actor{}, ErrInvalidToken
	}
	role := domain.Role(c.Role)
	if !role.Valid() {
		return domain.Actor{}, ErrInvalidToken
	}
	return domain.Actor{UserID: id, Role: role, Name: c.Name}, nil
}

// Authenticate verifies a session token against the stored account. Tokens of
// deactivated accounts, or carrying a role the account no longer has, are
// refused before they expire.
func (m *Manager) Authenticate(ctx context.Context, tokenStr string) (domain.Actor, error) {
	actor, err := m.ParseToken(tokenStr)
	if err != nil {
		return domain.Actor{}, err
	}
	user, err := m.users.Get(ctx, actor.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Actor{}, ErrInvalidToken
	}
	if err != nil {
		return domain.Actor{}, err
	}
	if !user.IsActive {
		return domain.Actor{}, ErrInactiveAccount
	}
	if user.Role != actor.Role {
		return domain.Actor{}, ErrInvalidToken
	}
	actor.Name = user.Name
	return actor, nil
}

func (m *Manager) sign(actor domain.Actor, expiresAt time.Time) (string, error) {
	c := claims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   strconv.FormatInt(actor.UserID, 10),
			IssuedAt:  jwtlib.NewNumericDate(m.now()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    issuer,
		},
		Role: string(actor.Role),
		Name: actor.Name,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, c)
	return token.SignedString(m.secret)
}

// HashSecret hashes a password or PIN for storage.
func HashSecret(secret string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func VerifySecret(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !IsSecretHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func IsSecretHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
