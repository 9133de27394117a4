package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldledger/backend/internal/domain"
	"fieldledger/backend/internal/repository"
	"fieldledger/backend/internal/store"
	"fieldledger/backend/internal/store/memory"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestManager(t *testing.T) (*Manager, *repository.Repositories) {
	t.Helper()
	st, err := store.Open(context.Background(), memory.New(), repository.Schema())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	repos := repository.New(st, repository.Options{PhoneRegion: "NG"})
	return NewManager(testSecret, time.Hour, repos.Users), repos
}

func addUser(t *testing.T, repos *repository.Repositories, u domain.UserAccount, secret string) domain.UserAccount {
	t.Helper()
	hash, err := HashSecret(secret)
	require.NoError(t, err)
	if u.Role == domain.RoleDirector {
		u.PasswordHash = hash
	} else {
		u.PINHash = hash
	}
	saved, err := repos.Users.Add(context.Background(), u)
	require.NoError(t, err)
	return saved
}

func TestLoginByEmailAndPhone(t *testing.T) {
	m, repos := newTestManager(t)
	ctx := context.Background()
	director := addUser(t, repos, domain.UserAccount{Name: "Dayo", Role: domain.RoleDirector, Email: "dayo@example.com", IsActive: true}, "correct horse")
	clerk := addUser(t, repos, domain.UserAccount{Name: "Bola", Role: domain.RoleReceptionist, Phone: "08031234567", IsActive: true}, "4321")

	token, err := m.Login(ctx, Credentials{Email: "DAYO@example.com", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, director.ID, token.Actor.UserID)
	assert.Equal(t, domain.RoleDirector, token.Actor.Role)
	assert.NotEmpty(t, token.AccessToken)

	token, err = m.Login(ctx, Credentials{Phone: "+2348031234567", PIN: "4321"})
	require.NoError(t, err)
	assert.Equal(t, clerk.ID, token.Actor.UserID)
	assert.Equal(t, domain.RoleReceptionist, token.Actor.Role)

	actor, err := m.ParseToken(token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, token.Actor, actor)
}

func TestLoginFailures(t *testing.T) {
	m, repos := newTestManager(t)
	ctx := context.Background()
	addUser(t, repos, domain.UserAccount{Name: "Dayo", Role: domain.RoleDirector, Email: "dayo@example.com", Phone: "08051234567", IsActive: true}, "correct horse")
	addUser(t, repos, domain.UserAccount{Name: "Bola", Role: domain.RoleReceptionist, Phone: "08031234567", Email: "bola@example.com", IsActive: true}, "4321")
	addUser(t, repos, domain.UserAccount{Name: "Chi", Role: domain.RoleStorekeeper, Phone: "08061234567", IsActive: false}, "1111")

	tests := []struct {
		name  string
		creds Credentials
		want  error
	}{
		{name: "wrong pin", creds: Credentials{Phone: "08031234567", PIN: "0000"}, want: ErrInvalidCredentials},
		{name: "empty pin", creds: Credentials{Phone: "08031234567"}, want: ErrInvalidCredentials},
		{name: "unknown phone", creds: Credentials{Phone: "08071234567", PIN: "4321"}, want: ErrInvalidCredentials},
		{name: "malformed phone", creds: Credentials{Phone: "12", PIN: "4321"}, want: ErrInvalidCredentials},
		{name: "wrong password", creds: Credentials{Email: "dayo@example.com", Password: "nope"}, want: ErrInvalidCredentials},
		{name: "unknown email", creds: Credentials{Email: "who@example.com", Password: "correct horse"}, want: ErrInvalidCredentials},
		{name: "staff by email", creds: Credentials{Email: "bola@example.com", Password: "4321"}, want: ErrInvalidCredentials},
		{name: "director by phone", creds: Credentials{Phone: "08051234567", PIN: "correct horse"}, want: ErrInvalidCredentials},
		{name: "inactive account", creds: Credentials{Phone: "08061234567", PIN: "1111"}, want: ErrInactiveAccount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Login(ctx, tt.creds)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseTokenRejects(t *testing.T) {
	m, _ := newTestManager(t)
	actor := domain.Actor{UserID: 4, Role: domain.RoleManager, Name: "Ada"}
	token, err := m.sign(actor, m.now().Add(time.Hour))
	require.NoError(t, err)

	_, err = m.ParseToken(token + "x")
	require.ErrorIs(t, err, ErrInvalidToken)

	other := NewManager("another-secret-another-secret-xx", time.Hour, nil)
	_, err = other.ParseToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)

	expired, err := m.sign(actor, m.now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = m.ParseToken(expired)
	require.ErrorIs(t, err, ErrInvalidToken)

	badRole, err := m.sign(domain.Actor{UserID: 4, Role: "owner"}, m.now().Add(time.Hour))
	require.NoError(t, err)
	_, err = m.ParseToken(badRole)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.ParseToken("")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateChecksStoredAccount(t *testing.T) {
	m, repos := newTestManager(t)
	ctx := context.Background()
	clerk := addUser(t, repos, domain.UserAccount{Name: "Bola", Role: domain.RoleReceptionist, Phone: "08031234567", IsActive: true}, "4321")
	gone := addUser(t, repos, domain.UserAccount{Name: "Tunde", Role: domain.RoleStorekeeper, Phone: "08061234567", IsActive: false}, "9876")
	expires := m.now().Add(time.Hour)

	token, err := m.Login(ctx, Credentials{Phone: "08031234567", PIN: "4321"})
	require.NoError(t, err)
	actor, err := m.Authenticate(ctx, token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, clerk.ID, actor.UserID)
	assert.Equal(t, "Bola", actor.Name)

	inactive, err := m.sign(domain.Actor{UserID: gone.ID, Role: domain.RoleStorekeeper}, expires)
	require.NoError(t, err)
	_, err = m.Authenticate(ctx, inactive)
	require.ErrorIs(t, err, ErrInactiveAccount)

	promoted, err := m.sign(domain.Actor{UserID: clerk.ID, Role: domain.RoleManager}, expires)
	require.NoError(t, err)
	_, err = m.Authenticate(ctx, promoted)
	require.ErrorIs(t, err, ErrInvalidToken)

	unknown, err := m.sign(domain.Actor{UserID: 999, Role: domain.RoleManager}, expires)
	require.NoError(t, err)
	_, err = m.Authenticate(ctx, unknown)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.Authenticate(ctx, token.AccessToken+"x")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenExpiresWithClock(t *testing.T) {
	m, repos := newTestManager(t)
	addUser(t, repos, domain.UserAccount{Name: "Bola", Role: domain.RoleReceptionist, Phone: "08031234567", IsActive: true}, "4321")
	start := time.Date(2024, time.January, 2, 8, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return start }

	token, err := m.Login(context.Background(), Credentials{Phone: "08031234567", PIN: "4321"})
	require.NoError(t, err)
	assert.Equal(t, start.Add(time.Hour), token.ExpiresAt)

	m.now = func() time.Time { return start.Add(59 * time.Minute) }
	_, err = m.ParseToken(token.AccessToken)
	require.NoError(t, err)

	m.now = func() time.Time { return start.Add(61 * time.Minute) }
	_, err = m.ParseToken(token.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestActorContext(t *testing.T) {
	ctx := context.Background()
	_, err := RequireActor(ctx, "list sales")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)

	_, ok := ActorFromContext(WithActor(ctx, domain.Actor{}))
	assert.False(t, ok)

	actor := domain.Actor{UserID: 3, Role: domain.RoleStorekeeper}
	got, err := RequireActor(WithActor(ctx, actor), "list stock")
	require.NoError(t, err)
	assert.Equal(t, actor, got)
}

func TestSecretHashing(t *testing.T) {
	hash, err := HashSecret("1234")
	require.NoError(t, err)
	assert.True(t, IsSecretHash(hash))
	assert.True(t, VerifySecret(hash, "1234"))
	assert.False(t, VerifySecret(hash, "4321"))
	assert.False(t, VerifySecret("1234", "1234"))
	assert.False(t, VerifySecret("", ""))
}
