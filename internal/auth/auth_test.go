package auth

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"komnata/internal/models"
	"komnata/internal/storage"
)

func newStore(t *testing.T) *storage.BboltStorage {
	t.Helper()
	store, err := storage.NewBboltStorage(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newService(t *testing.T, store storage.Store) (*Service, *time.Time) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	svc, err := NewService(ctx, Config{TokenExpiry: time.Hour, BcryptCost: bcrypt.MinCost}, store)
	require.NoError(t, err)

	currentTime := time.Unix(1700000000, 0)
	svc.now = func() time.Time {
		return currentTime
	}
	return svc, &currentTime
}

func TestAuthService(t *testing.T) {
	ctx := context.Background()

	t.Run("SignUp", func(t *testing.T) {
		svc, _ := newService(t, newStore(t))

		s, err := svc.SignUp(ctx, " Alice@Example.com ", "secret1")
		require.NoError(t, err)
		require.NotEmpty(t, s.UID)
		require.Equal(t, "alice@example.com", s.Email)
		require.NotEmpty(t, s.Token)

		_, err = svc.SignUp(ctx, "alice@example.com", "secret2")
		require.ErrorIs(t, err, models.ErrEmailTaken)
	})

	t.Run("SignUpValidation", func(t *testing.T) {
		svc, _ := newService(t, newStore(t))

		_, err := svc.SignUp(ctx, "not-an-email", "secret1")
		require.ErrorIs(t, err, models.ErrEmailInvalid)

		_, err = svc.SignUp(ctx, "bob@example.com", "123")
		require.ErrorIs(t, err, models.ErrPasswordTooShort)
	})

	t.Run("SignIn", func(t *testing.T) {
		svc, _ := newService(t, newStore(t))
		created, err := svc.SignUp(ctx, "bob@example.com", "secret1")
		require.NoError(t, err)

		s, err := svc.SignIn("BOB@example.com", "secret1")
		require.NoError(t, err)
		require.Equal(t, created.UID, s.UID)
		require.NotEqual(t, created.Token, s.Token)

		_, err = svc.SignIn("bob@example.com", "wrong")
		require.ErrorIs(t, err, models.ErrBadCredentials)

		_, err = svc.SignIn("nobody@example.com", "secret1")
		require.ErrorIs(t, err, models.ErrBadCredentials)
	})

	t.Run("Throttle", func(t *testing.T) {
		svc, now := newService(t, newStore(t))
		_, err := svc.SignUp(ctx, "carol@example.com", "secret1")
		require.NoError(t, err)

		for i := 0; i < 4; i++ {
			_, err := svc.SignIn("carol@example.com", "wrong")
			require.Error(t, err)
		}

		// Correct password is still refused while throttled.
		_, err = svc.SignIn("carol@example.com", "secret1")
		var typed *models.Error
		require.True(t, errors.As(err, &typed))
		require.Contains(t, typed.Message, "Too many failed login attempts")

		*now = now.Add(10 * time.Minute)
		_, err = svc.SignIn("carol@example.com", "secret1")
		require.NoError(t, err)
	})

	t.Run("Tokens", func(t *testing.T) {
		svc, _ := newService(t, newStore(t))
		s, err := svc.SignUp(ctx, "dave@example.com", "secret1")
		require.NoError(t, err)

		uid, err := svc.GetUserID(s.Token)
		require.NoError(t, err)
		require.Equal(t, s.UID, uid)

		require.NoError(t, svc.Logoff(s.Token))
		_, err = svc.Session(s.Token)
		require.ErrorIs(t, err, models.ErrSessionInvalid)
		_, err = svc.Session("")
		require.ErrorIs(t, err, models.ErrSessionInvalid)
	})

	t.Run("AccountsSurviveRestart", func(t *testing.T) {
		store := newStore(t)
		svc, _ := newService(t, store)
		created, err := svc.SignUp(ctx, "erin@example.com", "secret1")
		require.NoError(t, err)

		reloaded, _ := newService(t, store)
		s, err := reloaded.SignIn("erin@example.com", "secret1")
		require.NoError(t, err)
		require.Equal(t, created.UID, s.UID)
	})
}

type lookupStub map[string]string

func (l lookupStub) FindEmail(_ context.Context, username string) (string, error) {
	if email, ok := l[username]; ok {
		return email, nil
	}
	return "", models.ErrUserNotFound
}

type recorder struct {
	mu   sync.Mutex
	seen []*models.Session
}

func (r *recorder) record(s *models.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, s)
}

func (r *recorder) last() *models.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[len(r.seen)-1]
}

func TestClient(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, newStore(t))

	created, err := svc.SignUp(ctx, "frank@example.com", "secret1")
	require.NoError(t, err)

	c := NewClient(svc, lookupStub{"frank": "frank@example.com"})
	rec := &recorder{}
	cancel := c.OnSessionChange(rec.record)

	// Fires immediately with no session.
	require.Len(t, rec.seen, 1)
	require.Nil(t, rec.last())

	require.NoError(t, c.SignIn(ctx, "frank", "secret1"))
	require.NotNil(t, rec.last())
	require.Equal(t, created.UID, rec.last().UID)

	require.ErrorIs(t, c.SignIn(ctx, "ghost", "secret1"), models.ErrUserNotFound)

	require.NoError(t, c.SignOut(ctx))
	require.Nil(t, rec.last())
	require.Nil(t, c.Current())

	require.NoError(t, c.Restore(created.Token))
	require.Equal(t, created.UID, c.Current().UID)

	cancel()
	require.NoError(t, c.SignOut(ctx))
	require.NotNil(t, rec.last(), "listener removed, last seen stays the restored session")

	s, err := c.SignUp(ctx, "grace@example.com", "secret1")
	require.NoError(t, err)
	require.Equal(t, s.UID, c.Current().UID)
}

func TestListenerDropsStaleChange(t *testing.T) {
	rec := &recorder{}
	l := &listener{fn: rec.record}

	l.deliver(&models.Session{UID: "u1"}, 2)
	l.deliver(nil, 1)
	require.Len(t, rec.seen, 1)
	require.Equal(t, "u1", rec.last().UID)

	l.deliver(nil, 3)
	require.Nil(t, rec.last())
}

func TestOnSessionChangeRacingSignIn(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, newStore(t))
	created, err := svc.SignUp(ctx, "heidi@example.com", "secret1")
	require.NoError(t, err)

	for range 20 {
		c := NewClient(svc, lookupStub{})
		rec := &recorder{}

		var wg sync.WaitGroup
		wg.Go(func() {
			_ = c.Restore(created.Token)
		})
		cancel := c.OnSessionChange(rec.record)
		wg.Wait()

		require.NotNil(t, rec.last(), "the restored session is the last one delivered")
		require.Equal(t, created.UID, rec.last().UID)
		cancel()
	}
}
