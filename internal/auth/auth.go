package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"komnata/internal/content"
	"komnata/internal/models"
	"komnata/internal/storage"
)

const (
	DefaultTokenExpiry = 12 * time.Hour
	minPasswordLength  = 6
	accountsPath       = "accounts"
)

// Credentials are persisted under accounts/{uid}.
type Credentials struct {
	UID          string `msgpack:"uid"`
	Email        string `msgpack:"email"`
	PasswordHash string `msgpack:"passwordHash"`
	CreatedAt    int64  `msgpack:"createdAt"`
	// Consecutive failed sign-ins, used to throttle guessing.
	FailedLoginAttempts int64 `msgpack:"-"`
	LastAttemptTime     int64 `msgpack:"-"`
}

func (c *Credentials) ResetFailedLoginAttempts(now time.Time) {
	c.FailedLoginAttempts = 0
	c.LastAttemptTime = now.Unix()
}

func (c *Credentials) IncrementFailedLoginAttempts(now time.Time) {
	c.FailedLoginAttempts++
	c.LastAttemptTime = now.Unix()
}

type Config struct {
	TokenExpiry time.Duration
	BcryptCost  int
}

func (c *Config) Validate() error {
	if c.TokenExpiry < 0 {
		return errors.New("token expiry must not be negative")
	}
	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = bcrypt.DefaultCost
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost %d out of range", c.BcryptCost)
	}
	return nil
}

// Service owns accounts and live session tokens. Accounts are keyed by
// lower-cased email.
type Service struct {
	Config
	store      storage.Store
	users      *geche.Locker[string, *Credentials]
	liveTokens geche.Geche[string, models.Session]
	now        func() time.Time
}

func NewService(ctx context.Context, config Config, store storage.Store) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		Config:     config,
		store:      store,
		users:      geche.NewLocker[string, *Credentials](geche.NewMapCache[string, *Credentials]()),
		liveTokens: geche.NewMapTTLCache[string, models.Session](ctx, config.TokenExpiry, time.Minute),
		now:        time.Now,
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) load(ctx context.Context) error {
	snap, err := s.store.Get(ctx, accountsPath)
	if err != nil {
		return fmt.Errorf("failed to load accounts: %w", err)
	}

	tx := s.users.Lock()
	defer tx.Unlock()
	for _, child := range snap.Children() {
		var c Credentials
		if err := child.Decode(&c); err != nil {
			return fmt.Errorf("corrupt account %s: %w", child.Key(), err)
		}
		tx.Set(normalizeEmail(c.Email), &c)
	}
	return nil
}

// SignUp creates an account and opens a session for it.
func (s *Service) SignUp(ctx context.Context, email, password string) (models.Session, error) {
	email = normalizeEmail(email)
	if !content.ValidEmail(email) {
		return models.Session{}, models.ErrEmailInvalid
	}
	if len(password) < minPasswordLength {
		return models.Session{}, models.ErrPasswordTooShort
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.BcryptCost)
	if err != nil {
		return models.Session{}, fmt.Errorf("failed to hash password: %w", err)
	}

	tx := s.users.Lock()
	defer tx.Unlock()
	if _, err := tx.Get(email); err == nil {
		return models.Session{}, models.ErrEmailTaken
	}

	creds := &Credentials{
		UID:          uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UnixMilli(),
	}
	if err := s.store.Set(ctx, storage.Join(accountsPath, creds.UID), creds); err != nil {
		return models.Session{}, models.Transient(err)
	}
	tx.Set(email, creds)

	return s.openSession(creds)
}

// SignIn checks the password and opens a session.
func (s *Service) SignIn(email, password string) (models.Session, error) {
	now := s.now()
	email = normalizeEmail(email)

	tx := s.users.Lock()
	defer tx.Unlock()
	creds, err := tx.Get(email)
	if err != nil {
		return models.Session{}, models.ErrBadCredentials
	}

	if creds.FailedLoginAttempts > 3 {
		next := creds.LastAttemptTime + 30*(creds.FailedLoginAttempts*creds.FailedLoginAttempts)
		if now.Unix() < next {
			e := *models.ErrBadCredentials
			e.Message = fmt.Sprintf("Too many failed login attempts. Next attempt in %d seconds", next-now.Unix())
			return models.Session{}, &e
		}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(password)); err != nil {
		creds.IncrementFailedLoginAttempts(now)
		return models.Session{}, models.ErrBadCredentials
	}
	creds.ResetFailedLoginAttempts(now)

	return s.openSession(creds)
}

func (s *Service) openSession(creds *Credentials) (models.Session, error) {
	token, err := generateToken()
	if err != nil {
		slog.Error("session token generation failed", "user_id", creds.UID, "error", err)
		return models.Session{}, err
	}
	session := models.Session{UID: creds.UID, Email: creds.Email, Token: token}
	s.liveTokens.Set(token, session)
	return session, nil
}

// Logoff drops a session token.
func (s *Service) Logoff(token string) error {
	return s.liveTokens.Del(token)
}

// Session returns the session a token belongs to.
func (s *Service) Session(token string) (models.Session, error) {
	if token == "" {
		return models.Session{}, models.ErrSessionInvalid
	}
	session, err := s.liveTokens.Get(token)
	if err != nil {
		return models.Session{}, models.ErrSessionInvalid
	}
	return session, nil
}

// GetUserID returns the uid behind a token.
func (s *Service) GetUserID(token string) (string, error) {
	session, err := s.Session(token)
	if err != nil {
		return "", err
	}
	return session.UID, nil
}

func generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// GeneratePassword returns a random password for accounts created by an admin.
func GeneratePassword() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
